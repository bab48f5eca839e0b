package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus is a store readiness report served by /healthz.
type HealthStatus struct {
	Driver     string  `json:"driver"`
	Healthy    bool    `json:"healthy"`
	LatencyMS  float64 `json:"latency_ms"`
	TotalConns int32   `json:"total_conns"`
	IdleConns  int32   `json:"idle_conns"`
	InUseConns int32   `json:"in_use_conns"`
	Error      string  `json:"error,omitempty"`
}

// Err returns the failure as an error, or nil when healthy.
func (s HealthStatus) Err() error {
	if s.Healthy {
		return nil
	}
	if s.Error == "" {
		return errors.New("store unhealthy")
	}
	return errors.New(s.Error)
}

// CheckFunc reports store health.
type CheckFunc func(ctx context.Context) HealthStatus

// Check pings the pool and reports its connection counts.
func Check(ctx context.Context, pool *pgxpool.Pool) HealthStatus {
	status := HealthStatus{Driver: "postgres"}
	if pool == nil {
		status.Error = "pool is nil"
		return status
	}

	start := time.Now()
	err := pool.Ping(ctx)
	status.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		status.Error = fmt.Sprintf("ping failed: %v", err)
		return status
	}

	stats := pool.Stat()
	status.Healthy = true
	status.TotalConns = stats.TotalConns()
	status.IdleConns = stats.IdleConns()
	status.InUseConns = stats.AcquiredConns()
	return status
}

// CheckSQL is Check for a database/sql handle, used by the sqlite store.
func CheckSQL(ctx context.Context, db *sql.DB, driver string) HealthStatus {
	status := HealthStatus{Driver: driver}
	if db == nil {
		status.Error = "database is nil"
		return status
	}

	start := time.Now()
	err := db.PingContext(ctx)
	status.LatencyMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		status.Error = fmt.Sprintf("ping failed: %v", err)
		return status
	}

	stats := db.Stats()
	status.Healthy = true
	status.TotalConns = int32(stats.OpenConnections)
	status.IdleConns = int32(stats.Idle)
	status.InUseConns = int32(stats.InUse)
	return status
}

// WaitForReady polls check until the store reports healthy or ctx ends.
func WaitForReady(ctx context.Context, check CheckFunc, pollInterval time.Duration) error {
	if check == nil {
		return errors.New("no health check")
	}
	last := check(ctx)
	if last.Healthy {
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("store not ready: %w (last: %v)", ctx.Err(), last.Err())
		case <-ticker.C:
			if last = check(ctx); last.Healthy {
				return nil
			}
		}
	}
}
