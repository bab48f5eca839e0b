package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func TestCheck_NilPool(t *testing.T) {
	status := Check(context.Background(), nil)

	if status.Healthy {
		t.Error("expected unhealthy status for nil pool")
	}
	if status.Err() == nil {
		t.Error("expected error for nil pool")
	}
	if status.Driver != "postgres" {
		t.Errorf("Driver = %q, want postgres", status.Driver)
	}
}

func TestCheckSQL_ReportsConnections(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	status := CheckSQL(context.Background(), db, "sqlite")
	if !status.Healthy {
		t.Fatalf("expected healthy, got error %q", status.Error)
	}
	if status.TotalConns < 1 {
		t.Errorf("TotalConns = %d, want at least 1 after ping", status.TotalConns)
	}
	if status.Err() != nil {
		t.Errorf("Err() = %v, want nil", status.Err())
	}

	db.Close()
	status = CheckSQL(context.Background(), db, "sqlite")
	if status.Healthy {
		t.Error("expected unhealthy after close")
	}
}

func TestWaitForReady(t *testing.T) {
	calls := 0
	check := func(context.Context) HealthStatus {
		calls++
		if calls < 3 {
			return HealthStatus{Error: "starting"}
		}
		return HealthStatus{Healthy: true}
	}
	if err := WaitForReady(context.Background(), check, time.Millisecond); err != nil {
		t.Fatalf("WaitForReady() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("check called %d times, want 3", calls)
	}
}

func TestWaitForReady_GivesUp(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	down := func(context.Context) HealthStatus { return HealthStatus{Error: "connection refused"} }
	err := WaitForReady(ctx, down, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForReady() error = %v, want deadline exceeded", err)
	}

	if err := WaitForReady(context.Background(), nil, time.Millisecond); err == nil {
		t.Error("expected error without a check")
	}
}
