package reconcile

import (
	"sync"
	"time"

	"github.com/otherjamesbrown/salelink/pkg/linker"
)

// Run states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Progress tracks the counters of a bulk link run.
type Progress struct {
	mu sync.RWMutex

	RunID  string
	County string

	Processed     int
	Linked        int
	Unlinked      int
	AlreadyLinked int
	Failed        int
	Cursor        int64

	Status    string
	StartedAt time.Time
	UpdatedAt time.Time
}

// NewProgress creates a progress tracker for a run.
func NewProgress(runID, county string) *Progress {
	now := time.Now()
	return &Progress{
		RunID:     runID,
		County:    county,
		Status:    StatusPending,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Start marks the run as running with a baseline already-linked count.
func (p *Progress) Start(alreadyLinked int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = StatusRunning
	p.AlreadyLinked = alreadyLinked
	p.StartedAt = time.Now()
	p.UpdatedAt = p.StartedAt
}

// Record counts one linker result and advances the cursor.
func (p *Progress) Record(res *linker.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Processed++
	switch {
	case res.Outcome == linker.OutcomeLinked:
		p.Linked++
	case res.RaceLost:
		p.AlreadyLinked++
	default:
		p.Unlinked++
	}
	if res.PropertyID > p.Cursor {
		p.Cursor = res.PropertyID
	}
	p.UpdatedAt = time.Now()
}

// RecordFailed counts a property that could not be evaluated. It stays unlinked.
func (p *Progress) RecordFailed(propertyID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Processed++
	p.Unlinked++
	p.Failed++
	if propertyID > p.Cursor {
		p.Cursor = propertyID
	}
	p.UpdatedAt = time.Now()
}

// Finish sets the final run state.
func (p *Progress) Finish(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = status
	p.UpdatedAt = time.Now()
}

// Snapshot returns a read-only copy of the current progress.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ProgressSnapshot{
		RunID:          p.RunID,
		County:         p.County,
		Processed:      p.Processed,
		Linked:         p.Linked,
		Unlinked:       p.Unlinked,
		AlreadyLinked:  p.AlreadyLinked,
		Failed:         p.Failed,
		Cursor:         p.Cursor,
		Status:         p.Status,
		StartedAt:      p.StartedAt,
		ElapsedSeconds: time.Since(p.StartedAt).Seconds(),
	}
}

// ProgressSnapshot is an immutable snapshot of progress state.
type ProgressSnapshot struct {
	RunID          string
	County         string
	Processed      int
	Linked         int
	Unlinked       int
	AlreadyLinked  int
	Failed         int
	Cursor         int64
	Status         string
	StartedAt      time.Time
	ElapsedSeconds float64
}

// Rate returns properties processed per second.
func (s ProgressSnapshot) Rate() float64 {
	if s.ElapsedSeconds <= 0 {
		return 0
	}
	return float64(s.Processed) / s.ElapsedSeconds
}
