// Package events publishes engine events (reconcile progress, research queue
// transitions, status audits) to Redis pub/sub or a RabbitMQ exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Channels. AMQP publishers use them as routing keys.
const (
	ChannelReconcileProgress  = "events.reconcile.progress"
	ChannelReconcileCompleted = "events.reconcile.completed"
	ChannelStatusAudit        = "events.status_audit.completed"
	ChannelResearchQueued     = "events.research.queued"
	ChannelResearchAssigned   = "events.research.assigned"
	ChannelResearchResolved   = "events.research.resolved"
	ChannelResearchFailed     = "events.research.failed"
	ChannelSaleChanged        = "events.sale.changed"
)

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, channel string, event interface{}) error
	Close() error
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with a fresh id.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Source:    "salelink",
		Version:   "1.0",
	}
}

// ReconcileProgressEvent is published every progress interval during a bulk link.
type ReconcileProgressEvent struct {
	BaseEvent

	RunID          string  `json:"run_id"`
	County         string  `json:"county,omitempty"`
	Processed      int     `json:"processed"`
	Linked         int     `json:"linked"`
	Unlinked       int     `json:"unlinked"`
	AlreadyLinked  int     `json:"already_linked"`
	Failed         int     `json:"failed"`
	Cursor         int64   `json:"cursor"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// ReconcileCompletedEvent is published when a bulk link finishes.
type ReconcileCompletedEvent struct {
	BaseEvent

	RunID           string    `json:"run_id"`
	County          string    `json:"county,omitempty"`
	TotalProcessed  int       `json:"total_processed"`
	Linked          int       `json:"linked"`
	Unlinked        int       `json:"unlinked"`
	AlreadyLinked   int       `json:"already_linked"`
	Failed          int       `json:"failed"`
	NextCursor      int64     `json:"next_cursor"`
	Complete        bool      `json:"complete"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Error           string    `json:"error,omitempty"`
}

// StatusAuditEvent is published after a status recomputation pass.
type StatusAuditEvent struct {
	BaseEvent

	RunID     string `json:"run_id"`
	County    string `json:"county,omitempty"`
	Scanned   int    `json:"scanned"`
	Corrected int    `json:"corrected"`
}

// ResearchEntryEvent is published on research queue transitions.
type ResearchEntryEvent struct {
	BaseEvent

	EntryID       int64  `json:"entry_id"`
	County        string `json:"county"`
	GroupKey      string `json:"group_key"`
	PropertyCount int    `json:"property_count"`
	Status        string `json:"status"`
	Agent         string `json:"agent,omitempty"`
	SaleID        *int64 `json:"sale_id,omitempty"`
	LinkedCount   int    `json:"linked_count,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// SaleChangedEvent is published when a sale update or delete recomputed linked properties.
type SaleChangedEvent struct {
	BaseEvent

	SaleID     int64  `json:"sale_id"`
	County     string `json:"county"`
	Change     string `json:"change"`
	Recomputed int    `json:"recomputed"`
}

// Encode serialises an event for the wire.
func Encode(event interface{}) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (NopPublisher) Close() error                                       { return nil }

// Published is one event captured by a Recorder.
type Published struct {
	Channel string
	Event   interface{}
}

// Recorder keeps published events in memory, for tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []Published
}

// Publish records the event.
func (r *Recorder) Publish(_ context.Context, channel string, event interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Channel: channel, Event: event})
	return nil
}

// Close is a no-op.
func (r *Recorder) Close() error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Published, len(r.events))
	copy(out, r.events)
	return out
}

// OnChannel returns the recorded events for one channel.
func (r *Recorder) OnChannel(channel string) []interface{} {
	var out []interface{}
	for _, p := range r.Events() {
		if p.Channel == channel {
			out = append(out, p.Event)
		}
	}
	return out
}
