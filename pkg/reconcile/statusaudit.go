package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	"github.com/otherjamesbrown/salelink/pkg/events"
	"github.com/otherjamesbrown/salelink/pkg/logging"
	"github.com/otherjamesbrown/salelink/pkg/observability"
)

// MaxAuditChanges caps the corrections kept in an AuditSummary. Corrected
// still counts every one.
const MaxAuditChanges = 100

// AuditOptions scopes a status recomputation pass.
type AuditOptions struct {
	County   string
	AfterID  int64
	PageSize int
}

// AuditSummary reports how many stored statuses drifted from the calculator.
type AuditSummary struct {
	RunID     string                 `json:"run_id"`
	County    string                 `json:"county,omitempty"`
	Scanned   int                    `json:"scanned"`
	Corrected int                    `json:"corrected"`
	Changes   []auction.StatusChange `json:"changes,omitempty"`
	// ChangesTruncated counts corrections left out of Changes.
	ChangesTruncated int   `json:"changes_truncated,omitempty"`
	NextCursor       int64 `json:"next_cursor"`
	Complete         bool  `json:"complete"`
}

// RecomputeStatuses pages through properties and rewrites any stored status
// that no longer equals CalculateStatus at the current time. Time-based
// expiry only becomes visible through this pass.
func (r *Reconciler) RecomputeStatuses(ctx context.Context, opts AuditOptions) (*AuditSummary, error) {
	runID := uuid.NewString()
	pageSize := r.pageSize
	if opts.PageSize > 0 {
		pageSize = opts.PageSize
	}
	now := r.now()

	ctx = context.WithValue(ctx, logging.RunIDKey, runID)
	log := r.logger.WithContext(ctx).With(logging.F("county", opts.County))
	ctx, span := r.tracer.StartRunSpan(ctx, observability.SpanRecompute, runID, opts.County)

	summary := &AuditSummary{RunID: runID, County: opts.County, NextCursor: opts.AfterID}
	for {
		if err := ctx.Err(); err != nil {
			span.End(err)
			return summary, err
		}

		page, err := r.repo.RecomputeStatuses(ctx, auction.PropertyFilter{
			County:  opts.County,
			AfterID: summary.NextCursor,
			Limit:   pageSize,
		}, now)
		if err != nil {
			err = fmt.Errorf("recompute statuses after %d: %w", summary.NextCursor, err)
			log.Error("Status audit aborted", logging.Err(err), logging.F("scanned", summary.Scanned))
			span.End(err)
			return summary, err
		}

		summary.Scanned += page.Scanned
		summary.Corrected += len(page.Changes)
		addChanges(summary, page.Changes)
		summary.NextCursor = page.LastID
		r.metrics.RecordStatusCorrections(len(page.Changes))

		if page.Scanned < pageSize {
			break
		}
	}
	summary.Complete = true

	log.Info("Status audit finished",
		logging.F("scanned", summary.Scanned),
		logging.F("corrected", summary.Corrected),
		logging.F("as_of", now.Format(time.RFC3339)))

	event := events.StatusAuditEvent{
		BaseEvent: events.NewBaseEvent("status_audit.completed"),
		RunID:     runID,
		County:    opts.County,
		Scanned:   summary.Scanned,
		Corrected: summary.Corrected,
	}
	if err := r.publisher.Publish(ctx, events.ChannelStatusAudit, event); err != nil {
		log.Warn("Failed to publish status audit event", logging.Err(err))
	}

	span.SetCounts(summary.Scanned, summary.Corrected, 0)
	span.End(nil)
	return summary, nil
}

func addChanges(s *AuditSummary, changes []auction.StatusChange) {
	room := max(MaxAuditChanges-len(s.Changes), 0)
	if len(changes) > room {
		s.ChangesTruncated += len(changes) - room
		changes = changes[:room]
	}
	s.Changes = append(s.Changes, changes...)
}
