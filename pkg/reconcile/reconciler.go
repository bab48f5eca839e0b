// Package reconcile drives the linker across every unlinked property and
// audits stored statuses against the calculator.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	"github.com/otherjamesbrown/salelink/pkg/events"
	"github.com/otherjamesbrown/salelink/pkg/linker"
	"github.com/otherjamesbrown/salelink/pkg/logging"
	"github.com/otherjamesbrown/salelink/pkg/observability"
)

// Defaults for bulk runs.
const (
	DefaultPageSize         = 500
	DefaultProgressInterval = 100
	MaxItemErrors           = 100
)

// Options scopes a bulk link run.
type Options struct {
	// County limits the run to one county; empty means all.
	County string
	// Limit caps the number of unlinked properties processed; 0 means no cap.
	Limit int
	// AfterID resumes after a previous run's NextCursor.
	AfterID int64
	// PageSize overrides the reconciler's page size.
	PageSize int
	// OnProgress is called every progress interval and once at the end.
	OnProgress func(ProgressSnapshot)
}

// ItemError is a property that could not be evaluated.
type ItemError struct {
	PropertyID int64  `json:"property_id"`
	Error      string `json:"error"`
}

// Summary is the outcome of a bulk link run.
type Summary struct {
	RunID  string `json:"run_id"`
	County string `json:"county,omitempty"`

	TotalProcessed int `json:"total_processed"`
	Linked         int `json:"linked_count"`
	Unlinked       int `json:"unlinked_count"`
	AlreadyLinked  int `json:"already_linked_count"`
	Failed         int `json:"failed_count"`

	Errors          []ItemError `json:"errors,omitempty"`
	ErrorsTruncated int         `json:"errors_truncated,omitempty"`

	// NextCursor resumes the run with Options.AfterID.
	NextCursor int64 `json:"next_cursor"`
	// Complete is false when the run stopped on a limit, cancellation or error.
	Complete bool `json:"complete"`

	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// Reconciler runs bulk jobs over the repository.
type Reconciler struct {
	repo             auction.Repository
	linker           *linker.Linker
	publisher        events.Publisher
	logger           logging.Logger
	metrics          *observability.Metrics
	tracer           *observability.Tracer
	now              func() time.Time
	pageSize         int
	progressInterval int
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPublisher publishes progress and completion events.
func WithPublisher(p events.Publisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

// WithMetrics records run metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithTracer wraps runs in spans.
func WithTracer(t *observability.Tracer) Option {
	return func(r *Reconciler) { r.tracer = t }
}

// WithClock sets the clock used by the status audit.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithPageSize sets the keyset page size.
func WithPageSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

// WithProgressInterval sets how many items pass between progress reports.
func WithProgressInterval(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.progressInterval = n
		}
	}
}

// New creates a Reconciler around a linker sharing the same repository.
func New(repo auction.Repository, l *linker.Linker, logger logging.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		repo:             repo,
		linker:           l,
		publisher:        events.NopPublisher{},
		logger:           logger.With(logging.Component("reconciler")),
		now:              time.Now,
		pageSize:         DefaultPageSize,
		progressInterval: DefaultProgressInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// BulkLink links every unlinked property in scope. Per-property failures are
// counted and never abort the run. A page read failure or cancellation stops
// the run and returns the partial summary together with the error.
func (r *Reconciler) BulkLink(ctx context.Context, opts Options) (*Summary, error) {
	runID := uuid.NewString()
	pageSize := r.pageSize
	if opts.PageSize > 0 {
		pageSize = opts.PageSize
	}

	ctx = context.WithValue(ctx, logging.RunIDKey, runID)
	log := r.logger.WithContext(ctx).With(logging.F("county", opts.County))
	ctx, span := r.tracer.StartRunSpan(ctx, observability.SpanBulkLink, runID, opts.County)

	progress := NewProgress(runID, opts.County)
	progress.Cursor = opts.AfterID
	summary := &Summary{RunID: runID, County: opts.County}

	linked, err := r.repo.CountLinkedProperties(ctx, opts.County)
	if err != nil {
		err = fmt.Errorf("count linked properties: %w", err)
		r.finish(ctx, log, progress, summary, StatusFailed, err, opts.OnProgress)
		span.End(err)
		return summary, err
	}
	progress.Start(int(linked))
	log.Info("Bulk link started",
		logging.F("already_linked", linked),
		logging.F("after_id", opts.AfterID),
		logging.F("limit", opts.Limit),
		logging.F("page_size", pageSize))

	cursor := opts.AfterID
	cache := linker.NewSaleCache(r.repo)
	processed := 0

	for {
		want := pageSize
		if opts.Limit > 0 {
			if processed >= opts.Limit {
				// A limit that lands exactly on the last row still completes the run.
				more, err := r.repo.ListUnlinkedProperties(ctx, auction.PropertyFilter{
					County:  opts.County,
					AfterID: cursor,
					Limit:   1,
				})
				if err != nil {
					err = fmt.Errorf("list unlinked properties after %d: %w", cursor, err)
					r.finish(ctx, log, progress, summary, StatusFailed, err, opts.OnProgress)
					span.End(err)
					return summary, err
				}
				status := StatusPartial
				if len(more) == 0 {
					status = StatusCompleted
				}
				r.finish(ctx, log, progress, summary, status, nil, opts.OnProgress)
				span.SetCounts(summary.TotalProcessed, summary.Linked, summary.Failed)
				span.End(nil)
				return summary, nil
			}
			want = min(want, opts.Limit-processed)
		}

		page, err := r.repo.ListUnlinkedProperties(ctx, auction.PropertyFilter{
			County:  opts.County,
			AfterID: cursor,
			Limit:   want,
		})
		if err != nil {
			err = fmt.Errorf("list unlinked properties after %d: %w", cursor, err)
			r.finish(ctx, log, progress, summary, StatusFailed, err, opts.OnProgress)
			span.End(err)
			return summary, err
		}

		cache.Reset()
		for _, prop := range page {
			if err := ctx.Err(); err != nil {
				r.finish(ctx, log, progress, summary, StatusCancelled, err, opts.OnProgress)
				span.End(err)
				return summary, err
			}

			res, err := r.linker.LinkLoaded(ctx, prop, cache)
			if err != nil {
				progress.RecordFailed(prop.ID)
				addItemError(summary, prop.ID, err)
				r.metrics.RecordReconcileItem("failed")
				log.Warn("Property link failed", logging.F("property_id", prop.ID), logging.Err(err))
			} else {
				progress.Record(res)
				r.metrics.RecordReconcileItem(string(res.Outcome))
			}
			cursor = prop.ID
			processed++

			if processed%r.progressInterval == 0 {
				r.report(ctx, log, progress, opts.OnProgress)
			}
		}

		if len(page) < want {
			break
		}
	}

	r.finish(ctx, log, progress, summary, StatusCompleted, nil, opts.OnProgress)
	span.SetCounts(summary.TotalProcessed, summary.Linked, summary.Failed)
	span.End(nil)
	return summary, nil
}

func addItemError(s *Summary, propertyID int64, err error) {
	if len(s.Errors) >= MaxItemErrors {
		s.ErrorsTruncated++
		return
	}
	s.Errors = append(s.Errors, ItemError{PropertyID: propertyID, Error: err.Error()})
}

func (r *Reconciler) report(ctx context.Context, log logging.Logger, progress *Progress, onProgress func(ProgressSnapshot)) {
	snap := progress.Snapshot()
	log.Info("Bulk link progress",
		logging.F("processed", snap.Processed),
		logging.F("linked", snap.Linked),
		logging.F("unlinked", snap.Unlinked),
		logging.F("failed", snap.Failed),
		logging.F("cursor", snap.Cursor),
		logging.F("rate_per_sec", snap.Rate()))

	if onProgress != nil {
		onProgress(snap)
	}

	event := events.ReconcileProgressEvent{
		BaseEvent:      events.NewBaseEvent("reconcile.progress"),
		RunID:          snap.RunID,
		County:         snap.County,
		Processed:      snap.Processed,
		Linked:         snap.Linked,
		Unlinked:       snap.Unlinked,
		AlreadyLinked:  snap.AlreadyLinked,
		Failed:         snap.Failed,
		Cursor:         snap.Cursor,
		ElapsedSeconds: snap.ElapsedSeconds,
	}
	if err := r.publisher.Publish(ctx, events.ChannelReconcileProgress, event); err != nil {
		log.Warn("Failed to publish progress event", logging.Err(err))
	}
}

// finish copies the progress into the summary, reports the final snapshot to
// onProgress, then logs and publishes completion.
func (r *Reconciler) finish(ctx context.Context, log logging.Logger, progress *Progress, summary *Summary, status string, runErr error, onProgress func(ProgressSnapshot)) {
	progress.Finish(status)
	snap := progress.Snapshot()
	if onProgress != nil {
		onProgress(snap)
	}
	completedAt := time.Now()

	summary.TotalProcessed = snap.Processed
	summary.Linked = snap.Linked
	summary.Unlinked = snap.Unlinked
	summary.AlreadyLinked = snap.AlreadyLinked
	summary.Failed = snap.Failed
	summary.NextCursor = snap.Cursor
	summary.Complete = status == StatusCompleted
	summary.StartedAt = snap.StartedAt
	summary.CompletedAt = completedAt
	summary.DurationSeconds = completedAt.Sub(snap.StartedAt).Seconds()

	r.metrics.RecordReconcileRun(status, summary.DurationSeconds)

	fields := []logging.Field{
		logging.F("status", status),
		logging.F("total_processed", summary.TotalProcessed),
		logging.F("linked", summary.Linked),
		logging.F("unlinked", summary.Unlinked),
		logging.F("already_linked", summary.AlreadyLinked),
		logging.F("failed", summary.Failed),
		logging.F("next_cursor", summary.NextCursor),
		logging.F("duration_seconds", summary.DurationSeconds),
	}
	switch {
	case runErr != nil && errors.Is(runErr, context.Canceled):
		log.Warn("Bulk link cancelled", fields...)
	case runErr != nil:
		log.Error("Bulk link aborted", append(fields, logging.Err(runErr))...)
	default:
		log.Info("Bulk link finished", fields...)
	}

	event := events.ReconcileCompletedEvent{
		BaseEvent:       events.NewBaseEvent("reconcile.completed"),
		RunID:           summary.RunID,
		County:          summary.County,
		TotalProcessed:  summary.TotalProcessed,
		Linked:          summary.Linked,
		Unlinked:        summary.Unlinked,
		AlreadyLinked:   summary.AlreadyLinked,
		Failed:          summary.Failed,
		NextCursor:      summary.NextCursor,
		Complete:        summary.Complete,
		StartedAt:       summary.StartedAt,
		CompletedAt:     summary.CompletedAt,
		DurationSeconds: summary.DurationSeconds,
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	// Publishing must survive a cancelled run context.
	if err := r.publisher.Publish(context.WithoutCancel(ctx), events.ChannelReconcileCompleted, event); err != nil {
		log.Warn("Failed to publish completion event", logging.Err(err))
	}
}
