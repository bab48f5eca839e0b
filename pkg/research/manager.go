// Package research manages the queue of unresolved property groups that an
// external agent researches and resolves to a sale.
package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
	"github.com/otherjamesbrown/salelink/pkg/events"
	"github.com/otherjamesbrown/salelink/pkg/logging"
	"github.com/otherjamesbrown/salelink/pkg/observability"
)

// DefaultWorkQueueLimit is used when GetWorkQueue is called without a limit.
const DefaultWorkQueueLimit = 20

// QueueSummary is the outcome of QueueUnlinked.
type QueueSummary struct {
	GroupsFound   int                  `json:"groups_found"`
	Queued        int                  `json:"queued"`
	AlreadyQueued int                  `json:"already_queued"`
	Entries       []auction.QueueEntry `json:"entries,omitempty"`
}

// AssignResult reports a claim attempt. Losing a claim is not an error.
type AssignResult struct {
	Entry    *auction.QueueEntry `json:"entry"`
	Assigned bool                `json:"assigned"`
	Notice   string              `json:"notice,omitempty"`
}

// ResolveResult reports a resolution and its fan-out.
type ResolveResult struct {
	Entry       *auction.QueueEntry `json:"entry"`
	Resolved    bool                `json:"resolved"`
	LinkedCount int                 `json:"linked_count"`
	// Absorbed holds other active entries closed because the fan-out linked
	// every property of their groups.
	Absorbed []int64 `json:"absorbed_entry_ids,omitempty"`
	Notice   string  `json:"notice,omitempty"`
}

// FailResult reports a failure transition.
type FailResult struct {
	Entry  *auction.QueueEntry `json:"entry"`
	Failed bool                `json:"failed"`
	Notice string              `json:"notice,omitempty"`
}

// WorkItem is a pending entry annotated for the agent.
type WorkItem struct {
	Entry       auction.QueueEntry `json:"entry"`
	Priority    auction.Priority   `json:"priority"`
	Description string             `json:"description"`
}

// Manager runs the research queue workflow.
type Manager struct {
	repo         auction.Repository
	priority     auction.PriorityPolicy
	defaultLimit int
	publisher    events.Publisher
	logger       logging.Logger
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	now          func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithPriorityPolicy sets the tier thresholds.
func WithPriorityPolicy(p auction.PriorityPolicy) Option {
	return func(m *Manager) { m.priority = p }
}

// WithDefaultLimit sets the work-queue size used when no limit is given.
func WithDefaultLimit(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.defaultLimit = n
		}
	}
}

// WithPublisher publishes queue transitions.
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithMetrics records queue metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer wraps operations in spans.
func WithTracer(t *observability.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

// WithClock sets the clock used for timestamps and status computation.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a research queue manager.
func NewManager(repo auction.Repository, logger logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		repo:         repo,
		priority:     auction.DefaultPriorityPolicy(),
		defaultLimit: DefaultWorkQueueLimit,
		publisher:    events.NopPublisher{},
		logger:       logger.With(logging.Component("research")),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// QueueUnlinked creates one pending entry per unresolved group that has no
// active entry yet. Running it twice queues nothing new.
func (m *Manager) QueueUnlinked(ctx context.Context) (summary *QueueSummary, err error) {
	ctx, span := m.tracer.StartResearchSpan(ctx, observability.SpanResearchQueue, 0)
	defer func() { span.End(err) }()

	groups, err := m.repo.ListUnresolvedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unresolved groups: %w", err)
	}

	summary = &QueueSummary{GroupsFound: len(groups)}
	for _, g := range groups {
		entry, created, err := m.repo.CreateQueueEntryIfAbsent(ctx, g)
		if err != nil {
			return summary, fmt.Errorf("queue group %s: %w", g.Key, err)
		}
		if !created {
			summary.AlreadyQueued++
			continue
		}
		summary.Queued++
		summary.Entries = append(summary.Entries, *entry)
		m.metrics.RecordResearchTransition("queued")
		m.publish(ctx, events.ChannelResearchQueued, "research.queued", entry, nil)
	}

	m.logger.Info("Research queue refreshed",
		logging.F("groups_found", summary.GroupsFound),
		logging.F("queued", summary.Queued),
		logging.F("already_queued", summary.AlreadyQueued))
	return summary, nil
}

// Assign claims a pending entry for agent.
func (m *Manager) Assign(ctx context.Context, id int64, agent string) (result *AssignResult, err error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, fmt.Errorf("agent is required: %w", slerrors.ErrValidation)
	}

	ctx = context.WithValue(ctx, logging.AgentKey, agent)
	ctx, span := m.tracer.StartResearchSpan(ctx, observability.SpanResearchAssign, id)
	span.SetAgent(agent)
	defer func() { span.End(err) }()

	ok, err := m.repo.AssignQueueEntry(ctx, id, agent, m.now())
	if err != nil {
		return nil, fmt.Errorf("assign entry %d: %w", id, err)
	}
	entry, err := m.repo.GetQueueEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load entry %d: %w", id, err)
	}

	log := m.logger.WithContext(ctx).With(logging.F("entry_id", id))
	if !ok {
		notice := fmt.Sprintf("entry %d is %s", id, entry.Status)
		if entry.AssignedAgent != "" {
			notice += " (assigned to " + entry.AssignedAgent + ")"
		}
		log.Info("Assignment lost", logging.F("status", entry.Status))
		return &AssignResult{Entry: entry, Notice: notice}, nil
	}

	m.metrics.RecordResearchTransition("assigned")
	m.publish(ctx, events.ChannelResearchAssigned, "research.assigned", entry, nil)
	log.Info("Research entry assigned")
	return &AssignResult{Entry: entry, Assigned: true}, nil
}

// Resolve records the sale found for an entry and links every still unlinked
// property of its group in the same transaction.
func (m *Manager) Resolve(ctx context.Context, id, saleID int64, notes string) (result *ResolveResult, err error) {
	ctx, span := m.tracer.StartResearchSpan(ctx, observability.SpanResearchSolve, id)
	defer func() { span.End(err) }()

	res, err := m.repo.ResolveQueueEntry(ctx, id, saleID, notes, m.now())
	if err != nil {
		return nil, fmt.Errorf("resolve entry %d with sale %d: %w", id, saleID, err)
	}

	log := m.logger.WithContext(ctx).With(logging.F("entry_id", id), logging.F("sale_id", saleID))
	if !res.Applied {
		notice := fmt.Sprintf("entry %d already %s; nothing changed", id, res.PreviousState)
		log.Info("Resolve ignored for terminal entry", logging.F("status", res.PreviousState))
		return &ResolveResult{Entry: res.Entry, Notice: notice}, nil
	}

	span.SetSale(saleID)
	m.metrics.RecordResearchTransition("resolved")
	m.metrics.RecordResearchFanOut(res.LinkedCount)
	m.publish(ctx, events.ChannelResearchResolved, "research.resolved", res.Entry, func(e *events.ResearchEntryEvent) {
		e.LinkedCount = res.LinkedCount
	})
	for _, oid := range res.Absorbed {
		m.metrics.RecordResearchTransition("resolved")
		if absorbed, err := m.repo.GetQueueEntry(ctx, oid); err == nil {
			m.publish(ctx, events.ChannelResearchResolved, "research.resolved", absorbed, nil)
		}
	}
	log.Info("Research entry resolved", logging.F("linked", res.LinkedCount), logging.F("absorbed", len(res.Absorbed)))
	return &ResolveResult{Entry: res.Entry, Resolved: true, LinkedCount: res.LinkedCount, Absorbed: res.Absorbed}, nil
}

// Fail marks an entry as failed. The entry is kept for audit.
func (m *Manager) Fail(ctx context.Context, id int64, reason string) (result *FailResult, err error) {
	ctx, span := m.tracer.StartResearchSpan(ctx, observability.SpanResearchFail, id)
	defer func() { span.End(err) }()

	ok, err := m.repo.FailQueueEntry(ctx, id, reason, m.now())
	if err != nil {
		return nil, fmt.Errorf("fail entry %d: %w", id, err)
	}
	entry, err := m.repo.GetQueueEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load entry %d: %w", id, err)
	}

	log := m.logger.WithContext(ctx).With(logging.F("entry_id", id))
	if !ok {
		log.Info("Fail ignored for terminal entry", logging.F("status", entry.Status))
		return &FailResult{Entry: entry, Notice: fmt.Sprintf("entry %d already %s; nothing changed", id, entry.Status)}, nil
	}

	m.metrics.RecordResearchTransition("failed")
	m.publish(ctx, events.ChannelResearchFailed, "research.failed", entry, nil)
	log.Info("Research entry failed", logging.F("reason", reason))
	return &FailResult{Entry: entry, Failed: true}, nil
}

// WorkQueue returns pending entries, largest groups first, with their priority.
func (m *Manager) WorkQueue(ctx context.Context, limit int) ([]WorkItem, error) {
	if limit <= 0 {
		limit = m.defaultLimit
	}
	entries, err := m.repo.ListPendingQueueEntries(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}

	depth := map[auction.Priority]int{auction.PriorityHigh: 0, auction.PriorityMedium: 0, auction.PriorityLow: 0}
	items := make([]WorkItem, 0, len(entries))
	for _, e := range entries {
		p := m.priority.Tier(e.PropertyCount)
		depth[p]++
		items = append(items, WorkItem{Entry: e, Priority: p, Description: auction.Describe(e)})
	}
	for p, n := range depth {
		m.metrics.SetResearchQueueDepth(string(p), n)
	}
	return items, nil
}

// Entry returns one entry.
func (m *Manager) Entry(ctx context.Context, id int64) (*auction.QueueEntry, error) {
	return m.repo.GetQueueEntry(ctx, id)
}

// Entries lists entries for inspection.
func (m *Manager) Entries(ctx context.Context, f auction.QueueFilter) ([]auction.QueueEntry, error) {
	return m.repo.ListQueueEntries(ctx, f)
}

func (m *Manager) publish(ctx context.Context, channel, eventType string, entry *auction.QueueEntry, decorate func(*events.ResearchEntryEvent)) {
	if entry == nil {
		return
	}
	event := events.ResearchEntryEvent{
		BaseEvent:     events.NewBaseEvent(eventType),
		EntryID:       entry.ID,
		County:        entry.Key.County,
		GroupKey:      entry.Key.String(),
		PropertyCount: entry.PropertyCount,
		Status:        string(entry.Status),
		Agent:         entry.AssignedAgent,
		SaleID:        entry.ResolvedSaleID,
		Notes:         entry.ResolutionNotes,
	}
	if decorate != nil {
		decorate(&event)
	}
	if err := m.publisher.Publish(ctx, channel, event); err != nil {
		m.logger.Warn("Failed to publish research event", logging.Err(err), logging.F("channel", channel))
	}
}
