package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/dealership-ai-platform/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrInvalidTransition is returned when the target status is not reachable
	// from the lead's current status. It is never retried.
	ErrInvalidTransition = errors.New("lifecycle: invalid transition")
	// ErrPersistence is returned, together with the in-memory result, when the
	// transition could not be stored after one retry.
	ErrPersistence = errors.New("lifecycle: persistence failed")
)

// DefaultProcessedBy identifies transitions with no explicit actor.
const DefaultProcessedBy = "system"

// Details carries the context a transition may need. Every field is optional.
type Details struct {
	AssignedAgent string  `json:"assigned_agent,omitempty"`
	Score         int     `json:"score,omitempty"`
	SaleID        string  `json:"sale_id,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
	LossReason    string  `json:"loss_reason,omitempty"`
	ProcessedBy   string  `json:"processed_by,omitempty"`
}

// Result is what a transition produced.
type Result struct {
	Narrative string      `json:"narrative"`
	Record    Record      `json:"record"`
	Lead      *leads.Lead `json:"lead"`
}

// Hook runs after a transition has been stored.
type Hook func(ctx context.Context, lead *leads.Lead, rec Record)

// Machine validates, narrates and records lead status transitions.
type Machine struct {
	store    Store
	narrator Narrator
	hooks    []Hook
	locks    *keyedMutex
	logger   *logging.Logger
	metrics  *metrics.LifecycleMetrics
	tracer   trace.Tracer
	now      func() time.Time
	backoff  time.Duration
}

// Option configures a Machine.
type Option func(*Machine)

func WithLogger(logger *logging.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithNarrator(n Narrator) Option {
	return func(m *Machine) {
		if n != nil {
			m.narrator = n
		}
	}
}

func WithHooks(hooks ...Hook) Option {
	return func(m *Machine) {
		for _, h := range hooks {
			if h != nil {
				m.hooks = append(m.hooks, h)
			}
		}
	}
}

func WithMetrics(mm *metrics.LifecycleMetrics) Option {
	return func(m *Machine) { m.metrics = mm }
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Machine) {
		if t != nil {
			m.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRetryBackoff sets the pause before the single persistence retry.
func WithRetryBackoff(d time.Duration) Option {
	return func(m *Machine) {
		if d >= 0 {
			m.backoff = d
		}
	}
}

func NewMachine(store Store, opts ...Option) *Machine {
	if store == nil {
		panic("lifecycle: store required")
	}
	m := &Machine{
		store:    store,
		narrator: TemplateNarrator{},
		locks:    newKeyedMutex(),
		logger:   logging.Default(),
		tracer:   otel.Tracer("dealership.internal.lifecycle"),
		now:      func() time.Time { return time.Now().UTC() },
		backoff:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Transition moves lead to target. The lead's current status is the one the
// caller read; the store rejects the write if it changed since.
//
// On persistence failure the result is still returned alongside an error
// wrapping ErrPersistence.
func (m *Machine) Transition(ctx context.Context, lead *leads.Lead, target leads.Status, details Details) (*Result, error) {
	if lead == nil || lead.ID == "" {
		return nil, fmt.Errorf("%w: lead required", ErrInvalidTransition)
	}
	from := lead.Status

	ctx, span := m.tracer.Start(ctx, "lifecycle.transition", trace.WithAttributes(
		attribute.String("lead.id", lead.ID),
		attribute.String("lead.from_status", string(from)),
		attribute.String("lead.to_status", string(target)),
	))
	defer span.End()

	if !CanTransition(from, target) {
		m.metrics.ObserveTransition(string(from), string(target), "rejected")
		span.SetStatus(codes.Error, "invalid transition")
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}

	unlock := m.locks.Lock(lead.ID)
	defer unlock()

	ts, err := m.nextTimestamp(ctx, lead.ID)
	if err != nil {
		// Ordering falls back to the local clock; the write itself may still succeed.
		m.logger.Warn("lifecycle: could not read last transition time", "lead_id", lead.ID, "error", err)
		ts = m.now().Truncate(time.Microsecond)
	}

	score := details.Score
	if score <= 0 {
		score = lead.AIScore
	}
	processedBy := details.ProcessedBy
	if processedBy == "" {
		processedBy = DefaultProcessedBy
	}

	rec := Record{
		ID:          uuid.New().String(),
		LeadID:      lead.ID,
		FromStatus:  from,
		ToStatus:    target,
		Timestamp:   ts,
		Score:       score,
		ProcessedBy: processedBy,
	}

	updated := lead.Clone()
	outcome := leads.Outcome{
		Status:        target,
		AIScore:       details.Score,
		AssignedAgent: details.AssignedAgent,
		LossReason:    details.LossReason,
		SaleID:        details.SaleID,
		Amount:        details.Amount,
	}
	updated.Apply(outcome)
	updated.UpdatedAt = ts

	rec.Narrative = m.narrate(updated, rec, details)
	result := &Result{Narrative: rec.Narrative, Record: rec, Lead: updated}

	err = m.store.Commit(ctx, rec, outcome)
	if err != nil && isTransient(err) {
		m.metrics.ObservePersistRetry()
		m.logger.Warn("lifecycle: retrying transition write", "lead_id", lead.ID, "error", err)
		if m.backoff > 0 {
			timer := time.NewTimer(m.backoff)
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
			timer.Stop()
		}
		err = m.store.Commit(context.WithoutCancel(ctx), rec, outcome)
		if errors.Is(err, leads.ErrStatusConflict) && m.stored(context.WithoutCancel(ctx), rec) {
			m.logger.Info("lifecycle: first write had landed", "lead_id", lead.ID, "record_id", rec.ID)
			err = nil
		}
	}

	switch {
	case err == nil:
	case errors.Is(err, leads.ErrStatusConflict):
		m.metrics.ObserveTransition(string(from), string(target), "rejected")
		span.SetStatus(codes.Error, "status changed concurrently")
		return nil, fmt.Errorf("%w: lead %s is no longer %s: %w", ErrInvalidTransition, lead.ID, from, err)
	case errors.Is(err, leads.ErrLeadNotFound):
		m.metrics.ObserveTransition(string(from), string(target), "rejected")
		span.SetStatus(codes.Error, "lead not found")
		return nil, err
	default:
		m.metrics.ObserveTransition(string(from), string(target), "persist_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "persistence failed")
		m.logger.Error("lifecycle: transition not persisted", "lead_id", lead.ID, "from", from, "to", target, "error", err)
		return result, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	m.metrics.ObserveTransition(string(from), string(target), "ok")
	m.logger.Info("lead transitioned", "lead_id", lead.ID, "from", from, "to", target, "score", score, "processed_by", processedBy)

	for _, hook := range m.hooks {
		m.runHook(ctx, hook, updated, rec)
	}
	return result, nil
}

// History returns the lead's transitions oldest first.
func (m *Machine) History(ctx context.Context, leadID string) ([]Record, error) {
	return m.store.History(ctx, leadID)
}

func (m *Machine) nextTimestamp(ctx context.Context, leadID string) (time.Time, error) {
	ts := m.now().UTC().Truncate(time.Microsecond)
	last, err := m.store.LastTimestamp(ctx, leadID)
	if err != nil {
		return ts, err
	}
	if !ts.After(last) {
		ts = last.Add(time.Microsecond)
	}
	return ts, nil
}

func (m *Machine) narrate(lead *leads.Lead, rec Record, details Details) (text string) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("lifecycle: narrator panicked", "lead_id", rec.LeadID, "panic", r)
			text = resilienceNarrative(rec)
		}
	}()
	text, err := m.narrator.Narrate(lead, rec, details)
	if err != nil || text == "" {
		m.logger.Warn("lifecycle: narrative fallback", "lead_id", rec.LeadID, "error", err)
		return resilienceNarrative(rec)
	}
	return text
}

func (m *Machine) runHook(ctx context.Context, hook Hook, lead *leads.Lead, rec Record) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("lifecycle: hook panicked", "lead_id", rec.LeadID, "panic", r)
		}
	}()
	hook(ctx, lead.Clone(), rec)
}

// stored reports whether rec is already in the lead's history, which is how
// a write that succeeded but reported an error shows up on retry.
func (m *Machine) stored(ctx context.Context, rec Record) bool {
	history, err := m.store.History(ctx, rec.LeadID)
	if err != nil {
		m.logger.Warn("lifecycle: could not confirm earlier write", "lead_id", rec.LeadID, "error", err)
		return false
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ID == rec.ID {
			return true
		}
	}
	return false
}

func isTransient(err error) bool {
	return !errors.Is(err, leads.ErrStatusConflict) && !errors.Is(err, leads.ErrLeadNotFound)
}
