package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfman30/dealership-ai-platform/internal/leads"
	"github.com/wolfman30/dealership-ai-platform/internal/scoring"
)

func newLead(t *testing.T, repo *leads.InMemoryRepository, attrs leads.ScoringAttributes) *leads.Lead {
	t.Helper()
	lead, err := repo.Create(context.Background(), &leads.CreateLeadRequest{
		Name:              "Carla Méndez",
		Phone:             "+5215550001111",
		ScoringAttributes: attrs,
	})
	require.NoError(t, err)
	return lead
}

// advance walks the lead forward through the funnel up to status.
func advance(t *testing.T, m *Machine, repo *leads.InMemoryRepository, lead *leads.Lead, path ...leads.Status) *leads.Lead {
	t.Helper()
	for _, s := range path {
		_, err := m.Transition(context.Background(), lead, s, Details{})
		require.NoError(t, err)
		lead, err = repo.GetByID(context.Background(), lead.ID)
		require.NoError(t, err)
	}
	return lead
}

func TestTransition_QualifiedScenario(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	m := NewMachine(NewMemoryStore(repo), WithRetryBackoff(0))

	lead := newLead(t, repo, leads.ScoringAttributes{MonthlyIncome: "5200", CreditScoreBand: "good"})
	scored := scoring.Score(lead.Attributes())
	lead, err := repo.UpdateScoring(context.Background(), lead.ID, lead.Attributes(), scored.Score, scored.Rationale)
	require.NoError(t, err)

	require.Equal(t, leads.StatusNew, lead.Status)
	res, err := m.Transition(context.Background(), lead, leads.StatusQualified, Details{AssignedAgent: "Richard", Score: 85})
	require.NoError(t, err)

	assert.Contains(t, res.Narrative, "calificado")
	assert.Contains(t, res.Narrative, "85")
	assert.Contains(t, res.Narrative, "Richard")
	assert.Equal(t, leads.StatusNew, res.Record.FromStatus)
	assert.Equal(t, leads.StatusQualified, res.Record.ToStatus)
	assert.Equal(t, 85, res.Record.Score)

	stored, err := repo.GetByID(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.StatusQualified, stored.Status)
	assert.Equal(t, "Richard", stored.AssignedAgent)
	assert.Equal(t, 85, stored.AIScore)
}

func TestTransition_SoldScenario(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	m := NewMachine(NewMemoryStore(repo))
	lead := advance(t, m, repo, newLead(t, repo, leads.ScoringAttributes{}),
		leads.StatusContacted, leads.StatusQualified, leads.StatusNegotiating)

	res, err := m.Transition(context.Background(), lead, leads.StatusSold, Details{SaleID: "S-001", Amount: 25000})
	require.NoError(t, err)
	assert.Contains(t, res.Narrative, "$25,000.00")
	assert.Contains(t, res.Narrative, "S-001")
	assert.Equal(t, "S-001", res.Lead.SaleID)
}

func TestTransition_LostWithoutReasonUsesFallback(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	m := NewMachine(NewMemoryStore(repo))
	lead := newLead(t, repo, leads.ScoringAttributes{})

	res, err := m.Transition(context.Background(), lead, leads.StatusLost, Details{})
	require.NoError(t, err)
	assert.Contains(t, res.Narrative, UnknownValue)
}

func TestTransition_TerminalStatesReject(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	m := NewMachine(NewMemoryStore(repo))

	lost := advance(t, m, repo, newLead(t, repo, leads.ScoringAttributes{}), leads.StatusLost)
	sold := advance(t, m, repo, newLead(t, repo, leads.ScoringAttributes{}),
		leads.StatusContacted, leads.StatusQualified, leads.StatusNegotiating, leads.StatusSold)

	all := []leads.Status{leads.StatusNew, leads.StatusContacted, leads.StatusQualified,
		leads.StatusNegotiating, leads.StatusSold, leads.StatusLost}
	for _, lead := range []*leads.Lead{lost, sold} {
		for _, target := range all {
			_, err := m.Transition(context.Background(), lead, target, Details{})
			assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", lead.Status, target)
		}
	}
}

func TestTransition_RejectsBackwardAndSelfTransitions(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	m := NewMachine(NewMemoryStore(repo))
	lead := advance(t, m, repo, newLead(t, repo, leads.ScoringAttributes{}), leads.StatusQualified)

	for _, target := range []leads.Status{leads.StatusNew, leads.StatusContacted, leads.StatusQualified, "archived"} {
		_, err := m.Transition(context.Background(), lead, target, Details{})
		assert.ErrorIs(t, err, ErrInvalidTransition, "qualified -> %s", target)
	}

	history, err := m.History(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestTransition_ForwardSkipsAreAccepted(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	m := NewMachine(NewMemoryStore(repo))
	lead := newLead(t, repo, leads.ScoringAttributes{})

	lead = advance(t, m, repo, lead, leads.StatusNegotiating)
	res, err := m.Transition(context.Background(), lead, leads.StatusSold, Details{SaleID: "S-009", Amount: 310000})
	require.NoError(t, err)
	assert.Equal(t, leads.StatusNegotiating, res.Record.FromStatus)

	history, err := m.History(context.Background(), lead.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, leads.StatusNew, history[0].FromStatus)
	assert.Equal(t, leads.StatusNegotiating, history[0].ToStatus)
}

func TestTransition_StaleLeadFailsClosed(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	m := NewMachine(NewMemoryStore(repo))
	lead := newLead(t, repo, leads.ScoringAttributes{})

	_, err := m.Transition(context.Background(), lead, leads.StatusContacted, Details{})
	require.NoError(t, err)

	// lead still says "new"; the store has moved on.
	_, err = m.Transition(context.Background(), lead, leads.StatusLost, Details{LossReason: "duplicado"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, leads.ErrStatusConflict)
}

func TestTransition_TimestampsStrictlyIncrease(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMachine(NewMemoryStore(repo), WithClock(func() time.Time { return frozen }))

	lead := advance(t, m, repo, newLead(t, repo, leads.ScoringAttributes{}),
		leads.StatusContacted, leads.StatusQualified, leads.StatusNegotiating)

	history, err := m.History(context.Background(), lead.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i := 1; i < len(history); i++ {
		assert.True(t, history[i].Timestamp.After(history[i-1].Timestamp))
		assert.Equal(t, history[i-1].ToStatus, history[i].FromStatus)
	}
}

func TestTransition_ConcurrentWritersSerialized(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	m := NewMachine(NewMemoryStore(repo))
	lead := newLead(t, repo, leads.ScoringAttributes{})

	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Transition(context.Background(), lead, leads.StatusContacted, Details{}); err == nil {
				success.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	history, err := m.History(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

type flakyStore struct {
	*MemoryStore
	failures int
	calls    int
}

func (f *flakyStore) Commit(ctx context.Context, rec Record, outcome leads.Outcome) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset")
	}
	return f.MemoryStore.Commit(ctx, rec, outcome)
}

func TestTransition_RetriesPersistenceOnce(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	store := &flakyStore{MemoryStore: NewMemoryStore(repo), failures: 1}
	m := NewMachine(store, WithRetryBackoff(0))
	lead := newLead(t, repo, leads.ScoringAttributes{})

	res, err := m.Transition(context.Background(), lead, leads.StatusContacted, Details{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Narrative)
	assert.Equal(t, 2, store.calls)
}

// lostAckStore commits the first write but reports it as failed.
type lostAckStore struct {
	*MemoryStore
	calls int
}

func (s *lostAckStore) Commit(ctx context.Context, rec Record, outcome leads.Outcome) error {
	s.calls++
	err := s.MemoryStore.Commit(ctx, rec, outcome)
	if s.calls == 1 && err == nil {
		return errors.New("i/o timeout")
	}
	return err
}

func TestTransition_AmbiguousCommitIsRecognizedOnRetry(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	store := &lostAckStore{MemoryStore: NewMemoryStore(repo)}
	var hooked int
	m := NewMachine(store, WithRetryBackoff(0), WithHooks(func(context.Context, *leads.Lead, Record) { hooked++ }))
	lead := newLead(t, repo, leads.ScoringAttributes{})

	res, err := m.Transition(context.Background(), lead, leads.StatusQualified, Details{AssignedAgent: "Richard", Score: 85})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.Narrative, "Richard")
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 1, hooked)

	history, err := m.History(context.Background(), lead.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.Record.ID, history[0].ID)
}

func TestTransition_RetryConflictFromAnotherWriterStillFails(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	inner := NewMemoryStore(repo)
	lead := newLead(t, repo, leads.ScoringAttributes{})

	// Another writer moves the lead between the two attempts.
	store := &flakyStore{MemoryStore: inner, failures: 1}
	m := NewMachine(store, WithRetryBackoff(0))
	other := NewMachine(inner)
	_, err := other.Transition(context.Background(), lead, leads.StatusContacted, Details{})
	require.NoError(t, err)

	_, err = m.Transition(context.Background(), lead, leads.StatusQualified, Details{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, leads.ErrStatusConflict)
}

func TestTransition_PersistenceFailureStillReturnsNarrative(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	store := &flakyStore{MemoryStore: NewMemoryStore(repo), failures: 5}
	m := NewMachine(store, WithRetryBackoff(0))
	lead := newLead(t, repo, leads.ScoringAttributes{})

	res, err := m.Transition(context.Background(), lead, leads.StatusLost, Details{LossReason: "precio"})
	require.ErrorIs(t, err, ErrPersistence)
	require.NotNil(t, res)
	assert.Contains(t, res.Narrative, "precio")
	assert.Equal(t, 2, store.calls)

	stored, err := repo.GetByID(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, leads.StatusNew, stored.Status)
}

func TestTransition_NarratorFailureUsesResilienceMode(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	failing := NarratorFunc(func(*leads.Lead, Record, Details) (string, error) {
		return "", errors.New("template exploded")
	})
	m := NewMachine(NewMemoryStore(repo), WithNarrator(failing))
	lead := newLead(t, repo, leads.ScoringAttributes{})

	res, err := m.Transition(context.Background(), lead, leads.StatusContacted, Details{})
	require.NoError(t, err)
	assert.Contains(t, res.Narrative, "modo de resiliencia")
	assert.Contains(t, res.Narrative, "contactado")
}

func TestTransition_NarratorPanicUsesResilienceMode(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	panicking := NarratorFunc(func(*leads.Lead, Record, Details) (string, error) {
		panic("boom")
	})
	m := NewMachine(NewMemoryStore(repo), WithNarrator(panicking))
	lead := newLead(t, repo, leads.ScoringAttributes{})

	res, err := m.Transition(context.Background(), lead, leads.StatusContacted, Details{})
	require.NoError(t, err)
	assert.Contains(t, res.Narrative, "modo de resiliencia")
}

func TestTransition_HooksRunAfterCommit(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	var seen []Record
	hook := func(ctx context.Context, lead *leads.Lead, rec Record) {
		seen = append(seen, rec)
	}
	panicky := func(context.Context, *leads.Lead, Record) { panic("hook") }
	m := NewMachine(NewMemoryStore(repo), WithHooks(panicky, hook))
	lead := newLead(t, repo, leads.ScoringAttributes{})

	_, err := m.Transition(context.Background(), lead, leads.StatusContacted, Details{ProcessedBy: "agent:ana"})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "agent:ana", seen[0].ProcessedBy)

	_, err = m.Transition(context.Background(), lead, leads.StatusQualified, Details{})
	require.Error(t, err)
	assert.Len(t, seen, 1)
}
