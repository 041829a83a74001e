package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wolfman30/dealership-ai-platform/internal/leads"
)

// Record is an immutable audit entry for one status change.
type Record struct {
	ID          string       `json:"id"`
	LeadID      string       `json:"lead_id"`
	FromStatus  leads.Status `json:"from_status"`
	ToStatus    leads.Status `json:"to_status"`
	Timestamp   time.Time    `json:"timestamp"`
	Score       int          `json:"score"`
	ProcessedBy string       `json:"processed_by"`
	Narrative   string       `json:"narrative,omitempty"`
}

// Store persists transitions together with the lead status they produce.
type Store interface {
	// Commit writes outcome onto the lead if it is still in rec.FromStatus and
	// appends rec to the lead's history. A lead that moved in the meantime
	// yields leads.ErrStatusConflict.
	Commit(ctx context.Context, rec Record, outcome leads.Outcome) error
	// History returns the lead's transitions oldest first.
	History(ctx context.Context, leadID string) ([]Record, error)
	// LastTimestamp returns the newest transition time, or the zero time.
	LastTimestamp(ctx context.Context, leadID string) (time.Time, error)
}

// MemoryStore keeps transitions in process and writes lead outcomes through a
// leads.Repository.
type MemoryStore struct {
	mu      sync.RWMutex
	leads   leads.Repository
	history map[string][]Record
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(repo leads.Repository) *MemoryStore {
	if repo == nil {
		panic("lifecycle: leads repository required")
	}
	return &MemoryStore{
		leads:   repo,
		history: make(map[string][]Record),
	}
}

func (s *MemoryStore) Commit(ctx context.Context, rec Record, outcome leads.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.leads.ApplyOutcome(ctx, rec.LeadID, rec.FromStatus, outcome); err != nil {
		return err
	}
	s.history[rec.LeadID] = append(s.history[rec.LeadID], rec)
	return nil
}

func (s *MemoryStore) History(ctx context.Context, leadID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := append([]Record(nil), s.history[leadID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) LastTimestamp(ctx context.Context, leadID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	for _, rec := range s.history[leadID] {
		if rec.Timestamp.After(last) {
			last = rec.Timestamp
		}
	}
	return last, nil
}
