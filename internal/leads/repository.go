package leads

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for lead storage
type Repository interface {
	Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error)
	GetByID(ctx context.Context, id string) (*Lead, error)
	GetByPhone(ctx context.Context, phone string) (*Lead, error)
	List(ctx context.Context, filter ListLeadsFilter) ([]*Lead, error)
	// UpdateScoring stores new scoring inputs together with the derived score.
	UpdateScoring(ctx context.Context, id string, attrs ScoringAttributes, score int, summary string) (*Lead, error)
	// ApplyOutcome writes a lifecycle outcome if the lead is still in
	// expected status, otherwise ErrStatusConflict.
	ApplyOutcome(ctx context.Context, id string, expected Status, outcome Outcome) error
	// CreateOrGetByPhone atomically creates the lead for req.Phone or returns
	// the one that already holds it. created reports which happened.
	CreateOrGetByPhone(ctx context.Context, req *CreateLeadRequest) (lead *Lead, created bool, err error)
}

// FindOrCreateByPhone returns the lead for phone, creating it from req when
// this is the first contact.
func FindOrCreateByPhone(ctx context.Context, repo Repository, req *CreateLeadRequest) (*Lead, bool, error) {
	req.Normalize()
	if req.Phone != "" {
		lead, err := repo.GetByPhone(ctx, req.Phone)
		if err == nil {
			return lead, false, nil
		}
		if !errors.Is(err, ErrLeadNotFound) {
			return nil, false, err
		}
		return repo.CreateOrGetByPhone(ctx, req)
	}
	lead, err := repo.Create(ctx, req)
	if err != nil {
		return nil, false, err
	}
	return lead, true, nil
}

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	mu    sync.RWMutex
	leads map[string]*Lead
	now   func() time.Time
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads: make(map[string]*Lead),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Create creates a new lead in memory
func (r *InMemoryRepository) Create(ctx context.Context, req *CreateLeadRequest) (*Lead, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if req.Phone != "" && r.byPhoneLocked(req.Phone) != nil {
		return nil, ErrDuplicatePhone
	}
	return r.insertLocked(req).Clone(), nil
}

// CreateOrGetByPhone holds the write lock across the lookup and the insert.
func (r *InMemoryRepository) CreateOrGetByPhone(ctx context.Context, req *CreateLeadRequest) (*Lead, bool, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if req.Phone != "" {
		if found := r.byPhoneLocked(req.Phone); found != nil {
			return found.Clone(), false, nil
		}
	}
	return r.insertLocked(req).Clone(), true, nil
}

func (r *InMemoryRepository) insertLocked(req *CreateLeadRequest) *Lead {
	now := r.now()
	lead := &Lead{
		ID:        uuid.New().String(),
		Source:    req.Source,
		Type:      req.Type,
		Status:    StatusNew,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Message:   req.Message,
		CreatedAt: now,
		UpdatedAt: now,
	}
	lead.Merge(req.ScoringAttributes)
	r.leads[lead.ID] = lead
	return lead
}

// GetByID retrieves a lead by ID
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return lead.Clone(), nil
}

// GetByPhone returns the oldest lead registered with the phone number.
func (r *InMemoryRepository) GetByPhone(ctx context.Context, phone string) (*Lead, error) {
	phone = NormalizePhone(phone)
	r.mu.RLock()
	defer r.mu.RUnlock()

	found := r.byPhoneLocked(phone)
	if found == nil {
		return nil, ErrLeadNotFound
	}
	return found.Clone(), nil
}

func (r *InMemoryRepository) byPhoneLocked(phone string) *Lead {
	var found *Lead
	for _, lead := range r.leads {
		if lead.Phone != phone {
			continue
		}
		if found == nil || lead.CreatedAt.Before(found.CreatedAt) {
			found = lead
		}
	}
	return found
}

// List returns leads newest first.
func (r *InMemoryRepository) List(ctx context.Context, filter ListLeadsFilter) ([]*Lead, error) {
	r.mu.RLock()
	out := make([]*Lead, 0, len(r.leads))
	for _, lead := range r.leads {
		if filter.Status != "" && lead.Status != filter.Status {
			continue
		}
		out = append(out, lead.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*Lead{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdateScoring merges attrs and stores the derived score.
func (r *InMemoryRepository) UpdateScoring(ctx context.Context, id string, attrs ScoringAttributes, score int, summary string) (*Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[id]
	if !ok {
		return nil, ErrLeadNotFound
	}
	lead.Merge(attrs)
	lead.AIScore = score
	lead.AISummary = summary
	lead.UpdatedAt = r.now()
	return lead.Clone(), nil
}

// ApplyOutcome performs a compare-and-set on the lead status.
func (r *InMemoryRepository) ApplyOutcome(ctx context.Context, id string, expected Status, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lead, ok := r.leads[id]
	if !ok {
		return ErrLeadNotFound
	}
	if lead.Status != expected {
		return ErrStatusConflict
	}
	lead.Apply(outcome)
	lead.UpdatedAt = r.now()
	return nil
}
