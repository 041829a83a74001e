// Package inventory holds the dealership's car stock: the stores behind it,
// a read-through cache and model-assisted ingestion of pasted listings.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dealership-ai-platform/internal/guardrail"
)

// ErrInvalidCar is returned when a car cannot be listed.
var ErrInvalidCar = errors.New("inventory: invalid car")

// Car is one unit on the lot.
type Car struct {
	ID        string    `json:"id"`
	Make      string    `json:"make"`
	Model     string    `json:"model"`
	Year      int       `json:"year"`
	Trim      string    `json:"trim,omitempty"`
	Price     float64   `json:"price"`
	Mileage   int       `json:"mileage,omitempty"`
	Available bool      `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Name renders the car the way replies name it, e.g. "Toyota Corolla 2022".
func (c Car) Name() string {
	name := strings.TrimSpace(strings.Join(strings.Fields(c.Make+" "+c.Model+" "+c.Trim), " "))
	if c.Year > 0 {
		name = fmt.Sprintf("%s %d", name, c.Year)
	}
	return name
}

// Validate checks the fields a listing needs.
func (c Car) Validate() error {
	switch {
	case strings.TrimSpace(c.Make) == "":
		return fmt.Errorf("%w: make is required", ErrInvalidCar)
	case strings.TrimSpace(c.Model) == "":
		return fmt.Errorf("%w: model is required", ErrInvalidCar)
	case c.Year != 0 && (c.Year < 1950 || c.Year > time.Now().Year()+2):
		return fmt.Errorf("%w: year %d out of range", ErrInvalidCar, c.Year)
	case c.Price < 0:
		return fmt.Errorf("%w: price must not be negative", ErrInvalidCar)
	}
	return nil
}

// Store persists cars.
type Store interface {
	List(ctx context.Context) ([]Car, error)
	Upsert(ctx context.Context, cars []Car) ([]Car, error)
	MarkSold(ctx context.Context, id string) error
}

// ErrCarNotFound is returned when a car id is unknown.
var ErrCarNotFound = errors.New("inventory: car not found")

// Vehicles maps available cars to the shape the guardrail and prompts use.
func Vehicles(cars []Car) []guardrail.Vehicle {
	out := make([]guardrail.Vehicle, 0, len(cars))
	for _, c := range cars {
		if !c.Available {
			continue
		}
		out = append(out, guardrail.Vehicle{Name: c.Name(), Price: c.Price})
	}
	return out
}

// Source adapts a Store to the conversation inventory interface.
type Source struct {
	store Store
}

func NewSource(store Store) *Source {
	if store == nil {
		panic("inventory: store cannot be nil")
	}
	return &Source{store: store}
}

// Vehicles lists the cars currently for sale.
func (s *Source) Vehicles(ctx context.Context) ([]guardrail.Vehicle, error) {
	cars, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return Vehicles(cars), nil
}

// MemoryStore keeps the inventory in process.
type MemoryStore struct {
	mu   sync.RWMutex
	cars map[string]Car
	now  func() time.Time
}

func NewMemoryStore(cars ...Car) *MemoryStore {
	s := &MemoryStore{cars: make(map[string]Car), now: func() time.Time { return time.Now().UTC() }}
	if _, err := s.Upsert(context.Background(), cars); err != nil {
		panic(err)
	}
	return s
}

func (s *MemoryStore) List(ctx context.Context) ([]Car, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Car, 0, len(s.cars))
	for _, c := range s.cars {
		out = append(out, c)
	}
	sortCars(out)
	return out, nil
}

// Upsert stores cars. Cars without an id get one; a car matching an existing
// make, model and year replaces it.
func (s *MemoryStore) Upsert(ctx context.Context, cars []Car) ([]Car, error) {
	for _, c := range cars {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Car, 0, len(cars))
	for _, c := range cars {
		if c.ID == "" {
			c.ID = s.matchLocked(c)
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		c.UpdatedAt = s.now()
		s.cars[c.ID] = c
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) matchLocked(c Car) string {
	for id, existing := range s.cars {
		if strings.EqualFold(existing.Name(), c.Name()) {
			return id
		}
	}
	return ""
}

func (s *MemoryStore) MarkSold(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cars[id]
	if !ok {
		return ErrCarNotFound
	}
	c.Available = false
	c.UpdatedAt = s.now()
	s.cars[id] = c
	return nil
}

func sortCars(cars []Car) {
	sort.Slice(cars, func(i, j int) bool {
		if cars[i].Make != cars[j].Make {
			return cars[i].Make < cars[j].Make
		}
		if cars[i].Model != cars[j].Model {
			return cars[i].Model < cars[j].Model
		}
		return cars[i].Year > cars[j].Year
	})
}
