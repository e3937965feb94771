package report

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ironsheep/orthoscan/internal/apperr"
)

// Store persists reports. Lists omit the image bytes; Get returns them.
type Store interface {
	Insert(ctx context.Context, r *Report) (string, error)
	Get(ctx context.Context, id string) (*Report, error)
	ListByDoctor(ctx context.Context, doctorID string, limit int) ([]*Report, error)
}

// MemoryStore keeps reports in process memory. It is safe for concurrent
// use and is the store used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*Report
	order   []string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*Report)}
}

func (s *MemoryStore) Insert(ctx context.Context, r *Report) (string, error) {
	if r == nil {
		return "", apperr.E(apperr.PersistenceFailure, "insert report", fmt.Errorf("nil report"))
	}
	c := *r
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[c.ID]; exists {
		return "", apperr.E(apperr.PersistenceFailure, "insert report", fmt.Errorf("duplicate id %s", c.ID))
	}
	s.reports[c.ID] = &c
	s.order = append(s.order, c.ID)
	return c.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, apperr.E(apperr.NotFound, "get report", fmt.Errorf("report %s", id))
	}
	c := *r
	return &c, nil
}

// ListByDoctor returns the doctor's reports in insertion order. A
// non-positive limit means DefaultListLimit.
func (s *MemoryStore) ListByDoctor(ctx context.Context, doctorID string, limit int) ([]*Report, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Report{}
	for _, id := range s.order {
		r := s.reports[id]
		if r.DoctorID != doctorID {
			continue
		}
		out = append(out, r.summary())
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of stored reports.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}
