package permits

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("permit not found")

// Store persists permits. Implementations must be safe for concurrent use.
type Store interface {
	Create(ctx context.Context, p Permit) (Permit, error)
	Get(ctx context.Context, id uuid.UUID) (Permit, error)
	List(ctx context.Context) ([]Permit, error)
	Update(ctx context.Context, id uuid.UUID, fn func(*Permit)) (Permit, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// MemStore is an in-memory Store.
type MemStore struct {
	mu      sync.RWMutex
	permits map[uuid.UUID]Permit
	newID   func() uuid.UUID
}

func NewMemStore() *MemStore {
	return &MemStore{
		permits: make(map[uuid.UUID]Permit),
		newID:   uuid.New,
	}
}

// Create assigns a fresh ID, overwriting any the caller set.
func (s *MemStore) Create(_ context.Context, p Permit) (Permit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		p.ID = s.newID()
		if _, taken := s.permits[p.ID]; !taken {
			break
		}
	}
	s.permits[p.ID] = p
	return p, nil
}

func (s *MemStore) Get(_ context.Context, id uuid.UUID) (Permit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.permits[id]
	if !ok {
		return Permit{}, ErrNotFound
	}
	return p, nil
}

// List orders by submission time, then ID.
func (s *MemStore) List(_ context.Context) ([]Permit, error) {
	s.mu.RLock()
	out := make([]Permit, 0, len(s.permits))
	for _, p := range s.permits {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedDate.Equal(out[j].SubmittedDate) {
			return out[i].SubmittedDate.Before(out[j].SubmittedDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// Update runs fn on a copy under the write lock. ID and SubmittedDate are
// restored after fn.
func (s *MemStore) Update(_ context.Context, id uuid.UUID, fn func(*Permit)) (Permit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.permits[id]
	if !ok {
		return Permit{}, ErrNotFound
	}
	next := p
	fn(&next)
	next.ID, next.SubmittedDate = p.ID, p.SubmittedDate
	s.permits[id] = next
	return next, nil
}

func (s *MemStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.permits[id]; !ok {
		return ErrNotFound
	}
	delete(s.permits, id)
	return nil
}

// Len is the number of stored permits.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.permits)
}
