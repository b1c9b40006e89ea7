package catalog

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	services map[string]*Service
}

// NewMemoryStore creates an empty in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{services: make(map[string]*Service)}
}

func (m *MemoryStore) Create(ctx context.Context, s *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.services[s.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListByFreelancer(ctx context.Context, freelancerID string) ([]*Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Service
	for _, s := range m.services {
		if s.FreelancerID == freelancerID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, s *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[s.ID]; !ok {
		return ErrServiceNotFound
	}
	cp := *s
	m.services[s.ID] = &cp
	return nil
}
