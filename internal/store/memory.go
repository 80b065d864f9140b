package store

import (
	"context"
	"sort"
	"sync"

	"keywarden/pkg/contracts/domain"
)

// Memory is a mutex-guarded map backend for tests and ephemeral deployments.
// Records are cloned on the way in and out so callers can never alias the
// stored state.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]*domain.License
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{recs: make(map[string]*domain.License)}
}

func (m *Memory) Get(_ context.Context, key string) (*domain.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lic, ok := m.recs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return lic.Clone(), nil
}

func (m *Memory) Insert(_ context.Context, lic *domain.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[lic.Key]; ok {
		return ErrDuplicateKey
	}
	m.recs[lic.Key] = lic.Clone()
	return nil
}

func (m *Memory) Mutate(_ context.Context, key string, fn MutateFunc) (*domain.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.recs[key]
	if !ok {
		return nil, ErrNotFound
	}
	work := cur.Clone()
	persist, err := fn(work)
	if err != nil {
		return nil, err
	}
	if persist {
		m.recs[key] = work.Clone()
	}
	return work, nil
}

func (m *Memory) MutateOrCreate(_ context.Context, key string, seed SeedFunc, fn MutateFunc) (*domain.License, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.recs[key]
	created := false
	if !ok {
		cur = seed()
		created = true
	}
	work := cur.Clone()
	persist, err := fn(work)
	if err != nil {
		return nil, false, err
	}
	if persist || created {
		m.recs[key] = work.Clone()
	}
	return work, created, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[key]; !ok {
		return ErrNotFound
	}
	delete(m.recs, key)
	return nil
}

func (m *Memory) List(_ context.Context) ([]*domain.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.License, 0, len(m.recs))
	for _, lic := range m.recs {
		out = append(out, lic.Clone())
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func sortNewestFirst(recs []*domain.License) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].Key < recs[j].Key
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
