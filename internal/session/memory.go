package session

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps sessions in process memory. It backs dry runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	byID map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Session)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, ErrNotStored
	}
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.ID] = *s
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit, offset int) ([]Session, error) {
	m.mu.Lock()
	out := make([]Session, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, s)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrNotStored
	}
	delete(m.byID, id)
	return nil
}
