package session

import (
	"context"
	"sync"

	"mentorhub/pkg/domain"
)

// MemoryPersister keeps snapshots in-process.
type MemoryPersister struct {
	mu    sync.RWMutex
	snaps map[string]domain.Session
}

func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{snaps: make(map[string]domain.Session)}
}

func (m *MemoryPersister) Load(_ context.Context, key string) (domain.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[key]
	if ok && snap.User != nil {
		u := *snap.User
		snap.User = &u
	}
	return snap, ok, nil
}

func (m *MemoryPersister) Save(_ context.Context, key string, snap domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.User != nil {
		u := *snap.User
		snap.User = &u
	}
	m.snaps[key] = snap
	return nil
}

func (m *MemoryPersister) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, key)
	return nil
}
