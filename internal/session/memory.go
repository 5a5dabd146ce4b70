package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type entry struct {
	state     State
	expiresAt time.Time
}

// MemoryStore is the default volatile store. Entries expire ttl after their
// last write so abandoned uploads do not accumulate.
type MemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	entries map[ID]entry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(log *slog.Logger, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		log:     log,
		entries: make(map[ID]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(_ context.Context, id ID) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return None, nil
	}
	if m.expired(e) {
		delete(m.entries, id)
		return None, nil
	}
	return e.state, nil
}

func (m *MemoryStore) Set(_ context.Context, id ID, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state == None {
		delete(m.entries, id)
		return nil
	}
	e := entry{state: state}
	if m.ttl > 0 {
		e.expiresAt = m.now().Add(m.ttl)
	}
	m.entries[id] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep drops every expired entry and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on every tick until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Debug("Context done, stopping session sweeper")
			return nil
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.log.Debug("Expired sessions removed", "count", n)
			}
		}
	}
}

func (m *MemoryStore) expired(e entry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}
