// Package dedupe suppresses repeat alerts for the same transaction signature.
package dedupe

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL covers a warp-back or resync window several times over.
const DefaultTTL = 6 * time.Hour

// Filter reports whether key is seen for the first time, marking it seen.
type Filter interface {
	FirstSeen(ctx context.Context, key string) bool
}

// Memory is an in-process TTL set.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemory returns an in-memory filter that forgets keys after ttl.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (m *Memory) FirstSeen(_ context.Context, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if ts, found := m.seen[key]; found && now.Sub(ts) < m.ttl {
		return false
	}
	m.seen[key] = now
	return true
}

// Len returns the number of tracked keys, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, ts := range m.seen {
		if now.Sub(ts) >= m.ttl {
			delete(m.seen, k)
		}
	}
}

// RunJanitor drops expired keys every interval until ctx ends.
func (m *Memory) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}
