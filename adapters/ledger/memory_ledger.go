package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/txguard/ports"
)

// MemoryLedger is an in-memory implementation of the ReplayLedger interface
type MemoryLedger struct {
	seen map[string]time.Time
	mu   sync.RWMutex
	now  func() time.Time
}

// NewMemoryLedger creates a new in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

var _ ports.ReplayLedger = (*MemoryLedger)(nil)

// Seen checks whether a hash is recorded and not yet expired
func (l *MemoryLedger) Seen(ctx context.Context, hash string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	expiry, exists := l.seen[hash]
	if !exists {
		return false, nil
	}
	return l.now().Before(expiry), nil
}

// MarkSeen records a hash unless a live record already exists
func (l *MemoryLedger) MarkSeen(ctx context.Context, hash string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if expiry, exists := l.seen[hash]; exists && now.Before(expiry) {
		return false, nil
	}
	l.seen[hash] = now.Add(ttl)
	return true, nil
}

// Prune drops expired records. Expired entries are already ignored by Seen,
// this only reclaims memory.
func (l *MemoryLedger) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for hash, expiry := range l.seen {
		if !now.Before(expiry) {
			delete(l.seen, hash)
			removed++
		}
	}
	return removed
}
