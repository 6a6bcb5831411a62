package service

import (
	"sync"
	"time"
)

const (
	DefaultRateLimitWindow = 60 * time.Second
	DefaultRateLimitMax    = 10
)

type submissions struct {
	mu      sync.Mutex
	hits    []time.Time
	evicted bool
}

// rateLimiter caps submissions per account over a trailing window. Each
// account has its own lock; the table lock is only held for lookup and insert.
type rateLimiter struct {
	mu      sync.RWMutex
	byKey   map[string]*submissions
	window  time.Duration
	maxHits int
}

func newRateLimiter(window time.Duration, maxHits int) *rateLimiter {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	if maxHits <= 0 {
		maxHits = DefaultRateLimitMax
	}
	return &rateLimiter{
		byKey:   make(map[string]*submissions),
		window:  window,
		maxHits: maxHits,
	}
}

// allow records a submission at now unless the account is already at the cap.
func (rl *rateLimiter) allow(key string, now time.Time) bool {
	for {
		if allowed, live := rl.tryAllow(rl.load(key), now); live {
			return allowed
		}
	}
}

// tryAllow reports live=false when prune removed s after it was loaded, so
// the hit would land on an entry no longer in the table.
func (rl *rateLimiter) tryAllow(s *submissions, now time.Time) (allowed, live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.evicted {
		return false, false
	}
	s.hits = pruneBefore(s.hits, now.Add(-rl.window))
	if len(s.hits) >= rl.maxHits {
		return false, true
	}
	s.hits = append(s.hits, now)
	return true, true
}

func (rl *rateLimiter) load(key string) *submissions {
	rl.mu.RLock()
	s, ok := rl.byKey[key]
	rl.mu.RUnlock()
	if ok {
		return s
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if s, ok = rl.byKey[key]; !ok {
		s = &submissions{}
		rl.byKey[key] = s
	}
	return s
}

// count returns the submissions still inside the window.
func (rl *rateLimiter) count(key string, now time.Time) int {
	rl.mu.RLock()
	s, ok := rl.byKey[key]
	rl.mu.RUnlock()
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-rl.window)
	n := 0
	for _, t := range s.hits {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// prune drops accounts with no submissions left in the window.
func (rl *rateLimiter) prune(now time.Time) int {
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, s := range rl.byKey {
		s.mu.Lock()
		s.hits = pruneBefore(s.hits, cutoff)
		empty := len(s.hits) == 0
		s.evicted = empty
		s.mu.Unlock()
		if empty {
			delete(rl.byKey, key)
			removed++
		}
	}
	return removed
}

// pruneBefore keeps timestamps after cutoff. hits is ordered oldest first.
func pruneBefore(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
