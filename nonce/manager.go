// Package nonce issues and consumes per-account single-use sequence numbers.
package nonce

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/holiman/uint256"

	"github.com/layer-3/txguard/core"
)

const (
	// DefaultRetention is how long an idle record survives cleanup.
	DefaultRetention = 5 * time.Minute

	// MaxAhead bounds how far above the current nonce a submitted value may be.
	MaxAhead = 10

	seedMultiplier = 1_000_000
)

// record guards one account's state with its own lock so unrelated accounts
// never contend.
type record struct {
	mu          sync.Mutex
	account     string
	current     uint256.Int
	used        map[uint256.Int]struct{}
	lastUpdated time.Time
	evicted     bool // set by Cleanup under mu; holders of a stale pointer must reload
}

// Manager owns the nonce table.
type Manager struct {
	mu        sync.RWMutex
	records   map[string]*record
	retention time.Duration
	now       func() time.Time
	logger    watermill.LoggerAdapter
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty nonce table.
func NewManager(logger watermill.LoggerAdapter, opts ...Option) *Manager {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	m := &Manager{
		records:   make(map[string]*record),
		retention: DefaultRetention,
		now:       time.Now,
		logger:    logger.With(watermill.LogFields{"component": "nonce"}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetNextNonce returns a fresh nonce for the account. The first call seeds the
// record from the clock and a random draw, later calls increment by one.
func (m *Manager) GetNextNonce(account string) (*uint256.Int, error) {
	key := core.NormalizeAccount(account)
	now := m.now()

	for {
		rec, seed, err := m.loadOrCreate(key, now)
		if err != nil {
			return nil, err
		}
		if seed != nil {
			return seed, nil
		}
		if n, ok := rec.next(now); ok {
			return n, nil
		}
	}
}

// next increments the record. It reports false when the record was evicted
// after the caller looked it up.
func (rec *record) next(now time.Time) (*uint256.Int, bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.evicted {
		return nil, false
	}
	rec.current.AddUint64(&rec.current, 1)
	rec.lastUpdated = now
	return new(uint256.Int).Set(&rec.current), true
}

// loadOrCreate returns the account record, plus a copy of the seed when the
// record was created by this call.
func (m *Manager) loadOrCreate(key string, now time.Time) (*record, *uint256.Int, error) {
	m.mu.RLock()
	rec, ok := m.records[key]
	m.mu.RUnlock()
	if ok {
		return rec, nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok {
		return rec, nil, nil
	}
	seed, err := generateSeed(now)
	if err != nil {
		return nil, nil, err
	}
	rec = &record{
		account:     key,
		used:        make(map[uint256.Int]struct{}),
		lastUpdated: now,
	}
	rec.current.Set(seed)
	m.records[key] = rec
	return rec, seed, nil
}

// generateSeed combines millisecond time with a bounded random value. Two seeds
// taken in the same millisecond collide with probability 1e-6; after seeding,
// values for an account are strictly monotonic.
func generateSeed(now time.Time) (*uint256.Int, error) {
	r, err := rand.Int(rand.Reader, big.NewInt(seedMultiplier))
	if err != nil {
		return nil, err
	}
	seed := uint256.NewInt(uint64(now.UnixMilli()))
	seed.Mul(seed, uint256.NewInt(seedMultiplier))
	seed.AddUint64(seed, r.Uint64())
	return seed, nil
}

// ValidateAndUseNonce consumes nonce for account. The used-check and the insert
// happen under the account lock.
func (m *Manager) ValidateAndUseNonce(account string, nonce *uint256.Int) core.ValidationResult {
	key := core.NormalizeAccount(account)

	if nonce == nil {
		return core.Invalid(core.CodeMissingRequiredFields,
			"Nonce is required",
			"Request a new nonce before submitting the transaction")
	}

	m.mu.RLock()
	rec, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return recordNotFound()
	}
	return rec.use(nonce, m.now())
}

func recordNotFound() core.ValidationResult {
	return core.Invalid(core.CodeNonceRecordNotFound,
		"No nonce record found for this account",
		"Request a new nonce before submitting the transaction")
}

// use performs the used-check and the insert under the record lock.
func (rec *record) use(nonce *uint256.Int, now time.Time) core.ValidationResult {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.evicted {
		return recordNotFound()
	}
	if _, used := rec.used[*nonce]; used {
		return core.Invalid(core.CodeNonceAlreadyUsed,
			"This transaction nonce has already been used",
			"Request a new nonce and rebuild the transaction")
	}

	limit := new(uint256.Int).AddUint64(&rec.current, MaxAhead)
	if nonce.Gt(limit) {
		return core.Invalid(core.CodeNonceTooHigh,
			"Transaction nonce is too far ahead of the expected value",
			"Request a new nonce and rebuild the transaction")
	}

	rec.used[*nonce] = struct{}{}
	rec.lastUpdated = now
	return core.Valid()
}

// Record returns a copy of the account's record.
func (m *Manager) Record(account string) (core.NonceRecord, bool) {
	m.mu.RLock()
	rec, ok := m.records[core.NormalizeAccount(account)]
	m.mu.RUnlock()
	if !ok {
		return core.NonceRecord{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	used := make(map[uint256.Int]struct{}, len(rec.used))
	for n := range rec.used {
		used[n] = struct{}{}
	}
	return core.NonceRecord{
		Account:      rec.account,
		CurrentNonce: new(uint256.Int).Set(&rec.current),
		UsedNonces:   used,
		LastUpdated:  rec.lastUpdated,
	}, true
}

// Retention returns how long an idle record survives cleanup.
func (m *Manager) Retention() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retention
}

// EnsureRetention raises the retention to at least floor and reports whether
// it changed. A record must outlive every transaction that can still carry
// one of its nonces; an evicted account is reseeded with an empty used set.
func (m *Manager) EnsureRetention(floor time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retention >= floor {
		return false
	}
	m.retention = floor
	return true
}

// Len returns the number of tracked accounts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Cleanup evicts records idle for longer than the retention window and
// returns how many were removed.
func (m *Manager) Cleanup(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Add(-m.retention)
	evicted := 0
	for key, rec := range m.records {
		rec.mu.Lock()
		stale := rec.lastUpdated.Before(cutoff)
		rec.evicted = stale
		last := rec.lastUpdated
		rec.mu.Unlock()
		if !stale {
			continue
		}
		delete(m.records, key)
		evicted++
		m.logger.Info("Evicted stale nonce record", watermill.LogFields{
			"account":      key,
			"last_updated": last,
		})
	}
	return evicted
}
