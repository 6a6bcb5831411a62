package nonce

import (
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/txguard/core"
)

const account = "0xde709f2102306220921060314715629080e2fb77"

func TestGetNextNonceStrictlyIncreasing(t *testing.T) {
	m := NewManager(nil)

	prev, err := m.GetNextNonce(account)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		next, err := m.GetNextNonce(account)
		require.NoError(t, err)
		assert.True(t, next.Gt(prev), "nonce %s should be greater than %s", next.Dec(), prev.Dec())
		prev = next
	}
}

func TestGetNextNonceSeedFromClock(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_000)
	m := NewManager(nil, WithClock(func() time.Time { return fixed }))

	n, err := m.GetNextNonce(account)
	require.NoError(t, err)

	low := new(uint256.Int).Mul(uint256.NewInt(uint64(fixed.UnixMilli())), uint256.NewInt(seedMultiplier))
	high := new(uint256.Int).AddUint64(low, seedMultiplier)
	assert.False(t, n.Lt(low))
	assert.True(t, n.Lt(high))
}

func TestGetNextNonceCaseInsensitiveAccount(t *testing.T) {
	m := NewManager(nil)

	first, err := m.GetNextNonce("0xDE709F2102306220921060314715629080E2FB77")
	require.NoError(t, err)
	second, err := m.GetNextNonce(account)
	require.NoError(t, err)

	assert.Equal(t, new(uint256.Int).AddUint64(first, 1), second)
	assert.Equal(t, 1, m.Len())
}

func TestValidateAndUseNonce(t *testing.T) {
	m := NewManager(nil)

	res := m.ValidateAndUseNonce(account, uint256.NewInt(1))
	assert.Equal(t, core.CodeNonceRecordNotFound, res.ErrorCode)

	n, err := m.GetNextNonce(account)
	require.NoError(t, err)

	assert.True(t, m.ValidateAndUseNonce(account, n).IsValid)

	res = m.ValidateAndUseNonce(account, n)
	assert.False(t, res.IsValid)
	assert.Equal(t, core.CodeNonceAlreadyUsed, res.ErrorCode)
	assert.NotEmpty(t, res.Suggestion)

	rec, ok := m.Record(account)
	require.True(t, ok)
	assert.Contains(t, rec.UsedNonces, *n)
}

func TestValidateAndUseNonceBounds(t *testing.T) {
	m := NewManager(nil)

	n, err := m.GetNextNonce(account)
	require.NoError(t, err)

	tooHigh := new(uint256.Int).AddUint64(n, MaxAhead+1)
	res := m.ValidateAndUseNonce(account, tooHigh)
	assert.Equal(t, core.CodeNonceTooHigh, res.ErrorCode)

	edge := new(uint256.Int).AddUint64(n, MaxAhead)
	assert.True(t, m.ValidateAndUseNonce(account, edge).IsValid)

	rec, ok := m.Record(account)
	require.True(t, ok)
	limit := new(uint256.Int).AddUint64(rec.CurrentNonce, MaxAhead)
	for used := range rec.UsedNonces {
		assert.False(t, used.Gt(limit))
	}
}

func TestValidateAndUseNonceConcurrent(t *testing.T) {
	m := NewManager(nil)

	n, err := m.GetNextNonce(account)
	require.NoError(t, err)

	const workers = 64
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		replays   int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res := m.ValidateAndUseNonce(account, new(uint256.Int).Set(n))
			mu.Lock()
			defer mu.Unlock()
			if res.IsValid {
				successes++
			} else if res.ErrorCode == core.CodeNonceAlreadyUsed {
				replays++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, replays)
}

func TestCleanupEvictsStaleRecords(t *testing.T) {
	now := time.Now()
	clock := now
	m := NewManager(nil, WithRetention(time.Minute), WithClock(func() time.Time { return clock }))

	_, err := m.GetNextNonce(account)
	require.NoError(t, err)

	clock = now.Add(30 * time.Second)
	_, err = m.GetNextNonce("0x52908400098527886e0f7030069857d2e4169ee7")
	require.NoError(t, err)

	assert.Equal(t, 0, m.Cleanup(now.Add(59*time.Second)))
	assert.Equal(t, 1, m.Cleanup(now.Add(61*time.Second)))
	assert.Equal(t, 1, m.Len())

	_, ok := m.Record(account)
	assert.False(t, ok)
}

func TestEnsureRetention(t *testing.T) {
	m := NewManager(nil, WithRetention(time.Minute))

	assert.True(t, m.EnsureRetention(5*time.Minute+5*time.Second))
	assert.Equal(t, 5*time.Minute+5*time.Second, m.Retention())

	assert.False(t, m.EnsureRetention(time.Minute))
	assert.Equal(t, 5*time.Minute+5*time.Second, m.Retention())
}

func TestEvictedRecordIsReloaded(t *testing.T) {
	now := time.Now()
	clock := now
	m := NewManager(nil, WithRetention(time.Minute), WithClock(func() time.Time { return clock }))

	first, err := m.GetNextNonce(account)
	require.NoError(t, err)

	m.mu.RLock()
	stale := m.records[core.NormalizeAccount(account)]
	m.mu.RUnlock()

	clock = now.Add(2 * time.Minute)
	require.Equal(t, 1, m.Cleanup(clock))

	_, ok := stale.next(clock)
	assert.False(t, ok, "evicted record must not hand out nonces")
	assert.Equal(t, core.CodeNonceRecordNotFound, stale.use(first, clock).ErrorCode)

	n, err := m.GetNextNonce(account)
	require.NoError(t, err)
	assert.True(t, m.ValidateAndUseNonce(account, n).IsValid)

	rec, ok := m.Record(account)
	require.True(t, ok)
	assert.Contains(t, rec.UsedNonces, *n)
}
