package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 5*time.Minute, cfg.ExpiryWindow)
	assert.Equal(t, 5*time.Second, cfg.ClockSkew)
	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 10, cfg.RateLimitMax)
	assert.Equal(t, 5*time.Minute+5*time.Second, cfg.NonceRetention)
	assert.True(t, cfg.VerifyIssuedToken)
	assert.True(t, decimal.New(1000, 18).Equal(cfg.LargeAmount))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_MAX", "3")
	t.Setenv("SESSION_TTL", "90s")
	t.Setenv("VERIFY_ISSUED_TOKENS", "false")
	t.Setenv("TOKEN_SECRET", "0xdeadbeef")
	t.Setenv("CLEANUP_INTERVAL", "10m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RateLimitMax)
	assert.Equal(t, 90*time.Second, cfg.SessionTTL)
	assert.False(t, cfg.VerifyIssuedToken)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, cfg.TokenSecret)
	assert.Equal(t, 10*time.Minute, cfg.NonceRetention)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("RATE_LIMIT_MAX", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsRetentionShorterThanExpiryWindow(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"nonce retention", "NONCE_RETENTION", "1m"},
		{"nonce retention at window", "NONCE_RETENTION", "5m"},
		{"ledger ttl", "LEDGER_TTL", "5m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}

	t.Setenv("NONCE_RETENTION", "5m5s")
	t.Setenv("LEDGER_TTL", "5m5s")
	_, err := Load()
	assert.NoError(t, err)
}

func TestLoadRejectsZeroLargeAmount(t *testing.T) {
	t.Setenv("LARGE_AMOUNT_THRESHOLD", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadSecret(t *testing.T) {
	t.Setenv("TOKEN_SECRET", "not-hex")
	_, err := Load()
	assert.Error(t, err)
}
