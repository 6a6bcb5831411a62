// Package config loads txguard configuration from the environment.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	Addr     string
	RedisURL string // empty disables Redis; the replay ledger then stays in memory
	Debug    bool

	// SigningKeyFile is a PEM encoded P-256 key for session bearer tokens.
	// A key is generated at startup when empty.
	SigningKeyFile string
	// TokenSecret keys the one-time token HMAC. Generated when empty.
	TokenSecret []byte

	SessionTTL        time.Duration
	VerifyIssuedToken bool

	ExpiryWindow  time.Duration
	ClockSkew     time.Duration
	ExpiryWarning time.Duration

	RateLimitWindow time.Duration
	RateLimitMax    int
	LargeAmount     decimal.Decimal

	CleanupInterval time.Duration
	NonceRetention  time.Duration
	LedgerTTL       time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	largeAmount, err := decimal.NewFromString(getEnv("LARGE_AMOUNT_THRESHOLD", "1000000000000000000000"))
	if err != nil {
		return nil, fmt.Errorf("invalid LARGE_AMOUNT_THRESHOLD: %w", err)
	}

	var secret []byte
	if s := getEnv("TOKEN_SECRET", ""); s != "" {
		if secret, err = hex.DecodeString(strings.TrimPrefix(s, "0x")); err != nil {
			return nil, fmt.Errorf("invalid TOKEN_SECRET: %w", err)
		}
	}

	cleanupInterval := getEnvDuration("CLEANUP_INTERVAL", 5*time.Minute)
	expiryWindow := getEnvDuration("TX_EXPIRY_WINDOW", 5*time.Minute)
	clockSkew := getEnvDuration("TX_CLOCK_SKEW", 5*time.Second)
	retention := max(cleanupInterval, expiryWindow+clockSkew)

	cfg := &Config{
		Addr:              getEnv("ADDR", ":9000"),
		RedisURL:          getEnv("REDIS_URL", ""),
		Debug:             getEnvBool("DEBUG", false),
		SigningKeyFile:    getEnv("SIGNING_KEY_FILE", ""),
		TokenSecret:       secret,
		SessionTTL:        getEnvDuration("SESSION_TTL", 30*time.Minute),
		VerifyIssuedToken: getEnvBool("VERIFY_ISSUED_TOKENS", true),
		ExpiryWindow:      expiryWindow,
		ClockSkew:         clockSkew,
		ExpiryWarning:     getEnvDuration("TX_EXPIRY_WARNING", 30*time.Second),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitMax:      getEnvInt("RATE_LIMIT_MAX", 10),
		LargeAmount:       largeAmount,
		CleanupInterval:   cleanupInterval,
		NonceRetention:    getEnvDuration("NONCE_RETENTION", retention),
		LedgerTTL:         getEnvDuration("LEDGER_TTL", 10*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all fields hold usable values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("ADDR cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.ExpiryWindow <= 0 || c.ClockSkew <= 0 || c.ExpiryWarning <= 0 {
		return fmt.Errorf("TX_EXPIRY_WINDOW, TX_CLOCK_SKEW and TX_EXPIRY_WARNING must be > 0")
	}
	if c.RateLimitWindow <= 0 || c.RateLimitMax <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW and RATE_LIMIT_MAX must be > 0")
	}
	if !c.LargeAmount.IsPositive() {
		return fmt.Errorf("LARGE_AMOUNT_THRESHOLD must be > 0")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be > 0")
	}
	// A nonce record or ledger entry dropped while its transaction is still
	// inside the expiry window lets that transaction through again.
	horizon := c.ExpiryWindow + c.ClockSkew
	if c.NonceRetention < horizon {
		return fmt.Errorf("NONCE_RETENTION must be >= TX_EXPIRY_WINDOW + TX_CLOCK_SKEW (%s)", horizon)
	}
	if c.LedgerTTL < horizon {
		return fmt.Errorf("LEDGER_TTL must be >= TX_EXPIRY_WINDOW + TX_CLOCK_SKEW (%s)", horizon)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
