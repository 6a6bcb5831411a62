// Package expiry performs the stateless time-window checks on transactions.
package expiry

import (
	"time"

	"github.com/layer-3/txguard/core"
)

const (
	DefaultWindow        = 5 * time.Minute
	DefaultClockSkew     = 5 * time.Second
	DefaultWarnThreshold = 30 * time.Second
)

// Validator holds the expiry window configuration. The zero value is not
// usable; construct it with NewValidator.
type Validator struct {
	window        time.Duration
	clockSkew     time.Duration
	warnThreshold time.Duration
	now           func() time.Time
}

// NewValidator creates a validator, substituting defaults for non-positive values.
func NewValidator(window, clockSkew, warnThreshold time.Duration) *Validator {
	if window <= 0 {
		window = DefaultWindow
	}
	if clockSkew <= 0 {
		clockSkew = DefaultClockSkew
	}
	if warnThreshold <= 0 {
		warnThreshold = DefaultWarnThreshold
	}
	return &Validator{
		window:        window,
		clockSkew:     clockSkew,
		warnThreshold: warnThreshold,
		now:           time.Now,
	}
}

// WithClock returns a copy of v that reads time from now.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	c := *v
	c.now = now
	return &c
}

// Window returns the configured expiry window.
func (v *Validator) Window() time.Duration {
	return v.window
}

// ReplayHorizon is the longest time after its first use that a transaction can
// still pass ValidateTransactionExpiry.
func (v *Validator) ReplayHorizon() time.Duration {
	return v.window + v.clockSkew
}

// ValidateTransactionExpiry checks that creation lies within the window ending
// at now and is not unreasonably far in the future.
func (v *Validator) ValidateTransactionExpiry(creation, now time.Time) core.ValidationResult {
	if now.Sub(creation) > v.window {
		return core.Invalid(core.CodeTransactionExpired,
			"Transaction has expired",
			"Rebuild the transaction and submit it again")
	}
	if creation.Sub(now) > v.clockSkew {
		return core.Invalid(core.CodeInvalidTimestamp,
			"Transaction timestamp is in the future",
			"Check that your system clock is correct")
	}
	return core.Valid()
}

// ValidateExpirationTime rejects a declared expiration that has already passed.
// A zero expiration is treated as not declared.
func (v *Validator) ValidateExpirationTime(expiration, now time.Time) core.ValidationResult {
	if expiration.IsZero() || !now.After(expiration) {
		return core.Valid()
	}
	return core.Invalid(core.CodeTransactionExpired,
		"Transaction expiration time has passed",
		"Rebuild the transaction and submit it again")
}

// GenerateExpirationTime returns now plus the expiry window.
func (v *Validator) GenerateExpirationTime() time.Time {
	return v.now().Add(v.window)
}

// IsTransactionExpiringSoon is advisory only.
func (v *Validator) IsTransactionExpiringSoon(expiration time.Time) bool {
	return expiration.Sub(v.now()) < v.warnThreshold
}
