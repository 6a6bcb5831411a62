package service

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/layer-3/txguard/core"
	"github.com/layer-3/txguard/expiry"
	"github.com/layer-3/txguard/nonce"
	"github.com/layer-3/txguard/ports"
	"github.com/layer-3/txguard/session"
)

// DefaultLargeAmount is 1000 units of an 18-decimal token.
var DefaultLargeAmount = decimal.New(1000, 18)

// Config holds the orchestrator policy.
type Config struct {
	RateLimitWindow time.Duration
	RateLimitMax    int
	LargeAmount     decimal.Decimal // zero selects DefaultLargeAmount
	CleanupInterval time.Duration
	LedgerTTL       time.Duration // raised to the expiry replay horizon when shorter
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		RateLimitWindow: DefaultRateLimitWindow,
		RateLimitMax:    DefaultRateLimitMax,
		LargeAmount:     DefaultLargeAmount,
		CleanupInterval: 5 * time.Minute,
		LedgerTTL:       10 * time.Minute,
	}
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock replaces time.Now for expiry and rate-limit decisions.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithReplayLedger enables the transaction hash ledger.
func WithReplayLedger(ledger ports.ReplayLedger) Option {
	return func(v *Validator) { v.ledger = ledger }
}

// WithEventPublisher publishes every validation decision.
func WithEventPublisher(pub ports.EventPublisher) Option {
	return func(v *Validator) { v.eventPub = pub }
}

type pruner interface {
	Prune(now time.Time) int
}

// Validator is the off-chain transaction validator. It exclusively owns the
// nonce, session and rate-limit tables; callers only reach them through its
// methods.
type Validator struct {
	cfg      Config
	nonces   *nonce.Manager
	sessions *session.Manager
	expiry   *expiry.Validator
	limiter  *rateLimiter
	ledger   ports.ReplayLedger
	eventPub ports.EventPublisher
	logger   watermill.LoggerAdapter
	now      func() time.Time

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewValidator creates a new validator
func NewValidator(
	cfg Config,
	nonces *nonce.Manager,
	sessions *session.Manager,
	expiryValidator *expiry.Validator,
	logger watermill.LoggerAdapter,
	opts ...Option,
) *Validator {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultConfig().CleanupInterval
	}
	if cfg.LedgerTTL <= 0 {
		cfg.LedgerTTL = DefaultConfig().LedgerTTL
	}
	if cfg.LargeAmount.IsZero() {
		cfg.LargeAmount = DefaultLargeAmount
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	logger = logger.With(watermill.LogFields{"component": "validator"})

	// Nonce records and ledger entries must outlive any replay of the
	// transactions they admitted.
	horizon := expiryValidator.ReplayHorizon()
	if nonces.EnsureRetention(horizon) {
		logger.Info("Raised nonce retention to the replay horizon", watermill.LogFields{"retention": horizon})
	}
	if cfg.LedgerTTL < horizon {
		logger.Info("Raised ledger TTL to the replay horizon", watermill.LogFields{
			"configured": cfg.LedgerTTL,
			"ttl":        horizon,
		})
		cfg.LedgerTTL = horizon
	}

	v := &Validator{
		cfg:      cfg,
		nonces:   nonces,
		sessions: sessions,
		expiry:   expiryValidator,
		limiter:  newRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax),
		logger:   logger,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// CreateSession opens a session for account.
func (v *Validator) CreateSession(account string) (string, error) {
	return v.sessions.CreateSession(account)
}

// Session returns a snapshot of the session.
func (v *Validator) Session(sessionID string) (core.SessionInfo, bool) {
	return v.sessions.Session(sessionID)
}

// CheckSession reports whether the session is live and owned by account.
func (v *Validator) CheckSession(sessionID, account string) core.ValidationResult {
	return v.sessions.CheckSession(sessionID, account)
}

// EndSession deactivates a session.
func (v *Validator) EndSession(sessionID string) bool {
	return v.sessions.DeactivateSession(sessionID)
}

// EndAccountSessions deactivates every session of account and returns how
// many were ended.
func (v *Validator) EndAccountSessions(account string) int {
	n := v.sessions.DeactivateAccountSessions(account)
	v.logger.Info("Ended account sessions", watermill.LogFields{"account": core.NormalizeAccount(account), "count": n})
	return n
}

// GetNextNonce issues the next nonce for account.
func (v *Validator) GetNextNonce(account string) (*uint256.Int, error) {
	if !core.IsAccountAddress(account) {
		return nil, core.ErrInvalidAccount
	}
	return v.nonces.GetNextNonce(account)
}

// GenerateOneTimeToken issues a token bound to sessionID.
func (v *Validator) GenerateOneTimeToken(sessionID string, tokenContext map[string]any) (string, error) {
	return v.sessions.GenerateOneTimeToken(sessionID, tokenContext)
}

// ExpirationTime returns the expiration a transaction built now should carry.
func (v *Validator) ExpirationTime() time.Time {
	return v.expiry.GenerateExpirationTime()
}

// ValidateTransaction runs every check in a fixed order and returns the first
// failure, or a valid result. oneTimeToken may be empty.
func (v *Validator) ValidateTransaction(ctx context.Context, md core.TransactionMetadata, oneTimeToken string) core.ValidationResult {
	res, flags := v.validate(ctx, md, oneTimeToken)
	v.publish(ctx, md, res, flags)
	return res
}

// advisories are observations on a transaction that never change the result.
type advisories struct {
	largeAmount  bool
	expiringSoon bool
}

func (v *Validator) validate(ctx context.Context, md core.TransactionMetadata, oneTimeToken string) (core.ValidationResult, advisories) {
	var flags advisories

	if res := checkShape(md, oneTimeToken); !res.IsValid {
		return res, flags
	}

	if res := v.nonces.ValidateAndUseNonce(md.Account, md.Nonce); !res.IsValid {
		return res, flags
	}

	now := v.now()
	if res := v.expiry.ValidateTransactionExpiry(md.Timestamp, now); !res.IsValid {
		return res, flags
	}
	if res := v.expiry.ValidateExpirationTime(md.ExpirationTime, now); !res.IsValid {
		return res, flags
	}
	flags.expiringSoon = v.expiry.IsTransactionExpiringSoon(v.effectiveExpiration(md))
	if flags.expiringSoon {
		v.logger.Info("Transaction is close to expiry", watermill.LogFields{
			"account": md.Account,
			"hash":    md.Hash,
		})
	}

	if oneTimeToken != "" {
		if res := v.sessions.ValidateToken(oneTimeToken, md.SessionID, md.Account); !res.IsValid {
			return res, flags
		}
	}

	if !v.limiter.allow(core.NormalizeAccount(md.Account), now) {
		return core.Invalid(core.CodeRateLimitExceeded,
			"Too many transactions submitted",
			"Wait a minute before submitting another transaction"), flags
	}

	if md.Amount.IsNegative() || !md.Amount.IsInteger() {
		return core.Invalid(core.CodeInvalidAmount,
			"Transaction amount must be a non-negative integer",
			"Enter a valid amount"), flags
	}
	if !md.TransactionType.Allowed() {
		return core.Invalid(core.CodeInvalidTransactionType,
			"Transaction type is not supported",
			"Use a supported transaction type"), flags
	}

	flags.largeAmount = md.Amount.GreaterThan(v.cfg.LargeAmount)
	if flags.largeAmount {
		v.logger.Info("Large transaction amount", watermill.LogFields{
			"account":   md.Account,
			"hash":      md.Hash,
			"amount":    md.Amount.String(),
			"threshold": v.cfg.LargeAmount.String(),
		})
	}

	if v.ledger != nil {
		if res := v.recordHash(ctx, md.Hash); !res.IsValid {
			return res, flags
		}
	}

	return core.Valid(), flags
}

// effectiveExpiration is the declared expiration, or the end of the expiry
// window when none was declared.
func (v *Validator) effectiveExpiration(md core.TransactionMetadata) time.Time {
	if !md.ExpirationTime.IsZero() {
		return md.ExpirationTime
	}
	return md.Timestamp.Add(v.expiry.Window())
}

func checkShape(md core.TransactionMetadata, oneTimeToken string) core.ValidationResult {
	if md.Hash == "" || md.Account == "" || md.Nonce == nil || md.Timestamp.IsZero() ||
		md.TransactionType == "" || (oneTimeToken != "" && md.SessionID == "") {
		return core.Invalid(core.CodeMissingRequiredFields,
			"Transaction is missing required fields",
			"Rebuild the transaction and submit it again")
	}
	if !core.IsAccountAddress(md.Account) {
		return core.Invalid(core.CodeInvalidUserAddress,
			"Invalid wallet address",
			"Reconnect your wallet and try again")
	}
	if !core.IsTransactionHash(md.Hash) {
		return core.Invalid(core.CodeInvalidTransactionHash,
			"Invalid transaction hash",
			"Rebuild the transaction and submit it again")
	}
	return core.Valid()
}

func (v *Validator) recordHash(ctx context.Context, hash string) core.ValidationResult {
	processed := core.Invalid(core.CodeTransactionAlreadyProcessed,
		"This transaction has already been processed",
		"Rebuild the transaction and submit it again")

	seen, err := v.ledger.Seen(ctx, hash)
	if err == nil && seen {
		return processed
	}
	if err == nil {
		var added bool
		added, err = v.ledger.MarkSeen(ctx, hash, v.cfg.LedgerTTL)
		if err == nil && !added {
			return processed
		}
	}
	if err != nil {
		v.logger.Error("Replay ledger failed", err, watermill.LogFields{"hash": hash})
		return core.Invalid(core.CodeReplayLedgerUnavailable,
			"Transaction could not be checked right now",
			"Try again in a moment")
	}
	return core.Valid()
}

func (v *Validator) publish(ctx context.Context, md core.TransactionMetadata, res core.ValidationResult, flags advisories) {
	if v.eventPub == nil {
		return
	}
	event := core.ValidationEvent{
		TransactionHash: md.Hash,
		Account:         core.NormalizeAccount(md.Account),
		SessionID:       md.SessionID,
		TransactionType: md.TransactionType,
		Valid:           res.IsValid,
		ErrorCode:       res.ErrorCode,
		LargeAmount:     flags.largeAmount,
		ExpiringSoon:    flags.expiringSoon,
		OccurredAt:      v.now(),
	}
	if err := v.eventPub.PublishValidation(ctx, event); err != nil {
		v.logger.Error("Failed to publish validation event", err, watermill.LogFields{"hash": md.Hash})
	}
}

// Cleanup evicts stale nonce records, expired sessions, idle rate-limit
// windows and expired ledger entries.
func (v *Validator) Cleanup() {
	now := v.now()
	nonces := v.nonces.Cleanup(now)
	sessions := v.sessions.CleanupExpiredSessions(now)
	windows := v.limiter.prune(now)
	hashes := 0
	if p, ok := v.ledger.(pruner); ok {
		hashes = p.Prune(now)
	}
	v.logger.Debug("Cleanup finished", watermill.LogFields{
		"nonce_records": nonces,
		"sessions":      sessions,
		"rate_windows":  windows,
		"ledger":        hashes,
	})
}

// Start runs Cleanup every CleanupInterval until ctx is done or Close is called.
func (v *Validator) Start(ctx context.Context) {
	v.startOnce.Do(func() {
		go v.run(ctx)
	})
}

func (v *Validator) run(ctx context.Context) {
	defer close(v.done)

	ticker := time.NewTicker(v.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			v.Cleanup()
		case <-v.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the background cleanup and waits for it to exit.
func (v *Validator) Close() error {
	started := true
	v.startOnce.Do(func() { started = false })

	v.closeOnce.Do(func() { close(v.stop) })
	if started {
		<-v.done
	}
	return nil
}
