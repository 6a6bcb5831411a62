// Package session issues short-lived sessions and the one-time tokens bound to them.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"

	"github.com/layer-3/txguard/core"
)

const (
	// DefaultTTL is the lifetime of a session.
	DefaultTTL = 30 * time.Minute

	sessionIDLength = 32
	tokenHexLength  = 2 * sha256.Size
)

type entry struct {
	mu       sync.Mutex
	info     core.SessionInfo
	consumed map[string]struct{}
}

// Manager owns the session table and the per-account session index.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*entry
	byAccount map[string]map[string]struct{}

	ttl          time.Duration
	secret       []byte
	verifyIssued bool
	now          func() time.Time
	logger       watermill.LoggerAdapter
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithSecret sets the HMAC key used for one-time tokens. Instances that must
// agree on tokens need the same secret.
func WithSecret(secret []byte) Option {
	return func(m *Manager) {
		if len(secret) > 0 {
			m.secret = append([]byte(nil), secret...)
		}
	}
}

// WithIssuedTokenCheck toggles whether ValidateToken requires the token to
// have been issued by the session and not presented before.
func WithIssuedTokenCheck(enabled bool) Option {
	return func(m *Manager) { m.verifyIssued = enabled }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an empty session table. A random HMAC secret is generated
// unless WithSecret is given.
func NewManager(logger watermill.LoggerAdapter, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	m := &Manager{
		sessions:     make(map[string]*entry),
		byAccount:    make(map[string]map[string]struct{}),
		ttl:          DefaultTTL,
		verifyIssued: true,
		now:          time.Now,
		logger:       logger.With(watermill.LogFields{"component": "session"}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.secret == nil {
		m.secret = make([]byte, 32)
		if _, err := rand.Read(m.secret); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
	}
	return m, nil
}

// CreateSession opens a session for account and returns its id.
func (m *Manager) CreateSession(account string) (string, error) {
	if !core.IsAccountAddress(account) {
		return "", core.ErrInvalidAccount
	}

	entropy, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("failed to generate session entropy: %w", err)
	}
	now := m.now()
	sum := sha256.Sum256([]byte(strconv.FormatInt(now.UnixNano(), 10) + entropy.String()))
	id := hex.EncodeToString(sum[:])[:sessionIDLength]

	key := core.NormalizeAccount(account)
	e := &entry{
		info: core.SessionInfo{
			SessionID:  id,
			Account:    key,
			CreatedAt:  now,
			ExpiresAt:  now.Add(m.ttl),
			UsedTokens: make(map[string]struct{}),
			IsActive:   true,
		},
		consumed: make(map[string]struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = e
	if m.byAccount[key] == nil {
		m.byAccount[key] = make(map[string]struct{})
	}
	m.byAccount[key][id] = struct{}{}

	m.logger.Debug("Session created", watermill.LogFields{"session_id": id, "account": key})
	return id, nil
}

type tokenPayload struct {
	SessionID string         `json:"sessionId"`
	Timestamp int64          `json:"timestamp"`
	Random    string         `json:"random"`
	Context   map[string]any `json:"context,omitempty"`
}

// GenerateOneTimeToken issues a token bound to an active session. Calling it
// for a missing or inactive session is a programming error and returns one of
// core.ErrSessionNotFound or core.ErrSessionInactive.
func (m *Manager) GenerateOneTimeToken(sessionID string, tokenContext map[string]any) (string, error) {
	e, ok := m.lookup(sessionID)
	if !ok {
		return "", core.ErrSessionNotFound
	}

	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return "", fmt.Errorf("failed to generate token randomness: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.info.IsActive {
		return "", core.ErrSessionInactive
	}

	payload, err := json.Marshal(tokenPayload{
		SessionID: sessionID,
		Timestamp: m.now().UnixMilli(),
		Random:    hex.EncodeToString(random),
		Context:   tokenContext,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode token payload: %w", err)
	}

	mac := hmac.New(sha256.New, m.secret)
	mac.Write(payload)
	token := hex.EncodeToString(mac.Sum(nil))

	e.info.UsedTokens[token] = struct{}{}
	return token, nil
}

// CheckSession verifies that sessionID exists, belongs to account, is active
// and has not expired. An expired session is deactivated.
func (m *Manager) CheckSession(sessionID, account string) core.ValidationResult {
	return m.validate(sessionID, account, nil)
}

// ValidateToken runs CheckSession and then checks the token itself.
func (m *Manager) ValidateToken(token, sessionID, account string) core.ValidationResult {
	return m.validate(sessionID, account, &token)
}

func (m *Manager) validate(sessionID, account string, token *string) core.ValidationResult {
	e, ok := m.lookup(sessionID)
	if !ok {
		return core.Invalid(core.CodeSessionNotFound,
			"Session not found",
			"Start a new session and try again")
	}

	e.mu.Lock()
	res, expired := m.validateLocked(e, account, token)
	owner := e.info.Account
	e.mu.Unlock()

	if expired {
		m.unindex(owner, sessionID)
	}
	return res
}

func (m *Manager) validateLocked(e *entry, account string, token *string) (core.ValidationResult, bool) {
	if e.info.Account != core.NormalizeAccount(account) {
		return core.Invalid(core.CodeSessionMismatch,
			"Session does not belong to this account",
			"Reconnect your wallet to start a new session"), false
	}
	if !e.info.IsActive {
		return core.Invalid(core.CodeSessionInactive,
			"Session is no longer active",
			"Start a new session and try again"), false
	}
	if m.now().After(e.info.ExpiresAt) {
		e.info.IsActive = false
		return core.Invalid(core.CodeSessionExpired,
			"Session has expired",
			"Start a new session and try again"), true
	}
	if token == nil {
		return core.Valid(), false
	}

	if !isTokenFormat(*token) {
		return core.Invalid(core.CodeInvalidTokenFormat,
			"Security token has an invalid format",
			"Request a new security token"), false
	}
	if !m.verifyIssued {
		return core.Valid(), false
	}
	if _, used := e.consumed[*token]; used {
		return core.Invalid(core.CodeTokenAlreadyUsed,
			"Security token has already been used",
			"Request a new security token"), false
	}
	if _, issued := e.info.UsedTokens[*token]; !issued {
		return core.Invalid(core.CodeTokenNotIssued,
			"Security token was not issued for this session",
			"Request a new security token"), false
	}
	e.consumed[*token] = struct{}{}
	return core.Valid(), false
}

func isTokenFormat(token string) bool {
	if len(token) != tokenHexLength {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

// DeactivateSession marks the session inactive and drops it from the account
// index. It reports whether the session existed.
func (m *Manager) DeactivateSession(sessionID string) bool {
	e, ok := m.lookup(sessionID)
	if !ok {
		return false
	}

	e.mu.Lock()
	e.info.IsActive = false
	owner := e.info.Account
	e.mu.Unlock()

	m.unindex(owner, sessionID)
	return true
}

// DeactivateAccountSessions deactivates every indexed session of account.
func (m *Manager) DeactivateAccountSessions(account string) int {
	key := core.NormalizeAccount(account)

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byAccount[key]
	for id := range ids {
		if e, ok := m.sessions[id]; ok {
			e.mu.Lock()
			e.info.IsActive = false
			e.mu.Unlock()
		}
	}
	delete(m.byAccount, key)
	return len(ids)
}

// CleanupExpiredSessions deletes sessions that expired before now.
func (m *Manager) CleanupExpiredSessions(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.sessions {
		e.mu.Lock()
		expired := now.After(e.info.ExpiresAt)
		if expired {
			e.info.IsActive = false
		}
		owner := e.info.Account
		e.mu.Unlock()
		if !expired {
			continue
		}

		delete(m.sessions, id)
		m.unindexLocked(owner, id)
		removed++
		m.logger.Info("Removed expired session", watermill.LogFields{"session_id": id, "account": owner})
	}
	return removed
}

// Session returns a copy of the session state.
func (m *Manager) Session(sessionID string) (core.SessionInfo, bool) {
	e, ok := m.lookup(sessionID)
	if !ok {
		return core.SessionInfo{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	info := e.info
	info.UsedTokens = make(map[string]struct{}, len(e.info.UsedTokens))
	for t := range e.info.UsedTokens {
		info.UsedTokens[t] = struct{}{}
	}
	return info, true
}

// ActiveSessions lists the indexed session ids of account.
func (m *Manager) ActiveSessions(account string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.byAccount[core.NormalizeAccount(account)]))
	for id := range m.byAccount[core.NormalizeAccount(account)] {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) lookup(sessionID string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[sessionID]
	return e, ok
}

func (m *Manager) unindex(account, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unindexLocked(account, sessionID)
}

func (m *Manager) unindexLocked(account, sessionID string) {
	ids, ok := m.byAccount[account]
	if !ok {
		return
	}
	delete(ids, sessionID)
	if len(ids) == 0 {
		delete(m.byAccount, account)
	}
}
