// Package txguard is an off-chain guard that rejects replayed, stale and
// rate-abusive blockchain transactions before they are submitted.
//
// All state is process local: restarting the process forgets issued nonces and
// sessions. Deployments running several instances must route an account to a
// single instance, or share the replay ledger through Redis.
package txguard

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/holiman/uint256"

	"github.com/layer-3/txguard/adapters/ledger"
	"github.com/layer-3/txguard/core"
	"github.com/layer-3/txguard/expiry"
	"github.com/layer-3/txguard/nonce"
	"github.com/layer-3/txguard/service"
	"github.com/layer-3/txguard/session"
)

// Client represents the public interface for validating transactions
type Client interface {
	// CreateSession opens a session for account and returns its id
	CreateSession(account string) (string, error)

	// GetNextNonce issues the next single-use nonce for account
	GetNextNonce(account string) (*uint256.Int, error)

	// GenerateOneTimeToken issues a token bound to a live session
	GenerateOneTimeToken(sessionID string, tokenContext map[string]any) (string, error)

	// ValidateTransaction runs every check and returns the first failure
	ValidateTransaction(ctx context.Context, md core.TransactionMetadata, oneTimeToken string) core.ValidationResult

	// Cleanup evicts stale state
	Cleanup()

	// Close stops background cleanup
	Close() error
}

var _ Client = (*service.Validator)(nil)

// New builds a validator with default policy and an in-memory replay ledger.
// Call Start on the result to enable periodic cleanup.
func New(logger watermill.LoggerAdapter) (*service.Validator, error) {
	sessions, err := session.NewManager(logger)
	if err != nil {
		return nil, err
	}
	return service.NewValidator(
		service.DefaultConfig(),
		nonce.NewManager(logger),
		sessions,
		expiry.NewValidator(expiry.DefaultWindow, expiry.DefaultClockSkew, expiry.DefaultWarnThreshold),
		logger,
		service.WithReplayLedger(ledger.NewMemoryLedger()),
	), nil
}
