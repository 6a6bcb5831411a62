package ports

import (
	"context"
	"time"
)

// ReplayLedger records transaction hashes that have passed validation so that
// a replay is caught even when it arrives with a fresh nonce or on another
// instance sharing the same backend.
type ReplayLedger interface {
	// Seen reports whether hash has been recorded and not yet expired.
	Seen(ctx context.Context, hash string) (bool, error)
	// MarkSeen records hash for ttl. It returns false if hash was already recorded.
	MarkSeen(ctx context.Context, hash string, ttl time.Duration) (bool, error)
}
