package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/txguard/core"
	"github.com/layer-3/txguard/ports"
)

// RedisLedger is a Redis implementation of the ReplayLedger interface. It lets
// several validator instances share one view of processed transactions.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLedger creates a new Redis ledger
func NewRedisLedger(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{
		client: client,
		prefix: "txguard:seen:",
	}
}

var _ ports.ReplayLedger = (*RedisLedger)(nil)

// Seen checks if a hash is recorded in Redis
func (l *RedisLedger) Seen(ctx context.Context, hash string) (bool, error) {
	n, err := l.client.Exists(ctx, l.prefix+hash).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check transaction hash: %w: %w", core.ErrLedgerUnavailable, err)
	}
	return n > 0, nil
}

// MarkSeen records a hash with expiration; SETNX keeps concurrent writers from
// both succeeding
func (l *RedisLedger) MarkSeen(ctx context.Context, hash string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+hash, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record transaction hash: %w: %w", core.ErrLedgerUnavailable, err)
	}
	return ok, nil
}
