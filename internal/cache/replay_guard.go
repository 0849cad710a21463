package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard marks tickets as used so the same ticket cannot produce two
// attempts before it expires. The marker lives only until the ticket's own
// deadline, so the store stays small without any sweeper.
type ReplayGuard struct {
	client *redis.Client
}

func NewReplayGuard(client *redis.Client) *ReplayGuard {
	return &ReplayGuard{client: client}
}

// MarkUsed records the ticket signature and reports whether this was its
// first use. ttl should be the remaining time to the ticket's expiry.
func (g *ReplayGuard) MarkUsed(ctx context.Context, signature string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = time.Second
	}
	return g.client.SetNX(ctx, "ticket:used:"+signature, 1, ttl).Result()
}

// Release removes the marker so a submission that failed to persist can be
// retried with the same ticket.
func (g *ReplayGuard) Release(ctx context.Context, signature string) error {
	return g.client.Del(ctx, "ticket:used:"+signature).Err()
}
