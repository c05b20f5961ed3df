package credit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// BalanceCache keeps the per-user balance aggregate in Redis for the list
// path. The client may be nil (Redis is optional); every method then
// behaves as a miss.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(userID uuid.UUID) string {
	return "credit:balance:" + userID.String()
}

func (c *BalanceCache) Get(ctx context.Context, userID uuid.UUID) *UserCreditBalance {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := c.client.Get(ctx, balanceKey(userID)).Bytes()
	if err != nil {
		return nil
	}
	var b UserCreditBalance
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil
	}
	return &b
}

func (c *BalanceCache) Set(ctx context.Context, b *UserCreditBalance) {
	if c == nil || c.client == nil || b == nil {
		return
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, balanceKey(b.UserID), raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", b.UserID.String()).Msg("balance cache set failed")
	}
}

func (c *BalanceCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, balanceKey(userID)).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("balance cache invalidate failed")
	}
}
