package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tidepay/internal/models"
)

// BalanceCache is a redis read cache in front of balance rows. Failures are
// logged and treated as misses; redis being down degrades to database reads.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.SugaredLogger
}

// NewBalanceCache wraps a redis client.
func NewBalanceCache(client *redis.Client, ttl time.Duration, log *zap.SugaredLogger) *BalanceCache {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BalanceCache{client: client, ttl: ttl, log: log}
}

func balanceKey(accountID uint, currency string) string {
	return fmt.Sprintf("balance:%d:%s", accountID, currency)
}

func (c *BalanceCache) GetBalance(ctx context.Context, accountID uint, currency string) (*models.Balance, bool) {
	data, err := c.client.Get(ctx, balanceKey(accountID, currency)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warnw("balance cache read failed", "account_id", accountID, "err", err)
		}
		return nil, false
	}
	var balance models.Balance
	if err := json.Unmarshal(data, &balance); err != nil {
		c.log.Warnw("balance cache decode failed", "account_id", accountID, "err", err)
		return nil, false
	}
	return &balance, true
}

func (c *BalanceCache) SetBalance(ctx context.Context, balance *models.Balance) {
	data, err := json.Marshal(balance)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, balanceKey(balance.AccountID, balance.Currency), data, c.ttl).Err(); err != nil {
		c.log.Warnw("balance cache write failed", "account_id", balance.AccountID, "err", err)
	}
}

func (c *BalanceCache) InvalidateBalance(ctx context.Context, accountID uint, currency string) {
	if err := c.client.Del(ctx, balanceKey(accountID, currency)).Err(); err != nil {
		c.log.Warnw("balance cache invalidate failed", "account_id", accountID, "err", err)
	}
}
