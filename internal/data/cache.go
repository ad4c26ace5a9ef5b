package data

import (
	"context"
	"time"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/conf"
	"pos-ledger/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redis/redis/v8"
)

// NewLedgerCache 创建支付状态缓存；未配置 Redis 时不缓存，已处理事件的去重完全依赖数据库状态机
func NewLedgerCache(c *conf.Bootstrap, d *Data, logger log.Logger) biz.LedgerCache {
	if d.rdb == nil {
		return noopCache{}
	}
	cache := &ledgerCache{
		rdb:       d.rdb,
		statusTTL: 10 * time.Minute,
		dedupeTTL: 24 * time.Hour,
		log:       log.NewHelper(logger),
	}
	if c.Ledger != nil {
		cache.statusTTL = cacheTTL(c.Ledger.StatusCacheTtl, cache.statusTTL)
		cache.dedupeTTL = cacheTTL(c.Ledger.EventDedupeTtl, cache.dedupeTTL)
	}
	return cache
}

type ledgerCache struct {
	rdb       *redis.Client
	statusTTL time.Duration
	dedupeTTL time.Duration
	log       *log.Helper
}

// SetPaymentStatus 缓存订单支付状态，失败不影响主流程
func (c *ledgerCache) SetPaymentStatus(ctx context.Context, orderID string, status biz.PaymentStatus) {
	key := constants.RedisKeyPaymentStatus + orderID
	if err := c.rdb.Set(ctx, key, string(status), c.statusTTL).Err(); err != nil {
		c.log.Warnf("Failed to cache payment status for order %s: %v", orderID, err)
	}
}

// GetPaymentStatus 读取缓存的支付状态
func (c *ledgerCache) GetPaymentStatus(ctx context.Context, orderID string) (biz.PaymentStatus, bool) {
	status, err := c.rdb.Get(ctx, constants.RedisKeyPaymentStatus+orderID).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warnf("Failed to read payment status cache for order %s: %v", orderID, err)
		}
		return "", false
	}
	return biz.PaymentStatus(status), true
}

// MarkEventProcessed 记录已处理的事件 id
func (c *ledgerCache) MarkEventProcessed(ctx context.Context, eventID string) {
	if err := c.rdb.Set(ctx, constants.RedisKeyProcessedEvent+eventID, 1, c.dedupeTTL).Err(); err != nil {
		c.log.Warnf("Failed to mark event %s processed: %v", eventID, err)
	}
}

// IsEventProcessed 事件是否已处理过；读取失败时按未处理对待，由状态机保证幂等
func (c *ledgerCache) IsEventProcessed(ctx context.Context, eventID string) bool {
	n, err := c.rdb.Exists(ctx, constants.RedisKeyProcessedEvent+eventID).Result()
	if err != nil {
		c.log.Warnf("Failed to check event %s: %v", eventID, err)
		return false
	}
	return n > 0
}

type noopCache struct{}

func (noopCache) SetPaymentStatus(context.Context, string, biz.PaymentStatus) {}

func (noopCache) GetPaymentStatus(context.Context, string) (biz.PaymentStatus, bool) {
	return "", false
}

func (noopCache) MarkEventProcessed(context.Context, string) {}

func (noopCache) IsEventProcessed(context.Context, string) bool { return false }
