package data

import (
	"context"
	"sync"
	"time"

	"pos-ledger/internal/biz"
	"pos-ledger/internal/conf"
	"pos-ledger/internal/constants"
	ledgerErrors "pos-ledger/internal/errors"
	"pos-ledger/internal/metrics"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// NewLocker 创建订单锁：配置了 Redis 时使用 redsync 分布式锁，否则退化为进程内按 key 的互斥锁
func NewLocker(c *conf.Bootstrap, rs *redsync.Redsync, logger log.Logger) biz.Locker {
	expiry := 10 * time.Second
	if c.Ledger != nil {
		expiry = cacheTTL(c.Ledger.LockExpiry, expiry)
	}
	if rs == nil {
		return newLocalLocker(logger)
	}
	return &redsyncLocker{
		sync:    rs,
		expiry:  expiry,
		log:     log.NewHelper(logger),
		metrics: metrics.GetMetrics(),
	}
}

type redsyncLocker struct {
	sync    *redsync.Redsync
	expiry  time.Duration
	log     *log.Helper
	metrics *metrics.LedgerMetrics
}

// Lock 获取分布式锁
func (l *redsyncLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockStartTime := time.Now()
	mutex := l.sync.NewMutex(key, redsync.WithExpiry(l.expiry))
	if err := mutex.LockContext(ctx); err != nil {
		l.log.Errorf("Failed to acquire lock %s: %v", key, err)
		l.observe(constants.ResultFailed, lockStartTime)
		return nil, ledgerErrors.ErrLockFailed
	}
	l.observe(constants.ResultSuccess, lockStartTime)

	return func() {
		if ok, err := mutex.Unlock(); !ok || err != nil {
			l.log.Warnf("Failed to unlock %s: %v", key, err)
		}
	}, nil
}

func (l *redsyncLocker) observe(result string, start time.Time) {
	if l.metrics == nil {
		return
	}
	l.metrics.LockAcquireTotal.WithLabelValues(result).Inc()
	l.metrics.LockAcquireDuration.Observe(time.Since(start).Seconds())
}

// localLocker 进程内订单锁，单实例部署使用
type localLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
	log   *log.Helper
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newLocalLocker(logger log.Logger) *localLocker {
	return &localLocker{
		locks: make(map[string]*keyLock),
		log:   log.NewHelper(logger),
	}
}

// Lock 获取进程内锁，ctx 取消时放弃等待
func (l *localLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
		return func() {
			<-kl.ch
			l.release(key, kl)
		}, nil
	case <-ctx.Done():
		l.release(key, kl)
		l.log.Warnf("Failed to acquire local lock %s: %v", key, ctx.Err())
		return nil, ledgerErrors.ErrLockFailed
	}
}

func (l *localLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
