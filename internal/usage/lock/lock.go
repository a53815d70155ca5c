// Package lock serializes usage reconciliation per log group and bucket.
package lock

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/meterbill/internal/config"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// KeyedLocker grants exclusive access per key. Callers must invoke the
// returned unlock exactly once.
type KeyedLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

var ErrLockTimeout = ierr.Kind(ierr.ErrConflict, "timed out waiting for usage lock")

// NewKeyedLocker picks the backend configured in billing.yml.
func NewKeyedLocker(holder *config.BillingConfigHolder, cfg config.Config, log *zap.Logger) KeyedLocker {
	usageCfg := holder.Get().Usage
	if usageCfg.LockBackend == config.LockBackendRedis && strings.TrimSpace(cfg.RedisAddr) != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     strings.TrimSpace(cfg.RedisAddr),
			Password: strings.TrimSpace(cfg.RedisPassword),
			DB:       cfg.RedisDB,
		})
		log.Info("usage locks backed by redis", zap.String("addr", cfg.RedisAddr))
		return NewRedisLocker(client, usageCfg.LockTTL, usageCfg.LockWait, log)
	}
	if usageCfg.LockBackend == config.LockBackendRedis {
		log.Warn("redis lock backend selected without REDIS_ADDR, using in-process locks")
	}
	return NewMemoryLocker()
}

var Module = fx.Module("usage.lock",
	fx.Provide(NewKeyedLocker),
)
