package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 基于 SETNX 的一次性占位；同一个 key 在 ttl 内只能被占到一次
type Deduper struct {
	rdb    redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb redis.Cmdable, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce returns true if this is the FIRST claim of key within the ttl
// and false if it's a duplicate.
func (d *Deduper) AcquireOnce(ctx context.Context, key string) bool {
	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis 挂了？当 redis 不可用时，不阻止处理，返回 true
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated claim", zap.String("dedup_key", key))
	}
	return ok
}

// Release 释放占位，允许同一个 key 再次被占到
func (d *Deduper) Release(ctx context.Context, key string) {
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		d.logger.Warn("Redis dedup release failed",
			zap.String("dedup_key", key),
			zap.Error(err),
		)
	}
}
