package redis

import (
	"reminder-service/pkg/config"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient 创建 Redis 客户端，Addr 为空时返回 nil
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
