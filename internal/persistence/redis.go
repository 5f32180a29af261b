package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/globetrotter/auth-service/internal/config"
)

const defaultDialTimeout = 5 * time.Second

// ErrRedisDisabled is reported by Ping when no address was configured.
var ErrRedisDisabled = errors.New("redis client not configured")

// Redis holds the client backing the credential denylist.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds the denylist client. Without an address the wrapper is
// empty and Ping reports ErrRedisDisabled. An unreachable server is logged
// but not fatal; readiness reports it.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Info("REDIS_ADDR not provided; credential revocation unavailable")
		return &Redis{}
	}

	client := redis.NewClient(redisOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), dialBudget(cfg))
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Duration("op_timeout", cfg.OpTimeout))
	}
	return &Redis{Client: client}
}

// redisOptions keeps denylist lookups from stalling requests: a slow Redis
// fails the lookup quickly instead.
func redisOptions(cfg config.RedisConfig) *redis.Options {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.OpTimeout > 0 {
		opts.DialTimeout = dialBudget(cfg)
		opts.ReadTimeout = cfg.OpTimeout
		opts.WriteTimeout = cfg.OpTimeout
		opts.PoolTimeout = cfg.OpTimeout
	}
	return opts
}

func dialBudget(cfg config.RedisConfig) time.Duration {
	if cfg.OpTimeout <= 0 {
		return defaultDialTimeout
	}
	return 4 * cfg.OpTimeout
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return ErrRedisDisabled
	}
	return r.Client.Ping(ctx).Err()
}
