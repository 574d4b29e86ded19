package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/salestax/internal/clock"
	"github.com/smallbiznis/salestax/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)

// NewLocker returns a redis-backed locker when REDIS_ADDR is set and an
// in-process one otherwise.
func NewLocker(lc fx.Lifecycle, cfg config.Config, c clock.Clock, log *zap.Logger) Locker {
	log = log.Named("lock")
	if !cfg.Redis.Enabled() {
		log.Info("using in-process order locks")
		return NewLocalLocker(c)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				log.Warn("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	log.Info("using redis order locks", zap.String("addr", cfg.Redis.Addr))
	return NewRedisLocker(client)
}
