package distlock

import (
	"context"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/crmjobs/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("distlock",
	fx.Provide(NewFromConfig),
)

// NewFromConfig returns nil when REDIS_ADDR is empty, which leaves overlapping runs
// unguarded.
func NewFromConfig(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *Locker {
	addr := strings.TrimSpace(cfg.Redis.Addr)
	if addr == "" {
		log.Info("REDIS_ADDR is empty, scheduler overlap guard disabled")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.Redis.Password),
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewLocker(client)
}
