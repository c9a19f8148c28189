package resolutioncache

import (
	"fmt"

	"github.com/railzwaylabs/pricing/internal/config"
	"github.com/railzwaylabs/pricing/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("resolutioncache",
	fx.Provide(NewFromConfig),
)

type Params struct {
	fx.In

	Config  config.Config
	Source  *config.Source `optional:"true"`
	Log     *zap.Logger
	Metrics *metrics.Metrics
	Redis   *redis.Client `optional:"true"`
}

func NewFromConfig(p Params) (*Cache, error) {
	var store Store
	switch p.Config.Cache.Backend {
	case "memory":
		store = NewMemoryStore(p.Config.Cache.MaxEntries)
	case "redis":
		if p.Redis == nil {
			return nil, fmt.Errorf("cache backend redis requires a redis client")
		}
		store = NewRedisStore(p.Redis, p.Config.Cache.KeyPrefix)
	case "none", "":
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", p.Config.Cache.Backend)
	}

	c := New(store, p.Config.Cache.TTL, p.Log, p.Metrics)
	if p.Source != nil {
		p.Source.OnChange(func(cfg config.Config) {
			if cfg.Cache.TTL > 0 && cfg.Cache.TTL != c.TTL() {
				c.SetTTL(cfg.Cache.TTL)
				c.log.Info("cache ttl updated", zap.Duration("ttl", cfg.Cache.TTL))
			}
		})
	}
	c.log.Info("resolution cache ready",
		zap.String("backend", p.Config.Cache.Backend),
		zap.Duration("ttl", p.Config.Cache.TTL),
	)
	return c, nil
}
