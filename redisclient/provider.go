package redisclient

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/Daveeeu/skyrox-core/config"
)

func ProvideRedisClient(cfg *config.Config) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.Timeout,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})
}

var Options = fx.Options(
	fx.Provide(ProvideRedisClient),
)
