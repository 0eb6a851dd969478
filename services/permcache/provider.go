package permcache

import (
	"gorm.io/gorm"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/logging"
)

func ProvideSource(db *gorm.DB) Source {
	return NewGormSource(db)
}

func ProvideService(client redis.UniversalClient, source Source, pres Presence, cfg *config.Config, logger *logging.Service) *Service {
	return NewService(client, source, pres, cfg, logger)
}

var Options = fx.Options(
	fx.Provide(ProvideSource),
	fx.Provide(ProvideService),
)
