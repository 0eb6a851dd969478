package deviceflow

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/idp"
	"github.com/Daveeeu/skyrox-core/services/logging"
)

func ProvideStore(client redis.UniversalClient, cfg *config.Config) Store {
	return NewRedisStore(client, cfg.Redis.KeyPrefix)
}

func ProvideDeviceFlowService(idpClient idp.Client, store Store, cfg *config.Config, logger *logging.Service) *Service {
	return NewService(idpClient, store, cfg, logger)
}

var Options = fx.Options(
	fx.Provide(ProvideStore),
	fx.Provide(ProvideDeviceFlowService),
)
