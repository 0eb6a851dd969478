package sessionreg

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/logging"
)

func ProvideSessionRegistry(db *gorm.DB, cfg *config.Config, logger *logging.Service) *Service {
	service := NewService(db, cfg, logger)

	if cfg.Sessions.SweepInterval > 0 {
		service.StartSweepWorker()
	}

	return service
}

var Options = fx.Options(
	fx.Provide(ProvideSessionRegistry),
)
