package identity

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/Daveeeu/skyrox-core/services/logging"
)

func ProvideIdentityService(db *gorm.DB, logger *logging.Service) *Service {
	return NewService(db, logger)
}

var Options = fx.Options(
	fx.Provide(ProvideIdentityService),
)
