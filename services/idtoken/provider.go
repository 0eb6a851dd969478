package idtoken

import (
	"go.uber.org/fx"

	"github.com/Daveeeu/skyrox-core/services/logging"
)

func ProvideService(logger *logging.Service) *Service {
	return NewService(nil, logger)
}

var Options = fx.Options(
	fx.Provide(ProvideService),
)
