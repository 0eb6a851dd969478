package logging

import (
	"go.uber.org/fx"

	"github.com/Daveeeu/skyrox-core/config"
)

func ProvideLoggingService(cfg *config.Config) (*Service, error) {
	return NewService(cfg.Log)
}

var Options = fx.Options(
	fx.Provide(ProvideLoggingService),
)
