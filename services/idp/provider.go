package idp

import (
	"go.uber.org/fx"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/logging"
)

func ProvideIdPClient(cfg *config.Config, logger *logging.Service) Client {
	return NewHTTPClient(cfg.IdP, nil, logger)
}

var Options = fx.Options(
	fx.Provide(ProvideIdPClient),
)
