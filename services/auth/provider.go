package auth

import (
	"go.uber.org/fx"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/deviceflow"
	"github.com/Daveeeu/skyrox-core/services/identity"
	"github.com/Daveeeu/skyrox-core/services/idp"
	"github.com/Daveeeu/skyrox-core/services/idtoken"
	"github.com/Daveeeu/skyrox-core/services/logging"
	"github.com/Daveeeu/skyrox-core/services/permcache"
	"github.com/Daveeeu/skyrox-core/services/sessionreg"
	"github.com/Daveeeu/skyrox-core/services/token"
)

func ProvideService(
	flow *deviceflow.Service,
	idpClient idp.Client,
	identitySvc *identity.Service,
	sessions *sessionreg.Service,
	tokens *token.Service,
	idtokens *idtoken.Service,
	cache *permcache.Service,
	cfg *config.Config,
	logger *logging.Service,
) *Service {
	return NewService(flow, idpClient, identitySvc, sessions, tokens, idtokens, cache, cfg, logger)
}

var Options = fx.Options(
	fx.Provide(ProvideService),
)
