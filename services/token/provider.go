package token

import (
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/logging"
)

func ProvideTokenService(db *gorm.DB, cfg *config.Config, logger *logging.Service) (*Service, error) {
	var enc Encryptor
	var err error

	if cfg.Tokens.EncryptionKey != "" {
		enc, err = NewEncryptor([]byte(cfg.Tokens.EncryptionKey))
	} else {
		logger.Warn("no token encryption key configured, stored ciphertexts will not survive restarts")
		enc, err = NewEphemeralEncryptor()
	}
	if err != nil {
		return nil, err
	}

	service := NewService(db, cfg, enc, logger)

	if cfg.Tokens.SweepInterval > 0 {
		service.StartSweepWorker()
	}

	return service, nil
}

var Options = fx.Options(
	fx.Provide(ProvideTokenService),
)
