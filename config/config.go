package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App        AppConfig        `envPrefix:"APP_"`
	Server     ServerConfig     `envPrefix:"SERVER_"`
	Log        LogConfig        `envPrefix:"LOG_"`
	Database   DatabaseConfig   `envPrefix:"DATABASE_"`
	Redis      RedisConfig      `envPrefix:"REDIS_"`
	IdP        IdPConfig        `envPrefix:"IDP_"`
	DeviceFlow DeviceFlowConfig `envPrefix:"DEVICE_FLOW_"`
	Tokens     TokensConfig     `envPrefix:"TOKENS_"`
	Sessions   SessionsConfig   `envPrefix:"SESSIONS_"`
	PermCache  PermCacheConfig  `envPrefix:"PERM_CACHE_"`
}

type AppConfig struct {
	Name string `env:"NAME" envDefault:"skyrox-core"`
	URL  string `env:"URL" envDefault:"http://localhost:8080"`
}

type ServerConfig struct {
	Port string `env:"PORT" envDefault:"8080"`
	Host string `env:"HOST" envDefault:"localhost"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	Output string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"skyrox.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type RedisConfig struct {
	Addr      string        `env:"ADDR" envDefault:"localhost:6379"`
	Password  string        `env:"PASSWORD" envDefault:""`
	DB        int           `env:"DB" envDefault:"0"`
	KeyPrefix string        `env:"KEY_PREFIX" envDefault:"skyrox:player:"`
	Timeout   time.Duration `env:"TIMEOUT" envDefault:"3s"`
}

// IdPConfig points at the external identity provider's RFC 8628 endpoints.
type IdPConfig struct {
	ClientID      string        `env:"CLIENT_ID" envDefault:""`
	DeviceAuthURL string        `env:"DEVICE_AUTH_URL" envDefault:""`
	TokenURL      string        `env:"TOKEN_URL" envDefault:""`
	ProfileURL    string        `env:"PROFILE_URL" envDefault:""`
	Scope         string        `env:"SCOPE" envDefault:"openid offline"`
	Timeout       time.Duration `env:"TIMEOUT" envDefault:"30s"`
}

type DeviceFlowConfig struct {
	GrantTTL time.Duration `env:"GRANT_TTL" envDefault:"15m"`
}

type TokensConfig struct {
	SecretLength    int           `env:"SECRET_LENGTH" envDefault:"32"`
	EncryptionKey   string        `env:"ENCRYPTION_KEY" envDefault:""`
	AccessExpiry    time.Duration `env:"ACCESS_EXPIRY" envDefault:"1h"`
	RefreshExpiry   time.Duration `env:"REFRESH_EXPIRY" envDefault:"720h"`
	RotateRefresh   bool          `env:"ROTATE_REFRESH" envDefault:"true"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	RevokedRetained time.Duration `env:"REVOKED_RETAINED" envDefault:"720h"`
}

type SessionsConfig struct {
	MaxPerOwner   int           `env:"MAX_PER_OWNER" envDefault:"100"`
	Expiry        time.Duration `env:"EXPIRY" envDefault:"24h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

type PermCacheConfig struct {
	TTL time.Duration `env:"TTL" envDefault:"1h"`
}

func LoadConfig(cfg any) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	if err := env.Parse(cfg); err != nil {
		return err
	}

	if c, ok := cfg.(*Config); ok {
		if err := validateTokensConfig(&c.Tokens); err != nil {
			return err
		}
		if err := validateSessionsConfig(&c.Sessions); err != nil {
			return err
		}
	}

	return nil
}

func validateTokensConfig(cfg *TokensConfig) error {
	if cfg.SecretLength < 32 {
		return fmt.Errorf("token secret length must be at least 32 bytes, got %d", cfg.SecretLength)
	}
	if cfg.SecretLength > 128 {
		return fmt.Errorf("token secret length cannot exceed 128 bytes, got %d", cfg.SecretLength)
	}
	if cfg.EncryptionKey != "" && len(cfg.EncryptionKey) != 32 {
		return fmt.Errorf("token encryption key must be exactly 32 bytes, got %d", len(cfg.EncryptionKey))
	}
	return nil
}

func validateSessionsConfig(cfg *SessionsConfig) error {
	if cfg.MaxPerOwner < 1 {
		return fmt.Errorf("max sessions per owner must be at least 1, got %d", cfg.MaxPerOwner)
	}
	return nil
}
