package config

import (
	"errors"
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Host              string        `env:"HOST,default=0.0.0.0"`
	Port              int           `env:"PORT,default=8080" validate:"min=1,max=65535"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH"`
	JWTSecret         string        `env:"JWT_SECRET,required=true" validate:"min=16"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h" validate:"gt=0"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE,default=256" validate:"min=1"`
	MaxMessageSize    int           `env:"MAX_MESSAGE_SIZE,default=4096" validate:"min=64"`
	RequireMembership bool          `env:"REQUIRE_PROJECT_MEMBERSHIP,default=false"`
	AllowDevTokens    bool          `env:"ALLOW_DEV_TOKENS,default=false"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var validate = validator.New()

// ErrDevTokensWithMembership rejects a setup where anyone could mint a token
// for a project member and pass the membership check.
var ErrDevTokensWithMembership = errors.New("ALLOW_DEV_TOKENS cannot be combined with REQUIRE_PROJECT_MEMBERSHIP")

// Load reads an optional .env file, then the environment. The returned bool
// reports whether a .env file was found.
func Load(files ...string) (Config, bool, error) {
	found := godotenv.Load(files...) == nil

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, found, fmt.Errorf("config error: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, found, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.AllowDevTokens && cfg.RequireMembership {
		return Config{}, found, ErrDevTokensWithMembership
	}
	return cfg, found, nil
}
