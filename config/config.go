// Package config loads server settings from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env   string `env:"APP_ENV" env-default:"local" validate:"oneof=local dev prod"`
	HTTP  HTTP
	DB    DB
	Auth  Auth
	Audit AuditRetry
}

type HTTP struct {
	Port            int           `env:"HTTP_PORT" env-default:"8080" validate:"min=1,max=65535"`
	AllowedOrigins  string        `env:"CORS_ALLOWED_ORIGINS" env-default:"http://localhost:5173"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"30s"`
}

type DB struct {
	Driver     string `env:"DB_DRIVER" env-default:"sqlite" validate:"oneof=sqlite postgres memory"`
	SQLitePath string `env:"SQLITE_PATH" env-default:"payouts.db"`
	URL        string `env:"DB_URL" validate:"required_if=Driver postgres"`
}

type Auth struct {
	JWTSecret           string `env:"JWT_SECRET" env-required:"true"`
	PaymentMethodSecret string `env:"PAYMENT_METHOD_SECRET" env-required:"true" validate:"min=32"`
}

type AuditRetry struct {
	Attempts uint          `env:"AUDIT_RETRY_ATTEMPTS" env-default:"3" validate:"min=1"`
	Delay    time.Duration `env:"AUDIT_RETRY_DELAY" env-default:"50ms"`
}

// Origins splits CORS_ALLOWED_ORIGINS.
func (h HTTP) Origins() []string {
	var out []string
	for _, o := range strings.Split(h.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Load reads .env (if any) and the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env", slog.Any("error", err))
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// MustLoad is Load for main: it exits on error.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	return cfg
}
