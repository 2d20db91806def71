package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"BreatheSafe"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	JWTSecret      string        `env:"JWT_SECRET"`
	AutoMigrate    bool          `env:"AUTO_MIGRATE" envDefault:"false"`
	PINBcryptCost  int           `env:"PIN_BCRYPT_COST" envDefault:"10"`
	SenderLockTTL  time.Duration `env:"SMS_SENDER_LOCK_TTL" envDefault:"10s"`
	Twilio         Twilio        `envPrefix:"TWILIO_"`
}

// Twilio configures the SMS provider. Outbound sends go through the logger
// sender unless AccountSID and AuthToken are both set.
type Twilio struct {
	AccountSID  string        `env:"ACCOUNT_SID"`
	AuthToken   string        `env:"AUTH_TOKEN"`
	PhoneNumber string        `env:"PHONE_NUMBER"`
	APIBaseURL  string        `env:"API_BASE_URL" envDefault:"https://api.twilio.com"`
	WebhookURL  string        `env:"WEBHOOK_URL"`
	SendTimeout time.Duration `env:"SEND_TIMEOUT" envDefault:"5s"`
}

// Enabled reports whether outbound sends should use the Twilio API.
func (t Twilio) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != ""
}

// VerifySignatures reports whether inbound webhooks must carry a valid signature.
func (t Twilio) VerifySignatures() bool {
	return t.AuthToken != "" && t.WebhookURL != ""
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if !c.IsDev() {
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set"))
		}
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL must be set"))
		}
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET must be set"))
		}
		if !c.Twilio.VerifySignatures() {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN and TWILIO_WEBHOOK_URL must be set to verify SMS webhook signatures"))
		}
	}
	if c.Twilio.Enabled() && c.Twilio.PhoneNumber == "" {
		errs = append(errs, errors.New("TWILIO_PHONE_NUMBER must be set when Twilio credentials are configured"))
	}
	if c.ShutdownPeriod <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT must be positive"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL must be positive"))
	}
	return errors.Join(errs...)
}

// IsDev reports whether the service runs in development mode, where missing
// Postgres, Redis and JWT settings fall back to in-process substitutes.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "development", "dev", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
