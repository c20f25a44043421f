package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every knob the service reads from the environment.
type Config struct {
	Addr        string `env:"CARELOOP_ADDR" envDefault:":8080"`
	DatabaseDSN string `env:"CARELOOP_PG_DSN"`

	// Identity provider. Domain is used both for the introspection call
	// and as the expected issuer on decoded tokens.
	ProviderDomain  string        `env:"CARELOOP_IDP_DOMAIN" envDefault:"https://auth.careloop.org"`
	ProviderTimeout time.Duration `env:"CARELOOP_IDP_TIMEOUT" envDefault:"5s"`

	// Links embedded in outbound mail.
	ConsentBaseURL string `env:"CARELOOP_CONSENT_BASE_URL" envDefault:"https://careloop.org/consent"`
	OptOutBaseURL  string `env:"CARELOOP_OPTOUT_BASE_URL" envDefault:"https://careloop.org/opt-out"`

	// Outbound mail transport. An empty host switches the dispatcher to
	// log-only mode, which is what local development wants.
	SMTPHost     string        `env:"CARELOOP_SMTP_HOST"`
	SMTPPort     int           `env:"CARELOOP_SMTP_PORT" envDefault:"587"`
	SMTPFrom     string        `env:"CARELOOP_SMTP_FROM" envDefault:"no-reply@careloop.org"`
	SMTPUsername string        `env:"CARELOOP_SMTP_USERNAME"`
	SMTPPassword string        `env:"CARELOOP_SMTP_PASSWORD"`
	SMTPTimeout  time.Duration `env:"CARELOOP_SMTP_TIMEOUT" envDefault:"10s"`

	// Cross-origin allow-list. Preflight is answered only for these.
	AllowedOrigins []string `env:"CARELOOP_ALLOWED_ORIGINS" envSeparator:","`

	// Circle cardinality cap: pending invitations plus active
	// relationships per owner.
	CircleCap int `env:"CARELOOP_CIRCLE_CAP" envDefault:"5"`

	// Per-IP token bucket applied to the public (unauthenticated)
	// endpoints.
	PublicRateBurst     int `env:"CARELOOP_PUBLIC_RATE_BURST" envDefault:"10"`
	PublicRatePerSecond int `env:"CARELOOP_PUBLIC_RATE_PER_SECOND" envDefault:"5"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
