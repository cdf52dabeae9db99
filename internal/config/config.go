// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all tunables for the checkout engine.
type Config struct {
	// Port is the HTTP listen port.
	Port string `env:"PORT" envDefault:"8080"`

	// DatabaseURL enables the PostgreSQL store when set; otherwise the
	// in-memory store is used and nothing persists.
	DatabaseURL string `env:"DATABASE_URL"`

	// RedisURL enables the read-through cache when set.
	RedisURL string `env:"REDIS_URL"`

	// CacheTTL bounds staleness of cached reads.
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"30s"`

	// GatewayURL is the base URL of the external payment gateway.
	GatewayURL string `env:"GATEWAY_URL"`

	// SweepInterval is how often the reconciliation sweep runs.
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`

	// PaymentTimeout is how long a gateway order may sit awaiting its
	// webhook before the sweep queries the gateway directly.
	PaymentTimeout time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"15m"`

	// AbandonAfter is the age past which an unresolved gateway order is
	// marked abandoned.
	AbandonAfter time.Duration `env:"ABANDON_AFTER" envDefault:"24h"`

	// LoyaltyRate is the order-total amount worth one loyalty point.
	LoyaltyRate int64 `env:"LOYALTY_RATE" envDefault:"10"`
}

// Load parses the configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
