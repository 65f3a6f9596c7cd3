// Package config contains the configuration of the reconciliation service.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config contains the service configuration parameters.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	PaymentAPIAddress  string `env:"PAYMENT_API_ADDRESS"`
	CommerceAPIAddress string `env:"COMMERCE_API_ADDRESS"`
	SessionSecret      string `env:"SESSION_SECRET"`
}

// Parse reads the configuration from command line flags and environment
// variables. Environment variables win.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPaymentAddress := cfg.PaymentAPIAddress
	envCommerceAddress := cfg.CommerceAPIAddress
	envSessionSecret := cfg.SessionSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentAPIAddress, "p", "", "payment provider API address")
	flag.StringVar(&cfg.CommerceAPIAddress, "c", "", "commerce backend API address")
	flag.StringVar(&cfg.SessionSecret, "s", "", "session cookie signing secret")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPaymentAddress != "" {
		cfg.PaymentAPIAddress = envPaymentAddress
	}
	if envCommerceAddress != "" {
		cfg.CommerceAPIAddress = envCommerceAddress
	}
	if envSessionSecret != "" {
		cfg.SessionSecret = envSessionSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
