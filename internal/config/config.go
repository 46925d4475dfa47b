// Package config содержит логику чтения конфигурации сервиса кредитного пула.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/mmeshcher/lendpool/internal/ledger"
	"github.com/mmeshcher/lendpool/internal/model"
	"github.com/mmeshcher/lendpool/internal/validation"
)

const defaultOverdueCheckInterval = time.Minute

// Config содержит параметры конфигурации сервиса кредитного пула.
type Config struct {
	RunAddress           string        `env:"RUN_ADDRESS"`
	DatabaseURI          string        `env:"DATABASE_URI"`
	PayoutSystemAddress  string        `env:"PAYOUT_SYSTEM_ADDRESS"`
	OwnerAccount         string        `env:"OWNER_ACCOUNT"`
	AuthSecret           string        `env:"AUTH_SECRET"`
	MaxLoanAmount        model.Amount  `env:"MAX_LOAN_AMOUNT"`
	OverdueCheckInterval time.Duration `env:"OVERDUE_CHECK_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg
	_, envMaxLoan := os.LookupEnv("MAX_LOAN_AMOUNT")

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory storage when empty")
	flag.StringVar(&cfg.PayoutSystemAddress, "p", "", "payout system address, transfers are only logged when empty")
	flag.StringVar(&cfg.OwnerAccount, "o", "", "administrator account")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing bearer tokens")
	flag.TextVar(&cfg.MaxLoanAmount, "m", ledger.DefaultMaxLoanAmount, "maximum loan principal in minimal units")
	flag.DurationVar(&cfg.OverdueCheckInterval, "i", defaultOverdueCheckInterval, "overdue loans check interval")

	flag.Parse()

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.PayoutSystemAddress != "" {
		cfg.PayoutSystemAddress = envCfg.PayoutSystemAddress
	}
	if envCfg.OwnerAccount != "" {
		cfg.OwnerAccount = envCfg.OwnerAccount
	}
	if envCfg.AuthSecret != "" {
		cfg.AuthSecret = envCfg.AuthSecret
	}
	if envMaxLoan {
		cfg.MaxLoanAmount = envCfg.MaxLoanAmount
	}
	if envCfg.OverdueCheckInterval != 0 {
		cfg.OverdueCheckInterval = envCfg.OverdueCheckInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.OwnerAccount == "" {
		return errors.New("owner account is required")
	}
	if !validation.IsValidAccountID(c.OwnerAccount) {
		return fmt.Errorf("invalid owner account %q", c.OwnerAccount)
	}
	if c.MaxLoanAmount.IsZero() {
		return errors.New("max loan amount must be positive")
	}
	if c.OverdueCheckInterval <= 0 {
		return errors.New("overdue check interval must be positive")
	}
	return nil
}
