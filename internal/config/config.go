// Package config loads the CLI configuration from QCHAIN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"golang.org/x/term"
)

const envPrefix = "QCHAIN"

// Config contains all configuration parameters for the CLI.
// Secrets may also be prompted at runtime, see PromptSecret.
type Config struct {
	NetworksFile   string `envconfig:"NETWORKS_FILE"`
	DefaultNetwork string `envconfig:"DEFAULT_NETWORK"`

	HashServiceURL     string        `envconfig:"HASH_SERVICE_URL" default:"http://localhost:8000"`
	HashTimeout        time.Duration `envconfig:"HASH_TIMEOUT" default:"30s"`
	HashRateLimit      float64       `envconfig:"HASH_RATE_LIMIT" default:"2"`
	HashRateBurst      int           `envconfig:"HASH_RATE_BURST" default:"1"`
	ConfirmationRounds int           `envconfig:"CONFIRMATION_ROUNDS" default:"10"`

	SessionFile string `envconfig:"SESSION_FILE"`
	RedisURL    string `envconfig:"REDIS_URL"`
	KeyPrefix   string `envconfig:"KEY_PREFIX"`

	EVMMnemonic    string `envconfig:"EVM_MNEMONIC"`
	EVMPrivateKey  string `envconfig:"EVM_PRIVATE_KEY"`
	EVMAccount     uint32 `envconfig:"EVM_ACCOUNT_INDEX" default:"0"`
	LedgerMnemonic string `envconfig:"LEDGER_MNEMONIC"`

	AutoApprove bool `envconfig:"AUTO_APPROVE" default:"false"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error
	if c.ConfirmationRounds <= 0 {
		errs = append(errs, fmt.Errorf("QCHAIN_CONFIRMATION_ROUNDS must be positive, got %d", c.ConfirmationRounds))
	}
	if c.HashTimeout <= 0 {
		errs = append(errs, fmt.Errorf("QCHAIN_HASH_TIMEOUT must be positive, got %s", c.HashTimeout))
	}
	if c.HashRateLimit < 0 || c.HashRateBurst < 0 {
		errs = append(errs, errors.New("QCHAIN_HASH_RATE_LIMIT and QCHAIN_HASH_RATE_BURST cannot be negative"))
	}
	if c.EVMMnemonic != "" && c.EVMPrivateKey != "" {
		errs = append(errs, errors.New("set only one of QCHAIN_EVM_MNEMONIC and QCHAIN_EVM_PRIVATE_KEY"))
	}
	return errors.Join(errs...)
}

// Usage prints the supported environment variables.
func Usage() error {
	return envconfig.Usage(envPrefix, &Config{})
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".qchain-session.json")
	}
	return filepath.Join(dir, "qchain", "session.json")
}

// PromptSecret reads a secret from the terminal without echoing it.
func PromptSecret(label string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("stdin is not a terminal: set the secret through the environment instead")
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	defer fmt.Fprintln(os.Stderr)

	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if len(raw) == 0 {
		return "", errors.New("secret cannot be empty")
	}
	secret := string(raw)
	clear(raw)
	return secret, nil
}
