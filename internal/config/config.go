package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/basis/internal/costbasis"
	"github.com/cleared-dev/basis/internal/model"
	"github.com/cleared-dev/basis/internal/rates"
	"github.com/cleared-dev/basis/internal/transfer"
)

// FileName is the project configuration file.
const FileName = "basis.yaml"

// Environment overrides.
const (
	EnvDatabase = "BASIS_DB"
	EnvLogLevel = "BASIS_LOG_LEVEL"
)

// Config represents the top-level basis.yaml configuration.
type Config struct {
	BaseCurrency string          `yaml:"base_currency"`
	CostBasis    CostBasisConfig `yaml:"cost_basis"`
	Transfers    TransfersConfig `yaml:"transfers"`
	Lock         LockConfig      `yaml:"lock"`
	Database     DatabaseConfig  `yaml:"database"`
	Logging      LoggingConfig   `yaml:"logging"`
	Workers      int             `yaml:"workers"`

	// Rates is an optional static price table: quote → currency → price.
	Rates map[string]map[string]string `yaml:"rates,omitempty"`
}

// CostBasisConfig holds the defaults for new users and engine tuning.
type CostBasisConfig struct {
	Method               string `yaml:"method"`
	AccountBased         bool   `yaml:"account_based"`
	RealizeExchangeGains bool   `yaml:"realize_exchange_gains"`
	TrackHoldingPeriods  bool   `yaml:"track_holding_periods"`
	LongTermDays         int    `yaml:"long_term_days"`
	WashSaleDays         int    `yaml:"wash_sale_days"`
	BatchSize            int    `yaml:"batch_size"`
}

// TransfersConfig tunes transfer matching.
type TransfersConfig struct {
	FeeCollisionUSD string            `yaml:"fee_collision_usd"`
	FeeCeilings     map[string]string `yaml:"fee_ceilings,omitempty"`
	SpecialHashes   []string          `yaml:"special_hashes,omitempty"`
}

// LockConfig controls the per-user recompute lock.
type LockConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DatabaseConfig locates the sqlite database, relative to the project root.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads a basis.yaml file from disk. Missing fields keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new project.
func Default() *Config {
	opts := costbasis.DefaultOptions()
	return &Config{
		BaseCurrency: "USD",
		CostBasis: CostBasisConfig{
			Method:               string(model.MethodFifo),
			RealizeExchangeGains: true,
			TrackHoldingPeriods:  opts.TrackHoldingPeriods,
			LongTermDays:         opts.LongTermDays,
			WashSaleDays:         opts.WashSaleDays,
			BatchSize:            opts.BatchSize,
		},
		Transfers: TransfersConfig{
			FeeCollisionUSD: "100",
		},
		Lock: LockConfig{
			TTL:          10 * time.Minute,
			PollInterval: 250 * time.Millisecond,
		},
		Database: DatabaseConfig{Path: "basis.db"},
		Logging:  LoggingConfig{Level: "info"},
		Workers:  4,
	}
}

// Validate checks settings that would otherwise fail mid-run.
func (c *Config) Validate() error {
	var errs []error
	if _, err := costbasis.StrategyFor(model.Method(c.CostBasis.Method), c.CostBasis.WashSaleDays); err != nil {
		errs = append(errs, fmt.Errorf("cost_basis.method: %w", err))
	}
	if _, err := c.TransferOptions(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.RateTable(); err != nil {
		errs = append(errs, err)
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("lock.ttl must be positive"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	return errors.Join(errs...)
}

// ApplyEnv loads <root>/.env when present and applies the BASIS_*
// overrides. Variables already set in the environment win over .env.
func (c *Config) ApplyEnv(root string) error {
	if err := godotenv.Load(filepath.Join(root, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// DatabasePath resolves the database path against root.
func (c *Config) DatabasePath(root string) string {
	if filepath.IsAbs(c.Database.Path) {
		return c.Database.Path
	}
	return filepath.Join(root, c.Database.Path)
}

// NewUser returns a user carrying the configured defaults.
func (c *Config) NewUser(name string) model.User {
	return model.User{
		Name:                  name,
		BaseCurrency:          strings.ToUpper(c.BaseCurrency),
		Method:                model.Method(c.CostBasis.Method),
		AccountBasedCostBasis: c.CostBasis.AccountBased,
		RealizeExchangeGains:  c.CostBasis.RealizeExchangeGains,
	}
}

// CostBasisOptions returns the engine options.
func (c *Config) CostBasisOptions() costbasis.Options {
	return costbasis.Options{
		TrackHoldingPeriods: c.CostBasis.TrackHoldingPeriods,
		LongTermDays:        c.CostBasis.LongTermDays,
		WashSaleDays:        c.CostBasis.WashSaleDays,
		BatchSize:           c.CostBasis.BatchSize,
	}
}

// TransferOptions returns the matcher options. Configured fee ceilings
// extend the built-in ones.
func (c *Config) TransferOptions() (transfer.Options, error) {
	opts := transfer.DefaultOptions()
	if s := c.Transfers.FeeCollisionUSD; s != "" {
		limit, err := decimal.NewFromString(s)
		if err != nil {
			return opts, fmt.Errorf("transfers.fee_collision_usd %q: %w", s, err)
		}
		opts.FeeCollisionLimit = limit
	}
	for currency, s := range c.Transfers.FeeCeilings {
		ceiling, err := decimal.NewFromString(s)
		if err != nil {
			return opts, fmt.Errorf("transfers.fee_ceilings.%s %q: %w", currency, s, err)
		}
		opts.FeeCeilings[strings.ToUpper(currency)] = ceiling
	}
	if len(c.Transfers.SpecialHashes) > 0 {
		opts.SpecialHashes = c.Transfers.SpecialHashes
	}
	return opts, nil
}

// RateTable parses the static rate table.
func (c *Config) RateTable() (map[string]map[string]decimal.Decimal, error) {
	table := make(map[string]map[string]decimal.Decimal, len(c.Rates))
	for quote, prices := range c.Rates {
		table[quote] = make(map[string]decimal.Decimal, len(prices))
		for currency, s := range prices {
			price, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("rates.%s.%s %q: %w", quote, currency, s, err)
			}
			table[quote][currency] = price
		}
	}
	return table, nil
}

// RateSource returns a cached source over the static rate table, or nil
// when no rates are configured.
func (c *Config) RateSource() (rates.Source, error) {
	if len(c.Rates) == 0 {
		return nil, nil
	}
	table, err := c.RateTable()
	if err != nil {
		return nil, err
	}
	return rates.NewCached(rates.NewStatic(table), time.Hour), nil
}
