// Package config defines all configuration for the exchange server. Config
// is loaded from a YAML file (default: configs/config.yaml) with sensitive
// fields overridable via FENRIR_* environment variables, the same pattern
// the market-maker corpus uses for its own config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Markets     []MarketConfig    `mapstructure:"markets"`
	Liquidation LiquidationConfig `mapstructure:"liquidation"`
	Funding     FundingConfig     `mapstructure:"funding"`
	Price       PriceConfig       `mapstructure:"price"`
	Store       StoreConfig       `mapstructure:"store"`
	DemoMM      DemoMMConfig      `mapstructure:"demo_mm"`
	Settlement  SettlementConfig  `mapstructure:"settlement"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	RateLimitPerMin  int           `mapstructure:"rate_limit_per_min"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	ShutdownDeadline time.Duration `mapstructure:"shutdown_deadline"`
}

// MarketConfig seeds one entry in the market registry admin creates once at
// startup; markets never mutate after this.
type MarketConfig struct {
	Symbol                string  `mapstructure:"symbol"`
	Index                 int     `mapstructure:"index"`
	TickSize              float64 `mapstructure:"tick_size"`
	MinLot                float64 `mapstructure:"min_lot"`
	MaxLeverage           float64 `mapstructure:"max_leverage"`
	InitialMarginRate     float64 `mapstructure:"initial_margin_rate"`
	MaintenanceMarginRate float64 `mapstructure:"maintenance_margin_rate"`
	Active                bool    `mapstructure:"active"`
}

type LiquidationConfig struct {
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	FreshnessBound time.Duration `mapstructure:"freshness_bound"`
	LiquidationFee float64       `mapstructure:"liquidation_fee"`
	DryRun         bool          `mapstructure:"dry_run"`
}

type FundingConfig struct {
	IntervalHours int  `mapstructure:"interval_hours"`
	DryRun        bool `mapstructure:"dry_run"`
	RecoverMissed bool `mapstructure:"recover_missed"`
}

// PriceConfig selects between the static fixed-table source (tests, demos)
// and the HTTP-polled source. SymbolIDs maps our market symbol to the
// upstream coin id when HTTP is used.
type PriceConfig struct {
	Source     string            `mapstructure:"source"` // "static" | "http"
	BaseURL    string            `mapstructure:"base_url"`
	SymbolIDs  map[string]string `mapstructure:"symbol_ids"`
	Freshness  time.Duration     `mapstructure:"freshness"`
	StaticSeed map[string]float64 `mapstructure:"static_seed"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type DemoMMConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	AgentID          string        `mapstructure:"agent_id"`
	BaseFundingRate  float64       `mapstructure:"base_funding_rate"`
	CollateralRatio  float64       `mapstructure:"collateral_ratio"`
	MaxQuoteNotional float64       `mapstructure:"max_quote_notional"`
	QuoteValidFor    time.Duration `mapstructure:"quote_valid_for"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
}

type SettlementConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides, defaulting
// every field a fresh deployment can run without.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("FENRIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit_per_min", 100)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_deadline", 15*time.Second)

	v.SetDefault("liquidation.check_interval", time.Second)
	v.SetDefault("liquidation.freshness_bound", 10*time.Second)
	v.SetDefault("liquidation.liquidation_fee", 0.01)

	v.SetDefault("funding.interval_hours", 8)

	v.SetDefault("price.source", "static")
	v.SetDefault("price.freshness", 30*time.Second)

	v.SetDefault("store.path", "fenrir.db")

	v.SetDefault("demo_mm.enabled", false)
	v.SetDefault("demo_mm.agent_id", "demo_mm_bot")
	v.SetDefault("demo_mm.base_funding_rate", 0.008)
	v.SetDefault("demo_mm.collateral_ratio", 0.15)
	v.SetDefault("demo_mm.max_quote_notional", 10000.0)
	v.SetDefault("demo_mm.quote_valid_for", 5*time.Minute)
	v.SetDefault("demo_mm.poll_interval", 2*time.Second)

	v.SetDefault("settlement.enabled", false)
	v.SetDefault("settlement.base_url", "http://localhost:8081")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market must be configured")
	}
	seen := make(map[string]bool)
	for _, m := range c.Markets {
		if m.Symbol == "" {
			return fmt.Errorf("markets[].symbol is required")
		}
		if seen[m.Symbol] {
			return fmt.Errorf("duplicate market symbol: %s", m.Symbol)
		}
		seen[m.Symbol] = true
		if m.MaxLeverage <= 0 {
			return fmt.Errorf("market %s: max_leverage must be > 0", m.Symbol)
		}
		if m.MaintenanceMarginRate <= 0 || m.MaintenanceMarginRate >= m.InitialMarginRate {
			return fmt.Errorf("market %s: maintenance_margin_rate must be > 0 and < initial_margin_rate", m.Symbol)
		}
	}
	if c.Price.Source != "static" && c.Price.Source != "http" {
		return fmt.Errorf("price.source must be one of: static, http")
	}
	if c.Price.Source == "http" && c.Price.BaseURL == "" {
		return fmt.Errorf("price.base_url is required when price.source is http")
	}
	return nil
}
