// Package config defines all configuration for the trading bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via VIG_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Paper      bool             `mapstructure:"paper"`
	API        APIConfig        `mapstructure:"api"`
	Scanner    ScannerConfig    `mapstructure:"scanner"`
	Snowball   SnowballConfig   `mapstructure:"snowball"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Betting    BettingConfig    `mapstructure:"betting"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// APIConfig holds venue endpoints and L2 credentials for live order
// submission. Credentials are unused in paper mode.
type APIConfig struct {
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// ScannerConfig controls how the bot discovers and filters near-expiry
// favorite-priced markets.
//
//   - MinFavoritePrice: a side must be priced at or above this to count as
//     the favorite (e.g. 0.70).
//   - MaxFavoritePrice: optional upper bound on the favorite price; 0
//     disables it and accepts any favorite above the minimum.
//   - ExpiryWindow: only markets expiring within [now, now+window] are
//     considered.
//   - SoonThreshold: markets expiring within this duration are ranked
//     ahead of everything else.
//   - MaxVolumeFraction: per-market exposure cap as a fraction of volume.
//   - PageSize: raw candidates requested per page from the data source.
type ScannerConfig struct {
	MinFavoritePrice  float64       `mapstructure:"min_favorite_price"`
	MaxFavoritePrice  float64       `mapstructure:"max_favorite_price"`
	ExpiryWindow      time.Duration `mapstructure:"expiry_window"`
	SoonThreshold     time.Duration `mapstructure:"soon_threshold"`
	MaxBetsPerCycle   int           `mapstructure:"max_bets_per_cycle"`
	MaxVolumeFraction float64       `mapstructure:"max_volume_fraction"`
	PageSize          int           `mapstructure:"page_size"`
}

// SnowballConfig tunes the bankroll sizing state machine.
//
//   - StartingClip: per-bet stake at bot start; the clip never drops below this.
//   - MaxClip: clip ceiling; hitting it on a profitable cycle flips the
//     phase to harvest.
//   - ReinvestFraction: share of growth-phase profit reinvested into the
//     clip; the remainder is pocketed.
type SnowballConfig struct {
	StartingClip     float64 `mapstructure:"starting_clip"`
	MaxClip          float64 `mapstructure:"max_clip"`
	ReinvestFraction float64 `mapstructure:"reinvest_fraction"`
}

// RiskConfig sets policy thresholds checked before and after each cycle.
// A zero threshold disables the corresponding rule; the default deployment
// disables everything (multiplier 1.0, never stops).
type RiskConfig struct {
	MaxConsecutiveLosses int     `mapstructure:"max_consecutive_losses"`
	MaxDailyLossPct      float64 `mapstructure:"max_daily_loss_pct"`
	MinWinRate           float64 `mapstructure:"min_win_rate"`
	WinRateWindow        int     `mapstructure:"win_rate_window"`
	ShrinkFraction       float64 `mapstructure:"shrink_fraction"`
}

// BettingConfig controls order submission.
type BettingConfig struct {
	MinStake            float64 `mapstructure:"min_stake"`
	MaxConcurrentOrders int     `mapstructure:"max_concurrent_orders"`
	PaperBalance        float64 `mapstructure:"paper_balance"`
}

// SettlementConfig controls outcome classification. A market counts as
// resolved when its closed flag is set OR either outcome price crosses a
// threshold — the venue's closed flag is observed to lag its price feed.
type SettlementConfig struct {
	WinThreshold  float64       `mapstructure:"win_threshold"`
	LoseThreshold float64       `mapstructure:"lose_threshold"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// EngineConfig controls the cycle loop cadence. Sleeps happen in
// SleepChunk increments so a shutdown signal is honored within one chunk.
type EngineConfig struct {
	CycleInterval time.Duration `mapstructure:"cycle_interval"`
	SleepChunk    time.Duration `mapstructure:"sleep_chunk"`
}

// StoreConfig sets where bet and cycle records are persisted (SQLite).
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: VIG_API_KEY, VIG_API_SECRET, VIG_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("VIG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("VIG_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("VIG_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("VIG_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("VIG_PAPER") == "true" || os.Getenv("VIG_PAPER") == "1" {
		cfg.Paper = true
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults fills zero values that have a sensible universal default.
func (c *Config) applyDefaults() {
	if c.Scanner.PageSize == 0 {
		c.Scanner.PageSize = 200
	}
	if c.Scanner.SoonThreshold == 0 {
		c.Scanner.SoonThreshold = 30 * time.Minute
	}
	if c.Betting.MaxConcurrentOrders == 0 {
		c.Betting.MaxConcurrentOrders = 10
	}
	if c.Betting.MinStake == 0 {
		c.Betting.MinStake = 1.0
	}
	if c.Settlement.WinThreshold == 0 {
		c.Settlement.WinThreshold = 0.95
	}
	if c.Settlement.LoseThreshold == 0 {
		c.Settlement.LoseThreshold = 0.05
	}
	if c.Settlement.CheckInterval == 0 {
		c.Settlement.CheckInterval = time.Minute
	}
	if c.Engine.SleepChunk == 0 {
		c.Engine.SleepChunk = time.Minute
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/vig.db"
	}
}

// Validate checks all required fields and value ranges. Credential and
// CLOB endpoint checks apply only in live mode. Whether a violation is
// fatal is the caller's decision; live deployments treat any error as
// fatal, paper mode logs and proceeds.
func (c *Config) Validate() error {
	if !c.Paper {
		if c.API.CLOBBaseURL == "" {
			return fmt.Errorf("api.clob_base_url is required in live mode")
		}
		if c.API.ApiKey == "" || c.API.Secret == "" || c.API.Passphrase == "" {
			return fmt.Errorf("api credentials are required in live mode (set VIG_API_KEY, VIG_API_SECRET, VIG_PASSPHRASE)")
		}
	}
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	if c.Scanner.MinFavoritePrice <= 0 || c.Scanner.MinFavoritePrice >= 1 {
		return fmt.Errorf("scanner.min_favorite_price must be in (0,1)")
	}
	if c.Scanner.MaxFavoritePrice != 0 && c.Scanner.MaxFavoritePrice < c.Scanner.MinFavoritePrice {
		return fmt.Errorf("scanner.max_favorite_price must be 0 (disabled) or >= min_favorite_price")
	}
	if c.Scanner.ExpiryWindow <= 0 {
		return fmt.Errorf("scanner.expiry_window must be > 0")
	}
	if c.Scanner.MaxBetsPerCycle <= 0 {
		return fmt.Errorf("scanner.max_bets_per_cycle must be > 0")
	}
	if c.Snowball.StartingClip <= 0 {
		return fmt.Errorf("snowball.starting_clip must be > 0")
	}
	if c.Snowball.MaxClip < c.Snowball.StartingClip {
		return fmt.Errorf("snowball.max_clip must be >= starting_clip")
	}
	if c.Snowball.ReinvestFraction < 0 || c.Snowball.ReinvestFraction > 1 {
		return fmt.Errorf("snowball.reinvest_fraction must be in [0,1]")
	}
	if c.Settlement.WinThreshold <= c.Settlement.LoseThreshold {
		return fmt.Errorf("settlement.win_threshold must be > lose_threshold")
	}
	if c.Engine.CycleInterval <= 0 {
		return fmt.Errorf("engine.cycle_interval must be > 0")
	}
	return nil
}
