// Package config loads engine configuration from the environment (and an
// optional .env file for local development).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds every runtime setting for the contest engine.
type Config struct {
	Port        string
	DatabaseURL string // empty → in-memory store
	RedisURL    string // empty → no cache layer
	CacheTTL    time.Duration

	// Prize pool
	PlatformFeePct decimal.Decimal // fraction, e.g. 0.10

	// Market hours (contest-local)
	MarketTimezone string
	CutoffHour     int
	CutoffMinute   int

	// Price feed
	MarkInterval    time.Duration
	MockFeedEnabled bool
	MockFeedStepPct decimal.Decimal
	MockFeedSeed    uint64
}

// Load reads configuration from the environment with sane defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	feePct, err := decimal.NewFromString(envStr("PLATFORM_FEE_PCT", "0.10"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid PLATFORM_FEE_PCT: %w", err)
	}
	stepPct, err := decimal.NewFromString(envStr("MOCK_FEED_STEP_PCT", "2"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid MOCK_FEED_STEP_PCT: %w", err)
	}

	cfg := &Config{
		Port:        envStr("PORT", "8080"),
		DatabaseURL: envStr("DATABASE_URL", ""),
		RedisURL:    envStr("REDIS_URL", ""),
		CacheTTL:    time.Duration(envInt("CACHE_TTL_SECONDS", 30)) * time.Second,

		PlatformFeePct: feePct,

		MarketTimezone: envStr("MARKET_TIMEZONE", "Asia/Kolkata"),
		CutoffHour:     envInt("MARKET_CUTOFF_HOUR", 15),
		CutoffMinute:   envInt("MARKET_CUTOFF_MINUTE", 30),

		MarkInterval:    time.Duration(envInt("MARK_INTERVAL_SECONDS", 15)) * time.Second,
		MockFeedEnabled: envBool("MOCK_FEED_ENABLED", true),
		MockFeedStepPct: stepPct,
		MockFeedSeed:    uint64(envInt("MOCK_FEED_SEED", 1)),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	var errs []string

	if c.PlatformFeePct.IsNegative() || c.PlatformFeePct.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, "PLATFORM_FEE_PCT must be in [0,1)")
	}
	if c.CutoffHour < 0 || c.CutoffHour > 23 || c.CutoffMinute < 0 || c.CutoffMinute > 59 {
		errs = append(errs, "market cutoff must be a valid time of day")
	}
	if c.MarkInterval < time.Second {
		errs = append(errs, "MARK_INTERVAL_SECONDS must be >= 1")
	}
	if _, err := time.LoadLocation(c.MarketTimezone); err != nil {
		errs = append(errs, "MARKET_TIMEZONE is not a valid IANA zone")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Location returns the market timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.MarketTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
