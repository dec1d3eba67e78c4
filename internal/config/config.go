// Package config loads engine settings from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything cmd/server needs to wire the engine.
type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string
	CacheTTL    time.Duration

	// SimulationRunAt is the local time of day (HH:MM) the daily simulation
	// fires when the scheduler is enabled.
	SimulationRunAt  string
	SchedulerEnabled bool

	// TradingWindows are the intraday stock-trading windows as
	// "HH:MM-HH:MM" ranges, comma separated.
	TradingWindows []string

	SeedCatalog bool
}

// Load reads configuration from the environment, applying defaults.
func Load() Config {
	addr := strings.TrimSpace(os.Getenv("PORT"))
	if addr != "" && !strings.HasPrefix(addr, ":") {
		addr = ":" + addr
	}
	if addr == "" {
		addr = envDefault("WALLET_ENGINE_ADDR", ":8080")
	}

	return Config{
		Addr:             addr,
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisURL:         strings.TrimSpace(os.Getenv("REDIS_URL")),
		CacheTTL:         envDurationDefault("WALLET_ENGINE_CACHE_TTL", 30*time.Second),
		SimulationRunAt:  envDefault("WALLET_ENGINE_SIMULATION_AT", "09:00"),
		SchedulerEnabled: envBoolDefault("WALLET_ENGINE_SCHEDULER", true),
		TradingWindows:   envWindowsDefault(),
		SeedCatalog:      envBoolDefault("WALLET_ENGINE_SEED_CATALOG", true),
	}
}

// Three fixed intraday windows for stocks by default.
func envWindowsDefault() []string {
	v := strings.TrimSpace(os.Getenv("WALLET_ENGINE_TRADING_WINDOWS"))
	if v == "" {
		return []string{"09:00-11:00", "12:30-14:30", "15:30-17:30"}
	}
	parts := strings.Split(v, ",")
	windows := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			windows = append(windows, p)
		}
	}
	return windows
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
