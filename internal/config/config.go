// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Settlement
	CronInterval        time.Duration // how often the settlement cron ticks
	MinStations         int           // minimum stations with valid data to settle
	DisputedSpreadRatio float64       // spread/mean ratio above which stations conflict
	PrecipHourlyMax     bool          // aggregate precipitation as max-per-clock-hour then sum

	// Observations
	ASOSBaseURL  string        // IEM ASOS CSV endpoint
	ASOSTimeout  time.Duration // per-station fetch timeout
	ObsCacheTTL  time.Duration // observation bundle cache lifetime
	FreezePivotC float64       // temperature contracts below this threshold aggregate min

	// Pricing
	LiquidityB    float64 // LMSR liquidity parameter
	LoadingFactor float64 // premium loading on top of the LMSR fill cost
	NotionalUSD   float64 // default notional payout per unit of coverage
	NWSBaseURL    string
	NWSTimeout    time.Duration

	// Webhooks
	WebhookTimeout    time.Duration
	WebhookMaxRetries int

	// External services
	MarketEngineURL string

	// Ledger archive (S3-compatible object storage)
	Archive *ArchiveConfig
}

// ArchiveConfig holds ledger archive settings. Archiving is disabled unless
// endpoint, bucket and credentials are all configured.
type ArchiveConfig struct {
	Enabled         bool
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	RetentionDays   int
	Schedule        string // cron schedule, e.g. "@every 24h"
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("ATMX_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("ATMX_PORT", 8000),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		CronInterval:        time.Duration(getEnvAsInt("SETTLE_CRON_INTERVAL_SECONDS", 30)) * time.Second,
		MinStations:         getEnvAsInt("SETTLE_MIN_STATIONS", 1),
		DisputedSpreadRatio: getEnvAsFloat("SETTLE_DISPUTED_SPREAD_RATIO", 0.20),
		PrecipHourlyMax:     getEnvAsBool("SETTLE_PRECIP_HOURLY_MAX", false),

		ASOSBaseURL:  getEnv("ASOS_BASE_URL", "https://mesonet.agron.iastate.edu/cgi-bin/request/asos.py"),
		ASOSTimeout:  time.Duration(getEnvAsInt("ASOS_TIMEOUT_SECONDS", 30)) * time.Second,
		ObsCacheTTL:  time.Duration(getEnvAsInt("OBS_CACHE_TTL_MINUTES", 60)) * time.Minute,
		FreezePivotC: getEnvAsFloat("SETTLE_FREEZE_PIVOT_C", 20.0),

		LiquidityB:    getEnvAsFloat("LMSR_LIQUIDITY_B", 100.0),
		LoadingFactor: getEnvAsFloat("PRICING_LOADING_FACTOR", 0.10),
		NotionalUSD:   getEnvAsFloat("PRICING_NOTIONAL_USD", 10.0),
		NWSBaseURL:    getEnv("NWS_API_BASE", "https://api.weather.gov"),
		NWSTimeout:    time.Duration(getEnvAsInt("NWS_TIMEOUT_SECONDS", 15)) * time.Second,

		WebhookTimeout:    time.Duration(getEnvAsInt("WEBHOOK_TIMEOUT_SECONDS", 10)) * time.Second,
		WebhookMaxRetries: getEnvAsInt("WEBHOOK_MAX_RETRIES", 3),

		MarketEngineURL: getEnv("MARKET_ENGINE_URL", "http://localhost:8080"),

		Archive: loadArchiveConfig(),
	}

	if cfg.MinStations < 1 {
		return nil, fmt.Errorf("SETTLE_MIN_STATIONS must be at least 1, got %d", cfg.MinStations)
	}
	if cfg.DisputedSpreadRatio <= 0 {
		return nil, fmt.Errorf("SETTLE_DISPUTED_SPREAD_RATIO must be positive, got %g", cfg.DisputedSpreadRatio)
	}
	if cfg.LiquidityB <= 0 {
		return nil, fmt.Errorf("LMSR_LIQUIDITY_B must be positive, got %g", cfg.LiquidityB)
	}
	if cfg.WebhookMaxRetries < 1 {
		return nil, fmt.Errorf("WEBHOOK_MAX_RETRIES must be at least 1, got %d", cfg.WebhookMaxRetries)
	}

	return cfg, nil
}

// loadArchiveConfig reads ledger archive settings. Returns a disabled config
// when any required setting is absent.
func loadArchiveConfig() *ArchiveConfig {
	cfg := &ArchiveConfig{
		Endpoint:        getEnv("ARCHIVE_S3_ENDPOINT", ""),
		Bucket:          getEnv("ARCHIVE_S3_BUCKET", ""),
		AccessKeyID:     getEnv("ARCHIVE_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("ARCHIVE_S3_SECRET_ACCESS_KEY", ""),
		Region:          getEnv("ARCHIVE_S3_REGION", "auto"),
		RetentionDays:   getEnvAsInt("ARCHIVE_RETENTION_DAYS", 30),
		Schedule:        getEnv("ARCHIVE_SCHEDULE", "@every 24h"),
	}
	cfg.Enabled = cfg.Endpoint != "" && cfg.Bucket != "" &&
		cfg.AccessKeyID != "" && cfg.SecretAccessKey != ""
	return cfg
}

// getEnv retrieves an environment variable, returning fallback if unset or empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as an integer.
func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvAsFloat retrieves an environment variable as a float64.
func getEnvAsFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvAsBool retrieves an environment variable as a boolean.
func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
