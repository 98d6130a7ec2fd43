// Package config assembles pipeline and server settings from the
// environment. The CLI layers flag overrides on top of what FromEnv
// returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/peakshaver/glassbox/internal/automl"
	"github.com/peakshaver/glassbox/internal/explain"
	"github.com/peakshaver/glassbox/internal/features"
)

// Config carries every setting the pipeline and server read. The JSON tags
// let a --config file overlay the environment.
type Config struct {
	// Dataset selection.
	DataPath  string `json:"data_path"`
	SeriesID  string `json:"series_id"`
	Frequency string `json:"frequency"`
	Horizon   int    `json:"horizon"` // test block length, hours

	Features features.Config `json:"features"`
	AutoML   automl.Config   `json:"automl"`
	Explain  explain.Config  `json:"explain"`

	IntervalLevel float64 `json:"interval_level"` // conformal coverage target

	Workers int `json:"workers"` // compute cluster size, 0 = NumCPU

	// Run store.
	StoreBackend  string        `json:"store_backend"` // memory | redis | postgres
	SnapshotPath  string        `json:"snapshot_path"`
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"-"`
	RedisDB       int           `json:"redis_db"`
	PostgresConn  string        `json:"postgres_conn"`
	StoreTTL      time.Duration `json:"store_ttl"` // 0 = keep forever

	// HTTP server.
	Port        string `json:"port"`
	TokenRate   int    `json:"token_rate"`
	MetricsUser string `json:"metrics_user"`
	MetricsPass string `json:"-"`

	// Observability.
	OTLPEndpoint string  `json:"otlp_endpoint"`
	OTLPSampling float64 `json:"otlp_sampling"`
	LogLevel     string  `json:"log_level"`

	OutDir string `json:"out_dir"`
}

// Default returns the settings a laptop run needs.
func Default() *Config {
	return &Config{
		Frequency:     "Hourly",
		Horizon:       48,
		Features:      features.DefaultConfig(),
		AutoML:        automl.DefaultConfig(),
		Explain:       explain.DefaultConfig(),
		IntervalLevel: 0.9,
		StoreBackend:  "memory",
		SnapshotPath:  "data/runs.json",
		RedisAddr:     "localhost:6379",
		Port:          "8080",
		TokenRate:     100,
		OTLPSampling:  1.0,
		LogLevel:      "info",
		OutDir:        "artifacts",
	}
}

// FromEnv overlays GBX_* variables (plus the conventional REDIS_*,
// POSTGRES_CONN, PORT, TOKEN_RATE, METRICS_* names) on the defaults.
// Unparsable values fall back to the default silently.
func FromEnv() *Config {
	c := Default()

	c.DataPath = getEnv("GBX_DATA", c.DataPath)
	c.SeriesID = getEnv("GBX_SERIES", c.SeriesID)
	c.Frequency = getEnv("GBX_FREQ", c.Frequency)
	c.Horizon = getEnvInt("GBX_HORIZON", c.Horizon)

	c.Features.Lag = getEnvInt("GBX_LAG", c.Features.Lag)
	c.Features.RollWindows[0] = getEnvInt("GBX_ROLL_SHORT", c.Features.RollWindows[0])
	c.Features.RollWindows[1] = getEnvInt("GBX_ROLL_LONG", c.Features.RollWindows[1])
	c.Features.FourierPeriods[0] = getEnvFloat("GBX_FOURIER_SHORT", c.Features.FourierPeriods[0])
	c.Features.FourierPeriods[1] = getEnvFloat("GBX_FOURIER_LONG", c.Features.FourierPeriods[1])

	c.AutoML.MaxModels = getEnvInt("GBX_MAX_MODELS", c.AutoML.MaxModels)
	c.AutoML.MaxRuntime = getEnvDuration("GBX_MAX_RUNTIME", c.AutoML.MaxRuntime)
	c.AutoML.Holdout = getEnvFloat("GBX_HOLDOUT", c.AutoML.Holdout)
	c.AutoML.TopK = getEnvInt("GBX_TOP_K", c.AutoML.TopK)
	c.AutoML.Seed = int64(getEnvInt("GBX_SEED", int(c.AutoML.Seed)))

	c.Explain.Samples = getEnvInt("GBX_EXPLAIN_SAMPLES", c.Explain.Samples)
	c.Explain.Seed = c.AutoML.Seed
	c.Explain.CacheSize = getEnvInt("GBX_CACHE_SIZE", c.Explain.CacheSize)
	c.Explain.CacheTTL = getEnvDuration("GBX_CACHE_TTL", c.Explain.CacheTTL)

	c.IntervalLevel = getEnvFloat("GBX_INTERVAL_LEVEL", c.IntervalLevel)

	c.Workers = getEnvInt("GBX_WORKERS", c.Workers)

	c.StoreBackend = getEnv("GBX_STORE_BACKEND", c.StoreBackend)
	c.SnapshotPath = getEnv("GBX_SNAPSHOT", c.SnapshotPath)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.PostgresConn = getEnv("POSTGRES_CONN", c.PostgresConn)
	c.StoreTTL = getEnvDuration("GBX_STORE_TTL", c.StoreTTL)

	c.Port = getEnv("PORT", c.Port)
	c.TokenRate = getEnvInt("TOKEN_RATE", c.TokenRate)
	c.MetricsUser = getEnv("METRICS_USER", c.MetricsUser)
	c.MetricsPass = getEnv("METRICS_PASS", c.MetricsPass)

	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.OTLPSampling = getEnvFloat("GBX_OTEL_SAMPLING", c.OTLPSampling)
	c.LogLevel = getEnv("GBX_LOG_LEVEL", c.LogLevel)

	c.OutDir = getEnv("GBX_OUT", c.OutDir)
	return c
}

// Addr returns the server bind address.
func (c *Config) Addr() string { return ":" + c.Port }

// Validate rejects settings no command could run with.
func (c *Config) Validate() error {
	if c.Horizon <= 0 {
		return fmt.Errorf("config: horizon must be positive, got %d", c.Horizon)
	}
	if err := c.Features.Validate(); err != nil {
		return err
	}
	if err := c.AutoML.Validate(); err != nil {
		return err
	}
	if c.IntervalLevel <= 0 || c.IntervalLevel >= 1 {
		return fmt.Errorf("config: interval level must be in (0,1), got %g", c.IntervalLevel)
	}
	switch c.StoreBackend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("config: unknown store backend %q", c.StoreBackend)
	}
	if c.StoreBackend == "postgres" && c.PostgresConn == "" {
		return fmt.Errorf("config: POSTGRES_CONN is required for the postgres backend")
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if c.TokenRate <= 0 {
		return fmt.Errorf("config: token rate must be positive, got %d", c.TokenRate)
	}
	if c.OTLPSampling < 0 || c.OTLPSampling > 1 {
		return fmt.Errorf("config: otel sampling rate must be in [0,1], got %f", c.OTLPSampling)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
