package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/vjranagit/empe/pkg/envelope"
	"github.com/vjranagit/empe/pkg/storage"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Envelope EnvelopeConfig `yaml:"envelope"`
	Plot     PlotConfig     `yaml:"plot"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `yaml:"listen_addr"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StorageConfig holds archive and envelope cache configuration
type StorageConfig struct {
	Path             string        `yaml:"path"`
	RetentionDays    int           `yaml:"retention_days"`
	CompressionLevel int           `yaml:"compression_level"`
	CacheCapacity    int           `yaml:"cache_capacity"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// EnvelopeConfig holds the defaults of envelope requests
type EnvelopeConfig struct {
	Low     float64 `yaml:"low"`
	High    float64 `yaml:"high"`
	Draws   int     `yaml:"draws"`
	Points  int     `yaml:"points"`
	Workers int     `yaml:"workers"`
	Seed    uint64  `yaml:"seed"`
}

// PlotConfig holds the default sample filters of plots
type PlotConfig struct {
	Fraction  float64 `yaml:"fraction"`
	MinWeight float64 `yaml:"min_weight"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

func defaults() *Config {
	env := envelope.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":9090",
			Timeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			Path:             "./data",
			RetentionDays:    0,
			CompressionLevel: 3,
			CacheCapacity:    256,
			CacheTTL:         10 * time.Minute,
		},
		Envelope: EnvelopeConfig{
			Low:     env.Low,
			High:    env.High,
			Draws:   env.Draws,
			Points:  env.Points,
			Workers: env.Workers,
			Seed:    1,
		},
		Plot: PlotConfig{
			Fraction:  1.0,
			MinWeight: 0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultConfig returns default configuration with environment overrides
func DefaultConfig() *Config {
	c := defaults()
	c.applyEnv()
	return c
}

// Load reads a YAML file over the defaults and then applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	c := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	c.Server.ListenAddr = getEnv("LISTEN_ADDR", c.Server.ListenAddr)
	c.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", c.Server.Timeout)

	c.Storage.Path = getEnv("STORAGE_PATH", c.Storage.Path)
	c.Storage.RetentionDays = getEnvInt("RETENTION_DAYS", c.Storage.RetentionDays)
	c.Storage.CompressionLevel = getEnvInt("COMPRESSION_LEVEL", c.Storage.CompressionLevel)
	c.Storage.CacheCapacity = getEnvInt("CACHE_CAPACITY", c.Storage.CacheCapacity)
	c.Storage.CacheTTL = getEnvDuration("CACHE_TTL", c.Storage.CacheTTL)

	c.Envelope.Low = getEnvFloat("ENVELOPE_LOW", c.Envelope.Low)
	c.Envelope.High = getEnvFloat("ENVELOPE_HIGH", c.Envelope.High)
	c.Envelope.Draws = getEnvInt("ENVELOPE_DRAWS", c.Envelope.Draws)
	c.Envelope.Points = getEnvInt("ENVELOPE_POINTS", c.Envelope.Points)
	c.Envelope.Workers = getEnvInt("ENVELOPE_WORKERS", c.Envelope.Workers)
	c.Envelope.Seed = getEnvUint("ENVELOPE_SEED", c.Envelope.Seed)

	c.Plot.Fraction = getEnvFloat("PLOT_FRACTION", c.Plot.Fraction)
	c.Plot.MinWeight = getEnvFloat("PLOT_MIN_WEIGHT", c.Plot.MinWeight)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		RetentionDays:    c.Storage.RetentionDays,
		CompressionLevel: c.Storage.CompressionLevel,
	}
}

// ToEnvelopeConfig converts to envelope.Config
func (c *Config) ToEnvelopeConfig() envelope.Config {
	return envelope.Config{
		Low:     c.Envelope.Low,
		High:    c.Envelope.High,
		Draws:   c.Envelope.Draws,
		Points:  c.Envelope.Points,
		Workers: c.Envelope.Workers,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server timeout must be positive")
	}

	if c.Storage.Path == "" {
		return fmt.Errorf("storage path is required")
	}

	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("retention days must not be negative")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if c.Storage.CacheCapacity < 1 {
		return fmt.Errorf("cache capacity must be at least 1")
	}

	if !(c.Envelope.Low >= 0 && c.Envelope.Low <= c.Envelope.High && c.Envelope.High <= 1) {
		return fmt.Errorf("envelope quantiles must satisfy 0 <= low <= high <= 1")
	}

	if c.Envelope.Draws < 1 || c.Envelope.Points < 1 || c.Envelope.Workers < 1 {
		return fmt.Errorf("envelope draws, points and workers must be at least 1")
	}

	if !(c.Plot.Fraction > 0 && c.Plot.Fraction <= 1) {
		return fmt.Errorf("plot fraction must be in (0, 1]")
	}

	if c.Plot.MinWeight < 0 {
		return fmt.Errorf("plot minimum weight must not be negative")
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
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
