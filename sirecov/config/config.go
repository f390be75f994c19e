package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/sirecov/sirecov"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned when a loaded value is outside its allowed range.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Store   StoreConfig   `mapstructure:"store"`
	Index   IndexConfig   `mapstructure:"index"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Watch   WatchConfig   `mapstructure:"watch"`
}

// StoreConfig points at the append-only record file.
type StoreConfig struct {
	DataFile string `mapstructure:"dataFile"`
}

// IndexConfig sizes the in-memory index structures.
type IndexConfig struct {
	RangeDegree             int     `mapstructure:"rangeDegree"`
	HashInitialCapacity     int     `mapstructure:"hashInitialCapacity"`
	FilterExpectedItems     int     `mapstructure:"filterExpectedItems"`
	FilterFalsePositiveRate float64 `mapstructure:"filterFalsePositiveRate"`
}

// CacheConfig bounds the result cache.
type CacheConfig struct {
	Capacity      int           `mapstructure:"capacity"`
	DefaultTTL    time.Duration `mapstructure:"defaultTTL"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
	TTL           NamespaceTTLs `mapstructure:"ttl"`
}

// NamespaceTTLs holds the per-query-type expiry used by the query cache.
type NamespaceTTLs struct {
	Country time.Duration `mapstructure:"country"`
	Date    time.Duration `mapstructure:"date"`
	Stats   time.Duration `mapstructure:"stats"`
	Range   time.Duration `mapstructure:"range"`
}

// LoggingConfig controls the zerolog level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// WatchConfig tunes how store writes are coalesced before a sync.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // cache.ttl.country becomes SIRECOV_CACHE_TTL_COUNTRY
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.dataFile", internal.DefaultDataFile)

	v.SetDefault("index.rangeDegree", 3)
	v.SetDefault("index.hashInitialCapacity", 2048)
	v.SetDefault("index.filterExpectedItems", 50000)
	v.SetDefault("index.filterFalsePositiveRate", 0.001)

	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.defaultTTL", 15*time.Minute)
	v.SetDefault("cache.sweepInterval", 5*time.Minute)
	v.SetDefault("cache.ttl.country", 10*time.Minute)
	v.SetDefault("cache.ttl.date", 5*time.Minute)
	v.SetDefault("cache.ttl.stats", 2*time.Minute)
	v.SetDefault("cache.ttl.range", 8*time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("watch.debounce", 200*time.Millisecond)
}

// Validate rejects values the index structures cannot be built with.
func (c *Config) Validate() error {
	switch {
	case c.Store.DataFile == "":
		return fmt.Errorf("%w: store.dataFile cannot be empty", ErrInvalidConfig)
	case c.Index.RangeDegree < 2:
		return fmt.Errorf("%w: index.rangeDegree must be >= 2, got %d", ErrInvalidConfig, c.Index.RangeDegree)
	case c.Index.HashInitialCapacity <= 0:
		return fmt.Errorf("%w: index.hashInitialCapacity must be > 0, got %d", ErrInvalidConfig, c.Index.HashInitialCapacity)
	case c.Index.FilterExpectedItems <= 0:
		return fmt.Errorf("%w: index.filterExpectedItems must be > 0, got %d", ErrInvalidConfig, c.Index.FilterExpectedItems)
	case c.Index.FilterFalsePositiveRate <= 0 || c.Index.FilterFalsePositiveRate >= 1:
		return fmt.Errorf("%w: index.filterFalsePositiveRate must be in (0,1), got %g", ErrInvalidConfig, c.Index.FilterFalsePositiveRate)
	case c.Cache.Capacity <= 0:
		return fmt.Errorf("%w: cache.capacity must be > 0, got %d", ErrInvalidConfig, c.Cache.Capacity)
	case c.Cache.SweepInterval <= 0:
		return fmt.Errorf("%w: cache.sweepInterval must be > 0, got %s", ErrInvalidConfig, c.Cache.SweepInterval)
	case c.Watch.Debounce < 0:
		return fmt.Errorf("%w: watch.debounce must be >= 0, got %s", ErrInvalidConfig, c.Watch.Debounce)
	}
	return nil
}
