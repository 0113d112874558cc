package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port           int      `mapstructure:"port"`
	LogLevel       string   `mapstructure:"log_level"`
	LogFormat      string   `mapstructure:"log_format"` // "json" or "text"
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	StoreDriver  string `mapstructure:"store_driver"`  // "sqlite" or "postgres"
	DatabasePath string `mapstructure:"database_path"` // sqlite file path
	PostgresDSN  string `mapstructure:"postgres_dsn"`

	MemoryMaxEntries int `mapstructure:"memory_max_entries"` // FIFO bound for the memory tier
	MemoryTTLSec     int `mapstructure:"memory_ttl_sec"`     // 0 = no age-based expiry in memory
	PersistentTTLSec int `mapstructure:"persistent_ttl_sec"` // TTL sweep cutoff for both tiers

	PrefetchWindowMs      int  `mapstructure:"prefetch_window_ms"` // chunk width for background prefetch
	PrefetchChunksMax     int  `mapstructure:"prefetch_chunks_max"`
	PrefetchOnPointLookup bool `mapstructure:"prefetch_on_point_lookup"` // whether entity-at lookups prefetch forward

	CleanupIntervalSec int `mapstructure:"cleanup_interval_sec"` // 0 = no background sweep timer
	WriteQueueSize     int `mapstructure:"write_queue_size"`     // pending live-update batches

	UpstreamBaseURL    string  `mapstructure:"upstream_base_url"`
	UpstreamTimeoutSec int     `mapstructure:"upstream_timeout_sec"`
	UpstreamRatePerSec float64 `mapstructure:"upstream_rate_per_sec"` // 0 = unlimited
	UpstreamBurst      int     `mapstructure:"upstream_burst"`

	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec"` // graceful shutdown wait
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/timeline-cache/")
	viper.AddConfigPath("$HOME/.timeline-cache")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 8080)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "json")
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("store_driver", "sqlite")
	viper.SetDefault("database_path", "./timeline-cache.db")
	viper.SetDefault("postgres_dsn", "")
	viper.SetDefault("memory_max_entries", 1024)
	viper.SetDefault("memory_ttl_sec", 300)
	viper.SetDefault("persistent_ttl_sec", 86400)
	viper.SetDefault("prefetch_window_ms", 300000) // 5 minute chunks
	viper.SetDefault("prefetch_chunks_max", 8)
	viper.SetDefault("prefetch_on_point_lookup", false)
	viper.SetDefault("cleanup_interval_sec", 600)
	viper.SetDefault("write_queue_size", 256)
	viper.SetDefault("upstream_base_url", "http://localhost:9200")
	viper.SetDefault("upstream_timeout_sec", 15)
	viper.SetDefault("upstream_rate_per_sec", 0) // 0 = disabled
	viper.SetDefault("upstream_burst", 0)
	viper.SetDefault("shutdown_timeout_sec", 15)

	// Environment variables
	viper.SetEnvPrefix("TIMELINECACHE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.StoreDriver != "sqlite" && cfg.StoreDriver != "postgres" {
		return nil, fmt.Errorf("unknown store_driver %q", cfg.StoreDriver)
	}
	if cfg.StoreDriver == "postgres" && cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("store_driver postgres requires postgres_dsn")
	}

	return &cfg, nil
}
