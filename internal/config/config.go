package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Broker   Broker   `mapstructure:"broker"`
	Pipeline Pipeline `mapstructure:"pipeline"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Redis    Redis    `mapstructure:"redis"`
}

// Broker holds the configuration for the brokerage REST API.
type Broker struct {
	BaseURL        string  `mapstructure:"base_url"`
	ApiKey         string  `mapstructure:"apiKey"`
	SecretKey      string  `mapstructure:"secretKey"`
	TimeoutMs      int     `mapstructure:"timeout_ms"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Server holds the configuration for the HTTP API server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Redis holds the configuration for the Redis connection used by the
// distributed lock and the execution queue.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Pipeline holds the knobs of the order execution pipeline.
type Pipeline struct {
	// Duplicate guard.
	LockTTLMs        int `mapstructure:"lock_ttl_ms"`
	LockRetries      int `mapstructure:"lock_retries"`
	LockRetryDelayMs int `mapstructure:"lock_retry_delay_ms"`
	DedupeWindowMs   int `mapstructure:"dedupe_window_ms"`

	// Retry controller.
	MaxRetries       int `mapstructure:"max_retries"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms"`

	// Age after which non-terminal trades are swept into EXPIRED.
	StaleAfterMs int `mapstructure:"stale_after_ms"`

	// Execution workers.
	WorkerCount int `mapstructure:"worker_count"`
	// DryRun swaps the REST broker for the in-process simulator.
	DryRun       bool    `mapstructure:"dry_run"`
	SimFillPrice float64 `mapstructure:"sim_fill_price"`

	// Instruments made tradable at startup.
	Instruments []string `mapstructure:"instruments"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("broker.timeout_ms", 10000)
	viper.SetDefault("broker.rate_limit", 20)      // requests per second
	viper.SetDefault("broker.rate_limit_burst", 5) // burst size
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("pipeline.lock_ttl_ms", 30000)
	viper.SetDefault("pipeline.lock_retries", 10)
	viper.SetDefault("pipeline.lock_retry_delay_ms", 100)
	viper.SetDefault("pipeline.dedupe_window_ms", 5000)
	viper.SetDefault("pipeline.max_retries", 3)
	viper.SetDefault("pipeline.retry_base_delay_ms", 1000)
	viper.SetDefault("pipeline.stale_after_ms", 86400000) // 24 hours
	viper.SetDefault("pipeline.worker_count", 4)
	viper.SetDefault("pipeline.sim_fill_price", 100)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
