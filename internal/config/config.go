package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	APIBaseURL  string `mapstructure:"API_BASE_URL"`
	APIToken    string `mapstructure:"API_TOKEN"`
	PostgresURL string `mapstructure:"POSTGRES_URL"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	ServerPort  string `mapstructure:"SERVER_PORT"`

	RequestsPerPeriod     int `mapstructure:"REQUESTS_PER_PERIOD"`
	PeriodSeconds         int `mapstructure:"PERIOD_SECONDS"`
	MaxConcurrentRequests int `mapstructure:"MAX_CONCURRENT_REQUESTS"`
	HTTPTimeoutSeconds    int `mapstructure:"HTTP_TIMEOUT_SECONDS"`

	DiscoveryIntervalSeconds int     `mapstructure:"DISCOVERY_INTERVAL_SECONDS"`
	ScrapeIntervalSeconds    int     `mapstructure:"SCRAPE_INTERVAL_SECONDS"`
	MaxTrackedMatches        int     `mapstructure:"MAX_TRACKED_MATCHES"`
	MinImportance            float64 `mapstructure:"MIN_IMPORTANCE"`

	BreakerFailureThreshold    int `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	BreakerResetTimeoutSeconds int `mapstructure:"BREAKER_RESET_TIMEOUT_SECONDS"`

	CacheTTLLiveSeconds      int `mapstructure:"CACHE_TTL_LIVE_SECONDS"`
	CacheTTLFinishedSeconds  int `mapstructure:"CACHE_TTL_FINISHED_SECONDS"`
	CacheTTLDiscoverySeconds int `mapstructure:"CACHE_TTL_DISCOVERY_SECONDS"`

	// VolatileFields lists JSON field names stripped before content
	// fingerprinting, comma-separated. Coupled to the upstream schema, so
	// it is configuration rather than a constant.
	VolatileFields string `mapstructure:"VOLATILE_FIELDS"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present.
	// This allows configuration purely through environment variables in production.
	_ = viper.ReadInConfig()

	viper.SetDefault("API_BASE_URL", "https://api.example-sports.com/v1")
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REQUESTS_PER_PERIOD", 30)
	viper.SetDefault("PERIOD_SECONDS", 60)
	viper.SetDefault("MAX_CONCURRENT_REQUESTS", 5)
	viper.SetDefault("HTTP_TIMEOUT_SECONDS", 15)
	viper.SetDefault("DISCOVERY_INTERVAL_SECONDS", 300)
	viper.SetDefault("SCRAPE_INTERVAL_SECONDS", 60)
	viper.SetDefault("MAX_TRACKED_MATCHES", 50)
	viper.SetDefault("MIN_IMPORTANCE", 0.0)
	viper.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	viper.SetDefault("BREAKER_RESET_TIMEOUT_SECONDS", 60)
	viper.SetDefault("CACHE_TTL_LIVE_SECONDS", 30)
	viper.SetDefault("CACHE_TTL_FINISHED_SECONDS", 3600)
	viper.SetDefault("CACHE_TTL_DISCOVERY_SECONDS", 30)
	viper.SetDefault("VOLATILE_FIELDS", "timestamp,updated_at,retrieved_at,server_time,request_id")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Period returns the throttler window length.
func (c *Config) Period() time.Duration {
	return time.Duration(c.PeriodSeconds) * time.Second
}

// DiscoveryInterval returns how often discovery runs.
func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.DiscoveryIntervalSeconds) * time.Second
}

// ScrapeInterval returns the sleep between poll cycles.
func (c *Config) ScrapeInterval() time.Duration {
	return time.Duration(c.ScrapeIntervalSeconds) * time.Second
}

// BreakerResetTimeout returns the breaker cooldown.
func (c *Config) BreakerResetTimeout() time.Duration {
	return time.Duration(c.BreakerResetTimeoutSeconds) * time.Second
}

// VolatileFieldList splits VolatileFields into trimmed, non-empty names.
func (c *Config) VolatileFieldList() []string {
	parts := strings.Split(c.VolatileFields, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
