package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/txn-classifier/")
	v.AddConfigPath("$HOME/.txn-classifier")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("TXN_CLASSIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Provider defaults
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("embedding.provider", "openai")

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 2048)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-pro")
	v.SetDefault("gemini.embedding_model", "embedding-001")
	v.SetDefault("gemini.max_tokens", 1000)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 0.9)
	v.SetDefault("gemini.max_body_size", 2048)

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-v2")
	v.SetDefault("bedrock.max_tokens", 1000)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 2048)

	// Pipeline defaults
	v.SetDefault("pipeline.min_amount", 100)
	v.SetDefault("pipeline.sim_nonpayment", 0.97)
	v.SetDefault("pipeline.sim_replay", 0.95)
	v.SetDefault("pipeline.sim_confirm", 0.92)
	v.SetDefault("pipeline.sim_ambiguous", 0.80)
	v.SetDefault("pipeline.cluster_sim", 0.95)
	v.SetDefault("pipeline.cluster_merge_sim", 0.70)
	v.SetDefault("pipeline.small_cluster_max", 5)
	v.SetDefault("pipeline.group_min_ratio", 0.8)
	v.SetDefault("pipeline.single_min_ratio", 1.0)
	v.SetDefault("pipeline.max_samples", 3)

	// Rate limit defaults
	v.SetDefault("ratelimit.max_attempts", 3)
	v.SetDefault("ratelimit.base_delay", "500ms")
	v.SetDefault("ratelimit.max_delay", "30s")
	v.SetDefault("ratelimit.batch_chunk", 100)
	v.SetDefault("ratelimit.concurrency", 5)
	v.SetDefault("ratelimit.cooldown", "30m")
	v.SetDefault("ratelimit.cooldown_failures", 2)

	// Pattern store defaults
	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.sqlite_path", "/data/patterns.db")
	v.SetDefault("store.mysql_dsn", "user:password@tcp(localhost:3306)/txn_classifier")
	v.SetDefault("store.stale_days", 30)
	v.SetDefault("store.cleanup_frequency", "6h")

	// Feed defaults
	v.SetDefault("feed.type", "http")
	v.SetDefault("feed.listen_address", "0.0.0.0:8080")
	v.SetDefault("feed.batch_size", 100)
	v.SetDefault("feed.max_batch", 1000)

	// Remote rule pool defaults
	v.SetDefault("remote.enabled", false)
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.ttl", "10m")
	v.SetDefault("remote.timeout", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetInt64 gets an int64 value from the configuration
func (c *Config) GetInt64(key string) int64 {
	return c.v.GetInt64(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
