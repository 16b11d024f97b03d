package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration for the relay process
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Gainers  GainersConfig  `mapstructure:"gainers"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

type AppConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // e.g., "local", "prod"
}

type UpstreamConfig struct {
	WSURL          string        `mapstructure:"ws_url"`
	APIBase        string        `mapstructure:"api_base"`
	APIKey         string        `mapstructure:"api_key"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type GainersConfig struct {
	MaxResults    int           `mapstructure:"max_results"`
	MaxWalkBack   int           `mapstructure:"max_walk_back"`
	EnrichWorkers int           `mapstructure:"enrich_workers"`
	EnrichTTL     time.Duration `mapstructure:"enrich_ttl"`
}

type CacheConfig struct {
	Capacity   int           `mapstructure:"capacity"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LoggerConfig struct {
	Level string `mapstructure:"level"` // "debug", "info", "warn", "error"
}

// LoadConfig reads configuration from .env file, environment variables, and defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// Load .env into the process environment first (if it exists) so the
	// variables below are visible to AutomaticEnv
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, relying on System Env Vars")
	}

	v.SetDefault("app.port", ":8080")
	v.SetDefault("app.env", "local")

	v.SetDefault("upstream.ws_url", "wss://socket.polygon.io/stocks")
	v.SetDefault("upstream.api_base", "https://api.polygon.io")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.reconnect_delay", 2*time.Second)
	v.SetDefault("upstream.dial_timeout", 10*time.Second)
	v.SetDefault("upstream.request_timeout", 12*time.Second)

	v.SetDefault("gainers.max_results", 200)
	v.SetDefault("gainers.max_walk_back", 5)
	v.SetDefault("gainers.enrich_workers", 6)
	v.SetDefault("gainers.enrich_ttl", 24*time.Hour)

	v.SetDefault("cache.capacity", 1024)
	v.SetDefault("cache.default_ttl", 5*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "market_frames")

	v.SetDefault("logger.level", "info")

	// Map dot-notation keys to underscore env vars (e.g. "upstream.api_key" -> UPSTREAM_API_KEY)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Viper needs explicit binds to map flat env vars onto nested structs
	bindEnv(v, "app.port", "app.env")
	bindEnv(v, "upstream.ws_url", "upstream.api_base", "upstream.api_key",
		"upstream.reconnect_delay", "upstream.dial_timeout", "upstream.request_timeout")
	bindEnv(v, "gainers.max_results", "gainers.max_walk_back", "gainers.enrich_workers", "gainers.enrich_ttl")
	bindEnv(v, "cache.capacity", "cache.default_ttl")
	bindEnv(v, "redis.enabled", "redis.addr", "redis.password", "redis.db")
	bindEnv(v, "kafka.enabled", "kafka.brokers", "kafka.topic")
	bindEnv(v, "logger.level")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %v", err)
	}

	if cfg.Gainers.MaxResults <= 0 {
		return nil, fmt.Errorf("gainers.max_results must be positive")
	}
	if cfg.Gainers.MaxWalkBack <= 0 {
		return nil, fmt.Errorf("gainers.max_walk_back must be positive")
	}
	if cfg.Cache.Capacity <= 0 {
		return nil, fmt.Errorf("cache.capacity must be positive")
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty when kafka is enabled")
	}

	return &cfg, nil
}

// NewLogger builds a zap logger honoring the configured level and environment.
func NewLogger(cfg LoggerConfig, env string) (*zap.Logger, error) {
	var zc zap.Config
	if env == "prod" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zc.Level = level

	return zc.Build()
}

// bindEnv is a helper to bind multiple keys at once
func bindEnv(v *viper.Viper, keys ...string) {
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			log.Printf("Could not bind env var for key %s: %v", key, err)
		}
	}
}
