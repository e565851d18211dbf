package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Bridge   BridgeConfig
	Apple    AppleConfig
	Google   GoogleConfig
	Sentry   SentryConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret    string
	AccessTTL time.Duration
	Issuer    string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL          string
	Password     string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BridgeConfig holds store-bridge configuration
type BridgeConfig struct {
	// Driver selects the store boundary: "store" (Apple + Google) or
	// "memory" (local development).
	Driver string
	// EventBufferSize caps the pre-ready event buffer.
	EventBufferSize int
}

// AppleConfig holds App Store configuration
type AppleConfig struct {
	SharedSecret string
}

// GoogleConfig holds Google Play configuration
type GoogleConfig struct {
	ServiceAccountJSON string
	PackageName        string
}

// SentryConfig holds Sentry configuration
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// .env file is optional for production (env vars are used)
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDatabaseDefaults(&cfg.Database)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server_port", 8080)
	viper.SetDefault("server_read_timeout", 10*time.Second)
	viper.SetDefault("server_write_timeout", 10*time.Second)
	viper.SetDefault("server_shutdown_timeout", 30*time.Second)

	// JWT defaults
	viper.SetDefault("jwt_access_ttl", 15*time.Minute)
	viper.SetDefault("jwt_issuer", "store-bridge")

	// Redis defaults
	viper.SetDefault("redis_pool_size", 10)
	viper.SetDefault("redis_min_idle_conns", 3)
	viper.SetDefault("redis_dial_timeout", 5*time.Second)
	viper.SetDefault("redis_read_timeout", 3*time.Second)
	viper.SetDefault("redis_write_timeout", 3*time.Second)

	// Bridge defaults
	viper.SetDefault("bridge_driver", "store")
	viper.SetDefault("bridge_event_buffer_size", 200)
}

func validate(cfg *Config) error {
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if cfg.Bridge.Driver != "store" && cfg.Bridge.Driver != "memory" {
		return fmt.Errorf("BRIDGE_DRIVER must be 'store' or 'memory'")
	}
	if cfg.Bridge.Driver == "store" {
		if cfg.Apple.SharedSecret == "" {
			return fmt.Errorf("APPLE_SHARED_SECRET is required with the store driver")
		}
		if cfg.Google.ServiceAccountJSON == "" || cfg.Google.PackageName == "" {
			return fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_JSON and GOOGLE_PACKAGE_NAME are required with the store driver")
		}
	}
	return nil
}
