package config

import (
	"time"
)

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MinConnections int
	MaxLifetime    time.Duration
	MaxIdleTime    time.Duration
	HealthCheck    time.Duration
}

// DefaultDatabaseConfig returns default database configuration
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		MaxConnections: 25,
		MinConnections: 5,
		MaxLifetime:    1 * time.Hour,
		MaxIdleTime:    30 * time.Minute,
		HealthCheck:    30 * time.Second,
	}
}

// applyDatabaseDefaults fills unset pool tuning fields. A zero
// max-connections pool cannot serve any query, so none of these may stay
// zero after loading.
func applyDatabaseDefaults(cfg *DatabaseConfig) {
	def := DefaultDatabaseConfig()
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = def.MaxConnections
	}
	if cfg.MinConnections <= 0 {
		cfg.MinConnections = def.MinConnections
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = def.MaxLifetime
	}
	if cfg.MaxIdleTime <= 0 {
		cfg.MaxIdleTime = def.MaxIdleTime
	}
	if cfg.HealthCheck <= 0 {
		cfg.HealthCheck = def.HealthCheck
	}
}
