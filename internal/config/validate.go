package config

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Validate checks the loaded values. Load calls it automatically.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret))
	}
	if c.Storage.Secret == "" {
		c.Storage.Secret = c.Auth.JWTSecret
	}
	if c.Storage.MaxFileMB <= 0 {
		return fmt.Errorf("storage.max_file_mb must be > 0 (got %d)", c.Storage.MaxFileMB)
	}
	if c.Storage.MaxTotalMB < c.Storage.MaxFileMB {
		return fmt.Errorf("storage.max_total_mb (%d) must be >= max_file_mb (%d)", c.Storage.MaxTotalMB, c.Storage.MaxFileMB)
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit: rps and burst must be > 0")
	}
	if c.Jobs.Concurrency <= 0 {
		return fmt.Errorf("jobs.concurrency must be > 0 (got %d)", c.Jobs.Concurrency)
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database.min_conns (%d) exceeds max_conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Calendar.TimeZone == "" {
		return fmt.Errorf("calendar.time_zone must be set")
	}
	if _, err := c.Calendar.Location(); err != nil {
		return fmt.Errorf("calendar.time_zone: %w", err)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// ZapLevel returns the configured log level. Validate has already checked it.
func (l LogConfig) ZapLevel() zapcore.Level {
	lvl, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
