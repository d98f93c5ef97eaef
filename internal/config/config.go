package config

import (
	"fmt"
	"time"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`

	StoreDriver  string `mapstructure:"store_driver" yaml:"store_driver"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	BadgerDir    string `mapstructure:"badger_dir" yaml:"badger_dir"`

	MaxMessageBytes    int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	SendBuffer         int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	PingInterval       time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PingTimeout        time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	AllowedOrigins     []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTRequired bool          `mapstructure:"jwt_required" yaml:"jwt_required"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		StoreDriver:        StoreSQLite,
		DatabasePath:       "relaychat.db",
		BadgerDir:          "relaychat-badger",
		MaxMessageBytes:    1 << 20,
		SendBuffer:         32,
		PingInterval:       25 * time.Second,
		PingTimeout:        60 * time.Second,
		RateLimitPerMinute: 0,
		JWTTTL:             24 * time.Hour,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.StoreDriver != "" {
		c.StoreDriver = other.StoreDriver
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.BadgerDir != "" {
		c.BadgerDir = other.BadgerDir
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.SendBuffer != 0 {
		c.SendBuffer = other.SendBuffer
	}
	if other.PingInterval != 0 {
		c.PingInterval = other.PingInterval
	}
	if other.PingTimeout != 0 {
		c.PingTimeout = other.PingTimeout
	}
	if other.RateLimitPerMinute != 0 {
		c.RateLimitPerMinute = other.RateLimitPerMinute
	}
	if len(other.AllowedOrigins) > 0 {
		c.AllowedOrigins = other.AllowedOrigins
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.JWTRequired {
		c.JWTRequired = true
	}
	if other.JWTTTL != 0 {
		c.JWTTTL = other.JWTTTL
	}
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreSQLite:
		if c.DatabasePath == "" {
			return fmt.Errorf("database_path is required for store_driver %q", c.StoreDriver)
		}
	case StoreBadger:
	default:
		return fmt.Errorf("unknown store_driver %q", c.StoreDriver)
	}
	if c.JWTRequired && c.JWTSecret == "" {
		return fmt.Errorf("jwt_required needs jwt_secret")
	}
	if c.MaxMessageBytes < 0 || c.SendBuffer < 0 || c.RateLimitPerMinute < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}
