package config

import (
	"errors"
	"fmt"
	"time"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	// Room names the single room this process coordinates.
	Room             string   `mapstructure:"room" yaml:"room"`
	SendBuffer       int      `mapstructure:"send_buffer" yaml:"send_buffer"`
	MaxChannels      int      `mapstructure:"max_channels" yaml:"max_channels"`
	InboundRateLimit int      `mapstructure:"inbound_rate_limit" yaml:"inbound_rate_limit"`
	AllowedOrigins   []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`

	StorageDriver       string        `mapstructure:"storage_driver" yaml:"storage_driver"`
	DatabasePath        string        `mapstructure:"database_path" yaml:"database_path"`
	BadgerPath          string        `mapstructure:"badger_path" yaml:"badger_path"`
	StorageTimeout      time.Duration `mapstructure:"storage_timeout" yaml:"storage_timeout"`
	StorageRetries      int           `mapstructure:"storage_retries" yaml:"storage_retries"`
	StorageRetryBackoff time.Duration `mapstructure:"storage_retry_backoff" yaml:"storage_retry_backoff"`

	AdminUser         string `mapstructure:"admin_user" yaml:"admin_user"`
	AdminPassword     string `mapstructure:"admin_password" yaml:"admin_password"`
	AdminPasswordHash string `mapstructure:"admin_password_hash" yaml:"admin_password_hash"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                ":8080",
		ReadHeaderTimeout:   5 * time.Second,
		ShutdownTimeout:     5 * time.Second,
		LogLevel:            "info",
		Room:                "A",
		SendBuffer:          16,
		MaxChannels:         64,
		InboundRateLimit:    120,
		StorageDriver:       DriverSQLite,
		DatabasePath:        "pulse.db",
		BadgerPath:          "pulse-badger",
		StorageTimeout:      5 * time.Second,
		StorageRetries:      2,
		StorageRetryBackoff: 100 * time.Millisecond,
		AdminUser:           "admin",
	}
}

// Validate reports configuration values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.ReadHeaderTimeout <= 0 {
		errs = append(errs, errors.New("read_header_timeout must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if c.Room == "" {
		errs = append(errs, errors.New("room is required"))
	}
	switch c.StorageDriver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("database_path is required for sqlite"))
		}
	case DriverBadger:
		if c.BadgerPath == "" {
			errs = append(errs, errors.New("badger_path is required for badger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage_driver %q", c.StorageDriver))
	}
	if c.StorageTimeout <= 0 {
		errs = append(errs, errors.New("storage_timeout must be positive"))
	}
	if c.StorageRetries < 0 {
		errs = append(errs, errors.New("storage_retries must not be negative"))
	}
	if c.MaxChannels <= 0 {
		errs = append(errs, errors.New("max_channels must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	return errors.Join(errs...)
}
