// Package config loads client options from a YAML file and QUERYKIT_*
// environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dan-strohschein/querykit/client"
)

// File is the on-disk configuration. Zero fields keep the client defaults.
type File struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`

	Pool   PoolConfig   `yaml:"pool"`
	Cache  CacheConfig  `yaml:"cache"`
	Retry  RetryConfig  `yaml:"retry"`
	Health HealthConfig `yaml:"health"`

	Logging    LoggingConfig    `yaml:"logging"`
	Timestamps TimestampsConfig `yaml:"timestamps"`
	PrimaryKey string           `yaml:"primary_key,omitempty"`
	Debug      bool             `yaml:"debug,omitempty"`
}

type PoolConfig struct {
	MinIdle     int           `yaml:"min_idle,omitempty"`
	MaxOpen     int           `yaml:"max_open,omitempty"`
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`
	// QueuePolicy is "wait" or "fail-fast".
	QueuePolicy string `yaml:"queue_policy,omitempty"`
	QueueLimit  int    `yaml:"queue_limit,omitempty"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	TTL        time.Duration `yaml:"ttl,omitempty"`
	MaxEntries int           `yaml:"max_entries,omitempty"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts,omitempty"`
	Delay    time.Duration `yaml:"delay,omitempty"`
}

type HealthConfig struct {
	Interval         time.Duration `yaml:"interval,omitempty"`
	FailureThreshold int           `yaml:"failure_threshold,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	// QueryLog records executed statements in the client's query log.
	QueryLog bool `yaml:"query_log,omitempty"`
}

type TimestampsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	CreatedAt string `yaml:"created_at,omitempty"`
	UpdatedAt string `yaml:"updated_at,omitempty"`
}

// Load reads path, applies environment overrides and returns client options.
// An empty path skips the file.
func Load(path string) (client.Options, error) {
	var f File
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return client.Options{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &f); err != nil {
			return client.Options{}, err
		}
	}
	if err := applyEnv(&f, os.LookupEnv); err != nil {
		return client.Options{}, err
	}
	return f.Options()
}

// Parse decodes YAML into f, rejecting unknown keys.
func Parse(data []byte, f *File) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil {
		// An empty document is a valid, empty config.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Options converts the file into client options on top of the defaults.
func (f File) Options() (client.Options, error) {
	o := client.DefaultOptions()

	setString(&o.DriverName, f.Driver)
	setString(&o.DSN, f.DSN)
	setString(&o.Host, f.Host)
	setInt(&o.Port, f.Port)
	setString(&o.User, f.User)
	setString(&o.Password, f.Password)
	setString(&o.Database, f.Database)

	setInt(&o.PoolMinIdle, f.Pool.MinIdle)
	setInt(&o.PoolMaxOpen, f.Pool.MaxOpen)
	setDuration(&o.PoolIdleTimeout, f.Pool.IdleTimeout)
	setInt(&o.QueueLimit, f.Pool.QueueLimit)
	switch strings.ToLower(f.Pool.QueuePolicy) {
	case "", "wait":
		o.QueuePolicy = client.QueueWait
	case "fail-fast", "failfast":
		o.QueuePolicy = client.QueueFailFast
	default:
		return client.Options{}, fmt.Errorf("invalid pool.queue_policy %q: must be wait or fail-fast", f.Pool.QueuePolicy)
	}

	o.CacheEnabled = f.Cache.Enabled
	setDuration(&o.CacheTTL, f.Cache.TTL)
	setInt(&o.CacheMaxEntries, f.Cache.MaxEntries)

	setInt(&o.RetryAttempts, f.Retry.Attempts)
	setDuration(&o.RetryDelay, f.Retry.Delay)

	setDuration(&o.HealthCheckInterval, f.Health.Interval)
	setInt(&o.HealthFailureThreshold, f.Health.FailureThreshold)

	setString(&o.LogLevel, strings.ToUpper(f.Logging.Level))
	o.LoggingEnabled = f.Logging.QueryLog

	o.TimestampsEnabled = f.Timestamps.Enabled
	setString(&o.CreatedAtColumn, f.Timestamps.CreatedAt)
	setString(&o.UpdatedAtColumn, f.Timestamps.UpdatedAt)
	setString(&o.PrimaryKey, f.PrimaryKey)
	o.DebugMode = f.Debug

	return o, nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides file values with QUERYKIT_* variables.
func applyEnv(f *File, lookup lookupFunc) error {
	strs := map[string]*string{
		"QUERYKIT_DRIVER":    &f.Driver,
		"QUERYKIT_DSN":       &f.DSN,
		"QUERYKIT_HOST":      &f.Host,
		"QUERYKIT_USER":      &f.User,
		"QUERYKIT_PASSWORD":  &f.Password,
		"QUERYKIT_DATABASE":  &f.Database,
		"QUERYKIT_LOG_LEVEL": &f.Logging.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	if v, ok := lookup("QUERYKIT_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid QUERYKIT_PORT %q: %w", v, err)
		}
		f.Port = port
	}
	if v, ok := lookup("QUERYKIT_CACHE_ENABLED"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid QUERYKIT_CACHE_ENABLED %q: %w", v, err)
		}
		f.Cache.Enabled = enabled
	}
	if v, ok := lookup("QUERYKIT_DEBUG"); ok {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid QUERYKIT_DEBUG %q: %w", v, err)
		}
		f.Debug = debug
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
