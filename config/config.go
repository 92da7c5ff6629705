// Package config resolves the sandbox execution service's startup
// configuration from environment variables, validating it before the
// server begins serving requests.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"sandboxexec/pool"
	"sandboxexec/security"
)

// Config is the fully resolved, validated startup configuration.
type Config struct {
	// Socket is a Unix domain socket path to listen on; empty means serve
	// over stdin/stdout.
	Socket string

	// CommandAllowlistFile optionally points at a JSON array of command
	// names, live-reloaded via fsnotify; empty uses the built-in default.
	CommandAllowlistFile string

	LogLevel  string
	LogFormat string
	LogFile   string

	ResourceLimits security.ResourceLimits
	Pool           pool.Config
}

// Default returns the baseline configuration before environment overrides.
func Default() Config {
	return Config{
		LogLevel:       "info",
		LogFormat:      "text",
		ResourceLimits: security.DefaultResourceLimits(),
		Pool:           pool.DefaultConfig(),
	}
}

// FromEnv resolves a Config from the process environment, starting from
// Default and overriding any field whose environment variable is set.
func FromEnv() (Config, error) {
	cfg := Default()

	cfg.Socket = os.Getenv("SANDBOXEXEC_SOCKET")
	cfg.CommandAllowlistFile = os.Getenv("COMMAND_ALLOWLIST_FILE")

	if v := os.Getenv("SANDBOXEXEC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SANDBOXEXEC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	cfg.LogFile = os.Getenv("SANDBOXEXEC_LOG_FILE")

	if err := overrideUint64(&cfg.ResourceLimits.MaxMemoryMB, "SANDBOXEXEC_MAX_MEMORY_MB"); err != nil {
		return cfg, err
	}
	if err := overrideUint64(&cfg.ResourceLimits.MaxCPUTimeMS, "SANDBOXEXEC_MAX_CPU_TIME_MS"); err != nil {
		return cfg, err
	}
	if err := overrideUint32(&cfg.ResourceLimits.MaxFileHandles, "SANDBOXEXEC_MAX_FILE_HANDLES"); err != nil {
		return cfg, err
	}

	if v := os.Getenv("SANDBOXEXEC_MAX_CONCURRENT_STREAMS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("SANDBOXEXEC_MAX_CONCURRENT_STREAMS: %w", err)
		}
		cfg.Pool.MaxConcurrentStreams = n
	}
	if v := os.Getenv("SANDBOXEXEC_MAX_WAIT_TIME_MS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("SANDBOXEXEC_MAX_WAIT_TIME_MS: %w", err)
		}
		cfg.Pool.MaxWaitTime = time.Duration(n) * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects a configuration with nonsensical limits before the
// server starts accepting requests.
func (c Config) Validate() error {
	if c.ResourceLimits.MaxMemoryMB == 0 {
		return fmt.Errorf("max memory limit must be non-zero")
	}
	if c.Pool.MaxConcurrentStreams <= 0 {
		return fmt.Errorf("max concurrent streams must be positive")
	}
	if c.CommandAllowlistFile != "" {
		if _, err := os.Stat(c.CommandAllowlistFile); err != nil {
			return fmt.Errorf("command allowlist file: %w", err)
		}
	}
	return nil
}

func overrideUint64(field *uint64, envVar string) error {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", envVar, err)
	}
	*field = n
	return nil
}

func overrideUint32(field *uint32, envVar string) error {
	v := os.Getenv(envVar)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return fmt.Errorf("%s: %w", envVar, err)
	}
	*field = uint32(n)
	return nil
}
