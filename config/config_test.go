package config

import (
	"os"
	"testing"
)

func TestFromEnvAppliesOverrides(t *testing.T) {
	t.Setenv("SANDBOXEXEC_MAX_MEMORY_MB", "256")
	t.Setenv("SANDBOXEXEC_MAX_CONCURRENT_STREAMS", "10")
	t.Setenv("SANDBOXEXEC_LOG_LEVEL", "debug")
	os.Unsetenv("COMMAND_ALLOWLIST_FILE")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.ResourceLimits.MaxMemoryMB != 256 {
		t.Errorf("MaxMemoryMB = %d, want 256", cfg.ResourceLimits.MaxMemoryMB)
	}
	if cfg.Pool.MaxConcurrentStreams != 10 {
		t.Errorf("MaxConcurrentStreams = %d, want 10", cfg.Pool.MaxConcurrentStreams)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestFromEnvRejectsBadAllowlistPath(t *testing.T) {
	t.Setenv("COMMAND_ALLOWLIST_FILE", "/nonexistent/allowlist.json")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected a missing allowlist file to be rejected")
	}
}

func TestValidateRejectsZeroMemory(t *testing.T) {
	cfg := Default()
	cfg.ResourceLimits.MaxMemoryMB = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected zero memory limit to be rejected")
	}
}

func TestValidateRejectsNonPositiveConcurrency(t *testing.T) {
	cfg := Default()
	cfg.Pool.MaxConcurrentStreams = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected zero concurrency cap to be rejected")
	}
}
