package config

import (
	"os"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.AssignmentPollInterval.Std() != 15*time.Second {
		t.Fatalf("assignment poll interval = %v, want 15s", cfg.AssignmentPollInterval.Std())
	}
	if cfg.RevealDelay.Std() != 60*time.Second {
		t.Fatalf("reveal delay = %v, want 60s", cfg.RevealDelay.Std())
	}
	if cfg.AnchorInterval.Std() != 6*time.Hour {
		t.Fatalf("anchor interval = %v, want 6h", cfg.AnchorInterval.Std())
	}
	if cfg.WatchdogFailureThreshold != 3 {
		t.Fatalf("watchdog failure threshold = %d, want 3", cfg.WatchdogFailureThreshold)
	}
	if cfg.ValidatorMinConfidence != 0.5 {
		t.Fatalf("validator min confidence = %v, want 0.5", cfg.ValidatorMinConfidence)
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("AGIA_JOB_REGISTRY_ADDR", "0xRegistry")
	t.Setenv("AGIA_ASSIGNMENT_POLL_INTERVAL", "5s")
	t.Setenv("AGIA_WATCHDOG_FAILURE_THRESHOLD", "7")
	t.Setenv("AGIA_SKIP_ENS", "true")

	cfg := LoadFromEnv()
	if cfg.JobRegistryAddr != "0xRegistry" {
		t.Fatalf("job registry addr = %q, want 0xRegistry", cfg.JobRegistryAddr)
	}
	if cfg.AssignmentPollInterval.Std() != 5*time.Second {
		t.Fatalf("assignment poll interval = %v, want 5s", cfg.AssignmentPollInterval.Std())
	}
	if cfg.WatchdogFailureThreshold != 7 {
		t.Fatalf("watchdog failure threshold = %d, want 7", cfg.WatchdogFailureThreshold)
	}
	if !cfg.SkipENS {
		t.Fatalf("skip ens = false, want true")
	}
}

func TestLoadFromFileThenEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.json"
	cfg := Default()
	cfg.JobRegistryAddr = "0xFromFile"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	t.Setenv("AGIA_JOB_REGISTRY_ADDR", "0xFromEnv")
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.JobRegistryAddr != "0xFromEnv" {
		t.Fatalf("job registry addr = %q, want env to win over file", loaded.JobRegistryAddr)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.json"); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := os.Stat("/nonexistent/path/config.json"); err == nil {
		t.Fatalf("test precondition violated: file unexpectedly exists")
	}
}
