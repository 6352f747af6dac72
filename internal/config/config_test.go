package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MainLoopSleepTime != 20*time.Millisecond {
		t.Fatalf("sleep=%v", cfg.MainLoopSleepTime)
	}
	if cfg.LimitReachedMessage == "" {
		t.Fatal("expected default limit message")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VHUB_HARD_TURN_LIMIT", "49")
	t.Setenv("VHUB_WAIT_TIME_BEFORE_CALLING_BACK", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HardTurnLimit != 49 || cfg.WaitTimeBeforeCallingBack != 5*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoad_FilesOverrideInOrder(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "default.env")
	local := filepath.Join(dir, "local.env")
	if err := os.WriteFile(base, []byte("VHUB_LAST_PERIOD_MAX_NUM_CALLS=10\nVHUB_BLACKLIST_FOR=1h\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("VHUB_LAST_PERIOD_MAX_NUM_CALLS=3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		os.Unsetenv("VHUB_LAST_PERIOD_MAX_NUM_CALLS")
		os.Unsetenv("VHUB_BLACKLIST_FOR")
	})

	cfg, err := Load(base, local)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LastPeriodMaxNumCalls != 3 || cfg.BlacklistFor != time.Hour {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err=%v, want ConfigurationError", err)
	}
}

func TestLoad_BadValue(t *testing.T) {
	t.Setenv("VHUB_HARD_TIME_LIMIT", "soon")
	_, err := Load()
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err=%v, want ConfigurationError", err)
	}
}

func TestValidate_OutOfRange(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	bad := cfg
	bad.MainLoopSleepTime = 0
	assertConfigError(t, bad.Validate(), "VHUB_MAIN_LOOP_SLEEP_TIME")

	bad = cfg
	bad.HardTurnLimit = -1
	assertConfigError(t, bad.Validate(), "VHUB_HARD_TURN_LIMIT")

	bad = cfg
	bad.LimitReachedMessage = " "
	assertConfigError(t, bad.Validate(), "VHUB_LIMIT_REACHED_MESSAGE")
}

func assertConfigError(t *testing.T, err error, option string) {
	t.Helper()
	var cerr *ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err=%v, want ConfigurationError", err)
	}
	if cerr.Option != option {
		t.Fatalf("option=%q, want %q", cerr.Option, option)
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := Config{LogLevel: "debug"}
	if cfg.SlogLevel().String() != "DEBUG" {
		t.Fatalf("level=%v", cfg.SlogLevel())
	}
	cfg.LogLevel = "loud"
	if cfg.SlogLevel().String() != "INFO" {
		t.Fatalf("level=%v", cfg.SlogLevel())
	}
}
