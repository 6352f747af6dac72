package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Prefix is prepended to every environment variable name.
const Prefix = "VHUB_"

// Config holds every option the hub recognizes.
type Config struct {
	MainLoopSleepTime time.Duration `env:"MAIN_LOOP_SLEEP_TIME" envDefault:"20ms"`
	PIDFilePath       string        `env:"PID_FILE_PATH" envDefault:"vhub.pid"`

	CallDBPath   string        `env:"CALL_DB_PATH" envDefault:"call_db.sqlite"`
	CallDBPeriod time.Duration `env:"CALL_DB_PERIOD" envDefault:"24h"`

	WaitTimeBeforeCallingBack time.Duration `env:"WAIT_TIME_BEFORE_CALLING_BACK" envDefault:"10s"`
	LastPeriodMaxNumCalls     int           `env:"LAST_PERIOD_MAX_NUM_CALLS" envDefault:"100"`
	LastPeriodMaxTotalTime    time.Duration `env:"LAST_PERIOD_MAX_TOTAL_TIME" envDefault:"3h"`
	LimitReachedMessage       string        `env:"LIMIT_REACHED_MESSAGE" envDefault:"Thank you for calling. You have reached the call limit for today, please call again later."`
	BlacklistFor              time.Duration `env:"BLACKLIST_FOR" envDefault:"12h"`

	HardTimeLimit time.Duration `env:"HARD_TIME_LIMIT" envDefault:"15m"`
	HardTurnLimit int           `env:"HARD_TURN_LIMIT" envDefault:"120"`

	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8090"`
	MonitorMaxSubs int    `env:"MONITOR_MAX_SUBSCRIBERS" envDefault:"16"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads the dotenv files in order, later files overriding earlier ones
// and the process environment, then parses and validates the result.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Overload(f); err != nil {
			return Config{}, &ConfigurationError{Option: f, Reason: "read config file", Cause: err}
		}
		slog.Debug("config file loaded", "path", f)
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, &ConfigurationError{Reason: "parse env", Cause: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that every option is present and in range.
func (c Config) Validate() error {
	positive := []struct {
		name string
		val  time.Duration
	}{
		{"MAIN_LOOP_SLEEP_TIME", c.MainLoopSleepTime},
		{"CALL_DB_PERIOD", c.CallDBPeriod},
		{"LAST_PERIOD_MAX_TOTAL_TIME", c.LastPeriodMaxTotalTime},
		{"BLACKLIST_FOR", c.BlacklistFor},
		{"HARD_TIME_LIMIT", c.HardTimeLimit},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return &ConfigurationError{Option: Prefix + p.name, Reason: fmt.Sprintf("must be positive, got %v", p.val)}
		}
	}
	if c.WaitTimeBeforeCallingBack < 0 {
		return &ConfigurationError{Option: Prefix + "WAIT_TIME_BEFORE_CALLING_BACK", Reason: "must not be negative"}
	}
	if c.LastPeriodMaxNumCalls < 0 {
		return &ConfigurationError{Option: Prefix + "LAST_PERIOD_MAX_NUM_CALLS", Reason: "must not be negative"}
	}
	if c.HardTurnLimit < 0 {
		return &ConfigurationError{Option: Prefix + "HARD_TURN_LIMIT", Reason: "must not be negative"}
	}

	required := map[string]string{
		"PID_FILE_PATH":         c.PIDFilePath,
		"CALL_DB_PATH":          c.CallDBPath,
		"LIMIT_REACHED_MESSAGE": c.LimitReachedMessage,
	}
	for name, val := range required {
		if strings.TrimSpace(val) == "" {
			return &ConfigurationError{Option: Prefix + name, Reason: "required"}
		}
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ConfigurationError reports a missing or out-of-range option.
type ConfigurationError struct {
	Option string
	Reason string
	Cause  error
}

func (e *ConfigurationError) Error() string {
	msg := "config"
	if e.Option != "" {
		msg += " " + e.Option
	}
	msg += ": " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }
