package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const EnvConfigFile = "CANVAS_CONFIG"

// Config is resolved in order: built-in defaults, the YAML file named by
// CANVAS_CONFIG, then environment variables. CLI flags are applied last by
// the caller.
type Config struct {
	Addr            string        `env:"CANVAS_ADDR" envDefault:"127.0.0.1:7420" yaml:"addr"`
	Dir             string        `env:"CANVAS_DIR" yaml:"dir"`
	LogLevel        string        `env:"CANVAS_LOG_LEVEL" envDefault:"info" yaml:"logLevel"`
	UndoCapacity    int           `env:"CANVAS_UNDO_CAPACITY" envDefault:"100" yaml:"undoCapacity"`
	ValidateTimeout time.Duration `env:"CANVAS_VALIDATE_TIMEOUT" envDefault:"3s" yaml:"validateTimeout"`
	ConfirmWindow   time.Duration `env:"CANVAS_CONFIRM_WINDOW" envDefault:"1500ms" yaml:"confirmWindow"`
	SaveDebounce    time.Duration `env:"CANVAS_SAVE_DEBOUNCE" envDefault:"500ms" yaml:"saveDebounce"`
	// ClientID names this client's undo history on the server. CLI runs
	// sharing an id share one history.
	ClientID string `env:"CANVAS_CLIENT_ID" envDefault:"cli" yaml:"clientId"`
}

// fileConfig mirrors Config with optional fields so only keys present in
// the file take effect.
type fileConfig struct {
	Addr            *string        `yaml:"addr"`
	Dir             *string        `yaml:"dir"`
	LogLevel        *string        `yaml:"logLevel"`
	UndoCapacity    *int           `yaml:"undoCapacity"`
	ValidateTimeout *time.Duration `yaml:"validateTimeout"`
	ConfirmWindow   *time.Duration `yaml:"confirmWindow"`
	SaveDebounce    *time.Duration `yaml:"saveDebounce"`
	ClientID        *string        `yaml:"clientId"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load resolves the configuration.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if path := strings.TrimSpace(os.Getenv(EnvConfigFile)); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// overlayFile applies the YAML file, except for keys whose environment
// variable is set: the environment wins.
func (c *Config) overlayFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	setString(&c.Addr, fc.Addr, "CANVAS_ADDR")
	setString(&c.Dir, fc.Dir, "CANVAS_DIR")
	setString(&c.LogLevel, fc.LogLevel, "CANVAS_LOG_LEVEL")
	if fc.UndoCapacity != nil && !envSet("CANVAS_UNDO_CAPACITY") {
		c.UndoCapacity = *fc.UndoCapacity
	}
	setDuration(&c.ValidateTimeout, fc.ValidateTimeout, "CANVAS_VALIDATE_TIMEOUT")
	setDuration(&c.ConfirmWindow, fc.ConfirmWindow, "CANVAS_CONFIRM_WINDOW")
	setDuration(&c.SaveDebounce, fc.SaveDebounce, "CANVAS_SAVE_DEBOUNCE")
	setString(&c.ClientID, fc.ClientID, "CANVAS_CLIENT_ID")
	return nil
}

func setString(dst *string, v *string, key string) {
	if v != nil && !envSet(key) {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration, key string) {
	if v != nil && !envSet(key) {
		*dst = *v
	}
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if strings.TrimSpace(c.ClientID) == "" {
		errs = append(errs, errors.New("clientId is required"))
	}
	if c.UndoCapacity <= 0 {
		errs = append(errs, fmt.Errorf("undoCapacity must be positive, got %d", c.UndoCapacity))
	}
	if c.ValidateTimeout <= 0 {
		errs = append(errs, fmt.Errorf("validateTimeout must be positive, got %s", c.ValidateTimeout))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// StoreDir returns Dir, or ~/.canvas when unset.
func (c Config) StoreDir() (string, error) {
	if d := strings.TrimSpace(c.Dir); d != "" {
		return d, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".canvas"), nil
}

func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
