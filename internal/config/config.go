// Package config loads strata configuration from YAML.
//
// A missing key keeps its default; an unknown key is an error, so typos
// surface at load time instead of silently falling back to defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/strata/internal/lock"
	"github.com/roach88/strata/internal/schema"
)

// Config is the adapter configuration.
type Config struct {
	// Persistent stores keep data across restarts, so Sync alters them in
	// place; non-persistent stores are dropped and defined again.
	Persistent bool `yaml:"persistent"`

	// Scheme overrides the sync mode derived from Persistent ("drop" or
	// "alter").
	Scheme string `yaml:"scheme,omitempty"`

	Timestamps Timestamps `yaml:"timestamps"`
	Lock       Lock       `yaml:"lock"`
	Driver     Driver     `yaml:"driver"`
	Log        Log        `yaml:"log"`

	// Models lists CUE files or directories declaring collections. Relative
	// paths are resolved against the config file's directory.
	Models []string `yaml:"models,omitempty"`
}

// Timestamps controls the automatic createdAt/updatedAt attributes.
type Timestamps struct {
	CreatedAt bool `yaml:"createdAt"`
	UpdatedAt bool `yaml:"updatedAt"`
}

// Lock configures the lock coordinator.
type Lock struct {
	Mode        string            `yaml:"mode"`
	MaxHold     time.Duration     `yaml:"maxHold"`
	Collections map[string]string `yaml:"collections,omitempty"`
}

// Driver selects the store driver.
type Driver struct {
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"`
}

// Log configures the logger built by Logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Timestamps: Timestamps{CreatedAt: true, UpdatedAt: true},
		Lock: Lock{
			Mode:    string(lock.ModePessimistic),
			MaxHold: lock.DefaultMaxHold,
		},
		Driver: Driver{Name: "memory"},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load reads a YAML config file over the defaults and validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i, m := range cfg.Models {
		if !filepath.IsAbs(m) {
			cfg.Models[i] = filepath.Join(base, m)
		}
	}
	if cfg.Driver.Path != "" && cfg.Driver.Path != ":memory:" && !filepath.IsAbs(cfg.Driver.Path) {
		cfg.Driver.Path = filepath.Join(base, cfg.Driver.Path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Empty
// input yields the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks enumerated values and durations.
func (c Config) Validate() error {
	switch schema.Mode(c.Scheme) {
	case "", schema.ModeDrop, schema.ModeAlter:
	default:
		return fmt.Errorf("scheme: unknown mode %q (want drop or alter)", c.Scheme)
	}
	if _, err := lock.ParseMode(c.Lock.Mode); err != nil {
		return fmt.Errorf("lock.mode: %w", err)
	}
	for _, name := range sortedKeys(c.Lock.Collections) {
		if _, err := lock.ParseMode(c.Lock.Collections[name]); err != nil {
			return fmt.Errorf("lock.collections.%s: %w", name, err)
		}
	}
	if c.Lock.MaxHold < 0 {
		return fmt.Errorf("lock.maxHold: must not be negative")
	}
	if c.Driver.Name == "" {
		return fmt.Errorf("driver.name is required")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q (want text or json)", c.Log.Format)
	}
	return nil
}

// SyncMode is the schema synchronization mode: Scheme when set, otherwise
// derived from Persistent.
func (c Config) SyncMode() schema.Mode {
	if c.Scheme != "" {
		return schema.Mode(c.Scheme)
	}
	return schema.ModeFor(c.Persistent)
}

// Policy returns the define-time attribute policy.
func (c Config) Policy() schema.Policy {
	return schema.Policy{CreatedAt: c.Timestamps.CreatedAt, UpdatedAt: c.Timestamps.UpdatedAt}
}

// LockConfig converts the lock section. Modes are assumed valid.
func (c Config) LockConfig(logger *slog.Logger) lock.Config {
	mode, _ := lock.ParseMode(c.Lock.Mode)
	var perCollection map[string]lock.Mode
	if len(c.Lock.Collections) > 0 {
		perCollection = make(map[string]lock.Mode, len(c.Lock.Collections))
		for name, m := range c.Lock.Collections {
			perCollection[name], _ = lock.ParseMode(m)
		}
	}
	return lock.Config{
		Mode:        mode,
		Collections: perCollection,
		MaxHold:     c.Lock.MaxHold,
		Logger:      logger,
	}
}

// Logger builds a logger writing to w in the configured format and level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
