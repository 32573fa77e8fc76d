package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/roach88/strata/internal/adapter"
	"github.com/roach88/strata/internal/catalog"
	"github.com/roach88/strata/internal/config"
	"github.com/roach88/strata/internal/driver/registry"
)

// Error codes reported in JSON output.
const (
	ErrCodeGeneric  = "E001" // Generic/unknown error
	ErrCodeConfig   = "E002" // Config file unreadable or invalid
	ErrCodeModels   = "E003" // CUE models failed to load
	ErrCodeDriver   = "E004" // Driver failed to open or initialize
	ErrCodeSync     = "E005" // Schema synchronization failed
	ErrCodeQuery    = "E006" // Query failed or criteria invalid
	ErrCodeScenario = "E007" // One or more scenarios failed
)

// Environment is the configuration and models a command works with.
type Environment struct {
	Config  config.Config
	Catalog *catalog.Catalog
	Logger  *slog.Logger
}

// LoadEnvironment reads the config file named by --config (or the
// defaults) and the models it lists. Declared lock modes are merged under
// the config's per-collection overrides.
func LoadEnvironment(opts *RootOptions, logw io.Writer) (*Environment, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		cfg, err = config.Load(opts.Config)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load config", err)
		}
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}

	models := &catalog.Catalog{}
	if len(cfg.Models) > 0 {
		var err error
		models, err = catalog.Load(cfg.Models...)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load models", err)
		}
	}

	modes := models.LockModes()
	for name, mode := range cfg.Lock.Collections {
		modes[name] = mode
	}
	cfg.Lock.Collections = modes

	return &Environment{Config: cfg, Catalog: models, Logger: cfg.Logger(logw)}, nil
}

// Open opens the configured driver and initializes an adapter over it.
// The caller must call the returned close function.
func (e *Environment) Open(ctx context.Context) (*adapter.Adapter, func(), error) {
	d, err := registry.Open(e.Config.Driver.Name, e.Config.Driver.Path, e.Logger)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open driver", err)
	}
	a, err := adapter.New(d, e.Config, adapter.WithLogger(e.Logger))
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if err := a.Initialize(ctx); err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to initialize driver", err)
	}
	closeFn := func() {
		if err := a.Teardown(context.Background()); err != nil {
			e.Logger.Error("teardown failed", "error", err)
		}
	}
	return a, closeFn, nil
}
