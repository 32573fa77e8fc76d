// Package registry opens store drivers by name.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/roach88/strata/internal/driver"
	"github.com/roach88/strata/internal/driver/memory"
	"github.com/roach88/strata/internal/driver/sqlite"
)

// DefaultSQLitePath is used when the sqlite driver is configured without a path.
const DefaultSQLitePath = "strata.db"

// Names lists the supported drivers.
func Names() []string {
	return []string{"memory", "sqlite"}
}

// Open creates a driver.
//
// Supported drivers:
//
//	"memory" - in-memory (ephemeral, for tests and scratch work)
//	"sqlite" - SQLite database at path (DefaultSQLitePath when empty)
func Open(name, path string, logger *slog.Logger) (driver.Driver, error) {
	switch name {
	case "memory", "":
		return memory.New(), nil
	case "sqlite":
		if path == "" {
			path = DefaultSQLitePath
		}
		return sqlite.Open(path, sqlite.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown driver: %q (supported: memory, sqlite)", name)
	}
}
