package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/lock"
	"github.com/roach88/strata/internal/schema"
)

func TestParse_EmptyYieldsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	assert.Equal(t, schema.ModeDrop, cfg.SyncMode())
	assert.Equal(t, schema.Policy{CreatedAt: true, UpdatedAt: true}, cfg.Policy())
	assert.Equal(t, 30*time.Second, cfg.Lock.MaxHold)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
persistent: true
timestamps:
  updatedAt: false
lock:
  mode: optimistic
  maxHold: 2s
  collections:
    ledger: pessimistic
driver:
  name: sqlite
  path: data/strata.db
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, schema.ModeAlter, cfg.SyncMode())
	assert.Equal(t, schema.Policy{CreatedAt: true, UpdatedAt: false}, cfg.Policy())
	assert.Equal(t, "sqlite", cfg.Driver.Name)

	lc := cfg.LockConfig(nil)
	assert.Equal(t, lock.ModeOptimistic, lc.Mode)
	assert.Equal(t, map[string]lock.Mode{"ledger": lock.ModePessimistic}, lc.Collections)
	assert.Equal(t, 2*time.Second, lc.MaxHold)
}

func TestParse_SchemeOverridesPersistent(t *testing.T) {
	cfg, err := Parse([]byte("persistent: true\nscheme: drop\n"))
	require.NoError(t, err)
	assert.Equal(t, schema.ModeDrop, cfg.SyncMode())
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "persistant: true\n", "field persistant not found"},
		{"bad scheme", "scheme: rebuild\n", "scheme"},
		{"bad lock mode", "lock:\n  mode: eventual\n", "lock.mode"},
		{"bad collection mode", "lock:\n  collections:\n    a: maybe\n", "lock.collections.a"},
		{"negative hold", "lock:\n  maxHold: -1s\n", "lock.maxHold"},
		{"empty driver", "driver:\n  name: \"\"\n", "driver.name"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_ResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
driver:
  name: sqlite
  path: db/strata.db
models:
  - models
  - /abs/models.cue
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "db", "strata.db"), cfg.Driver.Path)
	assert.Equal(t, []string{filepath.Join(dir, "models"), "/abs/models.cue"}, cfg.Models)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLogger_HonorsLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log = Log{Level: "warn", Format: "json"}

	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "collection", "users")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"collection":"users"`)
}
