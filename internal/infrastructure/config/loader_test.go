package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/hostq/assets"
)

func TestLoadWritesEmbeddedDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOSTQ_HOME", home)
	t.Setenv("HOSTQ_CONFIG", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	loader := NewFileLoader("")
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)

	path := filepath.Join(home, "config.yaml")
	assert.Equal(t, path, loader.Path())
	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(assets.DefaultConfigYAML), string(written))

	assert.Equal(t, 15000, cfg.Budget.GlobalMS)
	assert.Equal(t, home, cfg.State.Dir)
	assert.Equal(t, filepath.Join(home, "guardrail.yaml"), cfg.Security.RulesFile)
	assert.Equal(t, filepath.Join(home, "telemetry", "events.jsonl"), cfg.Telemetry.Path)
	assert.Equal(t, "/run/user/1000/hostq.sock", cfg.Daemon.SocketPath)
	assert.Equal(t, filepath.Join(home, "hostq.pid"), cfg.Daemon.PIDFile)
	require.True(t, cfg.HasComputeBackend())
}

func TestLoadHonoursConfigOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	content := "budget:\n  global_ms: 20000\nroles:\n  drafting: remote\nmodels:\n  - name: remote\n    endpoint: https://example.invalid/v1\n    model_id: m\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("HOSTQ_CONFIG", path)

	cfg, err := NewFileLoader("").Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20000, cfg.Budget.GlobalMS)
	model, ok := cfg.DraftingModel()
	require.True(t, ok)
	assert.Equal(t, "remote", model.Name)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("budget: [unterminated"), 0o600))

	_, err := NewFileLoader(path).Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "parse") {
		t.Fatalf("Load error = %v, want parse error", err)
	}
}

func TestDefaultConfigMatchesEmbeddedFile(t *testing.T) {
	t.Setenv("HOSTQ_HOME", t.TempDir())
	cfg := DefaultConfig()
	assert.Equal(t, "1", cfg.ConfigFormatVersion)
	assert.Equal(t, []string{"memory-total", "cpu-cores", "disk-free", "self-health"}, cfg.Pipeline.SimpleIntents)
	require.NoError(t, cfg.Budget.ValidateOrdering())
}

func TestSaveRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	loader := NewFileLoader(path)
	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)

	cfg.History.RetentionDays = 9
	require.NoError(t, loader.Save(cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reloaded, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, reloaded.History.RetentionDays)
	assert.Equal(t, cfg.Budget, reloaded.Budget)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file should not be left behind")
}
