package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/hostq/assets"
	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/pkg/filesystem"
	"github.com/doeshing/hostq/internal/ports"
)

// FileLoader loads YAML configuration from ~/.hostq/config.yaml (overridable via HOSTQ_CONFIG).
type FileLoader struct {
	overridePath string
}

// NewFileLoader builds a new loader.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Load implements ports.ConfigProvider. A missing file is created from the
// embedded defaults.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	path := l.resolvePath()
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return domain.Config{}, fmt.Errorf("ensure config dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return domain.Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := os.WriteFile(path, assets.DefaultConfigYAML, domain.SecureFilePermissions); err != nil {
			return domain.Config{}, fmt.Errorf("write default config: %w", err)
		}
		data = assets.DefaultConfigYAML
	}

	var cfg domain.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return hydrateDefaults(cfg), nil
}

// Save writes cfg to the config file. The write goes through a temp file and
// a rename so a watching daemon never reads a half-written file.
func (l *FileLoader) Save(cfg domain.Config) error {
	path := l.resolvePath()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Chmod(domain.SecureFilePermissions); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Path returns the resolved config file path.
func (l *FileLoader) Path() string {
	return l.resolvePath()
}

func (l *FileLoader) resolvePath() string {
	if l.overridePath != "" {
		return filesystem.ExpandPath(l.overridePath)
	}
	if custom := os.Getenv("HOSTQ_CONFIG"); custom != "" {
		return filesystem.ExpandPath(custom)
	}
	return filepath.Join(filesystem.StateDir(), "config.yaml")
}

// DefaultConfig parses the embedded defaults.
func DefaultConfig() domain.Config {
	var cfg domain.Config
	if err := yaml.Unmarshal(assets.DefaultConfigYAML, &cfg); err != nil {
		// Only reachable if the embedded YAML is broken at build time.
		return hydrateDefaults(domain.Config{ConfigFormatVersion: "1"})
	}
	return hydrateDefaults(cfg)
}

// hydrateDefaults resolves every path the daemon touches so callers never
// see "~" or an empty location.
func hydrateDefaults(cfg domain.Config) domain.Config {
	if cfg.ConfigFormatVersion == "" {
		cfg.ConfigFormatVersion = "1"
	}
	cfg.State.Dir = statePath(cfg.State.Dir)
	if cfg.State.Dir == "" {
		cfg.State.Dir = filesystem.StateDir()
	}
	cfg.Security.RulesFile = statePath(cfg.Security.RulesFile)
	cfg.Telemetry.Path = statePath(cfg.Telemetry.Path)
	cfg.Probes.CatalogFile = statePath(cfg.Probes.CatalogFile)
	cfg.Daemon.SocketPath = statePath(cfg.Daemon.SocketPath)
	if cfg.Daemon.SocketPath == "" {
		cfg.Daemon.SocketPath = filepath.Join(filesystem.RuntimeDir(), "hostq.sock")
	}
	cfg.Daemon.PIDFile = statePath(cfg.Daemon.PIDFile)
	if cfg.Daemon.PIDFile == "" {
		cfg.Daemon.PIDFile = filepath.Join(cfg.State.Dir, "hostq.pid")
	}
	if cfg.History.RetentionDays < 0 {
		cfg.History.RetentionDays = 0
	}
	return cfg
}

// statePath maps "~/.hostq/..." onto the state dir so HOSTQ_HOME relocates
// everything at once.
func statePath(path string) string {
	const prefix = "~/.hostq/"
	if strings.HasPrefix(path, prefix) {
		return filepath.Join(filesystem.StateDir(), path[len(prefix):])
	}
	return filesystem.ExpandPath(path)
}

var _ ports.ConfigProvider = (*FileLoader)(nil)
