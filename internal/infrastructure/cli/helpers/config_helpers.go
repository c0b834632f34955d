package helpers

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/doeshing/hostq/internal/app"
	appconfig "github.com/doeshing/hostq/internal/application/config"
	"github.com/doeshing/hostq/internal/domain"
	configinfra "github.com/doeshing/hostq/internal/infrastructure/config"
)

// BackupSuffix is appended to the config path for the copy taken before a save.
const BackupSuffix = ".bak"

// GetConfigLoader extracts the config loader from container with error handling
func GetConfigLoader(container *app.Container) (*configinfra.FileLoader, error) {
	if container.ConfigLoader == nil {
		return nil, fmt.Errorf("config loader unavailable")
	}
	return container.ConfigLoader, nil
}

// SaveConfigWithValidation validates and saves configuration with automatic backup
func SaveConfigWithValidation(container *app.Container, cfg domain.Config) error {
	loader, err := GetConfigLoader(container)
	if err != nil {
		return err
	}

	if err := appconfig.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := createBackupIfExists(loader.Path()); err != nil {
		return err
	}

	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	return nil
}

// createBackupIfExists copies the config file next to itself
func createBackupIfExists(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read configuration for backup: %w", err)
	}
	if err := os.WriteFile(path+BackupSuffix, data, domain.SecureFilePermissions); err != nil {
		return fmt.Errorf("failed to create configuration backup: %w", err)
	}
	return nil
}

// TraverseNestedMap retrieves a value from a nested map using a key path
// Returns the value and true if found, nil and false otherwise
func TraverseNestedMap(data interface{}, keyPath []string) (interface{}, bool) {
	if len(keyPath) == 0 {
		return data, true
	}

	switch node := data.(type) {
	case map[string]interface{}:
		next, exists := node[keyPath[0]]
		if !exists {
			return nil, false
		}
		return TraverseNestedMap(next, keyPath[1:])
	case []interface{}:
		for _, item := range node {
			entry, ok := item.(map[string]interface{})
			if ok && entry["name"] == keyPath[0] {
				return TraverseNestedMap(entry, keyPath[1:])
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

// SplitKeyPath splits "budget.global_ms" into its segments.
func SplitKeyPath(key string) []string {
	key = strings.Trim(strings.TrimSpace(key), ".")
	if key == "" {
		return nil
	}
	return strings.Split(key, ".")
}
