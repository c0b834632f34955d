package flags

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/pkg/filesystem"
	"github.com/doeshing/hostq/internal/ports"
)

type flagFile struct {
	Debug bool `json:"debug"`
}

// FileStore persists runtime toggles as a small JSON document.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store rooted at path, or ~/.hostq/flags.json when empty.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = filepath.Join(filesystem.StateDir(), "flags.json")
	}
	return &FileStore{path: path}
}

// Path exposes the flags file location.
func (s *FileStore) Path() string {
	return s.path
}

// DebugEnabled reads the flag fresh on every call so toggles from another
// process are seen. A missing or corrupt file reads as off.
func (s *FileStore) DebugEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().Debug
}

// SetDebug writes the flag atomically via rename.
func (s *FileStore) SetDebug(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.read()
	current.Debug = enabled

	if err := os.MkdirAll(filepath.Dir(s.path), domain.DirectoryPermissions); err != nil {
		return err
	}
	data, err := json.Marshal(current)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, domain.SecureFilePermissions); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) read() flagFile {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return flagFile{}
	}
	var f flagFile
	if err := json.Unmarshal(data, &f); err != nil {
		return flagFile{}
	}
	return f
}

var _ ports.DebugFlagStore = (*FileStore)(nil)
