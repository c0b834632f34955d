package flags

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDebugFlagToggle(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nested", "flags.json"))
	if store.DebugEnabled() {
		t.Fatalf("missing file should read as off")
	}
	if err := store.SetDebug(true); err != nil {
		t.Fatalf("SetDebug error: %v", err)
	}
	if !store.DebugEnabled() {
		t.Fatalf("flag should be on after SetDebug(true)")
	}

	// A second store on the same file sees the toggle.
	other := NewFileStore(store.Path())
	if !other.DebugEnabled() {
		t.Fatalf("flag not visible to a second reader")
	}
	if err := other.SetDebug(false); err != nil {
		t.Fatalf("SetDebug error: %v", err)
	}
	if store.DebugEnabled() {
		t.Fatalf("flag should be off")
	}
}

func TestCorruptFlagsReadAsOff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flags.json")
	if err := os.WriteFile(path, []byte("{debug: yes"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := NewFileStore(path)
	if store.DebugEnabled() {
		t.Fatalf("corrupt file should read as off")
	}
	if err := store.SetDebug(true); err != nil {
		t.Fatalf("SetDebug over corrupt file: %v", err)
	}
	if !store.DebugEnabled() {
		t.Fatalf("rewritten flag should read as on")
	}
}

func TestDefaultPathUnderStateDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOSTQ_HOME", dir)
	if got := NewFileStore("").Path(); got != filepath.Join(dir, "flags.json") {
		t.Fatalf("Path() = %s", got)
	}
}
