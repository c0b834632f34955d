package filesystem

import (
	"path/filepath"
	"testing"
)

func TestStateDirHonoursOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOSTQ_HOME", dir)
	if got := StateDir(); got != dir {
		t.Fatalf("StateDir() = %s, want %s", got, dir)
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/var/lib/../lib/hostq", "/var/lib/hostq"},
		{"~/state.db", filepath.Join("/home/tester", "state.db")},
		{"relative/./path", "relative/path"},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRuntimeDir(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := RuntimeDir(); got != "/run/user/1000" {
		t.Fatalf("RuntimeDir() = %s", got)
	}
}
