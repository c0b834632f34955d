package contextcollector

import (
	"context"
	"errors"
	"runtime"
	"testing"
)

func TestBasicCollectorDetectsTools(t *testing.T) {
	collector := NewBasicCollector()
	collector.toolsToCheck = []string{"systemctl", "lscpu", "nginx"}
	collector.lookPath = func(name string) (string, error) {
		if name == "nginx" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}
	collector.runCmd = func(ctx context.Context, name string, args ...string) string {
		return "6.8.0-45-generic\n"
	}

	snapshot, err := collector.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if len(snapshot.AvailableTools) != 2 || snapshot.AvailableTools[0] != "lscpu" || snapshot.AvailableTools[1] != "systemctl" {
		t.Fatalf("unexpected tools %v", snapshot.AvailableTools)
	}
	if snapshot.Kernel != "6.8.0-45-generic" {
		t.Fatalf("kernel = %q", snapshot.Kernel)
	}
	if snapshot.OS != runtime.GOOS || snapshot.CPUCount != runtime.NumCPU() {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}

func TestBasicCollectorToleratesMissingUname(t *testing.T) {
	t.Setenv("USER", "")
	t.Setenv("LOGNAME", "ops")
	collector := NewBasicCollector()
	collector.toolsToCheck = nil
	collector.runCmd = func(ctx context.Context, name string, args ...string) string { return "" }

	snapshot, err := collector.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if snapshot.Kernel != "" || snapshot.User != "ops" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
}
