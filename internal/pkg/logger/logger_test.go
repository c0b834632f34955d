package logger

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerMapsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &ZapLogger{base: zap.New(core), level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}

	l.Info("answered", map[string]interface{}{"origin": "cache", "elapsed_ms": 12})
	l.Error("flush failed", errors.New("disk full"), nil)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["origin"] != "cache" {
		t.Fatalf("origin field = %v", fields["origin"])
	}
	if entries[1].ContextMap()["error"] != "disk full" {
		t.Fatalf("error field = %v", entries[1].ContextMap()["error"])
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	l := NewNop()
	l.Debug("ignored", nil)
	l.Warn("ignored", map[string]interface{}{"k": "v"})
}
