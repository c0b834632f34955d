// Package telemetry records one privacy-preserving event per answer without
// ever blocking the answer path.
package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

// Options configures a Sink.
type Options struct {
	BufferSize int
	// Path, when set, receives one JSON line per event.
	Path   string
	Logger ports.Logger
	Flags  ports.DebugFlagStore
}

// Sink is a buffered, drop-on-full telemetry queue with one worker.
type Sink struct {
	events  chan domain.TelemetryEvent
	metrics *Metrics
	logger  ports.Logger
	flags   ports.DebugFlagStore
	path    string

	dropped   atomic.Int64
	processed atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewSink starts the worker. Close stops it after draining.
func NewSink(opts Options) *Sink {
	size := opts.BufferSize
	if size <= 0 {
		size = domain.DefaultTelemetryBuffer
	}
	s := &Sink{
		events: make(chan domain.TelemetryEvent, size),
		logger: opts.Logger,
		flags:  opts.Flags,
		path:   opts.Path,
		done:   make(chan struct{}),
	}
	s.metrics = newMetrics(func() float64 { return float64(len(s.events)) })
	go s.run()
	return s
}

// Emit implements ports.TelemetrySink. It never blocks; a full queue drops
// the event and counts it.
func (s *Sink) Emit(event domain.TelemetryEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
		s.metrics.Dropped.Inc()
	}
}

// Dropped reports how many events were discarded.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Processed reports how many events the worker handled.
func (s *Sink) Processed() int64 {
	return s.processed.Load()
}

// Metrics exposes the sink's Prometheus metrics.
func (s *Sink) Metrics() *Metrics {
	return s.metrics
}

// Close drains queued events and stops the worker.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.events)
	s.mu.Unlock()
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)

	file, enc := s.openJSONL()
	if file != nil {
		defer file.Close()
	}

	for event := range s.events {
		s.metrics.observe(event)
		if enc != nil {
			if err := enc.Encode(event); err != nil {
				s.warn("telemetry write failed", err)
			}
		}
		s.log(event)
		s.processed.Add(1)
	}
}

func (s *Sink) openJSONL() (*os.File, *json.Encoder) {
	if s.path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), domain.DirectoryPermissions); err != nil {
		s.warn("telemetry dir unavailable", err)
		return nil, nil
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, domain.SecureFilePermissions)
	if err != nil {
		s.warn("telemetry file unavailable", err)
		return nil, nil
	}
	return file, json.NewEncoder(file)
}

func (s *Sink) log(event domain.TelemetryEvent) {
	if s.logger == nil {
		return
	}
	fields := map[string]interface{}{
		"question_id": event.QuestionID,
		"intent":      string(event.Intent),
		"origin":      string(event.Origin),
		"label":       string(event.Label),
		"reliability": event.Reliability,
		"elapsed_ms":  event.Elapsed.Milliseconds(),
		"iterations":  event.Iterations,
	}
	if event.Degradation != "" {
		fields["degradation"] = string(event.Degradation)
	}
	if s.flags != nil && s.flags.DebugEnabled() {
		if event.Trace != nil {
			fields["trace"] = event.Trace
		}
		s.logger.Info("answer", fields)
		return
	}
	s.logger.Debug("answer", fields)
}

func (s *Sink) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn(msg, map[string]interface{}{"path": s.path, "error": err.Error()})
	}
}

var _ ports.TelemetrySink = (*Sink)(nil)
