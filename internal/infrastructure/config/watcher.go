package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/ports"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher serves the last valid configuration and reloads it when the file
// changes on disk.
type Watcher struct {
	loader   *FileLoader
	validate func(domain.Config) error
	logger   ports.Logger
	debounce time.Duration
	current  atomic.Pointer[domain.Config]
	reloads  atomic.Int64

	// OnChange, when set, runs after every accepted reload.
	OnChange func(domain.Config)

	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher performs the initial load. An invalid initial file is an error;
// later invalid edits are logged and ignored.
func NewWatcher(ctx context.Context, loader *FileLoader, validate func(domain.Config) error, logger ports.Logger) (*Watcher, error) {
	cfg, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	if validate != nil {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("validate %s: %w", loader.Path(), err)
		}
	}
	w := &Watcher{
		loader:   loader,
		validate: validate,
		logger:   logger,
		debounce: defaultDebounce,
	}
	w.current.Store(&cfg)
	return w, nil
}

// Load implements ports.ConfigProvider with the current snapshot.
func (w *Watcher) Load(context.Context) (domain.Config, error) {
	return *w.current.Load(), nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.loader.Path()
}

// Reloads counts accepted reloads.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Start watches the config directory until ctx ends or Stop is called.
// The directory is watched rather than the file so editors that replace the
// file by rename are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.loader.Path())); err != nil {
		fsw.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	w.fsw = fsw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and waits for it.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.fsw == nil {
			return
		}
		close(w.stopCh)
		<-w.doneCh
		w.fsw.Close()
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	target := filepath.Clean(w.loader.Path())
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.warn("config watcher error", map[string]interface{}{"error": err.Error()})
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := w.loader.Load(ctx)
	if err != nil {
		w.warn("config reload failed; keeping previous config", map[string]interface{}{"error": err.Error()})
		return
	}
	if w.validate != nil {
		if err := w.validate(cfg); err != nil {
			w.warn("config reload invalid; keeping previous config", map[string]interface{}{"error": err.Error()})
			return
		}
	}
	w.current.Store(&cfg)
	w.reloads.Add(1)
	if w.logger != nil {
		w.logger.Info("config reloaded", map[string]interface{}{"path": w.loader.Path()})
	}
	if w.OnChange != nil {
		w.OnChange(cfg)
	}
}

func (w *Watcher) warn(msg string, fields map[string]interface{}) {
	if w.logger != nil {
		w.logger.Warn(msg, fields)
	}
}

var _ ports.ConfigProvider = (*Watcher)(nil)
