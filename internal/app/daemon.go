package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doeshing/hostq/internal/infrastructure/ipc"
	"github.com/doeshing/hostq/internal/infrastructure/scheduler"
	"github.com/doeshing/hostq/internal/infrastructure/telemetry"
	"github.com/doeshing/hostq/internal/version"
)

// ShutdownTimeout bounds how long in-flight questions may run after a stop signal.
const ShutdownTimeout = 10 * time.Second

// RunDaemon serves questions on the unix socket until ctx ends, then stops
// every component in reverse order. The container is closed on return.
func RunDaemon(ctx context.Context, c *Container) (err error) {
	log := c.Logger.Named("daemon")
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		err = errors.Join(err, c.Close(closeCtx))
	}()

	if c.ConfigWatcher != nil {
		if werr := c.ConfigWatcher.Start(ctx); werr != nil {
			log.Warn("config hot reload disabled", map[string]interface{}{"error": werr.Error()})
		}
	}

	opts := scheduler.Options{
		Trust:   c.Trust,
		Recipes: c.Recipes,
		Config:  c.ConfigProvider,
		Logger:  c.Logger.Named("scheduler"),
	}
	if c.History != nil {
		opts.History = c.History
	}
	sched, err := scheduler.New(opts)
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	server := ipc.NewServer(ipc.Options{
		SocketPath: c.Config.Daemon.SocketPath,
		PIDFile:    c.Config.Daemon.PIDFile,
		Answerer:   c.QueryService,
		Status:     c.status,
		Logger:     c.Logger.Named("ipc"),
	})
	if err := server.Listen(); err != nil {
		return errors.Join(fmt.Errorf("start daemon: %w", err), sched.Stop(context.Background()))
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()

	metricsErr := make(chan error, 1)
	if addr := c.Config.Daemon.MetricsAddr; addr != "" {
		go func() { metricsErr <- telemetry.ServeMetrics(ctx, addr, c.Telemetry.Metrics().Handler()) }()
		log.Info("metrics listener started", map[string]interface{}{"addr": addr})
	}

	log.Info("daemon started", map[string]interface{}{
		"socket":  server.Addr(),
		"version": version.Version,
		"backend": c.Backend.Name(),
	})

	var (
		errs   []error
		served bool
	)
	select {
	case <-ctx.Done():
	case serr := <-serveErr:
		served = true
		if serr != nil {
			errs = append(errs, fmt.Errorf("serve: %w", serr))
		}
	case merr := <-metricsErr:
		// The socket keeps serving; only the scrape endpoint is lost.
		if merr != nil {
			log.Error("metrics listener stopped", merr, nil)
		}
		select {
		case <-ctx.Done():
		case serr := <-serveErr:
			served = true
			if serr != nil {
				errs = append(errs, fmt.Errorf("serve: %w", serr))
			}
		}
	}

	log.Info("daemon stopping", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		errs = append(errs, fmt.Errorf("shutdown ipc: %w", serr))
	}
	if !served {
		if serr := <-serveErr; serr != nil {
			errs = append(errs, fmt.Errorf("serve: %w", serr))
		}
	}
	if serr := sched.Stop(shutdownCtx); serr != nil {
		errs = append(errs, serr)
	}
	return errors.Join(errs...)
}

func (c *Container) status() ipc.StatusPayload {
	return ipc.StatusPayload{
		Version: version.Version,
		Served:  c.QueryService.Served(),
		Backend: c.Backend.Name(),
		Debug:   c.Flags.DebugEnabled(),
	}
}
