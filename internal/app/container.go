package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/doeshing/hostq/internal/application/assembler"
	appconfig "github.com/doeshing/hostq/internal/application/config"
	"github.com/doeshing/hostq/internal/application/doctor"
	"github.com/doeshing/hostq/internal/application/fastpath"
	"github.com/doeshing/hostq/internal/application/intent"
	"github.com/doeshing/hostq/internal/application/pipeline"
	"github.com/doeshing/hostq/internal/application/query"
	"github.com/doeshing/hostq/internal/application/recipes"
	"github.com/doeshing/hostq/internal/application/trust"
	"github.com/doeshing/hostq/internal/domain"
	"github.com/doeshing/hostq/internal/infrastructure/ai"
	"github.com/doeshing/hostq/internal/infrastructure/config"
	contextcollector "github.com/doeshing/hostq/internal/infrastructure/context"
	"github.com/doeshing/hostq/internal/infrastructure/executor"
	"github.com/doeshing/hostq/internal/infrastructure/flags"
	"github.com/doeshing/hostq/internal/infrastructure/ipc"
	"github.com/doeshing/hostq/internal/infrastructure/security"
	"github.com/doeshing/hostq/internal/infrastructure/store"
	"github.com/doeshing/hostq/internal/infrastructure/telemetry"
	"github.com/doeshing/hostq/internal/pkg/logger"
	"github.com/doeshing/hostq/internal/ports"
)

// StateFileName is the sqlite database inside the state dir.
const StateFileName = "state.db"

// Options selects how the container is built.
type Options struct {
	Verbose    bool
	ConfigPath string
	// Watch keeps the config behind an fsnotify watcher (daemon mode).
	Watch bool
}

// Container wires up application services with infrastructure adapters.
type Container struct {
	QueryService   *query.Service
	DoctorService  *doctor.Service
	ConfigProvider ports.ConfigProvider
	ConfigLoader   *config.FileLoader
	ConfigWatcher  *config.Watcher
	Config         domain.Config

	Store     *store.SQLiteStore
	History   ports.HistoryRepository
	Trust     *trust.Ledger
	Recipes   *recipes.Store
	Runner    *executor.Runner
	Flags     *flags.FileStore
	Telemetry *telemetry.Sink
	Backend   ports.ComputeBackend
	Client    *ipc.Client
	Logger    *logger.ZapLogger

	telemetryLog *logger.ZapLogger
}

// BuildContainer constructs the dependency graph. Only an unreadable config
// is fatal; every other failure is logged and the affected part runs degraded.
func BuildContainer(ctx context.Context, opts Options) (*Container, error) {
	log, err := logger.New(opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	cfgLoader := config.NewFileLoader(opts.ConfigPath)
	var (
		provider ports.ConfigProvider = cfgLoader
		watcher  *config.Watcher
		cfg      domain.Config
	)
	if opts.Watch {
		watcher, err = config.NewWatcher(ctx, cfgLoader, appconfig.Validate, log.Named("config"))
		if err != nil {
			return nil, err
		}
		provider = watcher
		cfg, _ = watcher.Load(ctx)
	} else {
		cfg, err = cfgLoader.Load(ctx)
		if err != nil {
			return nil, err
		}
		if err := appconfig.Validate(cfg); err != nil {
			log.Warn("configuration invalid; run 'hostq config validate'", map[string]interface{}{"error": err.Error()})
		}
	}

	c := &Container{
		ConfigProvider: provider,
		ConfigLoader:   cfgLoader,
		ConfigWatcher:  watcher,
		Config:         cfg,
		Flags:          flags.NewFileStore(filepath.Join(cfg.State.Dir, "flags.json")),
		Client:         ipc.NewClient(cfg.Daemon.SocketPath),
		Logger:         log,
	}

	var (
		trustRepo  ports.TrustRepository
		recipeRepo ports.RecipeRepository
	)
	db, err := store.Open(ctx, filepath.Join(cfg.State.Dir, StateFileName), log.Named("store"))
	if err != nil {
		log.Error("state store unavailable; running without persistence", err, nil)
	} else {
		c.Store = db
		c.History = db
		trustRepo = db
		recipeRepo = db
	}

	guardrail, err := security.NewGuardrail(cfg.Security.RulesFile, cfg.IsSecurityEnabled())
	if err != nil {
		log.Warn("guardrail rules unreadable; using defaults", map[string]interface{}{"error": err.Error()})
		if guardrail, err = security.NewGuardrail("", cfg.IsSecurityEnabled()); err != nil {
			return nil, err
		}
	}

	catalog, err := executor.LoadCatalog(cfg.Probes.CatalogFile)
	if err != nil {
		log.Warn("probe catalog unreadable; using built-in catalog", map[string]interface{}{"error": err.Error()})
		if catalog, err = executor.LoadCatalog(""); err != nil {
			return nil, err
		}
	}
	c.Runner = executor.NewRunner(catalog, executor.NewLocalExecutor(), guardrail, log.Named("executor"))

	collector := contextcollector.NewBasicCollector()
	host, err := collector.Collect(ctx)
	if err != nil {
		log.Warn("host facts incomplete", map[string]interface{}{"error": err.Error()})
	}

	c.Trust = trust.NewLedger(trustRepo, log.Named("trust"), nil)
	if err := c.Trust.Load(ctx); err != nil {
		log.Warn("trust ledger reset to defaults", map[string]interface{}{"error": err.Error()})
	}
	c.Recipes = recipes.NewStore(cfg.Recipes.GetMaxPerIntent(), recipeRepo, log.Named("recipes"))
	if err := c.Recipes.Load(ctx, time.Now()); err != nil {
		log.Warn("recipe store reset to empty", map[string]interface{}{"error": err.Error()})
	}

	// The telemetry logger has its own level so the debug flag can raise it
	// without making the rest of the daemon chatty.
	c.telemetryLog, err = logger.New(opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("build telemetry logger: %w", err)
	}
	telemetryPath := ""
	if cfg.Telemetry.Enabled {
		telemetryPath = cfg.Telemetry.Path
	}
	c.Telemetry = telemetry.NewSink(telemetry.Options{
		BufferSize: cfg.GetTelemetryBuffer(),
		Path:       telemetryPath,
		Logger:     c.telemetryLog.Named("telemetry"),
		Flags:      &traceLevelFlags{DebugFlagStore: c.Flags, log: c.telemetryLog, verbose: opts.Verbose},
	})

	c.Backend = &ai.ConfiguredBackend{Config: provider, Factory: ai.NewFactory()}

	startedAt := time.Now()
	c.QueryService = &query.Service{
		ConfigProvider: provider,
		Classifier:     intent.NewClassifier(),
		FastPath: &fastpath.Service{
			Runner:    c.Runner,
			Flags:     c.Flags,
			Trust:     c.Trust,
			Recipes:   c.Recipes,
			StartedAt: startedAt,
			Logger:    log.Named("fastpath"),
		},
		Cache: &recipes.Tier{
			Store:     c.Recipes,
			Runner:    c.Runner,
			Threshold: cfg.Recipes.GetMatchThreshold(),
			Logger:    log.Named("recipes"),
		},
		Compute: &pipeline.Pipeline{
			Backend: c.Backend,
			Runner:  c.Runner,
			Trust:   c.Trust,
			Logger:  log.Named("pipeline"),
		},
		Assembler: &assembler.Assembler{
			Trust:     c.Trust,
			Recipes:   c.Recipes,
			History:   c.History,
			Telemetry: c.Telemetry,
			Logger:    log.Named("assembler"),
		},
		Flags:  c.Flags,
		Host:   host,
		Logger: log.Named("query"),
	}

	c.DoctorService = &doctor.Service{
		ConfigProvider: provider,
		Daemon:         c.Client,
		Runner:         c.Runner,
		Flags:          c.Flags,
		Host:           collector,
	}
	if c.Store != nil {
		c.DoctorService.Store = c.Store
	}

	return c, nil
}

// Close flushes dirty state and releases every resource. It is safe to call
// once per container.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.ConfigWatcher != nil {
		c.ConfigWatcher.Stop()
	}
	if c.Trust != nil {
		if err := c.Trust.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush trust: %w", err))
		}
	}
	if c.Recipes != nil {
		if err := c.Recipes.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush recipes: %w", err))
		}
	}
	if c.Telemetry != nil {
		c.Telemetry.Close()
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if c.telemetryLog != nil {
		_ = c.telemetryLog.Sync()
	}
	_ = c.Logger.Sync()
	return errors.Join(errs...)
}

// traceLevelFlags keeps the telemetry logger's level in step with the
// persisted debug flag, which another process may flip at any time.
type traceLevelFlags struct {
	ports.DebugFlagStore
	log     *logger.ZapLogger
	verbose bool
}

func (f *traceLevelFlags) DebugEnabled() bool {
	on := f.DebugFlagStore.DebugEnabled()
	f.log.SetVerbose(on || f.verbose)
	return on
}
