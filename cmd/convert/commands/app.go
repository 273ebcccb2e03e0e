package commands

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattjoyce/convert/internal/bridge"
	"github.com/mattjoyce/convert/internal/config"
	"github.com/mattjoyce/convert/internal/events"
	"github.com/mattjoyce/convert/internal/log"
	"github.com/mattjoyce/convert/internal/metrics"
	"github.com/mattjoyce/convert/internal/shell"
	"github.com/mattjoyce/convert/internal/storage"
	"github.com/mattjoyce/convert/internal/tasklog"
	"github.com/mattjoyce/convert/internal/tasks"
)

// app is the wired process: one bridge, one hub, one supervisor.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Collector
	hub     *events.Hub
	bridge  *bridge.Bridge
	db      *sql.DB
	taskLog *tasklog.Log
	sup     *tasks.Supervisor
	shell   *shell.Shell
}

// loadConfig resolves --config, falling back to discovery and then defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.Discover()
	}
	return config.LoadOrDefault(path)
}

// setupLogging configures the global logger. Interactive commands log
// warnings and above as text unless --log-level says otherwise.
func setupLogging(cfg *config.Config, interactive bool) {
	level, format := cfg.Service.LogLevel, cfg.Service.LogFormat
	if interactive {
		level, format = "warn", "text"
	}
	if logLevel != "" {
		level = logLevel
	}
	log.SetupWithFormat(level, format, os.Stderr)
}

// newApp builds the component graph. withStore opens the task log.
func newApp(ctx context.Context, cfg *config.Config, withStore bool) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  log.WithComponent("main"),
		metrics: metrics.NewCollector(),
		hub:     events.NewHub(cfg.Events.Buffer),
	}
	a.metrics.ObserveEvents(
		func() uint64 { return a.hub.Stats().Published },
		func() uint64 { return a.hub.Stats().Dropped },
	)

	searchPath, err := cfg.Runtime.ResolveSearchPath()
	if err != nil {
		// The bridge reports this as an InitError on first use.
		a.logger.Warn("backend search path unresolved", "error", err)
		searchPath = cfg.Runtime.SearchPath
		if cfg.Runtime.DevMode {
			searchPath = cfg.Runtime.DevSearchPath
		}
	}
	a.bridge = bridge.New(bridge.Options{
		SearchPath:      searchPath,
		Module:          cfg.Runtime.Module,
		Class:           cfg.Runtime.Class,
		Method:          cfg.Runtime.Method,
		VerifyChecksums: cfg.Runtime.VerifyChecksums,
		Metrics:         a.metrics,
	})

	var store tasks.Store
	if withStore {
		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			return nil, fmt.Errorf("open task log %s: %w", cfg.State.Path, err)
		}
		a.db = db
		a.taskLog = tasklog.New(db)
		store = a.taskLog
	}

	a.sup = tasks.New(a.hub, store, tasks.Options{
		MaxConcurrent: cfg.Tasks.MaxConcurrent,
		KeepFinished:  cfg.Tasks.KeepFinished,
		IDPrefix:      cfg.Tasks.IDPrefix,
		Metrics:       a.metrics,
	})
	a.sup.Register(tasks.KindBackup, backupRunner(cfg))

	a.shell = shell.New(a.bridge, a.sup, a.hub)
	return a, nil
}

// backupRunner picks the secure runner when a source database is configured.
func backupRunner(cfg *config.Config) tasks.Runner {
	if cfg.Backup.SourcePath == "" {
		return tasks.SimulatedBackup{Cadence: tasks.Cadence(cfg.Tasks.Cadence)}
	}
	return tasks.SecureBackup{
		SourcePath: cfg.Backup.SourcePath,
		Passkey:    []byte(cfg.Backup.Passkey),
		TargetDir:  cfg.Backup.TargetDir,
	}
}

// Close stops running tasks and releases the task log.
func (a *app) Close(ctx context.Context) {
	if err := a.sup.Shutdown(ctx); err != nil {
		a.logger.Warn("task shutdown incomplete", "error", err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close task log", "error", err)
		}
	}
}
