package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/convert/internal/api"
	"github.com/mattjoyce/convert/internal/lock"
	"github.com/mattjoyce/convert/internal/log"
)

var (
	serveListen string
	serveWarm   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP API",
	Long: `Run the HTTP API on api.listen (loopback by default) until SIGINT or
SIGTERM. Only one server may use a data directory at a time.

Tasks left queued or running by a previous server are marked failed on
startup.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Override api.listen")
	serveCmd.Flags().BoolVar(&serveWarm, "warm", false, "Load the backend module before accepting requests")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return out.Error("failed to load config", err.Error(), "run: convert config check")
	}
	if serveListen != "" {
		cfg.API.Listen = serveListen
	}
	setupLogging(cfg, false)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lockPath := filepath.Join(cfg.Service.DataDir, "convert.lock")
	instance, err := lock.Acquire(lockPath)
	if err != nil {
		return out.Error("another convert server is running", err.Error(),
			fmt.Sprintf("stop it, or point service.data_dir somewhere other than %s", cfg.Service.DataDir))
	}
	defer instance.Release()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return out.Error("failed to start", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Close(shutdownCtx)
	}()

	logger := a.logger
	logger.Info("convert starting", "version", currentVersionInfo().Version, "config", cfg.SourcePath, "lock", lockPath)

	if n, err := a.taskLog.RecoverInterrupted(ctx); err != nil {
		logger.Warn("task recovery failed", "error", err)
	} else if n > 0 {
		logger.Info("marked interrupted tasks failed", "count", n)
	}

	if serveWarm {
		if err := a.bridge.EnsureInitialized(ctx); err != nil {
			return out.Error("backend failed to load", err.Error(), "run: convert config check")
		}
		logger.Info("backend loaded", "search_path", a.bridge.SearchPath())
	}

	if !cfg.API.Enabled {
		logger.Info("api.enabled is false; serving anyway because serve was requested")
	}
	server := api.New(api.Config{
		Listen: cfg.API.Listen,
		Token:  cfg.API.Token,
	}, a.shell, a.hub, a.metrics.Handler(), log.WithComponent("api"))

	err = server.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return out.Error("API server failed", err.Error())
	}
	logger.Info("convert stopped")
	return nil
}
