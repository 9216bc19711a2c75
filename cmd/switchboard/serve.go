package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fentz26/switchboard/internal/controlplane"
	"github.com/fentz26/switchboard/internal/mcp"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"daemon"},
	Short:   "Start the switchboard daemon",
	Long: `Starts the daemon which serves the HTTP API, keeps the workers it
started running and reloads the registry file when it changes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	logger.Info("starting switchboard daemon", zap.String("version", controlplane.Version))

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	logger.Info("registry loaded", zap.Int("workers", a.registry.Count()), zap.String("path", cfg.Paths.Registry))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Registry edits apply without a restart.
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.Registry), 0o755); err != nil {
		logger.Warn("registry dir unavailable, hot reload disabled", zap.Error(err))
	} else if w, err := mcp.NewWatcher(cfg.Paths.Registry, a.registry, logger.Named("registry")); err != nil {
		logger.Warn("registry watcher unavailable", zap.Error(err))
	} else if err := w.Start(ctx); err != nil {
		logger.Warn("registry watcher unavailable", zap.Error(err))
		w.Stop()
	} else {
		defer w.Stop()
	}

	server := controlplane.NewServer(a.service, a.registry, cfg.Server.Listen, logger.Named("http"))

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			runErr = err
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Lifecycle.StopTimeout+cfg.Server.ShutdownTimeout)
	defer stopCancel()
	if err := a.Close(stopCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return runErr
}
