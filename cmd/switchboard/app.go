package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/fentz26/switchboard/internal/agents"
	"github.com/fentz26/switchboard/internal/config"
	"github.com/fentz26/switchboard/internal/connectors/localexec"
	"github.com/fentz26/switchboard/internal/controlplane"
	"github.com/fentz26/switchboard/internal/credentials"
	"github.com/fentz26/switchboard/internal/health"
	"github.com/fentz26/switchboard/internal/lifecycle"
	"github.com/fentz26/switchboard/internal/logging"
	"github.com/fentz26/switchboard/internal/mcp"
	"github.com/fentz26/switchboard/internal/metrics"
	"github.com/fentz26/switchboard/internal/scheduler"
	"github.com/fentz26/switchboard/internal/store"
)

// app holds every component of a running switchboard.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *mcp.Registry
	history  *store.Store
	procs    *lifecycle.Manager
	metrics  *metrics.Collector
	service  *controlplane.Service
}

// loadConfig reads the config file named by --config. Local commands log
// at warn level unless --verbose is set.
func loadConfig(daemon bool) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logCfg := cfg.Log
	if !daemon && !verbose {
		logCfg.Level = "warn"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newApp wires the components. Without manageProcesses workers are never
// started and health checks only validate configuration shape.
func newApp(cfg *config.Config, logger *zap.Logger, manageProcesses bool) (*app, error) {
	registry, err := mcp.LoadRegistry(cfg.Paths.Registry)
	if err != nil {
		return nil, fmt.Errorf("loading registry: %w", err)
	}

	history, err := store.New(cfg.Paths.StateDB)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	secrets, err := credentials.NewSecretStore(cfg.Secrets.Backend, cfg.Secrets.Service, cfg.Secrets.File)
	if err != nil {
		history.Close()
		return nil, err
	}

	sch := scheduler.New(&cfg.Concurrency, logger.Named("scheduler"))

	workDir, _ := os.Getwd()
	conn := localexec.New(workDir, localexec.AllowlistFor(cfg.Credentials.ProbeCommand, cfg.Credentials.LoginCommand))
	var probe credentials.IdentityProbe
	switch cfg.Credentials.Probe {
	case "sdk":
		probe = credentials.NewSDKProbe()
	default:
		probe = credentials.NewCLIProbe(conn, cfg.Credentials.ProbeCommand)
	}

	creds := credentials.NewCoordinator(credentials.Config{
		Probe:           probe,
		Login:           credentials.NewCLILogin(conn, cfg.Credentials.LoginCommand),
		Secrets:         secrets,
		Scheduler:       sch,
		LoginTimeout:    cfg.Credentials.LoginTimeout,
		OAuthAutomation: cfg.Credentials.OAuthAutomation,
	}, logger.Named("credentials"))

	var (
		procs *lifecycle.Manager
		pm    health.ProcessManager
	)
	if manageProcesses {
		procs = lifecycle.NewManager(logger.Named("lifecycle"))
		pm = procs
	}
	validator := health.NewValidator(pm, health.Config{
		MaxRetries:  cfg.Health.MaxRetries,
		SettleDelay: cfg.Health.SettleDelay,
	}, logger.Named("health"))
	if cfg.Health.Parallel {
		validator.SetScheduler(sch)
	}

	collector := metrics.New()
	service, err := controlplane.NewService(controlplane.Options{
		Registry:      registry,
		Paths:         agents.Paths{Home: cfg.Paths.Home},
		SnapshotDir:   cfg.Paths.SnapshotDir,
		Retention:     cfg.Snapshots.Retention,
		Threshold:     cfg.Selection.Threshold,
		NoLearning:    !cfg.Selection.Learning,
		Credentials:   creds,
		Processes:     procs,
		Validator:     validator,
		History:       history,
		Metrics:       collector,
		DefaultRegion: cfg.Credentials.DefaultRegion,
		StopTimeout:   cfg.Lifecycle.StopTimeout,
	}, logger.Named("controlplane"))
	if err != nil {
		history.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		history:  history,
		procs:    procs,
		metrics:  collector,
		service:  service,
	}, nil
}

// Close stops every worker and closes the state db.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.service.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping workers: %w", err))
	}
	if err := a.history.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing db: %w", err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
