// Package health starts selected workers and confirms they stay up.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fentz26/switchboard/internal/lifecycle"
	"github.com/fentz26/switchboard/internal/models"
	"github.com/fentz26/switchboard/internal/scheduler"
)

const (
	DefaultMaxRetries  = 3
	DefaultSettleDelay = 500 * time.Millisecond

	schedulerClass = "validate"
)

// ProcessManager is the subset of the lifecycle manager the validator uses.
type ProcessManager interface {
	Start(ctx context.Context, spec lifecycle.Spec) (*lifecycle.WorkerProcess, error)
	HealthCheck(name string) bool
	Output(name string) string
}

// ToolLister fetches the tools a running worker offers.
type ToolLister interface {
	ListTools(ctx context.Context, wc models.WorkerConfig) ([]string, error)
}

// DeclaredTools reports the tools listed in the worker's registry entry.
type DeclaredTools struct{}

func (DeclaredTools) ListTools(_ context.Context, wc models.WorkerConfig) ([]string, error) {
	return append([]string{}, wc.Tools...), nil
}

// Config tunes validation.
type Config struct {
	MaxRetries  int
	SettleDelay time.Duration
}

// Validator checks worker health with retries and exponential backoff.
type Validator struct {
	mgr         ProcessManager
	tools       ToolLister
	sch         *scheduler.Scheduler
	maxRetries  int
	settleDelay time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *zap.Logger
}

// NewValidator creates a validator. With a nil manager it only checks the
// configuration shape and reports every worker healthy.
func NewValidator(mgr ProcessManager, cfg Config, logger *zap.Logger) *Validator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		mgr:         mgr,
		tools:       DeclaredTools{},
		maxRetries:  cfg.MaxRetries,
		settleDelay: cfg.SettleDelay,
		sleep:       sleepContext,
		logger:      logger,
	}
}

// SetToolLister replaces the default declared-tools lister.
func (v *Validator) SetToolLister(tl ToolLister) {
	if tl != nil {
		v.tools = tl
	}
}

// SetScheduler makes Validate check workers concurrently.
func (v *Validator) SetScheduler(sch *scheduler.Scheduler) {
	v.sch = sch
}

// Validate returns one report per config, in input order.
func (v *Validator) Validate(ctx context.Context, cfgs []models.WorkerConfig) []models.HealthReport {
	reports := make([]models.HealthReport, len(cfgs))
	if v.sch == nil || v.mgr == nil {
		for i, wc := range cfgs {
			reports[i] = v.ValidateOne(ctx, wc)
		}
		return reports
	}

	g := v.sch.Group(ctx)
	for i, wc := range cfgs {
		i, wc := i, wc
		reports[i] = models.HealthReport{Name: wc.Name, Error: "validation did not run", AvailableTools: []string{}}
		g.Go(schedulerClass, func(ctx context.Context) error {
			reports[i] = v.ValidateOne(ctx, wc)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		v.logger.Warn("health validation incomplete", zap.Error(err))
	}
	return reports
}

// ValidateOne starts the worker, waits for it to settle and checks it is
// still running. Failed attempts back off 1s, 2s, 4s...
func (v *Validator) ValidateOne(ctx context.Context, wc models.WorkerConfig) models.HealthReport {
	if v.mgr == nil {
		return models.HealthReport{
			Name:           wc.Name,
			Healthy:        true,
			AvailableTools: append([]string{}, wc.Tools...),
		}
	}

	logger := v.logger.With(zap.String("worker", wc.Name))
	report := models.HealthReport{Name: wc.Name, AvailableTools: []string{}}

	var lastErr error
	for attempt := 0; attempt < v.maxRetries; attempt++ {
		report.Attempts = attempt + 1
		started := time.Now()

		lastErr = v.attempt(ctx, wc)
		if lastErr == nil {
			report.Healthy = true
			report.StartupLatencyMs = time.Since(started).Milliseconds()
			report.AvailableTools = v.listTools(ctx, wc)
			logger.Info("worker healthy",
				zap.Int("attempts", report.Attempts),
				zap.Int64("startup_ms", report.StartupLatencyMs))
			return report
		}

		logger.Warn("health check failed", zap.Int("attempt", attempt+1), zap.Error(lastErr))
		if attempt < v.maxRetries-1 {
			if err := v.sleep(ctx, backoff(attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}

	report.Error = lastErr.Error()
	return report
}

func (v *Validator) attempt(ctx context.Context, wc models.WorkerConfig) error {
	_, err := v.mgr.Start(ctx, lifecycle.Spec{
		Name:    wc.Name,
		Command: wc.Command,
		Args:    wc.Args,
		Env:     wc.Env,
	})
	if err != nil {
		return err
	}
	if v.settleDelay > 0 {
		if err := v.sleep(ctx, v.settleDelay); err != nil {
			return err
		}
	}
	if !v.mgr.HealthCheck(wc.Name) {
		if line := lastLine(v.mgr.Output(wc.Name)); line != "" {
			return fmt.Errorf("worker exited during startup: %s", line)
		}
		return fmt.Errorf("worker exited during startup")
	}
	return nil
}

func (v *Validator) listTools(ctx context.Context, wc models.WorkerConfig) []string {
	tools, err := v.tools.ListTools(ctx, wc)
	if err != nil {
		v.logger.Debug("listing tools failed", zap.String("worker", wc.Name), zap.Error(err))
		return []string{}
	}
	if tools == nil {
		return []string{}
	}
	return tools
}

// backoff returns 2^attempt seconds.
func backoff(attempt int) time.Duration {
	return time.Second << attempt
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}
