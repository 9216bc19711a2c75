// Package controlplane runs the setup pipeline and exposes it, together
// with snapshot and worker management, over HTTP.
package controlplane

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fentz26/switchboard/internal/agents"
	"github.com/fentz26/switchboard/internal/analyzer"
	"github.com/fentz26/switchboard/internal/audit"
	"github.com/fentz26/switchboard/internal/configstore"
	"github.com/fentz26/switchboard/internal/credentials"
	"github.com/fentz26/switchboard/internal/health"
	"github.com/fentz26/switchboard/internal/learning"
	"github.com/fentz26/switchboard/internal/lifecycle"
	"github.com/fentz26/switchboard/internal/mcp"
	"github.com/fentz26/switchboard/internal/metrics"
	"github.com/fentz26/switchboard/internal/models"
	"github.com/fentz26/switchboard/internal/store"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	// StatusPreview is reported for dry runs.
	StatusPreview = "dry run: configuration not applied"

	defaultRegion = "us-east-1"
	jiraProject   = "jira"
	recommendMax  = 3
)

// Options wires a Service. Registry and Paths are required; everything
// else falls back to a working default.
type Options struct {
	Registry    *mcp.Registry
	Paths       agents.Paths
	SnapshotDir string
	Retention   int
	Threshold   float64
	// NoLearning disables history-based score boosts.
	NoLearning bool

	Credentials *credentials.Coordinator
	// Processes is nil when workers should not be started, in which case
	// health validation only checks configuration shape.
	Processes *lifecycle.Manager
	Validator *health.Validator
	History   *store.Store
	Metrics   *metrics.Collector

	DefaultRegion string
	StopTimeout   time.Duration
}

// Service provides the control plane business logic.
type Service struct {
	registry  *mcp.Registry
	selector  *mcp.Selector
	learner   *learning.Learner
	creds     *credentials.Coordinator
	procs     *lifecycle.Manager
	validator *health.Validator
	preview   *health.Validator
	history   *store.Store
	pdr       *audit.PDRWriter
	metrics   *metrics.Collector
	paths     agents.Paths

	snapshotRoot  string
	retention     int
	threshold     float64
	defaultRegion string
	stopTimeout   time.Duration

	mu     sync.Mutex
	stores map[string]*configstore.Store

	logger *zap.Logger
}

// NewService creates the control plane service.
func NewService(opts Options, logger *zap.Logger) (*Service, error) {
	if opts.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if opts.SnapshotDir == "" {
		return nil, errors.New("snapshot dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		registry:      opts.Registry,
		creds:         opts.Credentials,
		procs:         opts.Processes,
		validator:     opts.Validator,
		history:       opts.History,
		metrics:       opts.Metrics,
		paths:         opts.Paths,
		snapshotRoot:  opts.SnapshotDir,
		retention:     opts.Retention,
		threshold:     opts.Threshold,
		defaultRegion: opts.DefaultRegion,
		stopTimeout:   opts.StopTimeout,
		stores:        make(map[string]*configstore.Store),
		logger:        logger,
	}
	if s.defaultRegion == "" {
		s.defaultRegion = defaultRegion
	}
	if s.stopTimeout <= 0 {
		s.stopTimeout = lifecycle.DefaultStopTimeout
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.creds == nil {
		s.creds = credentials.NewCoordinator(credentials.Config{}, logger)
	}
	if s.procs != nil {
		s.creds.SetOutputSource(s.procs)
	}
	if s.validator == nil {
		var pm health.ProcessManager
		if s.procs != nil {
			pm = s.procs
		}
		s.validator = health.NewValidator(pm, health.Config{}, logger)
	}
	s.preview = health.NewValidator(nil, health.Config{}, logger)

	var booster mcp.Booster
	if s.history != nil {
		s.pdr = audit.NewPDRWriter(s.history)
		if !opts.NoLearning {
			s.learner = learning.NewLearner(s.history)
			booster = s.learner
		}
	}
	s.selector = mcp.NewSelector(s.registry, booster, logger)
	return s, nil
}

// Metrics returns the service's collector.
func (s *Service) Metrics() *metrics.Collector {
	return s.metrics
}

// History returns the history store, or nil when history is disabled.
func (s *Service) History() *store.Store {
	return s.history
}

// --- Setup pipeline ---

// SetupRequest asks for workers matching a task to be configured for an agent.
type SetupRequest struct {
	TaskDescription string `json:"task_description"`
	AgentType       string `json:"agent_type"`
	ProjectPath     string `json:"project_path,omitempty"`
	Scope           string `json:"scope,omitempty"`
	DryRun          bool   `json:"dry_run,omitempty"`
}

// SetupResult is the outcome of one pipeline run.
type SetupResult struct {
	SetupID           string                         `json:"setup_id,omitempty"`
	Analysis          models.TaskSignal              `json:"analysis"`
	SelectedServers   []string                       `json:"selected_servers"`
	RejectedServers   []string                       `json:"rejected_servers"`
	Matches           []models.WorkerMatch           `json:"matches"`
	ConfiguredServers int                            `json:"configured_servers"`
	Configs           []models.WorkerConfig          `json:"configs,omitempty"`
	Credentials       map[string]string              `json:"credentials"`
	SnapshotID        string                         `json:"snapshot_id"`
	ConfigPath        string                         `json:"config_path"`
	Health            map[string]models.HealthReport `json:"health"`
	Warnings          []string                       `json:"warnings"`
	Status            string                         `json:"status"`
	Error             string                         `json:"error,omitempty"`
}

type target struct {
	agent   agents.Platform
	scope   agents.Scope
	project string
}

func (s *Service) parseTarget(agent, scope, project string) (target, error) {
	var t target
	if strings.TrimSpace(agent) == "" {
		return t, fmt.Errorf("%w: agent_type is required", ErrInvalidRequest)
	}
	platform, err := agents.ParsePlatform(agent)
	if err != nil {
		return t, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	sc, err := agents.ParseScope(scope)
	if err != nil {
		return t, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	t = target{agent: platform, scope: sc}
	if sc == agents.ScopeProject {
		if project == "" {
			return t, fmt.Errorf("%w: project_path is required for project scope", ErrInvalidRequest)
		}
		abs, err := filepath.Abs(project)
		if err != nil {
			return t, fmt.Errorf("%w: project_path: %v", ErrInvalidRequest, err)
		}
		t.project = abs
	}
	return t, nil
}

// Setup classifies the task, selects workers, prepares their credentials,
// writes them to the agent's config and checks they come up. Only request
// validation returns an error; stage failures are reported in the result.
func (s *Service) Setup(ctx context.Context, req SetupRequest) (*SetupResult, error) {
	if strings.TrimSpace(req.TaskDescription) == "" {
		return nil, fmt.Errorf("%w: task_description is required", ErrInvalidRequest)
	}
	t, err := s.parseTarget(req.AgentType, req.Scope, req.ProjectPath)
	if err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("agent", string(t.agent)), zap.String("scope", string(t.scope)))
	res := &SetupResult{
		Credentials: map[string]string{},
		Health:      map[string]models.HealthReport{},
		Warnings:    []string{},
	}

	start := time.Now()
	signal := analyzer.Classify(req.TaskDescription)
	s.metrics.ObserveStage("classify", start)
	res.Analysis = signal

	start = time.Now()
	selection := s.selector.Select(ctx, signal, s.threshold)
	s.metrics.ObserveStage("select", start)
	res.SelectedServers = selection.SelectedNames()
	res.RejectedServers = matchNames(selection.Rejected)
	res.Matches = append(append([]models.WorkerMatch{}, selection.Selected...), selection.Rejected...)
	if len(selection.Selected) == 0 {
		res.Warnings = append(res.Warnings, "no workers matched the task")
	}

	cfgs := s.buildConfigs(signal, selection)
	res.ConfiguredServers = len(cfgs)

	st, err := s.configStore(t)
	if err != nil {
		return nil, err
	}
	res.ConfigPath = st.Path()

	if req.DryRun {
		res.Configs = cfgs
		for _, r := range s.preview.Validate(ctx, cfgs) {
			res.Health[r.Name] = r
		}
		res.Status = StatusPreview
		s.metrics.PipelineRuns.WithLabelValues("preview").Inc()
		logger.Info("setup previewed", zap.Strings("selected", res.SelectedServers))
		return res, nil
	}

	setup := &models.Setup{
		ID:              uuid.New().String(),
		TaskDescription: req.TaskDescription,
		Agent:           string(t.agent),
		Scope:           string(t.scope),
		Fingerprint:     analyzer.Fingerprint(signal),
		Selected:        res.SelectedServers,
		CreatedAt:       time.Now().UTC(),
	}
	res.SetupID = setup.ID

	start = time.Now()
	creds := s.creds.Prepare(ctx, cfgs)
	s.metrics.ObserveStage("credentials", start)
	for _, wc := range cfgs {
		ready := creds.Ready[wc.Name]
		s.metrics.RecordCredential(string(wc.AuthKind), ready)
		if ready {
			res.Credentials[wc.Name] = "ready"
		} else {
			res.Credentials[wc.Name] = "failed"
		}
		if url := creds.OAuthURLs[wc.Name]; url != "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s needs authorization: %s", wc.Name, url))
		}
	}
	if failed := creds.Failed(); len(failed) > 0 {
		res.Warnings = append(res.Warnings, "credentials not ready: "+strings.Join(failed, ", "))
		for _, name := range failed {
			logger.Warn("credentials not ready", zap.String("worker", name), zap.String("error", creds.Errors[name]))
		}
	}

	start = time.Now()
	snapshotID, err := st.Update(cfgs)
	s.metrics.ObserveStage("persist", start)
	if err != nil {
		logger.Error("persisting config failed", zap.Error(err))
		res.Status = StatusFailed
		res.Error = err.Error()
		s.finish(ctx, setup, res, signal, selection, nil)
		return res, nil
	}
	res.SnapshotID = snapshotID
	setup.SnapshotID = snapshotID
	if snapshotID != "" {
		s.metrics.Snapshots.Inc()
	}

	start = time.Now()
	reports := s.validator.Validate(ctx, cfgs)
	s.metrics.ObserveStage("validate", start)
	for _, r := range reports {
		res.Health[r.Name] = r
		s.metrics.RecordStartup(r.Name, r.Healthy, time.Duration(r.StartupLatencyMs)*time.Millisecond)
		if !r.Healthy {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s unhealthy: %s", r.Name, r.Error))
		}
	}

	if s.procs != nil {
		urls := s.creds.ScanOAuth(res.SelectedServers)
		for _, name := range res.SelectedServers {
			if url, ok := urls[name]; ok && creds.OAuthURLs[name] != url {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s needs authorization: %s", name, url))
			}
		}
	}

	res.Status = StatusSuccess
	s.finish(ctx, setup, res, signal, selection, reports)
	logger.Info("setup complete",
		zap.String("setup_id", setup.ID),
		zap.Strings("selected", res.SelectedServers),
		zap.String("snapshot_id", snapshotID),
		zap.Int("warnings", len(res.Warnings)))
	return res, nil
}

// finish records history, audit and run metrics. History failures are logged.
func (s *Service) finish(ctx context.Context, setup *models.Setup, res *SetupResult, signal models.TaskSignal, selection mcp.Selection, reports []models.HealthReport) {
	s.metrics.PipelineRuns.WithLabelValues(res.Status).Inc()
	s.refreshRunning()

	if s.history == nil {
		return
	}
	now := time.Now().UTC()
	setup.CompletedAt = &now
	setup.Success = res.Status == StatusSuccess

	confidence := make(map[string]float64, len(selection.Selected))
	for _, m := range selection.Selected {
		confidence[m.Name] = m.Confidence
	}
	usage := make([]models.WorkerUsage, 0, len(reports))
	for _, r := range reports {
		usage = append(usage, models.WorkerUsage{
			SetupID:    setup.ID,
			Worker:     r.Name,
			Confidence: confidence[r.Name],
			Healthy:    r.Healthy,
			StartupMs:  r.StartupLatencyMs,
		})
	}

	analysis, err := json.Marshal(signal)
	if err != nil {
		s.logger.Warn("encoding analysis failed", zap.Error(err))
	}
	if err := s.history.RecordSetup(ctx, setup, string(analysis), usage); err != nil {
		s.logger.Warn("recording setup history failed", zap.Error(err))
	}
	inputs := map[string]string{
		"task":  setup.TaskDescription,
		"agent": setup.Agent,
		"scope": setup.Scope,
	}
	if _, err := s.pdr.Record(audit.ActionSetup, inputs, res.Status, setup.ID, res.Error); err != nil {
		s.logger.Warn("writing audit record failed", zap.Error(err))
	}
}

// buildConfigs derives launch configs for the selected workers, in
// selection order. Workers removed from the registry since selection are
// skipped.
func (s *Service) buildConfigs(signal models.TaskSignal, selection mcp.Selection) []models.WorkerConfig {
	cfgs := make([]models.WorkerConfig, 0, len(selection.Selected))
	for _, m := range selection.Selected {
		d, ok := s.registry.Get(m.Name)
		if !ok {
			continue
		}
		env := make(map[string]string, len(d.Env)+2)
		for k, v := range d.Env {
			env[k] = v
		}
		if d.AuthKind == models.AuthDelegatedLogin {
			env["AWS_PROFILE"] = orDefault(signal.Account, credentials.DefaultProfile)
			env["AWS_REGION"] = orDefault(signal.Region, s.defaultRegion)
		}
		if hasCapability(d, jiraProject) && signal.Project != "" {
			env["JIRA_PROJECT"] = signal.Project
		}
		args := d.Args
		if args == nil {
			args = []string{}
		}
		cfgs = append(cfgs, models.WorkerConfig{
			Name:       d.Name,
			Command:    d.Command,
			Args:       args,
			Env:        env,
			AuthKind:   d.AuthKind,
			Credential: d.Credential,
			Tools:      d.Tools,
		})
	}
	return cfgs
}

// configStore returns the cached store for a target, creating it on first use.
func (s *Service) configStore(t target) (*configstore.Store, error) {
	path, err := s.paths.ConfigPath(t.agent, t.scope, t.project)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stores[path]; ok {
		return st, nil
	}
	st, err := configstore.New(configstore.Options{
		Agent:       string(t.agent),
		Scope:       string(t.scope),
		Path:        path,
		SnapshotDir: s.snapshotDir(t),
		Retention:   s.retention,
	}, s.logger)
	if err != nil {
		return nil, err
	}
	s.stores[path] = st
	return st, nil
}

// snapshotDir keeps each agent and scope apart; project scopes are keyed by
// a hash of the project path.
func (s *Service) snapshotDir(t target) string {
	sub := string(t.scope)
	if t.scope == agents.ScopeProject {
		sum := sha256.Sum256([]byte(t.project))
		sub = "project-" + hex.EncodeToString(sum[:])[:12]
	}
	return filepath.Join(s.snapshotRoot, string(t.agent), sub)
}

// --- Analysis ---

// AnalyzeResult is a side-effect free preview of classification and selection.
type AnalyzeResult struct {
	Analysis        models.TaskSignal    `json:"analysis"`
	Fingerprint     string               `json:"fingerprint"`
	Selected        []models.WorkerMatch `json:"selected"`
	Rejected        []models.WorkerMatch `json:"rejected"`
	Threshold       float64              `json:"threshold"`
	Recommendations []models.WorkerMatch `json:"recommendations,omitempty"`
}

// Analyze classifies a task and scores the registry against it.
func (s *Service) Analyze(ctx context.Context, task string) (*AnalyzeResult, error) {
	if strings.TrimSpace(task) == "" {
		return nil, fmt.Errorf("%w: task_description is required", ErrInvalidRequest)
	}
	signal := analyzer.Classify(task)
	selection := s.selector.Select(ctx, signal, s.threshold)
	res := &AnalyzeResult{
		Analysis:    signal,
		Fingerprint: analyzer.Fingerprint(signal),
		Selected:    selection.Selected,
		Rejected:    selection.Rejected,
		Threshold:   selection.Threshold,
	}
	if s.learner != nil {
		recs, err := s.learner.Recommendations(ctx, res.Fingerprint, selection.SelectedNames(), recommendMax)
		if err != nil {
			s.logger.Debug("recommendations unavailable", zap.Error(err))
		}
		res.Recommendations = recs
	}
	return res, nil
}

// --- Snapshots ---

// ListSnapshotsRequest selects an agent's snapshots.
type ListSnapshotsRequest struct {
	AgentType   string `json:"agent_type"`
	Scope       string `json:"scope,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// ListSnapshots returns snapshots newest first.
func (s *Service) ListSnapshots(ctx context.Context, req ListSnapshotsRequest) ([]models.SnapshotInfo, error) {
	t, err := s.parseTarget(req.AgentType, req.Scope, req.ProjectPath)
	if err != nil {
		return nil, err
	}
	st, err := s.configStore(t)
	if err != nil {
		return nil, err
	}
	return st.ListSnapshots(req.Limit)
}

// RollbackRequest restores a snapshot. An empty SnapshotID means the newest.
type RollbackRequest struct {
	AgentType   string `json:"agent_type"`
	Scope       string `json:"scope,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
	SnapshotID  string `json:"snapshot_id,omitempty"`
}

// RollbackResult reports a restore.
type RollbackResult struct {
	RestoredSnapshotID   string `json:"restored_snapshot_id"`
	PreRestoreSnapshotID string `json:"pre_restore_snapshot_id,omitempty"`
	ConfigPath           string `json:"config_path"`
	Status               string `json:"status"`
}

// Rollback replaces the agent's config with a snapshot. The replaced
// document is itself snapshotted, so a rollback can be undone.
func (s *Service) Rollback(ctx context.Context, req RollbackRequest) (*RollbackResult, error) {
	t, err := s.parseTarget(req.AgentType, req.Scope, req.ProjectPath)
	if err != nil {
		return nil, err
	}
	st, err := s.configStore(t)
	if err != nil {
		return nil, err
	}

	id := req.SnapshotID
	if id == "" {
		if id, err = st.Latest(); err != nil {
			s.recordRollback(req, id, err)
			return nil, err
		}
	}

	preRestore, err := st.Restore(id)
	s.recordRollback(req, id, err)
	if err != nil {
		return nil, err
	}
	if preRestore != "" {
		s.metrics.Snapshots.Inc()
	}
	return &RollbackResult{
		RestoredSnapshotID:   id,
		PreRestoreSnapshotID: preRestore,
		ConfigPath:           st.Path(),
		Status:               StatusSuccess,
	}, nil
}

func (s *Service) recordRollback(req RollbackRequest, id string, err error) {
	outcome, details := StatusSuccess, ""
	if err != nil {
		outcome, details = StatusFailed, err.Error()
	}
	s.metrics.Rollbacks.WithLabelValues(outcome).Inc()
	s.logger.Info("rollback",
		zap.String("agent", req.AgentType),
		zap.String("snapshot_id", id),
		zap.String("outcome", outcome))

	if s.pdr == nil {
		return
	}
	req.SnapshotID = id
	if _, werr := s.pdr.Record(audit.ActionRollback, req, outcome, "", details); werr != nil {
		s.logger.Warn("writing audit record failed", zap.Error(werr))
	}
}

// --- Workers ---

// Workers returns the status of every tracked worker process.
func (s *Service) Workers() []models.WorkerStatus {
	if s.procs == nil {
		return []models.WorkerStatus{}
	}
	return s.procs.Statuses()
}

// StopWorker stops a worker. Stopping an unknown worker succeeds.
func (s *Service) StopWorker(ctx context.Context, name string) error {
	if s.procs == nil {
		return ErrNoProcesses
	}
	err := s.procs.Stop(ctx, name, s.stopTimeout)
	s.refreshRunning()
	return err
}

// RestartWorker restarts a tracked worker, or starts a registered one that
// is not running.
func (s *Service) RestartWorker(ctx context.Context, name string) (*models.WorkerStatus, error) {
	if s.procs == nil {
		return nil, ErrNoProcesses
	}
	var spec lifecycle.Spec
	if _, tracked := s.procs.Get(name); !tracked {
		d, ok := s.registry.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: worker %s", ErrNotFound, name)
		}
		spec = lifecycle.Spec{Command: d.Command, Args: d.Args, Env: d.Env}
	}

	p, err := s.procs.Restart(ctx, name, spec)
	s.refreshRunning()
	if err != nil {
		return nil, err
	}
	st := p.Status()
	return &st, nil
}

// Shutdown stops every worker.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.procs == nil {
		return nil
	}
	err := s.procs.StopAll(ctx, s.stopTimeout)
	s.refreshRunning()
	return err
}

func (s *Service) refreshRunning() {
	if s.procs == nil {
		return
	}
	running := 0
	for _, st := range s.procs.Statuses() {
		if st.Running {
			running++
		}
	}
	s.metrics.RunningWorkers.Set(float64(running))
}

func matchNames(ms []models.WorkerMatch) []string {
	names := make([]string, 0, len(ms))
	for _, m := range ms {
		names = append(names, m.Name)
	}
	return names
}

func hasCapability(d *models.WorkerDescriptor, capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
