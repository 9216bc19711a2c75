// Package lifecycle starts, stops and tracks worker subprocesses. The
// Manager is the only component that signals or reaps worker processes.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fentz26/switchboard/internal/models"
)

const (
	// DefaultStopTimeout is how long Stop waits after SIGTERM before SIGKILL.
	DefaultStopTimeout = 5 * time.Second

	outputTailSize = 64 * 1024
	pipeWaitDelay  = 2 * time.Second
)

// ErrUnknownWorker is returned by Restart for a name that was never started
// and no command was supplied.
var ErrUnknownWorker = errors.New("unknown worker")

// Spec describes how to launch a worker.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string // merged over the parent environment
	Dir     string
}

// WorkerProcess is a started worker.
type WorkerProcess struct {
	Spec
	PID       int
	StartedAt time.Time

	cmd    *exec.Cmd
	stdin  io.WriteCloser // held open; stdio workers exit on EOF
	output *tailBuffer
	done   chan struct{}
	err    error
}

// Running reports whether the process has not exited.
func (p *WorkerProcess) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited and been reaped.
func (p *WorkerProcess) Done() <-chan struct{} {
	return p.done
}

// Status returns a serializable view of the process.
func (p *WorkerProcess) Status() models.WorkerStatus {
	return models.WorkerStatus{
		Name:      p.Name,
		PID:       p.PID,
		Command:   p.Command,
		Args:      p.Args,
		StartedAt: p.StartedAt,
		Running:   p.Running(),
	}
}

// Manager owns the process table.
type Manager struct {
	mu     sync.Mutex
	procs  map[string]*WorkerProcess
	logger *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		procs:  make(map[string]*WorkerProcess),
		logger: logger,
	}
}

// Start launches the worker unless a process with the same name is already
// running, in which case that process is returned unchanged.
func (m *Manager) Start(ctx context.Context, spec Spec) (*WorkerProcess, error) {
	if spec.Name == "" || spec.Command == "" {
		return nil, errors.New("worker name and command are required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.procs[spec.Name]; ok {
		if p.Running() {
			return p, nil
		}
		delete(m.procs, spec.Name)
	}

	p, err := m.spawn(spec)
	if err != nil {
		return nil, err
	}
	m.procs[spec.Name] = p
	return p, nil
}

func (m *Manager) spawn(spec Spec) (*WorkerProcess, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.Dir = spec.Dir
	cmd.WaitDelay = pipeWaitDelay
	configureProc(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	output := newTailBuffer(outputTailSize)
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", spec.Name, err)
	}

	p := &WorkerProcess{
		Spec:      cloneSpec(spec),
		PID:       cmd.Process.Pid,
		StartedAt: time.Now(),
		cmd:       cmd,
		stdin:     stdin,
		output:    output,
		done:      make(chan struct{}),
	}

	logger := m.logger.With(zap.String("worker", spec.Name), zap.Int("pid", p.PID))
	logger.Info("worker started", zap.String("command", spec.Command))

	go func() {
		p.err = cmd.Wait()
		close(p.done)
		logger.Info("worker exited", zap.Error(p.err))
	}()
	return p, nil
}

// Stop terminates the named worker: SIGTERM, then SIGKILL once timeout
// passes or ctx ends. The slot is cleared afterwards. Stopping an absent
// worker succeeds.
func (m *Manager) Stop(ctx context.Context, name string, timeout time.Duration) error {
	m.mu.Lock()
	p, ok := m.procs[name]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	err := m.terminate(ctx, p, timeout)

	m.mu.Lock()
	if m.procs[name] == p {
		delete(m.procs, name)
	}
	m.mu.Unlock()
	return err
}

func (m *Manager) terminate(ctx context.Context, p *WorkerProcess, timeout time.Duration) error {
	if !p.Running() {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	logger := m.logger.With(zap.String("worker", p.Name), zap.Int("pid", p.PID))

	_ = p.stdin.Close()
	if err := terminate(p.cmd.Process); err != nil {
		logger.Debug("SIGTERM failed", zap.Error(err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		logger.Info("worker stopped")
		return nil
	case <-timer.C:
		logger.Warn("worker ignored SIGTERM, killing", zap.Duration("timeout", timeout))
	case <-ctx.Done():
		logger.Warn("stop cancelled, killing worker")
	}

	if err := kill(p.cmd.Process); err != nil {
		return fmt.Errorf("killing %s: %w", p.Name, err)
	}
	<-p.done
	return nil
}

// Restart stops the worker and starts it again. Fields left empty in
// override keep their previous values.
func (m *Manager) Restart(ctx context.Context, name string, override Spec) (*WorkerProcess, error) {
	m.mu.Lock()
	prev, ok := m.procs[name]
	m.mu.Unlock()

	spec := override
	spec.Name = name
	if ok {
		if spec.Command == "" {
			spec.Command = prev.Command
		}
		if spec.Args == nil {
			spec.Args = prev.Args
		}
		if spec.Env == nil {
			spec.Env = prev.Env
		}
		if spec.Dir == "" {
			spec.Dir = prev.Dir
		}
	} else if spec.Command == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, name)
	}

	if err := m.Stop(ctx, name, DefaultStopTimeout); err != nil {
		return nil, err
	}
	return m.Start(ctx, spec)
}

// StopAll stops every tracked worker concurrently. One slow worker never
// delays the others beyond its own timeout.
func (m *Manager) StopAll(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	names := make([]string, 0, len(m.procs))
	for name := range m.procs {
		names = append(names, name)
	}
	m.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := m.Stop(ctx, name, timeout); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// HealthCheck reports whether the named worker is running.
func (m *Manager) HealthCheck(name string) bool {
	p, ok := m.Get(name)
	return ok && p.Running()
}

// Get returns the tracked process for name.
func (m *Manager) Get(name string) (*WorkerProcess, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[name]
	return p, ok
}

// List returns the names of running workers, sorted.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.procs))
	for name, p := range m.procs {
		if p.Running() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Statuses returns every tracked worker, sorted by name.
func (m *Manager) Statuses() []models.WorkerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.WorkerStatus, 0, len(m.procs))
	for _, p := range m.procs {
		out = append(out, p.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Output returns the recent stdout and stderr of the named worker.
func (m *Manager) Output(name string) string {
	p, ok := m.Get(name)
	if !ok {
		return ""
	}
	return p.output.String()
}

func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; !ok {
			env = append(env, kv)
		}
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}

func cloneSpec(s Spec) Spec {
	out := s
	out.Args = append([]string(nil), s.Args...)
	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	return out
}
