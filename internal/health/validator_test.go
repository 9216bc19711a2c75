package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/switchboard/internal/lifecycle"
	"github.com/fentz26/switchboard/internal/models"
	"github.com/fentz26/switchboard/internal/scheduler"
)

type fakeManager struct {
	mu        sync.Mutex
	startErr  map[string]error
	failFirst map[string]int // number of failing starts before success
	dead      map[string]bool
	starts    map[string]int
	output    map[string]string
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		startErr:  map[string]error{},
		failFirst: map[string]int{},
		dead:      map[string]bool{},
		starts:    map[string]int{},
		output:    map[string]string{},
	}
}

func (f *fakeManager) Start(_ context.Context, spec lifecycle.Spec) (*lifecycle.WorkerProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts[spec.Name]++
	if err := f.startErr[spec.Name]; err != nil {
		return nil, err
	}
	if f.starts[spec.Name] <= f.failFirst[spec.Name] {
		return nil, errors.New("spawn failed")
	}
	return &lifecycle.WorkerProcess{}, nil
}

func (f *fakeManager) HealthCheck(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead[name]
}

func (f *fakeManager) Output(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.output[name]
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

type failingLister struct{}

func (failingLister) ListTools(context.Context, models.WorkerConfig) ([]string, error) {
	return nil, errors.New("tools/list timed out")
}

func newTestValidator(mgr ProcessManager) (*Validator, *sleepRecorder) {
	v := NewValidator(mgr, Config{SettleDelay: -1}, nil)
	rec := &sleepRecorder{}
	v.sleep = rec.sleep
	return v, rec
}

func TestValidateOne_AlwaysFailingStart(t *testing.T) {
	mgr := newFakeManager()
	mgr.startErr["broken"] = errors.New("exec: not found")
	v, rec := newTestValidator(mgr)

	report := v.ValidateOne(context.Background(), models.WorkerConfig{Name: "broken", Command: "nope"})

	assert.False(t, report.Healthy)
	assert.Equal(t, DefaultMaxRetries, report.Attempts)
	assert.Equal(t, DefaultMaxRetries, mgr.starts["broken"])
	assert.Equal(t, "exec: not found", report.Error)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
	assert.Empty(t, report.AvailableTools)
}

func TestValidateOne_RecoversAfterRetry(t *testing.T) {
	mgr := newFakeManager()
	mgr.failFirst["flaky"] = 1
	v, rec := newTestValidator(mgr)

	report := v.ValidateOne(context.Background(), models.WorkerConfig{Name: "flaky", Command: "x", Tools: []string{"search"}})

	assert.True(t, report.Healthy)
	assert.Equal(t, 2, report.Attempts)
	assert.Equal(t, []string{"search"}, report.AvailableTools)
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)
}

func TestValidateOne_ExitedWorkerReportsOutput(t *testing.T) {
	mgr := newFakeManager()
	mgr.dead["crashy"] = true
	mgr.output["crashy"] = "starting\nerror: missing GITHUB_TOKEN\n"
	v, _ := newTestValidator(mgr)

	report := v.ValidateOne(context.Background(), models.WorkerConfig{Name: "crashy", Command: "x"})
	assert.False(t, report.Healthy)
	assert.Contains(t, report.Error, "missing GITHUB_TOKEN")
}

func TestValidateOne_ToolListFailureIsSwallowed(t *testing.T) {
	v, _ := newTestValidator(newFakeManager())
	v.SetToolLister(failingLister{})

	report := v.ValidateOne(context.Background(), models.WorkerConfig{Name: "ok", Command: "x", Tools: []string{"a"}})
	assert.True(t, report.Healthy)
	assert.Equal(t, []string{}, report.AvailableTools)
}

func TestValidateOne_ShapeCheckWithoutManager(t *testing.T) {
	v := NewValidator(nil, Config{}, nil)
	report := v.ValidateOne(context.Background(), models.WorkerConfig{Name: "tf", Tools: []string{"search_modules"}})

	assert.True(t, report.Healthy)
	assert.Zero(t, report.StartupLatencyMs)
	assert.Equal(t, []string{"search_modules"}, report.AvailableTools)
}

func TestValidate_KeepsInputOrderAndIsolatesFailures(t *testing.T) {
	mgr := newFakeManager()
	mgr.startErr["b"] = errors.New("boom")
	v, _ := newTestValidator(mgr)
	v.SetScheduler(scheduler.New(nil, nil))

	cfgs := []models.WorkerConfig{{Name: "c", Command: "x"}, {Name: "b", Command: "x"}, {Name: "a", Command: "x"}}
	reports := v.Validate(context.Background(), cfgs)

	require.Len(t, reports, 3)
	assert.Equal(t, "c", reports[0].Name)
	assert.Equal(t, "b", reports[1].Name)
	assert.Equal(t, "a", reports[2].Name)
	assert.True(t, reports[0].Healthy)
	assert.False(t, reports[1].Healthy)
	assert.True(t, reports[2].Healthy)
}

func TestValidateOne_CancelledDuringBackoff(t *testing.T) {
	mgr := newFakeManager()
	mgr.startErr["x"] = errors.New("fail")
	v := NewValidator(mgr, Config{SettleDelay: -1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := v.ValidateOne(ctx, models.WorkerConfig{Name: "x", Command: "x"})
	assert.False(t, report.Healthy)
	assert.Equal(t, 1, report.Attempts)
	assert.Equal(t, context.Canceled.Error(), report.Error)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 4*time.Second, backoff(2))
}
