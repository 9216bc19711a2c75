package lifecycle

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses sh and sleep")
	}
}

func sleeper(name string) Spec {
	return Spec{Name: name, Command: "sleep", Args: []string{"30"}}
}

func TestStart_IsIdempotent(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(nil)
	defer m.StopAll(context.Background(), time.Second)

	first, err := m.Start(context.Background(), sleeper("a"))
	require.NoError(t, err)
	second, err := m.Start(context.Background(), sleeper("a"))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, first.PID, second.PID)
	assert.True(t, m.HealthCheck("a"))
}

func TestStart_InvalidSpec(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Start(context.Background(), Spec{Name: "x"})
	assert.Error(t, err)

	_, err = m.Start(context.Background(), Spec{Name: "x", Command: "/definitely/not/here"})
	assert.Error(t, err)
	assert.Empty(t, m.List())
}

func TestStop_AbsentIsSuccess(t *testing.T) {
	m := NewManager(nil)
	assert.NoError(t, m.Stop(context.Background(), "ghost", time.Second))
}

func TestStop_Graceful(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(nil)

	p, err := m.Start(context.Background(), sleeper("a"))
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, m.Stop(context.Background(), "a", 5*time.Second))
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.False(t, p.Running())
	assert.False(t, m.HealthCheck("a"))
	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestStop_KillsProcessIgnoringTerm(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(nil)

	p, err := m.Start(context.Background(), Spec{
		Name:    "stubborn",
		Command: "sh",
		Args:    []string{"-c", `trap "" TERM; sleep 30`},
	})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, m.Stop(context.Background(), "stubborn", 200*time.Millisecond))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, p.Running())
}

func TestStopAll_StopsEveryWorker(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(nil)

	_, err := m.Start(context.Background(), sleeper("a"))
	require.NoError(t, err)
	_, err = m.Start(context.Background(), sleeper("b"))
	require.NoError(t, err)
	_, err = m.Start(context.Background(), Spec{
		Name:    "stubborn",
		Command: "sh",
		Args:    []string{"-c", `trap "" TERM; sleep 30`},
	})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, m.StopAll(context.Background(), 300*time.Millisecond))
	assert.Empty(t, m.List())
	assert.Empty(t, m.Statuses())
}

func TestRestart_ChangesPID(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(nil)
	defer m.StopAll(context.Background(), time.Second)

	first, err := m.Start(context.Background(), sleeper("a"))
	require.NoError(t, err)

	second, err := m.Restart(context.Background(), "a", Spec{})
	require.NoError(t, err)
	assert.NotEqual(t, first.PID, second.PID)
	assert.Equal(t, "sleep", second.Command)
	assert.Equal(t, []string{"30"}, second.Args)
	assert.False(t, first.Running())

	_, err = m.Restart(context.Background(), "unknown", Spec{})
	assert.ErrorIs(t, err, ErrUnknownWorker)
}

func TestList_OnlyRunning(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(nil)
	defer m.StopAll(context.Background(), time.Second)

	_, err := m.Start(context.Background(), sleeper("b"))
	require.NoError(t, err)
	_, err = m.Start(context.Background(), sleeper("a"))
	require.NoError(t, err)
	quick, err := m.Start(context.Background(), Spec{Name: "quick", Command: "true"})
	require.NoError(t, err)
	<-quick.Done()

	assert.Equal(t, []string{"a", "b"}, m.List())
	assert.False(t, m.HealthCheck("quick"))

	// An exited worker can be started again under the same name.
	again, err := m.Start(context.Background(), sleeper("quick"))
	require.NoError(t, err)
	assert.NotEqual(t, quick.PID, again.PID)
}

func TestOutput_CapturesStderrAndEnv(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(nil)

	p, err := m.Start(context.Background(), Spec{
		Name:    "talker",
		Command: "sh",
		Args:    []string{"-c", `echo "login at https://example.com/login as $WHO" >&2`},
		Env:     map[string]string{"WHO": "dev"},
	})
	require.NoError(t, err)
	<-p.Done()

	assert.Contains(t, m.Output("talker"), "https://example.com/login as dev")
	assert.Empty(t, m.Output("missing"))
}

func TestOutput_DrainsLargeStdout(t *testing.T) {
	skipOnWindows(t)
	m := NewManager(nil)

	p, err := m.Start(context.Background(), Spec{
		Name:    "chatty",
		Command: "sh",
		Args:    []string{"-c", `head -c 200000 /dev/zero | tr '\000' x; echo finished`},
	})
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("worker blocked writing to stdout")
	}

	out := m.Output("chatty")
	assert.True(t, strings.HasSuffix(out, "finished\n"))
	assert.LessOrEqual(t, len(out), outputTailSize)
}

func TestMergeEnv(t *testing.T) {
	env := mergeEnv([]string{"PATH=/bin", "AWS_PROFILE=old", "HOME=/root"}, map[string]string{
		"AWS_PROFILE": "prod",
		"AWS_REGION":  "us-east-1",
	})
	joined := strings.Join(env, "\n")
	assert.Contains(t, joined, "PATH=/bin")
	assert.Contains(t, joined, "AWS_PROFILE=prod")
	assert.NotContains(t, joined, "AWS_PROFILE=old")
	assert.Contains(t, joined, "AWS_REGION=us-east-1")
}

func TestTailBuffer_KeepsNewest(t *testing.T) {
	tb := newTailBuffer(5)
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("defg"))
	assert.Equal(t, "cdefg", tb.String())
}
