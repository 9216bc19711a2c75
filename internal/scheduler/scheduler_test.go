package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peakTracker records the highest number of jobs seen running at once.
type peakTracker struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (p *peakTracker) enter() {
	p.mu.Lock()
	p.current++
	if p.current > p.peak {
		p.peak = p.current
	}
	p.mu.Unlock()
}

func (p *peakTracker) leave() {
	p.mu.Lock()
	p.current--
	p.mu.Unlock()
}

func TestConfig_GetClassLimit(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 1, cfg.GetClassLimit("delegated_login"))
	assert.Equal(t, 4, cfg.GetClassLimit("secret_token"))

	cfg.DefaultClassMax = 0
	assert.Equal(t, 1, cfg.GetClassLimit("secret_token"))

	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{GlobalMax: 0}).Validate())
	assert.Error(t, (&Config{GlobalMax: 1, ByClass: map[string]int{"x": 0}}).Validate())
}

func TestGroup_RespectsClassLimit(t *testing.T) {
	sch := New(&Config{GlobalMax: 10, ByClass: map[string]int{"login": 1}, DefaultClassMax: 3}, nil)
	g := sch.Group(context.Background())

	var logins, others peakTracker
	for i := 0; i < 4; i++ {
		g.Go("login", func(ctx context.Context) error {
			logins.enter()
			defer logins.leave()
			time.Sleep(20 * time.Millisecond)
			return nil
		})
		g.Go("token", func(ctx context.Context) error {
			others.enter()
			defer others.leave()
			time.Sleep(20 * time.Millisecond)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, logins.peak)
	assert.LessOrEqual(t, others.peak, 3)
	assert.Equal(t, 0, sch.GetStats()["active_workers"])
}

func TestGroup_RespectsGlobalLimit(t *testing.T) {
	sch := New(&Config{GlobalMax: 2, DefaultClassMax: 10}, nil)
	g := sch.Group(context.Background())

	var peak peakTracker
	for i := 0; i < 6; i++ {
		g.Go("validate", func(ctx context.Context) error {
			peak.enter()
			defer peak.leave()
			time.Sleep(10 * time.Millisecond)
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, peak.peak, 2)
}

func TestGroup_IsolatesFailures(t *testing.T) {
	sch := New(nil, nil)
	g := sch.Group(context.Background())

	var completed atomic.Int32
	g.Go("a", func(ctx context.Context) error { return errors.New("boom") })
	g.Go("b", func(ctx context.Context) error { panic("kaput") })
	for i := 0; i < 3; i++ {
		g.Go("c", func(ctx context.Context) error {
			completed.Add(1)
			return nil
		})
	}

	err := g.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "kaput")
	assert.Equal(t, int32(3), completed.Load())
	assert.Equal(t, 0, sch.GetStats()["active_workers"])
}

func TestGroup_CancelledWhileWaiting(t *testing.T) {
	sch := New(&Config{GlobalMax: 1, DefaultClassMax: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	g := sch.Group(ctx)
	g.Go("x", func(ctx context.Context) error {
		<-release
		return nil
	})

	var ran atomic.Bool
	time.Sleep(10 * time.Millisecond)
	g.Go("x", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	time.Sleep(10 * time.Millisecond)
	cancel()
	time.Sleep(10 * time.Millisecond)
	close(release)

	err := g.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())
}
