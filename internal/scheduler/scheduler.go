package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Scheduler hands out job slots within the configured limits. One Scheduler
// is shared by every fan-out in the process.
type Scheduler struct {
	config *Config
	logger *zap.Logger

	mu            sync.Mutex
	activeWorkers int
	classCounts   map[string]int
	changed       chan struct{}
}

// New creates a new scheduler.
func New(cfg *Config, logger *zap.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		config:      cfg,
		logger:      logger,
		classCounts: make(map[string]int),
		changed:     make(chan struct{}),
	}
}

// acquire blocks until a slot for class is free or ctx is done.
func (sch *Scheduler) acquire(ctx context.Context, class string) error {
	limit := sch.config.GetClassLimit(class)
	for {
		sch.mu.Lock()
		if sch.activeWorkers < sch.config.GlobalMax && sch.classCounts[class] < limit {
			sch.activeWorkers++
			sch.classCounts[class]++
			sch.mu.Unlock()
			return nil
		}
		wait := sch.changed
		sch.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

func (sch *Scheduler) release(class string) {
	sch.mu.Lock()
	sch.activeWorkers--
	sch.classCounts[class]--
	if sch.classCounts[class] == 0 {
		delete(sch.classCounts, class)
	}
	close(sch.changed)
	sch.changed = make(chan struct{})
	sch.mu.Unlock()
}

// GetStats returns current scheduler statistics.
func (sch *Scheduler) GetStats() map[string]interface{} {
	sch.mu.Lock()
	defer sch.mu.Unlock()

	classCounts := make(map[string]int)
	for k, v := range sch.classCounts {
		classCounts[k] = v
	}

	return map[string]interface{}{
		"active_workers": sch.activeWorkers,
		"global_max":     sch.config.GlobalMax,
		"class_counts":   classCounts,
	}
}

// Group is a join-all set of jobs. A job's error or panic never affects
// its siblings.
type Group struct {
	sch *Scheduler
	ctx context.Context
	wg  sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// Group starts a new job group bound to ctx.
func (sch *Scheduler) Group(ctx context.Context) *Group {
	return &Group{sch: sch, ctx: ctx}
}

// Go runs fn in its own goroutine once a slot for class is available. If
// ctx ends first, fn never runs and the context error is recorded.
func (g *Group) Go(class string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		if err := g.sch.acquire(g.ctx, class); err != nil {
			g.record(fmt.Errorf("%s: waiting for slot: %w", class, err))
			return
		}
		defer g.sch.release(class)

		defer func() {
			if r := recover(); r != nil {
				g.sch.logger.Error("job panicked", zap.String("class", class), zap.Any("panic", r))
				g.record(fmt.Errorf("%s: panic: %v", class, r))
			}
		}()

		if err := fn(g.ctx); err != nil {
			g.record(err)
		}
	}()
}

// Wait blocks until every job has finished and returns their joined errors.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}

func (g *Group) record(err error) {
	g.mu.Lock()
	g.errs = append(g.errs, err)
	g.mu.Unlock()
}
