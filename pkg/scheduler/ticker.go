package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type TickerOpt func(*Ticker)

func WithLogger(logger *slog.Logger) TickerOpt {
	return func(t *Ticker) {
		t.logger = logger
	}
}

// RunImmediately makes every newly registered job run once right away
// instead of waiting for its first tick.
func RunImmediately() TickerOpt {
	return func(t *Ticker) {
		t.immediate = true
	}
}

// Ticker runs each job on its own goroutine. Runs of the same job never
// overlap: a tick that fires while the job is still running is dropped.
type Ticker struct {
	logger    *slog.Logger
	immediate bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	jobs    map[string]context.CancelFunc
	stopped bool
}

func NewTicker(opts ...TickerOpt) *Ticker {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	t := &Ticker{
		logger: slog.Default(),
		ctx:    ctx,
		cancel: cancel,
		group:  group,
		jobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Ticker) Register(name string, every time.Duration, job Job) error {
	if name == "" {
		return ErrEmptyName
	}
	if every <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, every)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return ErrStopped
	}
	if _, ok := t.jobs[name]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(t.ctx)
	t.jobs[name] = cancel

	t.group.Go(func() error {
		t.run(ctx, name, every, job)
		return nil
	})

	t.logger.Debug("Scheduled job", "name", name, "every", every)
	return nil
}

func (t *Ticker) run(ctx context.Context, name string, every time.Duration, job Job) {
	if t.immediate {
		t.invoke(ctx, name, job)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.invoke(ctx, name, job)
		}
	}
}

func (t *Ticker) invoke(ctx context.Context, name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Scheduled job panicked", "name", name, "panic", r)
		}
	}()

	job(ctx)
}

func (t *Ticker) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cancel, ok := t.jobs[name]; ok {
		cancel()
		delete(t.jobs, name)
		t.logger.Debug("Unscheduled job", "name", name)
	}
}

func (t *Ticker) Registered(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.jobs[name]
	return ok
}

// Stop cancels every job and waits for running ones to return.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	clear(t.jobs)
	t.mu.Unlock()

	t.cancel()
	_ = t.group.Wait()
}
