package scheduler

import (
	"context"
	"time"

	"github.com/docker/plugin-telemetry/pkg/concurrent"
)

type manualJob struct {
	every time.Duration
	job   Job
}

// Manual never fires by itself; Tick runs a job on demand. One-shot tools
// and tests use it where a background goroutine is unwanted.
type Manual struct {
	jobs *concurrent.Map[string, manualJob]
}

func NewManual() *Manual {
	return &Manual{jobs: concurrent.NewMap[string, manualJob]()}
}

func (m *Manual) Register(name string, every time.Duration, job Job) error {
	if name == "" {
		return ErrEmptyName
	}
	m.jobs.Update(name, func(cur manualJob, ok bool) manualJob {
		if ok {
			return cur
		}
		return manualJob{every: every, job: job}
	})
	return nil
}

func (m *Manual) Unregister(name string) {
	m.jobs.Delete(name)
}

func (m *Manual) Registered(name string) bool {
	_, ok := m.jobs.Load(name)
	return ok
}

// Interval returns the period a job was registered with.
func (m *Manual) Interval(name string) (time.Duration, bool) {
	j, ok := m.jobs.Load(name)
	return j.every, ok
}

// Tick runs the named job once and reports whether it was registered.
func (m *Manual) Tick(ctx context.Context, name string) bool {
	j, ok := m.jobs.Load(name)
	if !ok {
		return false
	}
	j.job(ctx)
	return true
}

// RunAll runs every registered job once, in name order.
func (m *Manual) RunAll(ctx context.Context) {
	for _, name := range concurrent.SortedKeys(m.jobs) {
		m.Tick(ctx, name)
	}
}
