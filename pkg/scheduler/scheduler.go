// Package scheduler runs named periodic jobs, such as the queue flush.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrStopped         = errors.New("scheduler stopped")
	ErrInvalidInterval = errors.New("invalid report interval")
	ErrEmptyName       = errors.New("job name cannot be empty")
)

// Interval is one of the report frequencies a host can pick.
type Interval string

const (
	Hourly     Interval = "hourly"
	TwiceDaily Interval = "twicedaily"
	Daily      Interval = "daily"
	Weekly     Interval = "weekly"
)

// Intervals lists every supported value, shortest first.
var Intervals = []Interval{Hourly, TwiceDaily, Daily, Weekly}

func (i Interval) Duration() time.Duration {
	switch i {
	case Hourly:
		return time.Hour
	case TwiceDaily:
		return 12 * time.Hour
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

func (i Interval) Valid() bool {
	return i.Duration() > 0
}

func (i Interval) String() string {
	return string(i)
}

// ParseInterval accepts the names case-insensitively. An empty string selects
// Weekly.
func ParseInterval(s string) (Interval, error) {
	if strings.TrimSpace(s) == "" {
		return Weekly, nil
	}
	i := Interval(strings.ToLower(strings.TrimSpace(s)))
	if !i.Valid() {
		return "", fmt.Errorf("%w: %q (want one of hourly, twicedaily, daily, weekly)", ErrInvalidInterval, s)
	}
	return i, nil
}

// Job is the callback run on every tick.
type Job func(ctx context.Context)

// Scheduler registers named periodic jobs.
type Scheduler interface {
	// Register schedules job every interval. Registering a name that is
	// already scheduled is a no-op.
	Register(name string, every time.Duration, job Job) error
	// Unregister removes the job; unknown names are ignored.
	Unregister(name string)
	Registered(name string) bool
}
