package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Dispatcher bounds outbound request pressure two ways at once: at most
// maxConcurrent tasks run simultaneously, and consecutive task starts are
// spaced at least minInterval apart. Slots in the interval schedule are
// reserved under the mutex before sleeping, so waiters line up in order
// instead of thundering on the same wakeup.
type Dispatcher struct {
	sem         *semaphore.Weighted
	minInterval time.Duration
	log         *logrus.Entry

	mu           sync.Mutex
	lastDispatch time.Time
}

// NewDispatcher creates a dispatcher with the given concurrency ceiling and
// minimum spacing between task starts. maxConcurrent must be >= 1; a
// minInterval of zero disables spacing.
func NewDispatcher(maxConcurrent int, minInterval time.Duration, log *logrus.Logger) *Dispatcher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Dispatcher{
		sem:         semaphore.NewWeighted(int64(maxConcurrent)),
		minInterval: minInterval,
		log: log.WithFields(logrus.Fields{
			"component":       "dispatcher",
			"max_concurrent":  maxConcurrent,
			"min_interval_ms": minInterval.Milliseconds(),
		}),
	}
}

// Schedule blocks until a concurrency slot and an interval slot are both
// available, then runs task. The task's error is returned as-is. If ctx is
// cancelled while waiting, the task never runs and ctx.Err() is returned.
func (d *Dispatcher) Schedule(ctx context.Context, task func(ctx context.Context) error) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	if err := d.waitTurn(ctx); err != nil {
		return err
	}
	return task(ctx)
}

// waitTurn reserves the next dispatch timestamp and sleeps until it arrives.
func (d *Dispatcher) waitTurn(ctx context.Context) error {
	if d.minInterval <= 0 {
		return nil
	}

	d.mu.Lock()
	now := time.Now()
	next := d.lastDispatch.Add(d.minInterval)
	if next.Before(now) {
		next = now
	}
	d.lastDispatch = next
	d.mu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	d.log.WithField("wait_ms", wait.Milliseconds()).Trace("Waiting for dispatch slot")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule runs fn through d and returns its value alongside its error. It
// exists because methods cannot be generic.
func Schedule[T any](ctx context.Context, d *Dispatcher, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := d.Schedule(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
