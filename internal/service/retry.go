package service

import (
	"context"
	"errors"
	"log"
	"time"

	"med-reminder/internal/metrics"
)

const (
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 2 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Prober checks that the remote store is reachable.
type Prober func(ctx context.Context) error

// Retrier runs remote operations with a connectivity probe before each attempt
// and a fixed pause between failed attempts. It is the only place that retries.
type Retrier struct {
	MaxRetries   int
	Delay        time.Duration
	ProbeTimeout time.Duration
	Probe        Prober

	// sleep waits d or until ctx ends; nil uses a timer.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetrier(maxRetries int, delay, probeTimeout time.Duration, probe Prober) *Retrier {
	return &Retrier{MaxRetries: maxRetries, Delay: delay, ProbeTimeout: probeTimeout, Probe: probe}
}

// Do runs op until it succeeds, the store gives a definitive answer
// (ErrConflict, ErrNotFound), or the attempt budget is spent. The last
// concrete error is returned unchanged.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := r.MaxRetries
	if attempts <= 0 {
		attempts = DefaultMaxRetries
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.probe(ctx)
		if err == nil {
			err = op(ctx)
		}
		if err == nil {
			metrics.SyncAttempts.WithLabelValues(name, "ok").Inc()
			return nil
		}
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			metrics.SyncAttempts.WithLabelValues(name, "definitive").Inc()
			return err
		}

		if IsOffline(err) {
			metrics.SyncAttempts.WithLabelValues(name, "offline").Inc()
		} else {
			metrics.SyncAttempts.WithLabelValues(name, "error").Inc()
		}
		last = err
		log.Printf("[warn] %s: attempt %d/%d failed: %v", name, attempt, attempts, err)

		if attempt == attempts {
			break
		}
		if err := r.wait(ctx); err != nil {
			return last
		}
	}

	if last == nil {
		return ErrMaxRetriesExceeded
	}
	return last
}

// PerformWithRetry is Do for operations that return a value.
func PerformWithRetry[T any](ctx context.Context, r *Retrier, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Retrier) probe(ctx context.Context) error {
	if r.Probe == nil {
		return nil
	}
	timeout := r.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := r.Probe(pctx); err != nil {
		return &ConnectivityError{Err: err}
	}
	return nil
}

func (r *Retrier) wait(ctx context.Context) error {
	d := r.Delay
	if d < 0 {
		d = 0
	}
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping probes the store once, bounded by the probe timeout.
func (r *Retrier) Ping(ctx context.Context) error {
	return r.probe(ctx)
}
