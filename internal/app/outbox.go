package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"quiz-client/internal/quizapi"
)

// Effect is one outbound side effect bound to an attempt.
// Effects sharing a non-empty Key coalesce while still pending: the newest wins.
type Effect struct {
	Key     string
	Attempt int64
	Label   string
	Delay   time.Duration
	Do      func(ctx context.Context, idempotencyKey string) error
}

// FailedEffect is an effect that exhausted its retries.
type FailedEffect struct {
	Attempt int64
	Label   string
	Err     error
}

// RetryPolicy bounds the retries of a single effect.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
	CallTimeout     time.Duration
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = p.MaxElapsed
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 10 * time.Second
	}
	return backoff.WithContext(b, ctx)
}

type job struct {
	effect   Effect
	key      string
	readyAt  time.Time
	inFlight bool
	dropped  bool
	cancel   context.CancelFunc
	err      error
}

// Outbox runs effects on a single worker, in enqueue order, with retry.
// A failure is forgotten once a newer effect with the same key is enqueued.
type Outbox struct {
	policy RetryPolicy
	now    func() time.Time

	mu      sync.Mutex
	queue   []*job
	failed  []*job
	changed chan struct{}
	wake    chan struct{}
	stop    context.CancelFunc
	done    chan struct{}
}

func NewOutbox(policy RetryPolicy) *Outbox {
	return &Outbox{
		policy:  policy,
		now:     time.Now,
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the worker; Stop ends it.
func (o *Outbox) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.stop = cancel
	o.done = make(chan struct{})
	done := o.done
	o.mu.Unlock()
	go func() {
		defer close(done)
		o.run(ctx)
	}()
}

func (o *Outbox) Stop() {
	o.mu.Lock()
	stop, done := o.stop, o.done
	o.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

// Enqueue schedules an effect, replacing a pending effect with the same key.
func (o *Outbox) Enqueue(effect Effect) {
	o.mu.Lock()
	defer o.mu.Unlock()

	readyAt := o.now().Add(effect.Delay)
	if effect.Key != "" {
		o.failed = filterJobs(o.failed, func(j *job) bool { return j.effect.Key != effect.Key })
		for _, j := range o.queue {
			if j.effect.Key == effect.Key && !j.inFlight && !j.dropped {
				j.effect = effect
				j.key = uuid.NewString()
				j.readyAt = readyAt
				o.notifyLocked()
				return
			}
		}
	}
	o.queue = append(o.queue, &job{effect: effect, key: uuid.NewString(), readyAt: readyAt})
	o.notifyLocked()
}

// Cancel drops pending effects of an attempt and aborts the one in flight.
func (o *Outbox) Cancel(attempt int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.queue[:0]
	for _, j := range o.queue {
		if j.effect.Attempt != attempt {
			kept = append(kept, j)
			continue
		}
		j.dropped = true
		if j.inFlight {
			if j.cancel != nil {
				j.cancel()
			}
			kept = append(kept, j)
		}
	}
	o.queue = kept
	o.failed = filterJobs(o.failed, func(j *job) bool { return j.effect.Attempt != attempt })
	o.notifyLocked()
}

// Flush waits until the attempt has nothing pending or in flight.
// It returns an error describing effects that exhausted their retries.
func (o *Outbox) Flush(ctx context.Context, attempt int64) error {
	o.mu.Lock()
	for _, j := range o.queue {
		if j.effect.Attempt == attempt && !j.inFlight {
			j.readyAt = o.now()
		}
	}
	o.notifyLocked()
	o.mu.Unlock()

	for {
		o.mu.Lock()
		busy := false
		for _, j := range o.queue {
			if j.effect.Attempt == attempt {
				busy = true
				break
			}
		}
		changed := o.changed
		var errs []error
		if !busy {
			for _, j := range o.failed {
				if j.effect.Attempt == attempt {
					errs = append(errs, fmt.Errorf("%s: %w", j.effect.Label, j.err))
				}
			}
		}
		o.mu.Unlock()

		if !busy {
			return errors.Join(errs...)
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Failed lists effects that exhausted their retries.
func (o *Outbox) Failed() []FailedEffect {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]FailedEffect, 0, len(o.failed))
	for _, j := range o.failed {
		out = append(out, FailedEffect{Attempt: j.effect.Attempt, Label: j.effect.Label, Err: j.err})
	}
	return out
}

// RetryFailed re-queues failed effects of an attempt and reports how many.
// Failures already superseded by a queued effect with the same key are dropped.
func (o *Outbox) RetryFailed(attempt int64) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	o.failed = filterJobs(o.failed, func(j *job) bool {
		if j.effect.Attempt != attempt {
			return true
		}
		if o.supersededLocked(j) {
			return false
		}
		o.queue = append(o.queue, &job{effect: j.effect, key: j.key, readyAt: o.now()})
		n++
		return false
	})
	o.notifyLocked()
	return n
}

func (o *Outbox) run(ctx context.Context) {
	for {
		next, wait := o.next()
		if next == nil {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-o.wake:
			case <-timer.C:
			}
			timer.Stop()
			continue
		}
		err := o.execute(ctx, next)
		o.finish(next, err)
		if ctx.Err() != nil {
			return
		}
	}
}

func (o *Outbox) next() (*job, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	wait := time.Hour
	for _, j := range o.queue {
		if j.inFlight || j.dropped {
			continue
		}
		if !j.readyAt.After(now) {
			j.inFlight = true
			return j, 0
		}
		if d := j.readyAt.Sub(now); d < wait {
			wait = d
		}
	}
	return nil, wait
}

func (o *Outbox) execute(ctx context.Context, j *job) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	effect, key := j.effect, j.key
	j.cancel = cancel
	if j.dropped {
		cancel()
	}
	o.mu.Unlock()

	op := func() error {
		callCtx := ctx
		if o.policy.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, o.policy.CallTimeout)
			defer cancel()
		}
		err := effect.Do(callCtx, key)
		if err != nil && !quizapi.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, o.policy.backOff(ctx))
}

func (o *Outbox) finish(j *job, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = filterJobs(o.queue, func(q *job) bool { return q != j })
	j.inFlight = false
	j.cancel = nil
	switch {
	case j.dropped:
	case err == nil:
		if j.effect.Key != "" {
			o.failed = filterJobs(o.failed, func(f *job) bool { return f.effect.Key != j.effect.Key })
		}
	case o.supersededLocked(j):
		log.Printf("outbox: %s for attempt %d failed, newer value pending: %v", j.effect.Label, j.effect.Attempt, err)
	default:
		log.Printf("outbox: %s for attempt %d failed: %v", j.effect.Label, j.effect.Attempt, err)
		j.err = err
		o.failed = append(o.failed, j)
	}
	o.notifyLocked()
}

// supersededLocked reports whether a newer effect with j's key is queued.
func (o *Outbox) supersededLocked(j *job) bool {
	if j.effect.Key == "" {
		return false
	}
	for _, q := range o.queue {
		if q != j && !q.dropped && q.effect.Key == j.effect.Key {
			return true
		}
	}
	return false
}

func (o *Outbox) notifyLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func filterJobs(jobs []*job, keep func(*job) bool) []*job {
	out := jobs[:0]
	for _, j := range jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	return out
}
