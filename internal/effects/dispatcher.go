package effects

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"collab-revisions/internal/metrics"
	"collab-revisions/internal/worker"
)

// Executor performs one kind of effect.
type Executor interface {
	Execute(ctx context.Context, e Effect) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, e Effect) error

func (f ExecutorFunc) Execute(ctx context.Context, e Effect) error { return f(ctx, e) }

// Pool is where effects run.
type Pool interface {
	Submit(t worker.Task) bool
}

type Options struct {
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// AttemptTimeout bounds a single execution.
	AttemptTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxRetry:       3,
		BaseBackoff:    100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		AttemptTimeout: 5 * time.Second,
	}
}

// Dispatcher hands effects to the pool and retries failures with capped
// exponential backoff. Delivery is at least once while the process lives.
type Dispatcher struct {
	pool      Pool
	executors map[Kind]Executor
	opt       Options
	logger    zerolog.Logger
}

func NewDispatcher(pool Pool, opt Options, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		pool:      pool,
		executors: make(map[Kind]Executor),
		opt:       opt,
		logger:    logger.With().Str("component", "effects").Logger(),
	}
}

// Register sets the executor of kind. Effects without an executor are skipped.
func (d *Dispatcher) Register(kind Kind, exec Executor) {
	d.executors[kind] = exec
}

// Dispatch queues every effect and returns immediately.
func (d *Dispatcher) Dispatch(effects ...Effect) {
	for _, e := range effects {
		exec, ok := d.executors[e.Kind]
		if !ok {
			d.logger.Debug().Stringer("effect", e).Msg("no executor registered, skipping")
			metrics.EffectsTotal.WithLabelValues(string(e.Kind), "skipped").Inc()
			continue
		}
		e := e
		if !d.pool.Submit(func(ctx context.Context) error { return d.run(ctx, exec, e) }) {
			metrics.EffectsTotal.WithLabelValues(string(e.Kind), "dropped").Inc()
			d.logger.Warn().Stringer("effect", e).Msg("effect dropped, pool unavailable")
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, exec Executor, e Effect) error {
	for attempt := 0; ; attempt++ {
		err := d.attempt(ctx, exec, e)
		if err == nil {
			metrics.EffectsTotal.WithLabelValues(string(e.Kind), "ok").Inc()
			return nil
		}

		if attempt >= d.opt.MaxRetry || errors.Is(err, context.Canceled) {
			metrics.EffectsTotal.WithLabelValues(string(e.Kind), "failed").Inc()
			d.logger.Error().Err(err).
				Stringer("effect", e).
				Str("submission_id", e.SubmissionID).
				Int("attempts", attempt+1).
				Msg("effect failed, giving up")
			return err
		}

		d.logger.Warn().Err(err).Stringer("effect", e).Int("attempt", attempt+1).Msg("effect failed, retrying")
		select {
		case <-time.After(d.backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, exec Executor, e Effect) error {
	if d.opt.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opt.AttemptTimeout)
		defer cancel()
	}
	return exec.Execute(ctx, e)
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	backoff := d.opt.BaseBackoff * time.Duration(1<<attempt)
	if backoff > d.opt.MaxBackoff {
		backoff = d.opt.MaxBackoff
	}
	return backoff
}
