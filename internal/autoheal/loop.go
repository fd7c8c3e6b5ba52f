package autoheal

import (
	"context"
	"strconv"
	"time"

	"k8s.io/utils/clock"

	"github.com/domrelay/domrelay/internal/pkg/metrics"
	"github.com/domrelay/domrelay/pkg/log"
)

const (
	DefaultMaxRetries = 2
	DefaultDelay      = 2 * time.Second
)

// Op is one attempt of a healed operation.
type Op[T any] func(ctx context.Context, hctx *Context) (T, error)

// Result is the outcome of a heal session.
type Result[T any] struct {
	Value T
	// Err is the error of the last attempt, or the context error when the
	// session was cancelled while waiting.
	Err       error
	Attempts  int
	Diagnosis *Diagnosis
	Heals     []HealResult
}

// OK reports whether an attempt succeeded.
func (r Result[T]) OK() bool { return r.Err == nil }

// Loop retries an Op at most MaxRetries times after the first attempt,
// healing between attempts.
type Loop[T any] struct {
	healer     Healer
	maxRetries int
	delay      time.Duration
	clock      clock.Clock
	logger     log.Logger
}

type Option func(*options)

type options struct {
	maxRetries int
	delay      time.Duration
	clock      clock.Clock
	logger     log.Logger
}

func WithMaxRetries(n int) Option      { return func(o *options) { o.maxRetries = n } }
func WithDelay(d time.Duration) Option { return func(o *options) { o.delay = d } }
func WithClock(c clock.Clock) Option   { return func(o *options) { o.clock = c } }
func WithLogger(l log.Logger) Option   { return func(o *options) { o.logger = l } }

func NewLoop[T any](healer Healer, opts ...Option) *Loop[T] {
	o := options{
		maxRetries: DefaultMaxRetries,
		delay:      DefaultDelay,
		clock:      clock.RealClock{},
		logger:     log.WithName("autoheal"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxRetries < 0 {
		o.maxRetries = 0
	}
	return &Loop[T]{
		healer:     healer,
		maxRetries: o.maxRetries,
		delay:      o.delay,
		clock:      o.clock,
		logger:     o.logger,
	}
}

// Run executes op until it succeeds, the failure is not healable, the retry
// budget is spent or ctx is done.
func (l *Loop[T]) Run(ctx context.Context, hctx *Context, op Op[T]) Result[T] {
	var res Result[T]
	for {
		res.Attempts++
		hctx.Attempt = res.Attempts

		v, err := op(ctx, hctx)
		if err == nil {
			res.Value, res.Err = v, nil
			return res
		}
		res.Err = err

		diag := Diagnose(err, hctx)
		res.Diagnosis = &diag
		logger := l.logger.WithValues("attempt", res.Attempts, "errorType", diag.ErrorType)

		if !diag.AutoFixable || res.Attempts > l.maxRetries {
			logger.Info("Giving up", "rootCause", diag.RootCause, "fixable", diag.AutoFixable)
			return res
		}

		heal, herr := l.healer.Heal(ctx, diag.ErrorType, hctx)
		metrics.HealAttempts.WithLabelValues(string(diag.ErrorType), strconv.FormatBool(heal.Healed)).Inc()
		if herr != nil {
			logger.Error(herr, "Heal failed")
			return res
		}
		res.Heals = append(res.Heals, heal)
		if !heal.Healed || !heal.RetryRecommended {
			logger.Info("Heal did not recommend a retry", "action", heal.Action)
			return res
		}
		logger.Info("Healed, retrying", "action", heal.Action, "delay", l.delay)

		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		case <-l.clock.After(l.delay):
		}
	}
}
