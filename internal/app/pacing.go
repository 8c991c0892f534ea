package app

import (
	"context"
	"math"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/example/ecs-manage/internal/core/failure"
)

// BackoffConfig describes an exponential, capped, jittered backoff.
type BackoffConfig struct {
	Initial time.Duration
	Factor  float64
	Cap     time.Duration
	Jitter  float64
}

func (c BackoffConfig) backoff() *wait.Backoff {
	return &wait.Backoff{
		Duration: c.Initial,
		Factor:   c.Factor,
		Jitter:   c.Jitter,
		Steps:    math.MaxInt32,
		Cap:      c.Cap,
	}
}

// RetryConfig bounds local retries of transient platform errors.
type RetryConfig struct {
	Attempts int
	Backoff  BackoffConfig
}

type deadlineKey struct{}

// withInvocationDeadline attaches the invocation deadline, measured on the
// injected clock, to ctx.
func withInvocationDeadline(ctx context.Context, deadline time.Time) context.Context {
	return context.WithValue(ctx, deadlineKey{}, deadline)
}

func invocationDeadline(ctx context.Context) (time.Time, bool) {
	d, ok := ctx.Value(deadlineKey{}).(time.Time)
	return d, ok
}

// errTimeout is returned by suspension points once the invocation deadline
// has passed.
func errTimeout(deadline time.Time) error {
	return failure.New(failure.KindTimeout, "invocation deadline %s exceeded", deadline.Format(time.RFC3339))
}

// checkDeadline returns a Timeout failure if ctx's invocation deadline has
// passed on clk, or ctx's own error if it is done.
func checkDeadline(ctx context.Context, clk clock.Clock) error {
	if deadline, ok := invocationDeadline(ctx); ok && !clk.Now().Before(deadline) {
		return errTimeout(deadline)
	}
	if err := ctx.Err(); err != nil {
		return failure.Wrap(failure.KindTimeout, "", err)
	}
	return nil
}

// sleep suspends for d on clk. It is the only place the engine blocks on
// time, and it returns a Timeout failure when ctx is cancelled or the
// invocation deadline passes.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if err := checkDeadline(ctx, clk); err != nil {
		return err
	}

	timer := clk.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return failure.Wrap(failure.KindTimeout, "", ctx.Err())
	case <-timer.C():
	}

	return checkDeadline(ctx, clk)
}

// retrier retries transient platform failures with capped backoff.
type retrier struct {
	cfg   RetryConfig
	clock clock.Clock
	log   logrus.FieldLogger
}

func newRetrier(cfg RetryConfig, clk clock.Clock, log logrus.FieldLogger) *retrier {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &retrier{cfg: cfg, clock: clk, log: log}
}

// do runs fn until it succeeds, fails permanently, or the attempts are used
// up. Only failure.KindPlatformUnavailable is retried.
func (r *retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := r.cfg.Backoff.backoff()
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !failure.Retryable(err) || attempt >= r.cfg.Attempts {
			return err
		}

		r.log.WithField("attempt", attempt).Infof("%s failed due to %v. Retrying", op, err)

		if werr := sleep(ctx, r.clock, b.Step()); werr != nil {
			return werr
		}
	}
}
