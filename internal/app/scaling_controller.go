package app

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/core/scaling"
	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

// DefaultStepTimeout bounds the wait for one scaling step.
const DefaultStepTimeout = 5 * time.Minute

// ScalingConfig tunes the scaling controller.
type ScalingConfig struct {
	// StepTimeout applies when a policy does not set its own.
	StepTimeout time.Duration
	Poll        BackoffConfig
	Retry       RetryConfig
}

// ScaleRequest asks the controller to move a service's desired count.
type ScaleRequest struct {
	ID      service.ID
	Current int
	Target  int
	Policy  service.ScalingPolicy
}

// ScaleResult reports how far a scaling request got.
type ScaleResult struct {
	Reached    int   // last desired count the platform acknowledged
	Steps      []int // planned intermediate counts
	Issued     int   // number of update calls acknowledged
	Stabilized bool  // the final step converged before its timeout
}

// ScalingController changes a service's desired count within bounds.
type ScalingController struct {
	platform secondary.Platform
	fetcher  *Fetcher
	retry    *retrier
	cfg      ScalingConfig
	clock    clock.Clock
	log      logrus.FieldLogger
}

// NewScalingController creates a new ScalingController with injected dependencies.
func NewScalingController(platform secondary.Platform, fetcher *Fetcher, cfg ScalingConfig, clk clock.Clock, log logrus.FieldLogger) *ScalingController {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	return &ScalingController{
		platform: platform,
		fetcher:  fetcher,
		retry:    newRetrier(cfg.Retry, clk, log),
		cfg:      cfg,
		clock:    clk,
		log:      log,
	}
}

// Run scales the service. A target equal to the current count makes no
// platform call. On error the result still reports partial progress.
func (c *ScalingController) Run(ctx context.Context, req ScaleRequest) (ScaleResult, error) {
	result := ScaleResult{Reached: req.Current}

	if err := scaling.CanScaleTo(req.Target, req.Policy).Error(); err != nil {
		return result, err
	}

	result.Steps = scaling.PlanSteps(req.Current, req.Target, req.Policy.Step)
	if len(result.Steps) == 0 {
		result.Stabilized = true
		return result, nil
	}

	stepTimeout := req.Policy.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = c.cfg.StepTimeout
	}

	log := c.log.WithFields(logrus.Fields{
		"service": req.ID.String(),
		"from":    req.Current,
		"to":      req.Target,
	})
	log.WithField("steps", result.Steps).Info("scaling service")

	for _, count := range result.Steps {
		err := c.retry.do(ctx, fmt.Sprintf("scaling %s", req.ID), func(ctx context.Context) error {
			return c.platform.UpdateService(ctx, secondary.UpdateServiceRequest{ID: req.ID, DesiredCount: count})
		})
		if err != nil {
			return result, fmt.Errorf("failed to scale %s to %d: %w", req.ID, count, err)
		}
		result.Issued++
		result.Reached = count

		stable, err := c.waitStable(ctx, req.ID, count, stepTimeout)
		if err != nil {
			return result, fmt.Errorf("failed waiting for %s to reach %d: %w", req.ID, count, err)
		}
		result.Stabilized = stable
		if !stable {
			log.WithField("step", count).Warnf("not stable after %s, continuing", stepTimeout)
		}
	}

	return result, nil
}

// waitStable polls until the service runs exactly count tasks with none
// pending, or timeout elapses. It returns an error only on invocation
// timeout or cancellation.
func (c *ScalingController) waitStable(ctx context.Context, id service.ID, count int, timeout time.Duration) (bool, error) {
	started := c.clock.Now()
	poll := c.cfg.Poll.backoff()

	for {
		if timeout > 0 && c.clock.Since(started) >= timeout {
			return false, nil
		}
		if err := sleep(ctx, c.clock, poll.Step()); err != nil {
			return false, err
		}

		state, err := c.fetcher.Fetch(ctx, id)
		switch {
		case failure.Is(err, failure.KindTimeout):
			return false, err
		case err != nil:
			c.log.WithError(err).WithField("service", id.String()).Warn("scaling sample unavailable")
		case scaling.Stabilized(*state, count):
			return true, nil
		}
	}
}
