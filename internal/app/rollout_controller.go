package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/core/rollout"
	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

// DefaultRollbackBudget bounds a rollback when none is configured.
const DefaultRollbackBudget = 10 * time.Minute

// RolloutConfig tunes the rollout controller.
type RolloutConfig struct {
	Verify         rollout.VerifyPolicy
	Poll           BackoffConfig
	Retry          RetryConfig
	RollbackBudget time.Duration
}

// RolloutRequest asks the controller to move a service to Target.
type RolloutRequest struct {
	Spec    service.ServiceSpec
	Target  service.TaskDefinitionRevision
	Current service.ServiceState
}

// RolloutSession is the bookkeeping for one attempt to move a service from
// its current revision to a target revision.
type RolloutSession struct {
	ServiceID        service.ID
	TargetRevision   string
	PreviousRevision string
	// DesiredCount is the count the rollout runs at. Scaling finishes on
	// PreviousRevision first, so a rollback restores it at this count.
	DesiredCount     int
	StartedAt        time.Time
	Phase            rollout.Phase
	Transitions      []rollout.Phase
	Attempts         int
	LastState        *service.ServiceState
	RolledBack       bool
	Escalated        bool
	Reason           string
	Err              error

	// policy is the configured verify policy with the service's own
	// health-check grace period, when it sets one.
	policy rollout.VerifyPolicy
}

func (s *RolloutSession) fire(ev rollout.Event) error {
	next, err := rollout.Transition(s.Phase, ev)
	if err != nil {
		return err
	}
	s.Phase = next
	s.Transitions = append(s.Transitions, next)
	return nil
}

// RolloutController drives a RolloutSession through its phases.
type RolloutController struct {
	platform secondary.Platform
	fetcher  *Fetcher
	retry    *retrier
	cfg      RolloutConfig
	clock    clock.Clock
	log      logrus.FieldLogger
}

// NewRolloutController creates a new RolloutController with injected dependencies.
func NewRolloutController(platform secondary.Platform, fetcher *Fetcher, cfg RolloutConfig, clk clock.Clock, log logrus.FieldLogger) *RolloutController {
	if cfg.RollbackBudget <= 0 {
		cfg.RollbackBudget = DefaultRollbackBudget
	}
	return &RolloutController{
		platform: platform,
		fetcher:  fetcher,
		retry:    newRetrier(cfg.Retry, clk, log),
		cfg:      cfg,
		clock:    clk,
		log:      log,
	}
}

// Run executes the rollout and always returns a session in a terminal phase.
func (c *RolloutController) Run(ctx context.Context, req RolloutRequest) *RolloutSession {
	id := req.Spec.ID()
	s := &RolloutSession{
		ServiceID:        id,
		TargetRevision:   req.Target.Ref(),
		PreviousRevision: req.Current.ActiveRevision,
		DesiredCount:     req.Current.DesiredCount,
		StartedAt:        c.clock.Now(),
		Phase:            rollout.PhasePending,
		Transitions:      []rollout.Phase{rollout.PhasePending},
		policy:           c.cfg.Verify,
	}
	if req.Spec.HealthCheckGracePeriod > 0 {
		s.policy.GracePeriod = req.Spec.HealthCheckGracePeriod
	}
	log := c.log.WithFields(logrus.Fields{
		"service":  id.String(),
		"target":   s.TargetRevision,
		"previous": s.PreviousRevision,
	})

	if err := checkDeadline(ctx, c.clock); err != nil {
		c.must(s, rollout.EventTimeout)
		s.Reason = "timed out before deploying"
		s.Err = err
		return s
	}
	c.must(s, rollout.EventResolved)
	log.WithField("phase", s.Phase).Info("deploying target revision")

	budget := rollout.ComputeBudget(s.DesiredCount, req.Spec.Deployment)
	bounds := budget.Bounds(s.DesiredCount)

	err := c.update(ctx, secondary.UpdateServiceRequest{
		ID:                     id,
		Revision:               s.TargetRevision,
		DesiredCount:           s.DesiredCount,
		Bounds:                 &bounds,
		HealthCheckGracePeriod: req.Spec.HealthCheckGracePeriod,
	})
	switch {
	case failure.Is(err, failure.KindTimeout):
		c.must(s, rollout.EventTimeout)
		c.rollback(ctx, s, "timed out", err, log)
		return s
	case err != nil:
		c.must(s, rollout.EventUpdateRejected)
		s.Reason = fmt.Sprintf("update rejected: %v", err)
		s.Err = fmt.Errorf("failed to update service %s: %w", id, err)
		log.WithError(err).Warn("platform refused the update")
		return s
	}
	c.must(s, rollout.EventUpdateAcked)
	log.WithField("phase", s.Phase).Info("update acknowledged, verifying health")

	obs, err := c.verify(ctx, s, s.TargetRevision, s.policy)
	if err != nil {
		c.must(s, rollout.EventTimeout)
		c.rollback(ctx, s, "timed out", err, log)
		return s
	}

	switch obs.Verdict {
	case rollout.VerdictHealthy:
		c.must(s, rollout.EventHealthy)
		c.must(s, rollout.EventFinalized)
		s.Reason = fmt.Sprintf("rolled out %s", s.TargetRevision)
		log.WithField("phase", s.Phase).Info(obs.Reason)
	case rollout.VerdictFatal:
		c.must(s, rollout.EventFatal)
		c.rollback(ctx, s, obs.Reason, healthError(obs), log)
	default:
		c.must(s, rollout.EventBudgetExhausted)
		c.rollback(ctx, s, obs.Reason, healthError(obs), log)
	}
	return s
}

func healthError(obs rollout.Observation) error {
	if obs.Detail != "" {
		return failure.New(failure.KindHealthCheckFailed, "%s: %s", obs.Reason, obs.Detail)
	}
	return failure.New(failure.KindHealthCheckFailed, "%s", obs.Reason)
}

// must applies an event that the controller's own control flow guarantees
// to be valid.
func (c *RolloutController) must(s *RolloutSession, ev rollout.Event) {
	if err := s.fire(ev); err != nil {
		panic(err)
	}
}

func (c *RolloutController) update(ctx context.Context, req secondary.UpdateServiceRequest) error {
	return c.retry.do(ctx, fmt.Sprintf("updating %s", req.ID), func(ctx context.Context) error {
		return c.platform.UpdateService(ctx, req)
	})
}

// verify polls the service until the verifier reaches a verdict. It returns
// an error only when the invocation times out or is cancelled.
func (c *RolloutController) verify(ctx context.Context, s *RolloutSession, target string, policy rollout.VerifyPolicy) (rollout.Observation, error) {
	v := rollout.NewVerifier(policy, target, s.DesiredCount, c.clock.Now())
	poll := c.cfg.Poll.backoff()
	log := c.log.WithFields(logrus.Fields{"service": s.ServiceID.String(), "revision": target})

	for {
		if err := sleep(ctx, c.clock, poll.Step()); err != nil {
			return rollout.Observation{}, err
		}

		var obs rollout.Observation
		state, err := c.fetcher.Fetch(ctx, s.ServiceID)
		switch {
		case failure.Is(err, failure.KindTimeout):
			return rollout.Observation{}, err
		case err != nil:
			log.WithError(err).Warn("health sample unavailable")
			obs = v.Miss()
		default:
			s.LastState = state
			obs = v.Observe(*state, c.clock.Now())
		}
		s.Attempts = v.Attempts()

		log.WithFields(logrus.Fields{
			"attempt": s.Attempts,
			"healthy": obs.Healthy,
			"failing": obs.Failing,
			"verdict": obs.Verdict,
		}).Debug("health sample")

		if obs.Verdict != rollout.VerdictContinue {
			return obs, nil
		}
	}
}

// rollback restores the previous revision. It runs on a context detached
// from the invocation so a timed-out or cancelled invocation still gets its
// service restored, bounded by the rollback budget.
func (c *RolloutController) rollback(ctx context.Context, s *RolloutSession, cause string, causeErr error, log logrus.FieldLogger) {
	log = log.WithField("phase", s.Phase)
	log.WithField("cause", cause).Warn("rolling back")

	if s.PreviousRevision == "" {
		c.escalate(s, cause, errors.New("no previous revision to roll back to"), log)
		return
	}

	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RollbackBudget)
	defer cancel()
	rbCtx = withInvocationDeadline(rbCtx, c.clock.Now().Add(c.cfg.RollbackBudget))

	err := c.update(rbCtx, secondary.UpdateServiceRequest{
		ID:           s.ServiceID,
		Revision:     s.PreviousRevision,
		DesiredCount: s.DesiredCount,
	})
	if err != nil {
		c.escalate(s, cause, err, log)
		return
	}

	obs, err := c.verify(rbCtx, s, s.PreviousRevision, s.policy)
	if err != nil {
		c.escalate(s, cause, err, log)
		return
	}
	if obs.Verdict != rollout.VerdictHealthy {
		c.escalate(s, cause, healthError(obs), log)
		return
	}

	c.must(s, rollout.EventRestored)
	s.RolledBack = true
	s.Reason = cause + ", rolled back"
	s.Err = causeErr
	log.WithField("phase", s.Phase).Warn(s.Reason)
}

func (c *RolloutController) escalate(s *RolloutSession, cause string, err error, log logrus.FieldLogger) {
	c.must(s, rollout.EventRollbackFailed)
	s.Escalated = true
	s.Reason = fmt.Sprintf("%s, rollback failed: %v", cause, err)
	s.Err = failure.Wrap(failure.KindRollbackFailed, "rollback", err)
	log.WithError(err).Error("rollback failed, manual intervention required")
}
