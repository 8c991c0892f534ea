package app

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/core/rollout"
	"github.com/example/ecs-manage/internal/core/scaling"
	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/core/taskdef"
	"github.com/example/ecs-manage/internal/ports/primary"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

// DefaultTimeout bounds one invocation when none is configured.
const DefaultTimeout = 30 * time.Minute

// EngineConfig tunes the reconciliation engine.
type EngineConfig struct {
	Timeout         time.Duration
	LockTTL         time.Duration
	RevisionHistory int
	Retry           RetryConfig
	Rollout         RolloutConfig
	Scaling         ScalingConfig
}

// ReconcileServiceImpl implements the ReconcileService interface.
type ReconcileServiceImpl struct {
	platform secondary.Platform
	history  secondary.HistoryRepository
	locker   secondary.ServiceLocker
	notifier secondary.Notifier
	metrics  secondary.MetricsPublisher
	fetcher  *Fetcher
	rollouts *RolloutController
	scaler   *ScalingController
	cfg      EngineConfig
	clock    clock.Clock
	log      logrus.FieldLogger
	newID    func() string
}

// NewReconcileService creates a new ReconcileService with injected dependencies.
func NewReconcileService(
	platform secondary.Platform,
	history secondary.HistoryRepository,
	locker secondary.ServiceLocker,
	notifier secondary.Notifier,
	metrics secondary.MetricsPublisher,
	cfg EngineConfig,
	clk clock.Clock,
	log logrus.FieldLogger,
) *ReconcileServiceImpl {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Timeout + DefaultRollbackBudget
	}
	if cfg.RevisionHistory <= 0 {
		cfg.RevisionHistory = 10
	}
	if cfg.Rollout.Retry.Attempts == 0 {
		cfg.Rollout.Retry = cfg.Retry
	}
	if cfg.Scaling.Retry.Attempts == 0 {
		cfg.Scaling.Retry = cfg.Retry
	}

	fetcher := NewFetcher(platform, cfg.Retry, clk, log)
	return &ReconcileServiceImpl{
		platform: platform,
		history:  history,
		locker:   locker,
		notifier: notifier,
		metrics:  metrics,
		fetcher:  fetcher,
		rollouts: NewRolloutController(platform, fetcher, cfg.Rollout, clk, log),
		scaler:   NewScalingController(platform, fetcher, cfg.Scaling, clk, log),
		cfg:      cfg,
		clock:    clk,
		log:      log,
		newID:    func() string { return uuid.NewString() },
	}
}

// invocation carries the per-call state shared by Deploy and Scale.
type invocation struct {
	out        *rollout.Outcome
	log        logrus.FieldLogger
	attempts   int
	rolledBack bool
}

// run wraps one invocation: it applies the deadline, holds the service lock
// around body, then records and reports the outcome.
func (s *ReconcileServiceImpl) run(ctx context.Context, id service.ID, body func(ctx context.Context, inv *invocation)) rollout.Outcome {
	start := s.clock.Now()
	out := &rollout.Outcome{
		InvocationID: s.newID(),
		ServiceID:    id,
		Phase:        rollout.PhasePending,
		StartedAt:    start,
		Transitions:  []rollout.Phase{rollout.PhasePending},
	}
	inv := &invocation{
		out: out,
		log: s.log.WithFields(logrus.Fields{"service": id.String(), "invocation": out.InvocationID}),
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	ctx = withInvocationDeadline(ctx, start.Add(s.cfg.Timeout))

	key := lockKey(id)
	err := s.locker.Acquire(ctx, key, out.InvocationID, s.cfg.LockTTL)
	switch {
	case failure.Is(err, failure.KindLocked):
		s.fail(inv, err, "another invocation is reconciling this service")
	case err != nil:
		s.fail(inv, err, fmt.Sprintf("could not lock service: %v", err))
	default:
		body(ctx, inv)
		if err := s.locker.Release(context.WithoutCancel(ctx), key, out.InvocationID); err != nil {
			inv.log.WithError(err).Warn("failed to release service lock")
		}
	}
	cancel()

	s.finish(context.WithoutCancel(ctx), inv)
	return *out
}

func lockKey(id service.ID) string {
	return "ecs-manage/lock/" + id.String()
}

// fail ends the invocation in the Failed phase.
func (s *ReconcileServiceImpl) fail(inv *invocation, err error, reason string) {
	if inv.out.Phase != rollout.PhaseFailed {
		inv.out.Phase = rollout.PhaseFailed
		inv.out.Transitions = append(inv.out.Transitions, rollout.PhaseFailed)
	}
	inv.out.Err = err
	inv.out.Reason = reason
}

// succeed ends the invocation in the Succeeded phase without a rollout.
func (s *ReconcileServiceImpl) succeed(inv *invocation, reason string) {
	inv.out.Phase = rollout.PhaseSucceeded
	inv.out.Transitions = append(inv.out.Transitions, rollout.PhaseSucceeded)
	inv.out.Reason = reason
}

// Deploy reconciles one service against its spec.
func (s *ReconcileServiceImpl) Deploy(ctx context.Context, spec service.ServiceSpec) rollout.Outcome {
	return s.run(ctx, spec.ID(), func(ctx context.Context, inv *invocation) {
		s.deploy(ctx, inv, spec)
	})
}

func (s *ReconcileServiceImpl) deploy(ctx context.Context, inv *invocation, spec service.ServiceSpec) {
	id := spec.ID()
	out := inv.out

	if err := validateSpec(spec); err != nil {
		s.fail(inv, err, fmt.Sprintf("invalid spec: %v", err))
		return
	}

	state, err := s.fetcher.Fetch(ctx, id)
	if err != nil {
		s.fail(inv, err, fmt.Sprintf("could not read service state: %v", err))
		return
	}
	out.PreviousRevision = state.ActiveRevision
	out.DesiredCount = state.DesiredCount
	out.RunningCount = state.RunningCount

	resolver := NewResolver(s.platform, s.cfg.Retry, s.clock, inv.log)
	known, err := resolver.KnownRevisions(ctx, spec.FamilyName(), s.cfg.RevisionHistory)
	if err != nil {
		s.fail(inv, err, fmt.Sprintf("could not list task definitions: %v", err))
		return
	}
	res, err := resolver.Resolve(ctx, spec, known)
	if err != nil {
		s.fail(inv, err, fmt.Sprintf("could not resolve task definition: %v", err))
		return
	}
	out.RevisionUsed = res.Revision.Ref()
	out.Registered = res.Registered

	revisionChanged := !sameRevision(state.ActiveRevision, res.Revision)
	countChanged := state.DesiredCount != spec.DesiredCount

	if !revisionChanged && !countChanged {
		s.succeed(inv, "already up to date")
		return
	}

	// Scaling runs first so a failed rollout still reports the new count.
	if countChanged {
		result, err := s.scaler.Run(ctx, ScaleRequest{
			ID:      id,
			Current: state.DesiredCount,
			Target:  spec.DesiredCount,
			Policy:  spec.Scaling,
		})
		out.Scaled = result.Issued > 0
		out.DesiredCount = result.Reached
		if err != nil {
			s.fail(inv, err, fmt.Sprintf("scaling stopped at %d of %d: %v", result.Reached, spec.DesiredCount, err))
			return
		}
		state.DesiredCount = result.Reached
	}

	if !revisionChanged {
		s.succeed(inv, fmt.Sprintf("scaled to %d", out.DesiredCount))
		return
	}

	out.RolledOut = true
	session := s.rollouts.Run(ctx, RolloutRequest{Spec: spec, Target: res.Revision, Current: *state})

	inv.attempts = session.Attempts
	inv.rolledBack = session.RolledBack
	out.Phase = session.Phase
	out.Transitions = append(out.Transitions, session.Transitions[1:]...)
	out.Reason = session.Reason
	out.Err = session.Err
	out.Escalated = session.Escalated
	if session.LastState != nil {
		out.RunningCount = session.LastState.RunningCount
	}
}

func validateSpec(spec service.ServiceSpec) error {
	if spec.Cluster == "" || spec.Service == "" {
		return failure.New(failure.KindSpecInvalid, "cluster and service are required")
	}
	if err := taskdef.ValidateTemplate(spec.Template()).Error(); err != nil {
		return err
	}
	if err := rollout.ValidatePolicy(spec.DesiredCount, spec.Deployment); err != nil {
		return failure.Wrap(failure.KindSpecInvalid, "deployment policy", err)
	}
	return scaling.CanScaleTo(spec.DesiredCount, spec.Scaling).Error()
}

// sameRevision compares a platform revision reference with a resolved
// revision, accepting either its ARN or its family:revision form.
func sameRevision(active string, rev service.TaskDefinitionRevision) bool {
	if active == "" {
		return false
	}
	return active == rev.ARN || active == fmt.Sprintf("%s:%d", rev.Family, rev.Revision)
}

// DeployAll reconciles several services concurrently.
func (s *ReconcileServiceImpl) DeployAll(ctx context.Context, specs []service.ServiceSpec, parallel int) []rollout.Outcome {
	outcomes := make([]rollout.Outcome, len(specs))

	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, spec := range specs {
		g.Go(func() error {
			outcomes[i] = s.Deploy(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// Scale changes the desired count of a service.
func (s *ReconcileServiceImpl) Scale(ctx context.Context, req primary.ScaleRequest) rollout.Outcome {
	return s.run(ctx, req.ID, func(ctx context.Context, inv *invocation) {
		s.scale(ctx, inv, req)
	})
}

func (s *ReconcileServiceImpl) scale(ctx context.Context, inv *invocation, req primary.ScaleRequest) {
	out := inv.out

	state, err := s.fetcher.Fetch(ctx, req.ID)
	if err != nil {
		s.fail(inv, err, fmt.Sprintf("could not read service state: %v", err))
		return
	}
	out.PreviousRevision = state.ActiveRevision
	out.RevisionUsed = state.ActiveRevision
	out.DesiredCount = state.DesiredCount
	out.RunningCount = state.RunningCount

	result, err := s.scaler.Run(ctx, ScaleRequest{
		ID:      req.ID,
		Current: state.DesiredCount,
		Target:  req.Count,
		Policy:  req.Policy,
	})
	out.Scaled = result.Issued > 0
	out.DesiredCount = result.Reached
	if err != nil {
		s.fail(inv, err, fmt.Sprintf("scaling stopped at %d of %d: %v", result.Reached, req.Count, err))
		return
	}

	if result.Issued == 0 {
		s.succeed(inv, fmt.Sprintf("already at %d", req.Count))
		return
	}
	s.succeed(inv, fmt.Sprintf("scaled from %d to %d", state.DesiredCount, result.Reached))
}

// finish stamps the outcome and reports it. Reporting failures are logged,
// never surfaced: the outcome is already decided.
func (s *ReconcileServiceImpl) finish(ctx context.Context, inv *invocation) {
	out := inv.out
	out.Duration = s.clock.Since(out.StartedAt)
	out.Status = rollout.Classify(out.Phase, inv.rolledBack, out.Escalated, out.Err)

	entry := inv.log.WithFields(logrus.Fields{
		"phase":    out.Phase,
		"status":   out.Status,
		"revision": out.RevisionUsed,
		"duration": out.Duration,
	})
	switch out.Status {
	case rollout.StatusSuccess:
		entry.Info(out.Reason)
	case rollout.StatusEscalated:
		entry.Error(out.Reason)
	default:
		entry.Warn(out.Reason)
	}

	if err := s.history.Record(ctx, toOutcomeRecord(out)); err != nil {
		inv.log.WithError(err).Warn("failed to record outcome")
	}

	if out.Status == rollout.StatusEscalated || out.Status == rollout.StatusRolledBack {
		if err := s.notifier.Notify(ctx, notificationFor(out)); err != nil {
			inv.log.WithError(err).Warn("failed to send notification")
		}
	}

	if err := s.metrics.Publish(ctx, secondary.MetricsSample{
		Cluster:         out.ServiceID.Cluster,
		Service:         out.ServiceID.Service,
		Status:          string(out.Status),
		DurationSeconds: out.Duration.Seconds(),
		HealthSamples:   inv.attempts,
		Registered:      out.Registered,
		Scaled:          out.Scaled,
	}); err != nil {
		inv.log.WithError(err).Debug("failed to publish metrics")
	}
}

func notificationFor(out *rollout.Outcome) secondary.Notification {
	title := fmt.Sprintf("%s rolled back", out.ServiceID)
	if out.Escalated {
		title = fmt.Sprintf("%s needs manual intervention", out.ServiceID)
	}
	return secondary.Notification{
		Service:   out.ServiceID.String(),
		Status:    string(out.Status),
		Escalated: out.Escalated,
		Title:     title,
		Body:      fmt.Sprintf("%s\nrevision: %s\nprevious: %s\ninvocation: %s", out.Reason, out.RevisionUsed, out.PreviousRevision, out.InvocationID),
	}
}

func toOutcomeRecord(out *rollout.Outcome) *secondary.OutcomeRecord {
	record := &secondary.OutcomeRecord{
		ID:               out.InvocationID,
		Cluster:          out.ServiceID.Cluster,
		Service:          out.ServiceID.Service,
		Phase:            string(out.Phase),
		Status:           string(out.Status),
		RevisionUsed:     out.RevisionUsed,
		PreviousRevision: out.PreviousRevision,
		Registered:       out.Registered,
		Scaled:           out.Scaled,
		DesiredCount:     out.DesiredCount,
		RunningCount:     out.RunningCount,
		DurationMillis:   out.Duration.Milliseconds(),
		Reason:           out.Reason,
		Escalated:        out.Escalated,
		StartedAt:        out.StartedAt.UTC().Format(time.RFC3339),
	}
	if out.Err != nil {
		record.Error = out.Err.Error()
	}
	return record
}
