package rollout

import (
	"fmt"
	"time"

	"github.com/example/ecs-manage/internal/core/service"
)

// VerifyPolicy controls when a rollout is declared healthy or failed.
type VerifyPolicy struct {
	// MinHealthySamples is the number of consecutive healthy samples
	// required before success.
	MinHealthySamples int
	// SustainWindow is the minimum time between the first and the last
	// sample of a healthy streak.
	SustainWindow time.Duration
	// FailureThreshold is the number of consecutive failing samples that
	// make the rollout fatal.
	FailureThreshold int
	// GracePeriod delays crash counting after the update was acknowledged.
	GracePeriod time.Duration
	// MaxAttempts bounds the number of samples.
	MaxAttempts int
}

// DefaultVerifyPolicy returns the policy used when none is configured.
func DefaultVerifyPolicy() VerifyPolicy {
	return VerifyPolicy{
		MinHealthySamples: 3,
		SustainWindow:     60 * time.Second,
		FailureThreshold:  3,
		MaxAttempts:       60,
	}
}

// Verdict is the result of observing one sample.
type Verdict string

const (
	VerdictContinue  Verdict = "continue"
	VerdictHealthy   Verdict = "healthy"
	VerdictFatal     Verdict = "fatal"
	VerdictExhausted Verdict = "exhausted"
)

// Observation is a verdict plus its human-readable reason.
type Observation struct {
	Verdict Verdict
	Reason  string
	Detail  string // platform-provided detail, if any
	Healthy bool   // this sample was healthy
	Failing bool   // this sample was failing
}

// Verifier tracks health samples of one rollout target. It holds no I/O;
// callers feed it snapshots and the time they were taken.
type Verifier struct {
	policy    VerifyPolicy
	target    string
	desired   int
	startedAt time.Time

	attempts      int
	healthyStreak int
	healthySince  time.Time
	failStreak    int
	seenStopped   map[string]bool
}

// NewVerifier starts verification of target at desired count. startedAt is
// when the platform acknowledged the update.
func NewVerifier(policy VerifyPolicy, target string, desired int, startedAt time.Time) *Verifier {
	if policy.MinHealthySamples < 1 {
		policy.MinHealthySamples = 1
	}
	if policy.FailureThreshold < 1 {
		policy.FailureThreshold = 1
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Verifier{
		policy:      policy,
		target:      target,
		desired:     desired,
		startedAt:   startedAt,
		seenStopped: make(map[string]bool),
	}
}

// Attempts returns the number of samples observed so far.
func (v *Verifier) Attempts() int {
	return v.attempts
}

// Observe evaluates one snapshot taken at now.
//
// A sample is healthy when at least desired tasks run the target revision,
// every running target task passes its health check, and no target task
// stopped since the previous sample. A sample is failing when a target task
// newly stopped or a running target task reports unhealthy. Any sample that
// is not healthy resets the sustain streak.
func (v *Verifier) Observe(state service.ServiceState, now time.Time) Observation {
	v.attempts++

	tasks := state.TasksAt(v.target)

	newlyStopped := 0
	var stopReason string
	for _, t := range tasks {
		if t.ImagePullFailure() {
			return Observation{
				Verdict: VerdictFatal,
				Reason:  "image pull failed",
				Detail:  fmt.Sprintf("task %s: %s", t.TaskID, t.StoppedReason),
				Failing: true,
			}
		}
		if t.LastStatus == service.TaskStatusStopped && !v.seenStopped[t.TaskID] {
			v.seenStopped[t.TaskID] = true
			newlyStopped++
			stopReason = t.StoppedReason
		}
	}

	unhealthy := 0
	for _, t := range tasks {
		if t.LastStatus != service.TaskStatusStopped && t.Failing() {
			unhealthy++
		}
	}

	failing := newlyStopped > 0 || unhealthy > 0
	healthy := !failing && v.converged(tasks)

	obs := Observation{Verdict: VerdictContinue, Healthy: healthy, Failing: failing}

	if healthy {
		v.failStreak = 0
		if v.healthyStreak == 0 {
			v.healthySince = now
		}
		v.healthyStreak++
		if v.healthyStreak >= v.policy.MinHealthySamples && now.Sub(v.healthySince) >= v.policy.SustainWindow {
			obs.Verdict = VerdictHealthy
			obs.Reason = fmt.Sprintf("%d/%d tasks healthy on %s for %s", state.RunningAt(v.target), v.desired, v.target, now.Sub(v.healthySince))
			return obs
		}
	} else {
		v.healthyStreak = 0
	}

	if failing {
		if now.Sub(v.startedAt) >= v.policy.GracePeriod {
			v.failStreak++
		}
		if v.failStreak >= v.policy.FailureThreshold {
			obs.Verdict = VerdictFatal
			obs.Reason = "health check failed"
			obs.Detail = stopReason
			return obs
		}
	} else {
		v.failStreak = 0
	}

	if v.attempts >= v.policy.MaxAttempts {
		obs.Verdict = VerdictExhausted
		obs.Reason = fmt.Sprintf("not stable after %d health samples", v.attempts)
	}
	return obs
}

// Miss records a sample that could not be taken. It breaks any healthy
// streak and uses up an attempt.
func (v *Verifier) Miss() Observation {
	v.attempts++
	v.healthyStreak = 0

	obs := Observation{Verdict: VerdictContinue}
	if v.attempts >= v.policy.MaxAttempts {
		obs.Verdict = VerdictExhausted
		obs.Reason = fmt.Sprintf("not stable after %d health samples", v.attempts)
	}
	return obs
}

func (v *Verifier) converged(tasks []service.TaskHealth) bool {
	running := 0
	for _, t := range tasks {
		if t.LastStatus == service.TaskStatusStopped {
			continue
		}
		if !t.Healthy() {
			return false
		}
		running++
	}
	return running >= v.desired
}
