package app

import (
	"context"
	"fmt"
	"sort"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"

	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

// Fetcher pulls the observed state of a service and normalizes it into
// the internal data model.
type Fetcher struct {
	platform secondary.Platform
	retry    *retrier
	clock    clock.Clock
	log      logrus.FieldLogger
}

// NewFetcher creates a new Fetcher with injected dependencies.
func NewFetcher(platform secondary.Platform, retry RetryConfig, clk clock.Clock, log logrus.FieldLogger) *Fetcher {
	return &Fetcher{
		platform: platform,
		retry:    newRetrier(retry, clk, log),
		clock:    clk,
		log:      log,
	}
}

// Fetch describes a service and the health of its tasks.
func (f *Fetcher) Fetch(ctx context.Context, id service.ID) (*service.ServiceState, error) {
	var state *service.ServiceState
	err := f.retry.do(ctx, fmt.Sprintf("describing %s", id), func(ctx context.Context) error {
		var err error
		state, err = f.platform.DescribeService(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe service %s: %w", id, err)
	}

	var tasks []service.TaskHealth
	if len(state.TaskIDs) > 0 {
		err = f.retry.do(ctx, fmt.Sprintf("describing tasks of %s", id), func(ctx context.Context) error {
			var err error
			tasks, err = f.platform.DescribeTasks(ctx, id.Cluster, state.TaskIDs)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to describe tasks of %s: %w", id, err)
		}
	}

	// The platform may return tasks in any order.
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID < tasks[j].TaskID })

	snapshot := *state
	snapshot.ID = id
	snapshot.Tasks = tasks
	snapshot.ObservedAt = f.clock.Now()

	f.log.WithFields(logrus.Fields{
		"service":  id.String(),
		"revision": snapshot.ActiveRevision,
		"desired":  snapshot.DesiredCount,
		"running":  snapshot.RunningCount,
		"pending":  snapshot.PendingCount,
		"tasks":    len(tasks),
	}).Debug("fetched service state")

	return &snapshot, nil
}
