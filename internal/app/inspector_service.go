package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/core/inspect"
	"github.com/example/ecs-manage/internal/core/rollout"
	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/ports/primary"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

// DefaultInspectParallelism bounds concurrent describe calls per cluster.
const DefaultInspectParallelism = 8

// InspectorServiceImpl implements the InspectorService interface.
type InspectorServiceImpl struct {
	platform    secondary.Platform
	regions     secondary.PlatformRegions
	registry    secondary.ImageRegistry // nil skips image lookups
	targets     secondary.TargetGroups  // nil skips target group lookups
	reconciler  primary.ReconcileService
	retry       *retrier
	clock       clock.Clock
	log         logrus.FieldLogger
	parallelism int
}

// NewInspectorService creates a new InspectorService with injected dependencies.
func NewInspectorService(
	regions secondary.PlatformRegions,
	registry secondary.ImageRegistry,
	targets secondary.TargetGroups,
	reconciler primary.ReconcileService,
	retry RetryConfig,
	parallelism int,
	clk clock.Clock,
	log logrus.FieldLogger,
) *InspectorServiceImpl {
	if parallelism <= 0 {
		parallelism = DefaultInspectParallelism
	}
	return &InspectorServiceImpl{
		platform:    regions.Region(""),
		regions:     regions,
		registry:    registry,
		targets:     targets,
		reconciler:  reconciler,
		retry:       newRetrier(retry, clk, log),
		clock:       clk,
		log:         log,
		parallelism: parallelism,
	}
}

func (s *InspectorServiceImpl) listServices(ctx context.Context, p secondary.Platform, cluster string) ([]string, error) {
	var names []string
	err := s.retry.do(ctx, fmt.Sprintf("listing services of %s", cluster), func(ctx context.Context) error {
		var err error
		names, err = p.ListServices(ctx, cluster)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list services of %s: %w", cluster, err)
	}
	sort.Strings(names)
	return names, nil
}

// describeAll describes every service of a cluster concurrently. The
// result is in name order.
func (s *InspectorServiceImpl) describeAll(ctx context.Context, p secondary.Platform, cluster string) ([]*service.ServiceState, error) {
	names, err := s.listServices(ctx, p, cluster)
	if err != nil {
		return nil, err
	}
	return s.describeNamed(ctx, p, cluster, names)
}

func (s *InspectorServiceImpl) describeNamed(ctx context.Context, p secondary.Platform, cluster string, names []string) ([]*service.ServiceState, error) {
	states := make([]*service.ServiceState, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, name := range names {
		g.Go(func() error {
			id := service.ID{Cluster: cluster, Service: name}
			return s.retry.do(gctx, fmt.Sprintf("describing %s", id), func(ctx context.Context) error {
				st, err := p.DescribeService(ctx, id)
				if err != nil {
					return err
				}
				states[i] = st
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to describe services of %s: %w", cluster, err)
	}
	return states, nil
}

// describeRevisions describes the active task definition of every state,
// each one once. A task definition the platform does not know maps to nil;
// any other failure aborts.
func (s *InspectorServiceImpl) describeRevisions(ctx context.Context, p secondary.Platform, states []*service.ServiceState) (map[string]*service.TaskDefinitionRevision, error) {
	var refs []string
	seen := make(map[string]bool)
	for _, st := range states {
		if ref := st.ActiveRevision; ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	var mu sync.Mutex
	revisions := make(map[string]*service.TaskDefinitionRevision, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, ref := range refs {
		g.Go(func() error {
			var rev *service.TaskDefinitionRevision
			err := s.retry.do(gctx, fmt.Sprintf("describing %s", ref), func(ctx context.Context) error {
				var err error
				rev, err = p.DescribeTaskDefinition(ctx, ref)
				return err
			})
			switch {
			case failure.Is(err, failure.KindPlatformRejected):
				s.log.WithError(err).WithField("revision", ref).Debug("task definition not found")
			case err != nil:
				return fmt.Errorf("failed to describe task definition %s: %w", ref, err)
			}
			mu.Lock()
			revisions[ref] = rev
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return revisions, nil
}

// missing looks up every key concurrently and returns the ones the lookup
// rejects as not found. Transient failures are retried; one that persists
// aborts the whole lookup.
func (s *InspectorServiceImpl) missing(ctx context.Context, what string, keys []string, lookup func(ctx context.Context, key string) error) (map[string]bool, error) {
	var mu sync.Mutex
	found := make(map[string]bool)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, key := range keys {
		g.Go(func() error {
			err := s.retry.do(gctx, fmt.Sprintf("describing %s %s", what, key), func(ctx context.Context) error {
				return lookup(ctx, key)
			})
			switch {
			case failure.Is(err, failure.KindPlatformRejected):
				s.log.WithError(err).WithField(what, key).Debug("not found")
				mu.Lock()
				found[key] = true
				mu.Unlock()
			case err != nil:
				return fmt.Errorf("failed to describe %s %s: %w", what, key, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return found, nil
}

// auditAll returns the findings of each state, in order. Task
// definitions, images and target groups shared between services are looked
// up once.
func (s *InspectorServiceImpl) auditAll(ctx context.Context, p secondary.Platform, states []*service.ServiceState) ([][]string, error) {
	revisions, err := s.describeRevisions(ctx, p, states)
	if err != nil {
		return nil, err
	}

	images := make(map[string]inspect.RegistryImage)
	var imageKeys, groupKeys []string
	groupSeen := make(map[string]bool)
	for _, st := range states {
		for _, img := range inspect.RegistryImages(revisions[st.ActiveRevision]) {
			if _, ok := images[img.Image]; !ok {
				images[img.Image] = img
				imageKeys = append(imageKeys, img.Image)
			}
		}
		for _, arn := range st.Definition.TargetGroups() {
			if !groupSeen[arn] {
				groupSeen[arn] = true
				groupKeys = append(groupKeys, arn)
			}
		}
	}

	missingImages := map[string]bool{}
	if s.registry != nil && len(imageKeys) > 0 {
		missingImages, err = s.missing(ctx, "image", imageKeys, func(ctx context.Context, key string) error {
			return s.registry.DescribeImage(ctx, images[key])
		})
		if err != nil {
			return nil, err
		}
	}
	missingGroups := map[string]bool{}
	if s.targets != nil && len(groupKeys) > 0 {
		missingGroups, err = s.missing(ctx, "target group", groupKeys, s.targets.DescribeTargetGroup)
		if err != nil {
			return nil, err
		}
	}

	findings := make([][]string, len(states))
	for i, st := range states {
		in := inspect.AuditInput{State: *st, Revision: revisions[st.ActiveRevision]}
		for _, img := range inspect.RegistryImages(in.Revision) {
			if missingImages[img.Image] {
				in.MissingImages = append(in.MissingImages, img.Image)
			}
		}
		for _, arn := range st.Definition.TargetGroups() {
			if missingGroups[arn] {
				in.MissingTargetGroups = append(in.MissingTargetGroups, arn)
			}
		}
		findings[i] = inspect.Audit(in)
	}
	return findings, nil
}

// Info summarizes every service of a cluster.
func (s *InspectorServiceImpl) Info(ctx context.Context, cluster string) ([]*primary.ServiceSummary, error) {
	states, err := s.describeAll(ctx, s.platform, cluster)
	if err != nil {
		return nil, err
	}

	summaries := make([]*primary.ServiceSummary, 0, len(states))
	for _, st := range states {
		summaries = append(summaries, &primary.ServiceSummary{
			Cluster:        cluster,
			Name:           st.ID.Service,
			TaskDefinition: st.ActiveRevision,
			DesiredCount:   st.DesiredCount,
			RunningCount:   st.RunningCount,
			PendingCount:   st.PendingCount,
		})
	}
	return summaries, nil
}

// Audit returns the services of a cluster that have findings.
func (s *InspectorServiceImpl) Audit(ctx context.Context, cluster string) ([]*primary.AuditResult, error) {
	states, err := s.describeAll(ctx, s.platform, cluster)
	if err != nil {
		return nil, err
	}
	findings, err := s.auditAll(ctx, s.platform, states)
	if err != nil {
		return nil, fmt.Errorf("failed to audit %s: %w", cluster, err)
	}

	var results []*primary.AuditResult
	for i, st := range states {
		if len(findings[i]) == 0 {
			continue
		}
		results = append(results, &primary.AuditResult{Name: st.ID.Service, Findings: findings[i]})
	}
	return results, nil
}

func (s *InspectorServiceImpl) sourceOnly(ctx context.Context, source, dest secondary.Platform, sourceCluster, destCluster string) ([]string, error) {
	var sourceNames, destNames []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sourceNames, err = s.listServices(gctx, source, sourceCluster)
		return err
	})
	g.Go(func() error {
		var err error
		destNames, err = s.listServices(gctx, dest, destCluster)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inspect.SourceOnly(sourceNames, destNames), nil
}

// Compare returns services present in the source cluster but not in the
// destination cluster.
func (s *InspectorServiceImpl) Compare(ctx context.Context, req primary.CompareRequest) ([]string, error) {
	return s.sourceOnly(ctx, s.regions.Region(req.SourceRegion), s.regions.Region(req.DestinationRegion), req.SourceCluster, req.DestinationCluster)
}

// Sync creates in the destination cluster every service missing there
// whose source has no audit findings. Services are created one at a time
// after a pause; a failed creation is reported and the sync moves on.
func (s *InspectorServiceImpl) Sync(ctx context.Context, req primary.SyncRequest) ([]*primary.SyncResult, error) {
	source := s.regions.Region(req.SourceRegion)
	dest := s.regions.Region(req.DestinationRegion)

	names, err := s.sourceOnly(ctx, source, dest, req.SourceCluster, req.DestinationCluster)
	if err != nil {
		return nil, err
	}
	states, err := s.describeNamed(ctx, source, req.SourceCluster, names)
	if err != nil {
		return nil, err
	}
	findings, err := s.auditAll(ctx, source, states)
	if err != nil {
		return nil, fmt.Errorf("failed to audit %s: %w", req.SourceCluster, err)
	}

	results := make([]*primary.SyncResult, 0, len(states))
	for i, st := range states {
		res := &primary.SyncResult{Name: st.ID.Service, Findings: findings[i]}
		results = append(results, res)
		log := s.log.WithField("service", st.ID.Service)
		if len(res.Findings) > 0 {
			log.WithField("findings", res.Findings).Warn("skipping service with findings")
			continue
		}

		if req.Pause > 0 {
			if err := sleep(ctx, s.clock, req.Pause); err != nil {
				return results, fmt.Errorf("interrupted before creating %s: %w", st.ID.Service, err)
			}
		}

		id := service.ID{Cluster: req.DestinationCluster, Service: st.ID.Service}
		res.Role = st.Definition.ServiceRole(req.DestinationCluster, req.RoleSuffix)
		create := secondary.CreateServiceRequest{
			ID:           id,
			Revision:     st.ActiveRevision,
			DesiredCount: st.DesiredCount,
			Role:         res.Role,
			Definition:   st.Definition,
			ClientToken:  uuid.NewString(),
		}
		log.WithField("role", res.Role).Infof("creating %s", id)
		res.Err = s.retry.do(ctx, fmt.Sprintf("creating %s", id), func(ctx context.Context) error {
			return dest.CreateService(ctx, create)
		})
		if res.Err != nil {
			log.WithError(res.Err).Errorf("failed to create %s", id)
			continue
		}
		res.Created = true
	}
	return results, nil
}

// Export returns the desired count of every service of a cluster.
func (s *InspectorServiceImpl) Export(ctx context.Context, cluster string) (map[string]int, error) {
	states, err := s.describeAll(ctx, s.platform, cluster)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(states))
	for _, st := range states {
		counts[st.ID.Service] = st.DesiredCount
	}
	return counts, nil
}

// UpdateDesiredCount scales every service of a cluster to the same count,
// one at a time, pausing between services.
func (s *InspectorServiceImpl) UpdateDesiredCount(ctx context.Context, req primary.UpdateDesiredCountRequest) ([]rollout.Outcome, error) {
	if req.Count < 0 {
		return nil, fmt.Errorf("desired count %d is negative", req.Count)
	}

	names, err := s.listServices(ctx, s.platform, req.Cluster)
	if err != nil {
		return nil, err
	}

	outcomes := make([]rollout.Outcome, 0, len(names))
	for i, name := range names {
		if i > 0 && req.Pause > 0 {
			if err := sleep(ctx, s.clock, req.Pause); err != nil {
				return outcomes, fmt.Errorf("interrupted before %s: %w", name, err)
			}
		}
		out := s.reconciler.Scale(ctx, primary.ScaleRequest{
			ID:    service.ID{Cluster: req.Cluster, Service: name},
			Count: req.Count,
		})
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}
