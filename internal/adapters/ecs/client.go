// Package ecs implements the platform ports on Amazon ECS, and the image
// registry and target group lookups on ECR and Elastic Load Balancing.
package ecs

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/core/taskdef"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

// describeTasksBatch is the most tasks one DescribeTasks call accepts.
const describeTasksBatch = 100

// DefaultRequestsPerSecond keeps well under the ECS control plane's
// per-account throttle.
const DefaultRequestsPerSecond = 10

// API is the subset of the ECS client used by the adapter.
type API interface {
	DescribeServices(ctx context.Context, in *awsecs.DescribeServicesInput, optFns ...func(*awsecs.Options)) (*awsecs.DescribeServicesOutput, error)
	DescribeTasks(ctx context.Context, in *awsecs.DescribeTasksInput, optFns ...func(*awsecs.Options)) (*awsecs.DescribeTasksOutput, error)
	ListTasks(ctx context.Context, in *awsecs.ListTasksInput, optFns ...func(*awsecs.Options)) (*awsecs.ListTasksOutput, error)
	ListServices(ctx context.Context, in *awsecs.ListServicesInput, optFns ...func(*awsecs.Options)) (*awsecs.ListServicesOutput, error)
	ListTaskDefinitions(ctx context.Context, in *awsecs.ListTaskDefinitionsInput, optFns ...func(*awsecs.Options)) (*awsecs.ListTaskDefinitionsOutput, error)
	DescribeTaskDefinition(ctx context.Context, in *awsecs.DescribeTaskDefinitionInput, optFns ...func(*awsecs.Options)) (*awsecs.DescribeTaskDefinitionOutput, error)
	RegisterTaskDefinition(ctx context.Context, in *awsecs.RegisterTaskDefinitionInput, optFns ...func(*awsecs.Options)) (*awsecs.RegisterTaskDefinitionOutput, error)
	UpdateService(ctx context.Context, in *awsecs.UpdateServiceInput, optFns ...func(*awsecs.Options)) (*awsecs.UpdateServiceOutput, error)
	CreateService(ctx context.Context, in *awsecs.CreateServiceInput, optFns ...func(*awsecs.Options)) (*awsecs.CreateServiceOutput, error)
}

// Options selects the AWS credentials and default region.
type Options struct {
	Region  string
	Profile string
}

// Client implements secondary.Platform on the ECS API. It is safe for
// concurrent use; every request waits on a shared rate limiter.
type Client struct {
	api     API
	limiter *rate.Limiter

	mu           sync.Mutex
	healthChecks map[string]bool // task definition ARN -> defines a health check
}

var _ secondary.Platform = (*Client)(nil)

// LoadConfig loads AWS credentials and region the standard way. Retries
// are left to the engine so they are logged and bounded by the invocation
// deadline.
func LoadConfig(ctx context.Context, opts Options) (aws.Config, error) {
	loaders := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMaxAttempts(1),
	}
	if opts.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loaders = append(loaders, awsconfig.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return cfg, nil
}

// NewWithAPI creates a Client over an existing API implementation.
func NewWithAPI(api API, requestsPerSecond float64) *Client {
	return &Client{
		api:          api,
		limiter:      newLimiter(requestsPerSecond),
		healthChecks: make(map[string]bool),
	}
}

func newLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = DefaultRequestsPerSecond
	}
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

func (c *Client) wait(ctx context.Context, op string) error {
	return wait(ctx, c.limiter, op)
}

func wait(ctx context.Context, limiter *rate.Limiter, op string) error {
	if err := limiter.Wait(ctx); err != nil {
		return failure.Wrap(failure.KindTimeout, op, err)
	}
	return nil
}

// DescribeService returns the observed state of a service and the ARNs of
// its running and recently stopped tasks.
func (c *Client) DescribeService(ctx context.Context, id service.ID) (*service.ServiceState, error) {
	const op = "describe service"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	out, err := c.api.DescribeServices(ctx, &awsecs.DescribeServicesInput{
		Cluster:  aws.String(id.Cluster),
		Services: []string{id.Service},
	})
	if err != nil {
		return nil, classify(op, err)
	}
	if len(out.Services) == 0 {
		reason := "MISSING"
		if len(out.Failures) > 0 {
			reason = aws.ToString(out.Failures[0].Reason)
		}
		return nil, failure.New(failure.KindPlatformRejected, "service %s not found: %s", id, reason)
	}

	state := toServiceState(id, out.Services[0])

	for _, status := range []types.DesiredStatus{types.DesiredStatusRunning, types.DesiredStatusStopped} {
		arns, err := c.listTasks(ctx, id, status)
		if err != nil {
			return nil, err
		}
		state.TaskIDs = append(state.TaskIDs, arns...)
	}

	return state, nil
}

func (c *Client) listTasks(ctx context.Context, id service.ID, status types.DesiredStatus) ([]string, error) {
	const op = "list tasks"
	var arns []string
	pages := awsecs.NewListTasksPaginator(c.api, &awsecs.ListTasksInput{
		Cluster:       aws.String(id.Cluster),
		ServiceName:   aws.String(id.Service),
		DesiredStatus: status,
	})
	for pages.HasMorePages() {
		if err := c.wait(ctx, op); err != nil {
			return nil, err
		}
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, classify(op, err)
		}
		arns = append(arns, page.TaskArns...)
	}
	return arns, nil
}

// DescribeTasks returns the health of the given tasks, in batches the API
// accepts.
func (c *Client) DescribeTasks(ctx context.Context, cluster string, taskIDs []string) ([]service.TaskHealth, error) {
	const op = "describe tasks"
	var tasks []types.Task
	for start := 0; start < len(taskIDs); start += describeTasksBatch {
		end := min(start+describeTasksBatch, len(taskIDs))
		if err := c.wait(ctx, op); err != nil {
			return nil, err
		}
		out, err := c.api.DescribeTasks(ctx, &awsecs.DescribeTasksInput{
			Cluster: aws.String(cluster),
			Tasks:   taskIDs[start:end],
		})
		if err != nil {
			return nil, classify(op, err)
		}
		tasks = append(tasks, out.Tasks...)
	}

	health := make([]service.TaskHealth, 0, len(tasks))
	for _, t := range tasks {
		hasCheck, err := c.definesHealthCheck(ctx, aws.ToString(t.TaskDefinitionArn))
		if err != nil {
			return nil, err
		}
		health = append(health, toTaskHealth(t, hasCheck))
	}
	return health, nil
}

// definesHealthCheck reports whether any container of a revision has a
// health check. Revisions are immutable, so answers are cached.
func (c *Client) definesHealthCheck(ctx context.Context, arn string) (bool, error) {
	if arn == "" {
		return false, nil
	}
	c.mu.Lock()
	known, ok := c.healthChecks[arn]
	c.mu.Unlock()
	if ok {
		return known, nil
	}

	def, err := c.describeTaskDefinition(ctx, arn)
	if err != nil {
		return false, err
	}
	hasCheck := false
	for _, cd := range def.ContainerDefinitions {
		if cd.HealthCheck != nil {
			hasCheck = true
			break
		}
	}

	c.mu.Lock()
	c.healthChecks[arn] = hasCheck
	c.mu.Unlock()
	return hasCheck, nil
}

// ListServices returns the names of every service in a cluster.
func (c *Client) ListServices(ctx context.Context, cluster string) ([]string, error) {
	const op = "list services"
	var names []string
	pages := awsecs.NewListServicesPaginator(c.api, &awsecs.ListServicesInput{Cluster: aws.String(cluster)})
	for pages.HasMorePages() {
		if err := c.wait(ctx, op); err != nil {
			return nil, err
		}
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, classify(op, err)
		}
		for _, arn := range page.ServiceArns {
			names = append(names, nameFromARN(arn))
		}
	}
	return names, nil
}

// ListTaskDefinitions returns up to limit active revisions of a family,
// most recent first, with content hashes filled in.
func (c *Client) ListTaskDefinitions(ctx context.Context, family string, limit int) ([]service.TaskDefinitionRevision, error) {
	const op = "list task definitions"
	if limit <= 0 {
		return nil, nil
	}
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	out, err := c.api.ListTaskDefinitions(ctx, &awsecs.ListTaskDefinitionsInput{
		FamilyPrefix: aws.String(family),
		Sort:         types.SortOrderDesc,
		Status:       types.TaskDefinitionStatusActive,
		MaxResults:   aws.Int32(int32(min(limit, 100))),
	})
	if err != nil {
		return nil, classify(op, err)
	}

	arns := out.TaskDefinitionArns
	if len(arns) > limit {
		arns = arns[:limit]
	}

	revisions := make([]service.TaskDefinitionRevision, len(arns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, arn := range arns {
		g.Go(func() error {
			def, err := c.describeTaskDefinition(gctx, arn)
			if err != nil {
				return err
			}
			revisions[i] = toRevision(def)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return revisions, nil
}

// DescribeTaskDefinition returns one revision by ARN or family:revision.
func (c *Client) DescribeTaskDefinition(ctx context.Context, ref string) (*service.TaskDefinitionRevision, error) {
	def, err := c.describeTaskDefinition(ctx, ref)
	if err != nil {
		return nil, err
	}
	rev := toRevision(def)
	return &rev, nil
}

func (c *Client) describeTaskDefinition(ctx context.Context, ref string) (*types.TaskDefinition, error) {
	const op = "describe task definition"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	out, err := c.api.DescribeTaskDefinition(ctx, &awsecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(ref),
	})
	if err != nil {
		return nil, classify(op, err)
	}
	if out.TaskDefinition == nil {
		return nil, failure.New(failure.KindPlatformRejected, "task definition %s not found", ref)
	}
	return out.TaskDefinition, nil
}

// RegisterTaskDefinition registers a new revision of tmpl.Family.
func (c *Client) RegisterTaskDefinition(ctx context.Context, tmpl service.TaskTemplate) (*service.TaskDefinitionRevision, error) {
	const op = "register task definition"
	if err := c.wait(ctx, op); err != nil {
		return nil, err
	}
	out, err := c.api.RegisterTaskDefinition(ctx, toRegisterInput(tmpl))
	if err != nil {
		return nil, classify(op, err)
	}
	if out.TaskDefinition == nil {
		return nil, failure.New(failure.KindPlatformRejected, "registration of %s returned no task definition", tmpl.Family)
	}
	rev := toRevision(out.TaskDefinition)
	return &rev, nil
}

// UpdateService points a service at a revision and desired count.
func (c *Client) UpdateService(ctx context.Context, req secondary.UpdateServiceRequest) error {
	const op = "update service"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	_, err := c.api.UpdateService(ctx, toUpdateInput(req))
	return classify(op, err)
}

// CreateService creates a service with the definition of another one.
func (c *Client) CreateService(ctx context.Context, req secondary.CreateServiceRequest) error {
	const op = "create service"
	if err := c.wait(ctx, op); err != nil {
		return err
	}
	_, err := c.api.CreateService(ctx, toCreateInput(req))
	return classify(op, err)
}

// nameFromARN returns the last path segment of a service ARN. Both the
// long (service/cluster/name) and short (service/name) formats are handled.
func nameFromARN(arn string) string {
	if i := strings.LastIndex(arn, "/"); i >= 0 {
		return arn[i+1:]
	}
	return arn
}

// revisionHash hashes a revision the same way specs are hashed.
func revisionHash(tmpl service.TaskTemplate) string {
	return taskdef.Hash(tmpl)
}
