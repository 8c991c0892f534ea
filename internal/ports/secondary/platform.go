// Package secondary defines the secondary ports (driven adapters) for the application.
// These are the interfaces through which the application drives external systems.
package secondary

import (
	"context"
	"time"

	"github.com/example/ecs-manage/internal/core/rollout"
	"github.com/example/ecs-manage/internal/core/service"
)

// Platform defines the secondary port for the container orchestration
// control plane. Implementations must be safe for concurrent use across
// services and report failures as failure.KindPlatformUnavailable
// (retryable) or failure.KindPlatformRejected.
type Platform interface {
	// DescribeService returns the observed state of a service, including
	// the IDs of its current tasks but not their health.
	DescribeService(ctx context.Context, id service.ID) (*service.ServiceState, error)

	// DescribeTasks returns the health of the given tasks.
	DescribeTasks(ctx context.Context, cluster string, taskIDs []string) ([]service.TaskHealth, error)

	// ListServices returns the names of every service in a cluster.
	ListServices(ctx context.Context, cluster string) ([]string, error)

	// ListTaskDefinitions returns up to limit revisions of a family, most
	// recent first, with content hashes filled in.
	ListTaskDefinitions(ctx context.Context, family string, limit int) ([]service.TaskDefinitionRevision, error)

	// DescribeTaskDefinition returns one revision by ARN or family:revision.
	DescribeTaskDefinition(ctx context.Context, ref string) (*service.TaskDefinitionRevision, error)

	// RegisterTaskDefinition registers a new revision of tmpl.Family.
	RegisterTaskDefinition(ctx context.Context, tmpl service.TaskTemplate) (*service.TaskDefinitionRevision, error)

	// UpdateService points a service at a revision and desired count.
	// Returning nil means the platform acknowledged the request.
	UpdateService(ctx context.Context, req UpdateServiceRequest) error

	// CreateService creates a service in req.ID.Cluster.
	CreateService(ctx context.Context, req CreateServiceRequest) error
}

// PlatformRegions hands out the platform of each region.
type PlatformRegions interface {
	// Region returns the platform of region. An empty region is the
	// configured default.
	Region(region string) Platform
}

// UpdateServiceRequest contains the parameters of a service update.
type UpdateServiceRequest struct {
	ID                     service.ID
	Revision               string // empty leaves the revision unchanged
	DesiredCount           int
	Bounds                 *rollout.PlatformBounds
	HealthCheckGracePeriod time.Duration
}

// CreateServiceRequest contains the parameters of a service creation.
type CreateServiceRequest struct {
	ID           service.ID
	Revision     string
	DesiredCount int
	Role         string // empty uses the service-linked role
	Definition   service.Definition
	// ClientToken makes retries of the same creation idempotent.
	ClientToken string
}
