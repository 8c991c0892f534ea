package primary

import (
	"context"
	"time"

	"github.com/example/ecs-manage/internal/core/rollout"
)

// InspectorService defines the primary port for cluster-wide service
// inspection and bulk updates.
type InspectorService interface {
	// Info summarizes every service of a cluster.
	Info(ctx context.Context, cluster string) ([]*ServiceSummary, error)

	// Audit returns the services of a cluster that have findings.
	Audit(ctx context.Context, cluster string) ([]*AuditResult, error)

	// Compare returns services present in source but not in destination.
	Compare(ctx context.Context, req CompareRequest) ([]string, error)

	// Sync creates in destination every service of source that is missing
	// there and has no audit findings.
	Sync(ctx context.Context, req SyncRequest) ([]*SyncResult, error)

	// Export returns the desired count of every service of a cluster.
	Export(ctx context.Context, cluster string) (map[string]int, error)

	// UpdateDesiredCount sets the desired count of every service of a
	// cluster, one service at a time.
	UpdateDesiredCount(ctx context.Context, req UpdateDesiredCountRequest) ([]rollout.Outcome, error)
}

// ServiceSummary is the info line of one service.
type ServiceSummary struct {
	Cluster        string
	Name           string
	TaskDefinition string
	DesiredCount   int
	RunningCount   int
	PendingCount   int
}

// AuditResult lists the findings of one service.
type AuditResult struct {
	Name     string
	Findings []string
}

// CompareRequest names the clusters to compare. Empty regions are the
// configured region.
type CompareRequest struct {
	SourceCluster      string
	SourceRegion       string
	DestinationCluster string
	DestinationRegion  string
}

// SyncRequest contains parameters for copying services between clusters.
type SyncRequest struct {
	SourceCluster      string
	SourceRegion       string
	DestinationCluster string
	DestinationRegion  string
	RoleSuffix         string        // role name suffix, default ECSServiceRole
	Pause              time.Duration // before each creation
}

// SyncResult reports what happened to one service missing from the
// destination. A service with findings is skipped.
type SyncResult struct {
	Name     string
	Role     string
	Findings []string
	Created  bool
	Err      error
}

// UpdateDesiredCountRequest contains parameters for a bulk count update.
type UpdateDesiredCountRequest struct {
	Cluster string
	Count   int
	Pause   time.Duration
}
