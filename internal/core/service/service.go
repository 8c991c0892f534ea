// Package service contains the data model of the reconciliation engine:
// desired specs, registered revisions, and observed service state.
package service

import (
	"fmt"
	"strings"
	"time"
)

// ID identifies a service on the platform.
type ID struct {
	Cluster string
	Service string
}

func (id ID) String() string {
	return fmt.Sprintf("%s/%s", id.Cluster, id.Service)
}

// PortMapping exposes a container port.
type PortMapping struct {
	ContainerPort int    `yaml:"container_port"`
	HostPort      int    `yaml:"host_port,omitempty"`
	Protocol      string `yaml:"protocol,omitempty"`
}

// ContainerSpec describes one container of a task.
type ContainerSpec struct {
	Name         string            `yaml:"name"`
	Image        string            `yaml:"image"`
	CPU          int               `yaml:"cpu,omitempty"`
	Memory       int               `yaml:"memory,omitempty"`
	Essential    *bool             `yaml:"essential,omitempty"`
	Environment  map[string]string `yaml:"environment,omitempty"`
	PortMappings []PortMapping     `yaml:"port_mappings,omitempty"`
	Command      []string          `yaml:"command,omitempty"`
	HealthCheck  *HealthCheck      `yaml:"health_check,omitempty"`
}

// HealthCheck is a container health check. Durations are whole seconds on
// the platform.
type HealthCheck struct {
	Command     []string      `yaml:"command"`
	Interval    time.Duration `yaml:"interval,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	Retries     int           `yaml:"retries,omitempty"`
	StartPeriod time.Duration `yaml:"start_period,omitempty"`
}

// IsEssential reports whether the container is essential. Containers are
// essential unless explicitly marked otherwise.
func (c ContainerSpec) IsEssential() bool {
	return c.Essential == nil || *c.Essential
}

// DeploymentPolicy bounds capacity during a rollout, in percent of the
// desired count.
type DeploymentPolicy struct {
	MaxSurgePercent       int `yaml:"max_surge_percent"`
	MaxUnavailablePercent int `yaml:"max_unavailable_percent"`
}

// ScalingPolicy bounds desired count changes. Max == 0 means unbounded,
// Step == 0 means the change is applied in one step.
type ScalingPolicy struct {
	Min         int           `yaml:"min"`
	Max         int           `yaml:"max"`
	Step        int           `yaml:"step"`
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// ServiceSpec is the desired state of a service. Immutable per invocation.
type ServiceSpec struct {
	Cluster                string           `yaml:"cluster"`
	Service                string           `yaml:"service"`
	Family                 string           `yaml:"family"`
	Containers             []ContainerSpec  `yaml:"containers"`
	TaskCPU                string           `yaml:"task_cpu,omitempty"`
	TaskMemory             string           `yaml:"task_memory,omitempty"`
	NetworkMode            string           `yaml:"network_mode,omitempty"`
	ExecutionRoleARN       string           `yaml:"execution_role_arn,omitempty"`
	TaskRoleARN            string           `yaml:"task_role_arn,omitempty"`
	DesiredCount           int              `yaml:"desired_count"`
	HealthCheckGracePeriod time.Duration    `yaml:"health_check_grace_period,omitempty"`
	Deployment             DeploymentPolicy `yaml:"deployment"`
	Scaling                ScalingPolicy    `yaml:"scaling"`
}

// ID returns the service identity of the spec.
func (s ServiceSpec) ID() ID {
	return ID{Cluster: s.Cluster, Service: s.Service}
}

// FamilyName returns the task definition family, defaulting to the
// service name.
func (s ServiceSpec) FamilyName() string {
	if s.Family != "" {
		return s.Family
	}
	return s.Service
}

// Template extracts the registrable task definition template.
func (s ServiceSpec) Template() TaskTemplate {
	return TaskTemplate{
		Family:           s.FamilyName(),
		Containers:       s.Containers,
		CPU:              s.TaskCPU,
		Memory:           s.TaskMemory,
		NetworkMode:      s.NetworkMode,
		ExecutionRoleARN: s.ExecutionRoleARN,
		TaskRoleARN:      s.TaskRoleARN,
	}
}

// TaskTemplate is the content of a task definition revision.
type TaskTemplate struct {
	Family           string
	Containers       []ContainerSpec
	CPU              string
	Memory           string
	NetworkMode      string
	ExecutionRoleARN string
	TaskRoleARN      string
}

// TaskDefinitionRevision is an immutable registered revision.
type TaskDefinitionRevision struct {
	Family      string
	Revision    int
	ARN         string
	ContentHash string
	Template    TaskTemplate
}

// Ref returns the identifier used to point a service at this revision.
func (r TaskDefinitionRevision) Ref() string {
	if r.ARN != "" {
		return r.ARN
	}
	return fmt.Sprintf("%s:%d", r.Family, r.Revision)
}

// Task lifecycle and health values as reported by the platform.
const (
	TaskStatusProvisioning = "PROVISIONING"
	TaskStatusPending      = "PENDING"
	TaskStatusActivating   = "ACTIVATING"
	TaskStatusRunning      = "RUNNING"
	TaskStatusStopped      = "STOPPED"

	HealthHealthy   = "HEALTHY"
	HealthUnhealthy = "UNHEALTHY"
	HealthUnknown   = "UNKNOWN"
)

// TaskHealth is the observed health of a single task.
type TaskHealth struct {
	TaskID        string
	Revision      string
	LastStatus    string
	HealthStatus  string
	StopCode      string
	StoppedReason string
	ExitCodes     []int
	// HasHealthCheck is false when no container defines a health check;
	// such tasks are healthy once running.
	HasHealthCheck bool
}

// Healthy reports whether the task is running and passing health checks.
func (t TaskHealth) Healthy() bool {
	if t.LastStatus != TaskStatusRunning {
		return false
	}
	if !t.HasHealthCheck {
		return true
	}
	return t.HealthStatus == HealthHealthy
}

// Failing reports whether the task has crashed or reports unhealthy.
func (t TaskHealth) Failing() bool {
	if t.LastStatus == TaskStatusStopped {
		return true
	}
	return t.HasHealthCheck && t.HealthStatus == HealthUnhealthy
}

// ImagePullFailure reports whether the task stopped because an image could
// not be pulled. This never heals on its own.
func (t TaskHealth) ImagePullFailure() bool {
	if t.LastStatus != TaskStatusStopped {
		return false
	}
	reason := t.StoppedReason
	return strings.Contains(reason, "CannotPullContainerError") ||
		strings.Contains(reason, "pull image manifest has been retried") ||
		strings.Contains(reason, "ResourceInitializationError: failed to pull")
}

// DeploymentInfo describes one platform-side deployment of a service.
type DeploymentInfo struct {
	ID           string
	Status       string
	Revision     string
	DesiredCount int
	RunningCount int
	PendingCount int
	RolloutState string
}

// ServiceState is a snapshot of observed service state. It is refreshed by
// re-fetching and never mutated by controllers.
type ServiceState struct {
	ID             ID
	Status         string
	ActiveRevision string
	DesiredCount   int
	RunningCount   int
	PendingCount   int
	TaskIDs        []string
	Tasks          []TaskHealth
	Deployments    []DeploymentInfo
	Events         []string
	ObservedAt     time.Time
	Definition     Definition
}

// TasksAt returns the sampled tasks running the given revision.
func (s ServiceState) TasksAt(revision string) []TaskHealth {
	var out []TaskHealth
	for _, t := range s.Tasks {
		if t.Revision == revision {
			out = append(out, t)
		}
	}
	return out
}

// RunningAt counts running tasks on the given revision.
func (s ServiceState) RunningAt(revision string) int {
	n := 0
	for _, t := range s.Tasks {
		if t.Revision == revision && t.LastStatus == TaskStatusRunning {
			n++
		}
	}
	return n
}

// LoadBalancer attaches a container port to a load balancer target group.
type LoadBalancer struct {
	TargetGroupARN   string
	LoadBalancerName string
	ContainerName    string
	ContainerPort    int
}

// NetworkConfig is the awsvpc network configuration of a service.
type NetworkConfig struct {
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP bool
}

// Placement is one placement constraint or strategy entry. Constraints use
// Expression, strategies use Field.
type Placement struct {
	Type       string
	Field      string
	Expression string
}

// Definition is the creation-time configuration of a service: everything
// needed to create the same service in another cluster.
type Definition struct {
	LaunchType             string
	PlatformVersion        string
	HealthCheckGracePeriod time.Duration
	MinimumHealthyPercent  *int
	MaximumPercent         *int
	LoadBalancers          []LoadBalancer
	Network                *NetworkConfig
	PlacementConstraints   []Placement
	PlacementStrategy      []Placement
}

// TargetGroups returns the target group ARNs of the load balancers, in
// order, without blanks.
func (d Definition) TargetGroups() []string {
	var arns []string
	for _, lb := range d.LoadBalancers {
		if lb.TargetGroupARN != "" {
			arns = append(arns, lb.TargetGroupARN)
		}
	}
	return arns
}

// ServiceRole returns the IAM role a copy of the service needs in cluster.
// Only services behind a load balancer without awsvpc networking take a
// role; the others use the service-linked role and get "".
func (d Definition) ServiceRole(cluster, suffix string) string {
	if len(d.LoadBalancers) == 0 || d.Network != nil {
		return ""
	}
	if suffix == "" {
		suffix = "ECSServiceRole"
	}
	return cluster + "-" + suffix
}
