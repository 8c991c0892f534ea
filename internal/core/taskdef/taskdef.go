// Package taskdef contains the pure business logic for task definition
// resolution: validation, normalization, and content hashing.
// This is part of the Functional Core - no I/O, only pure functions.
package taskdef

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/distribution/reference"
	"github.com/opencontainers/go-digest"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/core/service"
)

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string // Human-readable reason (populated when not allowed)
}

// Error returns the guard result as a SpecInvalid failure if not allowed,
// nil otherwise.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return failure.New(failure.KindSpecInvalid, "%s", r.Reason)
}

// ValidateTemplate checks the fields required to register a revision.
// Rules: at least one container, every container named uniquely and
// carrying a parseable image reference.
func ValidateTemplate(tmpl service.TaskTemplate) GuardResult {
	if tmpl.Family == "" {
		return GuardResult{Reason: "task definition family is required"}
	}
	if len(tmpl.Containers) == 0 {
		return GuardResult{Reason: fmt.Sprintf("task definition %s has no containers", tmpl.Family)}
	}

	seen := make(map[string]bool, len(tmpl.Containers))
	for i, c := range tmpl.Containers {
		if c.Name == "" {
			return GuardResult{Reason: fmt.Sprintf("container %d of %s has no name", i, tmpl.Family)}
		}
		if seen[c.Name] {
			return GuardResult{Reason: fmt.Sprintf("container name %q repeats in %s", c.Name, tmpl.Family)}
		}
		seen[c.Name] = true

		if strings.TrimSpace(c.Image) == "" {
			return GuardResult{Reason: fmt.Sprintf("container %s has no image reference", c.Name)}
		}
		if _, err := NormalizeImage(c.Image); err != nil {
			return GuardResult{Reason: fmt.Sprintf("container %s has invalid image reference %q: %v", c.Name, c.Image, err)}
		}
	}

	return GuardResult{Allowed: true}
}

// NormalizeImage returns the fully-qualified form of an image reference,
// so "nginx" and "docker.io/library/nginx:latest" hash identically.
// Registry hosts that cannot be normalized (e.g. ECR) are returned as parsed.
func NormalizeImage(image string) (string, error) {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return "", err
	}
	return reference.TagNameOnly(named).String(), nil
}

type normalizedPort struct {
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port"`
	Protocol      string `json:"protocol"`
}

type normalizedEnv struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type normalizedHealthCheck struct {
	Command     []string `json:"command"`
	Interval    int64    `json:"interval"`
	Timeout     int64    `json:"timeout"`
	Retries     int      `json:"retries"`
	StartPeriod int64    `json:"start_period"`
}

type normalizedContainer struct {
	Name        string                 `json:"name"`
	Image       string                 `json:"image"`
	CPU         int                    `json:"cpu"`
	Memory      int                    `json:"memory"`
	Essential   bool                   `json:"essential"`
	Environment []normalizedEnv        `json:"environment"`
	Ports       []normalizedPort       `json:"ports"`
	Command     []string               `json:"command"`
	HealthCheck *normalizedHealthCheck `json:"health_check,omitempty"`
}

type normalizedTemplate struct {
	Family           string                `json:"family"`
	CPU              string                `json:"cpu"`
	Memory           string                `json:"memory"`
	NetworkMode      string                `json:"network_mode"`
	ExecutionRoleARN string                `json:"execution_role_arn"`
	TaskRoleARN      string                `json:"task_role_arn"`
	Containers       []normalizedContainer `json:"containers"`
}

func normalize(tmpl service.TaskTemplate) normalizedTemplate {
	out := normalizedTemplate{
		Family:           tmpl.Family,
		CPU:              tmpl.CPU,
		Memory:           tmpl.Memory,
		NetworkMode:      tmpl.NetworkMode,
		ExecutionRoleARN: tmpl.ExecutionRoleARN,
		TaskRoleARN:      tmpl.TaskRoleARN,
		Containers:       make([]normalizedContainer, 0, len(tmpl.Containers)),
	}

	for _, c := range tmpl.Containers {
		image, err := NormalizeImage(c.Image)
		if err != nil {
			image = strings.TrimSpace(c.Image)
		}

		nc := normalizedContainer{
			Name:        c.Name,
			Image:       image,
			CPU:         c.CPU,
			Memory:      c.Memory,
			Essential:   c.IsEssential(),
			Environment: make([]normalizedEnv, 0, len(c.Environment)),
			Ports:       make([]normalizedPort, 0, len(c.PortMappings)),
			Command:     append([]string{}, c.Command...),
		}
		if hc := c.HealthCheck; hc != nil {
			nc.HealthCheck = &normalizedHealthCheck{
				Command:     append([]string{}, hc.Command...),
				Interval:    orDefault(int64(hc.Interval/time.Second), 30),
				Timeout:     orDefault(int64(hc.Timeout/time.Second), 5),
				Retries:     int(orDefault(int64(hc.Retries), 3)),
				StartPeriod: int64(hc.StartPeriod / time.Second),
			}
		}
		for k, v := range c.Environment {
			nc.Environment = append(nc.Environment, normalizedEnv{Name: k, Value: v})
		}
		sort.Slice(nc.Environment, func(i, j int) bool {
			return nc.Environment[i].Name < nc.Environment[j].Name
		})

		for _, p := range c.PortMappings {
			proto := strings.ToLower(p.Protocol)
			if proto == "" {
				proto = "tcp"
			}
			host := p.HostPort
			// awsvpc tasks always bind the container port.
			if tmpl.NetworkMode == "awsvpc" && host == 0 {
				host = p.ContainerPort
			}
			nc.Ports = append(nc.Ports, normalizedPort{ContainerPort: p.ContainerPort, HostPort: host, Protocol: proto})
		}
		sort.Slice(nc.Ports, func(i, j int) bool {
			if nc.Ports[i].ContainerPort != nc.Ports[j].ContainerPort {
				return nc.Ports[i].ContainerPort < nc.Ports[j].ContainerPort
			}
			return nc.Ports[i].Protocol < nc.Ports[j].Protocol
		})

		out.Containers = append(out.Containers, nc)
	}

	sort.Slice(out.Containers, func(i, j int) bool {
		return out.Containers[i].Name < out.Containers[j].Name
	})

	return out
}

// orDefault applies the platform's health check defaults so omitted and
// explicit default values hash alike.
func orDefault(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

// Hash computes the content hash of a template. The hash is independent of
// container, environment, and port mapping order.
func Hash(tmpl service.TaskTemplate) string {
	// Marshalling a struct of strings, ints, and slices cannot fail.
	data, _ := json.Marshal(normalize(tmpl))
	return digest.FromBytes(data).String()
}

// FindByHash returns the first revision carrying the given hash. Revisions
// are expected most recent first, so the newest match wins.
func FindByHash(revisions []service.TaskDefinitionRevision, hash string) (service.TaskDefinitionRevision, bool) {
	for _, r := range revisions {
		if r.ContentHash == hash {
			return r, true
		}
	}
	return service.TaskDefinitionRevision{}, false
}
