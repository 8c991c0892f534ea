// Package inspect contains the pure rules behind cluster-wide service
// inspection: audit findings and cluster comparison.
package inspect

import (
	"sort"

	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/core/taskdef"
)

// Audit finding labels.
const (
	FindingInvalidImages         = "Invalid images"
	FindingInvalidECRImages      = "Invalid ECR images"
	FindingInvalidTargetGroups   = "Invalid Target groups"
	FindingMissingTaskDefinition = "Missing task definition"
	FindingLessThanDesired       = "Less than desired"
)

// AuditInput is what the audit rules look at for one service.
// Revision is nil when the active task definition does not exist.
// MissingImages and MissingTargetGroups list the registry images and
// target groups of the service that the lookups could not find.
type AuditInput struct {
	State               service.ServiceState
	Revision            *service.TaskDefinitionRevision
	MissingImages       []string
	MissingTargetGroups []string
}

// Audit returns the findings for one service, sorted. An empty result
// means the service has no issues.
func Audit(in AuditInput) []string {
	var findings []string

	if in.State.ActiveRevision == "" || in.Revision == nil {
		findings = append(findings, FindingMissingTaskDefinition)
	} else {
		for _, c := range in.Revision.Template.Containers {
			if _, err := taskdef.NormalizeImage(c.Image); err != nil {
				findings = append(findings, FindingInvalidImages)
				break
			}
		}
	}

	if len(in.MissingImages) > 0 {
		findings = append(findings, FindingInvalidECRImages)
	}
	if len(in.MissingTargetGroups) > 0 {
		findings = append(findings, FindingInvalidTargetGroups)
	}

	if in.State.RunningCount < in.State.DesiredCount {
		findings = append(findings, FindingLessThanDesired)
	}

	sort.Strings(findings)
	return findings
}

// RegistryImages returns the distinct ECR-hosted images of a revision, in
// container order.
func RegistryImages(rev *service.TaskDefinitionRevision) []RegistryImage {
	if rev == nil {
		return nil
	}
	seen := make(map[string]bool)
	var images []RegistryImage
	for _, c := range rev.Template.Containers {
		img, ok := ParseRegistryImage(c.Image)
		if !ok || seen[c.Image] {
			continue
		}
		seen[c.Image] = true
		images = append(images, img)
	}
	return images
}

// SourceOnly returns the names present in source but absent from
// destination, preserving source order.
func SourceOnly(source, destination []string) []string {
	dest := make(map[string]bool, len(destination))
	for _, name := range destination {
		dest[name] = true
	}

	var out []string
	for _, name := range source {
		if !dest[name] {
			out = append(out, name)
		}
	}
	return out
}
