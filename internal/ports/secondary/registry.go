package secondary

import (
	"context"

	"github.com/example/ecs-manage/internal/core/inspect"
)

// ImageRegistry looks up container images in the registry hosting them.
type ImageRegistry interface {
	// DescribeImage returns nil when the image exists and fails with
	// failure.KindPlatformRejected when the image or its repository does
	// not.
	DescribeImage(ctx context.Context, image inspect.RegistryImage) error
}

// TargetGroups looks up load balancer target groups.
type TargetGroups interface {
	// DescribeTargetGroup returns nil when the target group exists and
	// fails with failure.KindPlatformRejected when it does not.
	DescribeTargetGroup(ctx context.Context, arn string) error
}
