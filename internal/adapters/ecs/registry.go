package ecs

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	awsecr "github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"golang.org/x/time/rate"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/core/inspect"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

// ECRAPI is the subset of the ECR client used by ImageRegistry.
type ECRAPI interface {
	DescribeImages(ctx context.Context, in *awsecr.DescribeImagesInput, optFns ...func(*awsecr.Options)) (*awsecr.DescribeImagesOutput, error)
}

// ImageRegistry implements secondary.ImageRegistry on ECR. Each lookup
// goes to the region of the registry hosting the image.
type ImageRegistry struct {
	clients *regional[ECRAPI]
	limiter *rate.Limiter
}

var _ secondary.ImageRegistry = (*ImageRegistry)(nil)

// NewImageRegistry creates an ImageRegistry from an AWS configuration.
func NewImageRegistry(cfg aws.Config, requestsPerSecond float64) *ImageRegistry {
	return newImageRegistryWith(cfg.Region, func(region string) ECRAPI {
		return awsecr.NewFromConfig(cfg, func(o *awsecr.Options) { o.Region = region })
	}, requestsPerSecond)
}

func newImageRegistryWith(base string, create func(region string) ECRAPI, requestsPerSecond float64) *ImageRegistry {
	return &ImageRegistry{
		clients: newRegional(base, create),
		limiter: newLimiter(requestsPerSecond),
	}
}

// DescribeImage checks that an image tag or digest exists in its
// repository.
func (r *ImageRegistry) DescribeImage(ctx context.Context, img inspect.RegistryImage) error {
	const op = "describe image"
	if err := wait(ctx, r.limiter, op); err != nil {
		return err
	}
	out, err := r.clients.get(img.Region).DescribeImages(ctx, &awsecr.DescribeImagesInput{
		RegistryId:     optional(img.RegistryID),
		RepositoryName: aws.String(img.Repository),
		ImageIds: []ecrtypes.ImageIdentifier{{
			ImageTag:    optional(img.Tag),
			ImageDigest: optional(img.Digest),
		}},
	})
	if err != nil {
		return classify(op, err)
	}
	if len(out.ImageDetails) == 0 {
		return failure.New(failure.KindPlatformRejected, "image %s not found", img.Image)
	}
	return nil
}

// ELBAPI is the subset of the Elastic Load Balancing v2 client used by
// TargetGroups.
type ELBAPI interface {
	DescribeTargetGroups(ctx context.Context, in *elbv2.DescribeTargetGroupsInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeTargetGroupsOutput, error)
}

// TargetGroups implements secondary.TargetGroups on Elastic Load
// Balancing v2. Each lookup goes to the region named in the ARN.
type TargetGroups struct {
	clients *regional[ELBAPI]
	limiter *rate.Limiter
}

var _ secondary.TargetGroups = (*TargetGroups)(nil)

// NewTargetGroups creates a TargetGroups from an AWS configuration.
func NewTargetGroups(cfg aws.Config, requestsPerSecond float64) *TargetGroups {
	return newTargetGroupsWith(cfg.Region, func(region string) ELBAPI {
		return elbv2.NewFromConfig(cfg, func(o *elbv2.Options) { o.Region = region })
	}, requestsPerSecond)
}

func newTargetGroupsWith(base string, create func(region string) ELBAPI, requestsPerSecond float64) *TargetGroups {
	return &TargetGroups{
		clients: newRegional(base, create),
		limiter: newLimiter(requestsPerSecond),
	}
}

// DescribeTargetGroup checks that a target group exists.
func (t *TargetGroups) DescribeTargetGroup(ctx context.Context, targetGroupARN string) error {
	const op = "describe target group"
	parsed, err := arn.Parse(targetGroupARN)
	if err != nil {
		return failure.Wrap(failure.KindPlatformRejected, op, err)
	}
	if err := wait(ctx, t.limiter, op); err != nil {
		return err
	}
	out, err := t.clients.get(parsed.Region).DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{
		TargetGroupArns: []string{targetGroupARN},
	})
	if err != nil {
		return classify(op, err)
	}
	if len(out.TargetGroups) == 0 {
		return failure.New(failure.KindPlatformRejected, "target group %s not found", targetGroupARN)
	}
	return nil
}
