package ecs

import (
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"

	"github.com/example/ecs-manage/internal/ports/secondary"
)

// regional creates one client per region on first use.
type regional[T any] struct {
	base   string
	create func(region string) T

	mu      sync.Mutex
	clients map[string]T
}

func newRegional[T any](base string, create func(region string) T) *regional[T] {
	return &regional[T]{
		base:    base,
		create:  create,
		clients: make(map[string]T),
	}
}

// get returns the client of region, or of the base region when region is
// empty.
func (r *regional[T]) get(region string) T {
	if region == "" {
		region = r.base
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[region]; ok {
		return c
	}
	c := r.create(region)
	r.clients[region] = c
	return c
}

// Regions implements secondary.PlatformRegions with one rate-limited
// Client per region.
type Regions struct {
	clients *regional[*Client]
}

var _ secondary.PlatformRegions = (*Regions)(nil)

// NewRegions creates the clients of every region from one configuration.
// The configuration's own region is the default.
func NewRegions(cfg aws.Config, requestsPerSecond float64) *Regions {
	return newRegionsWith(cfg.Region, func(region string) *Client {
		api := awsecs.NewFromConfig(cfg, func(o *awsecs.Options) { o.Region = region })
		return NewWithAPI(api, requestsPerSecond)
	})
}

func newRegionsWith(base string, create func(region string) *Client) *Regions {
	return &Regions{clients: newRegional(base, create)}
}

// Region returns the platform of region.
func (r *Regions) Region(region string) secondary.Platform {
	return r.clients.get(region)
}
