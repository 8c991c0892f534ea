package app

import (
	"context"
	"fmt"
	"sync"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/core/service"
	"github.com/example/ecs-manage/internal/core/taskdef"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

// recheckDepth is how many recent revisions are searched for a registration
// whose response was lost.
const recheckDepth = 5

// Resolution is the revision a service should run.
type Resolution struct {
	Revision   service.TaskDefinitionRevision
	Hash       string
	Registered bool // a new revision was registered for this resolution
}

// Resolver computes the task definition revision that should be active.
// A Resolver lives for one invocation: it registers at most one revision
// per distinct content hash.
type Resolver struct {
	platform secondary.Platform
	retry    *retrier
	log      logrus.FieldLogger

	mu         sync.Mutex
	registered map[string]service.TaskDefinitionRevision
}

// NewResolver creates a Resolver for one invocation.
func NewResolver(platform secondary.Platform, retry RetryConfig, clk clock.Clock, log logrus.FieldLogger) *Resolver {
	return &Resolver{
		platform:   platform,
		retry:      newRetrier(retry, clk, log),
		log:        log,
		registered: make(map[string]service.TaskDefinitionRevision),
	}
}

// KnownRevisions lists up to depth revisions of family, most recent first.
func (r *Resolver) KnownRevisions(ctx context.Context, family string, depth int) ([]service.TaskDefinitionRevision, error) {
	var revisions []service.TaskDefinitionRevision
	err := r.retry.do(ctx, fmt.Sprintf("listing task definitions of %s", family), func(ctx context.Context) error {
		var err error
		revisions, err = r.platform.ListTaskDefinitions(ctx, family, depth)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list task definitions of %s: %w", family, err)
	}
	return revisions, nil
}

// Resolve returns the revision matching spec, reusing a known revision with
// the same content hash or registering a new one.
func (r *Resolver) Resolve(ctx context.Context, spec service.ServiceSpec, known []service.TaskDefinitionRevision) (*Resolution, error) {
	tmpl := spec.Template()
	if err := taskdef.ValidateTemplate(tmpl).Error(); err != nil {
		return nil, err
	}

	hash := taskdef.Hash(tmpl)
	log := r.log.WithFields(logrus.Fields{"family": tmpl.Family, "hash": hash})

	r.mu.Lock()
	defer r.mu.Unlock()

	if rev, ok := r.registered[hash]; ok {
		log.WithField("revision", rev.Ref()).Debug("reusing revision registered in this invocation")
		return &Resolution{Revision: rev, Hash: hash}, nil
	}

	if rev, ok := taskdef.FindByHash(known, hash); ok {
		log.WithField("revision", rev.Ref()).Debug("reusing existing revision")
		r.registered[hash] = rev
		return &Resolution{Revision: rev, Hash: hash}, nil
	}

	// A retryable registration failure is ambiguous: the platform may have
	// stored the revision before the response was lost. Each retry first
	// looks the hash up in the family and only registers when it is absent.
	var rev *service.TaskDefinitionRevision
	ambiguous := false
	err := r.retry.do(ctx, fmt.Sprintf("registering %s", tmpl.Family), func(ctx context.Context) error {
		if ambiguous {
			latest, err := r.platform.ListTaskDefinitions(ctx, tmpl.Family, recheckDepth)
			if err != nil {
				return err
			}
			if found, ok := taskdef.FindByHash(latest, hash); ok {
				log.WithField("revision", found.Ref()).Info("registration went through before the failure, reusing it")
				rev = &found
				return nil
			}
		}
		var err error
		rev, err = r.platform.RegisterTaskDefinition(ctx, tmpl)
		if failure.Retryable(err) {
			ambiguous = true
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register task definition %s: %w", tmpl.Family, err)
	}

	registered := *rev
	registered.ContentHash = hash
	r.registered[hash] = registered

	log.WithField("revision", registered.Ref()).Info("registered new task definition revision")
	return &Resolution{Revision: registered, Hash: hash, Registered: true}, nil
}
