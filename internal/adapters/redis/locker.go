// Package redis implements the service lock on Redis so invocations from
// different hosts serialize per service.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/example/ecs-manage/internal/core/failure"
	"github.com/example/ecs-manage/internal/ports/secondary"
)

// acquireSource takes or refreshes the lock. It returns "" on success and
// the current holder otherwise.
const acquireSource = `
local holder = redis.call("GET", KEYS[1])
if holder == false or holder == ARGV[1] then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
  return ""
end
return holder
`

// releaseSource deletes the lock only if the caller still owns it.
const releaseSource = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	acquireScript = goredis.NewScript(acquireSource)
	releaseScript = goredis.NewScript(releaseSource)
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Locker implements secondary.ServiceLocker on Redis.
type Locker struct {
	client goredis.Scripter
}

var _ secondary.ServiceLocker = (*Locker)(nil)

// NewLocker connects to Redis and verifies the connection.
func NewLocker(ctx context.Context, opts Options) (*Locker, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}
	return NewLockerWithClient(client), nil
}

// NewLockerWithClient creates a Locker over an existing client.
func NewLockerWithClient(client goredis.Scripter) *Locker {
	return &Locker{client: client}
}

// Acquire takes the lock for key, or refreshes it if owner already holds it.
func (l *Locker) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	holder, err := acquireScript.Run(ctx, l.client, []string{key}, owner, ttl.Milliseconds()).Text()
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if holder != "" {
		return failure.New(failure.KindLocked, "%s is held by %s", key, holder)
	}
	return nil
}

// Release drops the lock if owner still holds it.
func (l *Locker) Release(ctx context.Context, key, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}
