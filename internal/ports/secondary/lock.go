package secondary

import (
	"context"
	"time"
)

// ServiceLocker defines the secondary port that serializes invocations per
// service. At most one holder may own a service key at a time.
type ServiceLocker interface {
	// Acquire takes the lock for key on behalf of owner. It returns an
	// error classified as failure.KindLocked if another owner holds it.
	// Locks expire after ttl so a crashed holder cannot block forever.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) error

	// Release drops the lock if owner still holds it.
	Release(ctx context.Context, key, owner string) error
}
