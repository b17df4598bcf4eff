package ports

import (
	"context"
	"errors"
	"time"
)

// ErrLockLost is returned when a lease expired and the lock may have another holder.
var ErrLockLost = errors.New("distributed lock lost")

// Lease is a held distributed lock.
type Lease interface {
	// Refresh pushes the expiry ttl into the future. It fails with ErrLockLost
	// once the lock has expired.
	Refresh(ctx context.Context, ttl time.Duration) error
	// Unlock releases the lock. Releasing an expired lease is a no-op.
	Unlock(ctx context.Context) error
}

// DistributedLocker serializes access to one execution context across replicas.
type DistributedLocker interface {
	// Lock blocks until the lock for key is held or ctx is done.
	// The lock expires after ttl unless refreshed. The returned Lease must be unlocked.
	Lock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}
