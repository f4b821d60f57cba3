package service

import (
	"context"
	"fmt"
	"time"

	"stock-service/internal/redisclient"
	"stock-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultLeaseTTL bounds how long a crashed holder can keep a resource.
const DefaultLeaseTTL = 30 * time.Second

// Lease is proof of holding a resource. Only the holder's token can release it.
type Lease struct {
	Key   string
	Token string
}

// ReservationLock is a best-effort mutual exclusion lease on the fast store.
// A lease expires on its own after its TTL, so a holder that outlives the TTL
// loses exclusivity silently.
type ReservationLock struct {
	redis  *redisclient.Client
	logger *zap.Logger
}

func NewReservationLock(redis *redisclient.Client) *ReservationLock {
	return &ReservationLock{
		redis:  redis,
		logger: util.GetLogger(),
	}
}

// Acquire takes the lease on resource if nobody holds it. ok is false when
// the resource is held by someone else.
func (l *ReservationLock) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lease, bool, error) {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	lease := &Lease{Key: lockKey(resource), Token: uuid.NewString()}
	ok, err := l.redis.SetIfAbsent(ctx, lease.Key, lease.Token, ttl)
	if err != nil {
		util.LeaseAcquireTotal.WithLabelValues("error").Inc()
		return nil, false, fmt.Errorf("acquire lease %s: %w", resource, err)
	}
	if !ok {
		util.LeaseAcquireTotal.WithLabelValues("contended").Inc()
		l.logger.Debug("Lease held by another holder", zap.String("resource", resource))
		return nil, false, nil
	}

	util.LeaseAcquireTotal.WithLabelValues("acquired").Inc()
	return lease, true, nil
}

// Release frees the lease only if it is still held with the same token.
// Releasing an expired or re-acquired lease is a no-op returning false.
func (l *ReservationLock) Release(ctx context.Context, lease *Lease) (bool, error) {
	if lease == nil {
		return false, nil
	}

	ok, err := l.redis.CompareAndDelete(ctx, lease.Key, lease.Token)
	if err != nil {
		util.LeaseReleaseTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("release lease %s: %w", lease.Key, err)
	}
	if !ok {
		util.LeaseReleaseTotal.WithLabelValues("stale").Inc()
		l.logger.Warn("Lease no longer held at release", zap.String("key", lease.Key))
		return false, nil
	}

	util.LeaseReleaseTotal.WithLabelValues("released").Inc()
	return true, nil
}
