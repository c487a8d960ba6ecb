package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const defaultLeaseTTL = 2 * time.Minute

// LeaseStore is the subset of Client a Leaser needs.
type LeaseStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// Leaser hands out short-lived SETNX leases. The TTL bounds how long a
// crashed holder can block others.
type Leaser struct {
	store LeaseStore
	ttl   time.Duration
}

// NewLeaser constructs a Redis-backed leaser.
func NewLeaser(store LeaseStore, ttl time.Duration) (*Leaser, error) {
	if store == nil {
		return nil, errors.New("redis store required for leases")
	}
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &Leaser{store: store, ttl: ttl}, nil
}

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	store LeaseStore
	key   string
	owner string
}

// Acquire tries to take key. ok is false when someone else holds it.
func (l *Leaser) Acquire(ctx context.Context, key string) (*Lease, bool, error) {
	if key == "" {
		return nil, false, errors.New("lease key is required")
	}
	owner := uuid.NewString()
	ok, err := l.store.SetNX(ctx, key, owner, l.ttl)
	if err != nil {
		return nil, false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{store: l.store, key: key, owner: owner}, true, nil
}

// Release frees the lease only if the owner value still matches.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.owner == "" {
		return nil
	}
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	l.owner = ""
	return nil
}
