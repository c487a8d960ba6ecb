package redis

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLeaserAcquireRelease(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	leaser, err := NewLeaser(&Client{store: mock}, time.Minute)
	if err != nil {
		t.Fatalf("new leaser: %v", err)
	}

	lease, ok, err := leaser.Acquire(ctx, "mp:lease:settlement:o1")
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}

	if _, ok, err := leaser.Acquire(ctx, "mp:lease:settlement:o1"); err != nil || ok {
		t.Fatalf("expected contended acquire to fail, ok=%v err=%v", ok, err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}

	if _, ok, err := leaser.Acquire(ctx, "mp:lease:settlement:o1"); err != nil || !ok {
		t.Fatalf("expected acquire after release, ok=%v err=%v", ok, err)
	}
}

func TestLeaseReleaseKeepsForeignOwner(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	leaser, _ := NewLeaser(&Client{store: mock}, 0)

	lease, _, _ := leaser.Acquire(ctx, "k")
	// the TTL expired and another worker took the key
	mock.data["k"] = "someone-else"
	if err := lease.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if mock.data["k"] != "someone-else" {
		t.Fatalf("release must not delete a lease owned by another worker")
	}
}

type failingStore struct{}

func (failingStore) SetNX(context.Context, string, any, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) CompareAndDelete(context.Context, string, string) (bool, error) {
	return false, nil
}

func TestLeaserSurfacesStoreErrors(t *testing.T) {
	if _, err := NewLeaser(nil, 0); err == nil {
		t.Fatal("expected error for nil store")
	}
	leaser, _ := NewLeaser(failingStore{}, time.Second)
	if _, _, err := leaser.Acquire(context.Background(), "k"); err == nil {
		t.Fatal("expected setnx error")
	}
	if _, _, err := leaser.Acquire(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
