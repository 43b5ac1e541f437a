package server

import (
	"testing"
	"time"

	"reelgate/internal/testsupport/redisstub"
)

func TestRedisStoreAllowsWithinLimit(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	store := newRedisStore(stub.Addr(), "", 2*time.Second)
	t.Cleanup(func() { _ = store.client.Close() })

	for i := range 3 {
		allowed, _, err := store.Allow("mint:10.0.0.1", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow %d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, retryAfter, err := store.Allow("mint:10.0.0.1", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow over limit: %v", err)
	}
	if allowed {
		t.Fatal("fourth request should be blocked")
	}
	if retryAfter <= 0 {
		t.Fatalf("retryAfter = %v, want > 0", retryAfter)
	}
}

func TestRedisStoreSeparatesKeys(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	store := newRedisStore(stub.Addr(), "", 2*time.Second)
	t.Cleanup(func() { _ = store.client.Close() })

	if allowed, _, err := store.Allow("mint:10.0.0.1", 1, time.Minute); err != nil || !allowed {
		t.Fatalf("first key first request: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, err := store.Allow("mint:10.0.0.1", 1, time.Minute); err != nil || allowed {
		t.Fatalf("first key second request: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, err := store.Allow("mint:10.0.0.2", 1, time.Minute); err != nil || !allowed {
		t.Fatalf("second key should be unaffected: allowed=%v err=%v", allowed, err)
	}
}
