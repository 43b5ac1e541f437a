package kv

import (
	"context"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := store.Read(ctx, "missing"); err != nil || ok {
		if err != nil {
			t.Fatalf("Read returned error: %v", err)
		}
		t.Fatal("expected missing key to report absent")
	}

	if err := store.Write(ctx, "principal-a", "jwk-a"); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	value, ok, err := store.Read(ctx, "principal-a")
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !ok || value != "jwk-a" {
		t.Fatalf("expected jwk-a, got %q (present=%v)", value, ok)
	}

	if err := store.Write(ctx, "principal-a", "jwk-b"); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	value, _, _ = store.Read(ctx, "principal-a")
	if value != "jwk-b" {
		t.Fatalf("expected overwrite to jwk-b, got %q", value)
	}
	if store.Writes() != 2 {
		t.Fatalf("expected 2 writes, got %d", store.Writes())
	}
}

func TestMemoryStoreKeysDoNotCollide(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Write(ctx, "principal-a", "jwk-a"); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if err := store.Write(ctx, "principal-b", "jwk-b"); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", store.Len())
	}
	value, ok, err := store.Read(ctx, "principal-a")
	if err != nil || !ok || value != "jwk-a" {
		t.Fatalf("expected principal-a untouched, got %q (present=%v, err=%v)", value, ok, err)
	}
}

func TestRedisStoreRequiresAddr(t *testing.T) {
	if _, err := NewRedisStore(RedisConfig{}); err == nil {
		t.Fatal("expected error when no redis addr provided")
	}
}

func TestRedisTLSConfigValidation(t *testing.T) {
	if _, err := buildTLSConfig(RedisTLSConfig{CertFile: "cert.pem"}); err == nil {
		t.Fatal("expected error when cert provided without key")
	}
	cfg, err := buildTLSConfig(RedisTLSConfig{})
	if err != nil {
		t.Fatalf("buildTLSConfig returned error: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected nil TLS config when nothing is set")
	}
}
