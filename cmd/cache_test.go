package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/l0p7/confctrl/internal/config"
	"github.com/l0p7/confctrl/internal/resolve/loadercache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildLoaderCacheRedisHonorsConfiguredTTL(t *testing.T) {
	mr := miniredis.RunT(t)

	cache := buildLoaderCache(discardLogger(), config.LoaderCacheConfig{
		Backend:    "redis",
		TTLSeconds: 120,
		Redis:      config.RedisCacheConfig{Address: mr.Addr()},
	})
	t.Cleanup(func() { _ = cache.Close(context.Background()) })

	ctx := context.Background()
	if err := cache.Store(ctx, "gate:key", loadercache.Entry{RuleIDs: []string{"r1"}}); err != nil {
		t.Fatalf("store: %v", err)
	}

	if ttl := mr.TTL("gate:key"); ttl <= 100*time.Second || ttl > 120*time.Second {
		t.Fatalf("configured ttl must reach redis, got %v", ttl)
	}

	if _, ok, err := cache.Lookup(ctx, "gate:key"); err != nil || !ok {
		t.Fatalf("entry must be readable before expiry: ok=%v err=%v", ok, err)
	}
	mr.FastForward(121 * time.Second)
	if _, ok, err := cache.Lookup(ctx, "gate:key"); err != nil || ok {
		t.Fatalf("entry must expire with the configured ttl: ok=%v err=%v", ok, err)
	}
}

func TestBuildLoaderCacheFallsBackToMemory(t *testing.T) {
	// Nothing listens here; the factory must degrade instead of failing boot.
	cache := buildLoaderCache(discardLogger(), config.LoaderCacheConfig{
		Backend:    "redis",
		TTLSeconds: 30,
		Redis:      config.RedisCacheConfig{Address: "127.0.0.1:1"},
	})
	t.Cleanup(func() { _ = cache.Close(context.Background()) })

	ctx := context.Background()
	if err := cache.Store(ctx, "gate:key", loadercache.Entry{RuleIDs: []string{"r1"}}); err != nil {
		t.Fatalf("fallback cache store: %v", err)
	}
	entry, ok, err := cache.Lookup(ctx, "gate:key")
	if err != nil || !ok || len(entry.RuleIDs) != 1 {
		t.Fatalf("fallback cache must round-trip: ok=%v err=%v entry=%#v", ok, err, entry)
	}
}
