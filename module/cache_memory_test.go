package module

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
)

func TestMemoryCacheExpiry(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := NewMemoryCache(0, time.Hour, clk)
	ctx := context.Background()

	if err := cache.Set(ctx, "a", "1", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cache.Set(ctx, "b", "2", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	clk.Advance(time.Minute)
	if _, err := cache.Get(ctx, "b"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected b to expire, got %v", err)
	}
	if v, err := cache.Get(ctx, "a"); err != nil || v != "1" {
		t.Errorf("expected a=1, got %q, %v", v, err)
	}

	clk.Advance(time.Hour)
	if _, err := cache.Get(ctx, "a"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected a to expire with the default TTL, got %v", err)
	}
}

func TestMemoryCacheEviction(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	cache := NewMemoryCache(2, 0, clk)
	ctx := context.Background()

	_ = cache.Set(ctx, "long", "x", 2*time.Hour)
	_ = cache.Set(ctx, "short", "y", time.Hour)
	_ = cache.Set(ctx, "new", "z", 3*time.Hour)

	if cache.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", cache.Len())
	}
	if _, err := cache.Get(ctx, "short"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected the entry closest to expiry to be evicted, got %v", err)
	}
	if _, err := cache.Get(ctx, "long"); err != nil {
		t.Errorf("expected long to survive, got %v", err)
	}

	// Overwriting an existing key never evicts.
	_ = cache.Set(ctx, "new", "zz", 0)
	if cache.Len() != 2 {
		t.Errorf("expected 2 entries after overwrite, got %d", cache.Len())
	}
	if err := cache.Delete(ctx, "new"); err != nil || cache.Len() != 1 {
		t.Errorf("Delete: %v, len %d", err, cache.Len())
	}
}
