package cache_test

import (
	"testing"
	"time"

	"github.com/harborview/agency-dashboard-go/internal/infra/cache"
)

func TestCache_SetAndGet(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("client:c1:overview", "v1")
	val, ok := c.Get("client:c1:overview")
	if !ok {
		t.Fatal("expected key to exist")
	}
	if val != "v1" {
		t.Errorf("expected 'v1', got '%s'", val)
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	_, ok := c.Get("nonexistent")
	if ok {
		t.Fatal("expected cache miss for nonexistent key")
	}
}

func TestCache_Expiration(t *testing.T) {
	c := cache.New[string](50 * time.Millisecond)

	c.Set("k", "v")
	time.Sleep(100 * time.Millisecond)

	_, ok := c.Get("k")
	if ok {
		t.Fatal("expected cache entry to be expired")
	}
}

func TestCache_Delete(t *testing.T) {
	c := cache.New[string](5 * time.Minute)

	c.Set("k", "v")
	c.Delete("k")

	_, ok := c.Get("k")
	if ok {
		t.Fatal("expected key to be deleted")
	}
}

func TestCache_InvalidatePrefix(t *testing.T) {
	c := cache.New[int](5 * time.Minute)

	c.Set("client:c1:overview", 1)
	c.Set("client:c1:transactions", 2)
	c.Set("client:c2:overview", 3)

	c.InvalidatePrefix("client:c1:")

	if _, ok := c.Get("client:c1:overview"); ok {
		t.Error("expected client:c1:overview to be invalidated")
	}
	if _, ok := c.Get("client:c1:transactions"); ok {
		t.Error("expected client:c1:transactions to be invalidated")
	}
	if v, ok := c.Get("client:c2:overview"); !ok || v != 3 {
		t.Error("expected client:c2:overview to survive")
	}
}
