package cache

import (
	"testing"
	"time"
)

func TestTTLCacheExpires(t *testing.T) {
	c := NewTTLCache[float64]()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("BTCUSDT", 64000.5, 3*time.Second)
	c.Set("ETHUSDT", 3100, 0)
	if v, ok := c.Get("BTCUSDT"); !ok || v != 64000.5 {
		t.Fatalf("got %v %v", v, ok)
	}
	now = now.Add(4 * time.Second)
	if _, ok := c.Get("BTCUSDT"); ok {
		t.Fatalf("entry should have expired")
	}
	if _, ok := c.Get("ETHUSDT"); !ok {
		t.Fatalf("zero ttl should never expire")
	}
	c.Delete("ETHUSDT")
	if _, ok := c.Get("ETHUSDT"); ok {
		t.Fatalf("deleted entry still present")
	}
}
