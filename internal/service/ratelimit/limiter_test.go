package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowRefills(t *testing.T) {
	l := New()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !l.Allow("binance", 3, 1) {
			t.Fatalf("token %d should be available", i)
		}
	}
	if l.Allow("binance", 3, 1) {
		t.Fatalf("bucket should be empty")
	}
	if !l.Allow("other", 1, 1) {
		t.Fatalf("keys must not share buckets")
	}
	now = now.Add(time.Second)
	if !l.Allow("binance", 3, 1) {
		t.Fatalf("one token should have refilled")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := New()
	if err := l.Wait(context.Background(), "k", 1, 0.001); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "k", 1, 0.001); err == nil {
		t.Fatalf("expected context error while the bucket is empty")
	}
}
