package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketDrainsAndReports(t *testing.T) {
	tb := NewTokenBucket(3, 1)
	for i := 0; i < 3; i++ {
		if !tb.Allow() {
			t.Fatalf("request %d should pass within capacity", i)
		}
	}
	if tb.Allow() {
		t.Fatal("bucket should be empty")
	}
	if got := tb.Remaining(); got != 0 {
		t.Fatalf("Remaining = %d, want 0", got)
	}
}

func TestSlidingWindowCapsTrailingRequests(t *testing.T) {
	sw := NewSlidingWindow(2, time.Minute)
	if !sw.Allow() || !sw.Allow() {
		t.Fatal("requests within the limit should pass")
	}
	if sw.Allow() {
		t.Fatal("third request in the window should be refused")
	}
	if got := sw.Remaining(); got != 0 {
		t.Fatalf("Remaining = %d, want 0", got)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Minute)
	if err := sw.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sw.Wait(ctx); err == nil {
		t.Fatal("exhausted window must surface the context error")
	}
}
