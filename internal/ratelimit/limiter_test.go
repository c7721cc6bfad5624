package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsUpToMax(t *testing.T) {
	l := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d: expected allow", i)
		}
	}
	if l.Allow("a") {
		t.Fatal("expected 4th request to be denied")
	}
}

func TestLimiterIsolatesKeys(t *testing.T) {
	l := New(1, time.Minute)
	if !l.Allow("a") {
		t.Fatal("expected first request for key a to be allowed")
	}
	if !l.Allow("b") {
		t.Fatal("expected first request for key b to be allowed, independent of key a")
	}
	if l.Allow("a") {
		t.Fatal("expected second request for key a to be denied")
	}
}

func TestLimiterPrunesStaleHits(t *testing.T) {
	l := New(1, 10*time.Millisecond)
	if !l.Allow("a") {
		t.Fatal("expected first request to be allowed")
	}
	if l.Allow("a") {
		t.Fatal("expected immediate second request to be denied")
	}
	time.Sleep(20 * time.Millisecond)
	if !l.Allow("a") {
		t.Fatal("expected request after window to be allowed")
	}
}
