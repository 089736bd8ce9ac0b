package auth

import (
	"testing"
	"time"
)

func TestLoginLimiter_FailuresThenRefill(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	l := newLoginLimiter(2)
	l.now = func() time.Time { return now }
	key := loginLimiterKey("A@x.com", "198.51.100.7")

	if !l.allow(key) {
		t.Fatal("expected an unseen key to be allowed")
	}
	l.fail(key)
	if !l.allow(key) {
		t.Fatal("expected one failure to stay under the limit")
	}
	l.fail(key)
	if l.allow(key) {
		t.Fatal("expected the key to be throttled after two failures")
	}
	if !l.allow(loginLimiterKey("a@x.com", "198.51.100.8")) {
		t.Error("expected another address to be unaffected")
	}
	if l.allow(loginLimiterKey("a@X.COM", "198.51.100.7")) {
		t.Error("expected the identifier to be case-folded")
	}

	now = now.Add(30 * time.Second)
	if !l.allow(key) {
		t.Error("expected one token to refill after 30s at 2/min")
	}
}

func TestLoginLimiter_AllowSpendsNothing(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	l := newLoginLimiter(1)
	l.now = func() time.Time { return now }
	key := loginLimiterKey("a@x.com", "198.51.100.7")

	for i := 0; i < 10; i++ {
		if !l.allow(key) {
			t.Fatalf("allow must not consume, throttled at check %d", i)
		}
	}
}

func TestLoginLimiter_PrunesIdleEntries(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	l := newLoginLimiter(5)
	l.now = func() time.Time { return now }

	l.fail("a")
	l.fail("b")

	now = now.Add(loginLimiterEntryTTL + time.Second)
	l.fail("c")
	l.allow("c")

	if len(l.entries) != 1 {
		t.Errorf("expected idle entries to be evicted, have %d", len(l.entries))
	}
}

func TestLoginLimiter_NilAllowsEverything(t *testing.T) {
	l := newLoginLimiter(0)
	for i := 0; i < 100; i++ {
		l.fail("a@x.com")
		if !l.allow("a@x.com") {
			t.Fatal("nil limiter must not throttle")
		}
	}
}
