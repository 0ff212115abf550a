package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestCheck_AllowsUpToMax(t *testing.T) {
	l := New()
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fakeNow }

	for i := 0; i < 3; i++ {
		if err := l.Check("k", 3, time.Minute); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}

	err := l.Check("k", 3, time.Minute)
	if err == nil {
		t.Fatal("expected rejection on the 4th call")
	}
	var rl *ErrRetryAfter
	if !errors.As(err, &rl) {
		t.Fatalf("expected *ErrRetryAfter, got %T", err)
	}
	if rl.RetryAfter > time.Minute {
		t.Errorf("retry after should be <= window, got %v", rl.RetryAfter)
	}
}

func TestCheck_WindowElapses_AllowsAgain(t *testing.T) {
	l := New()
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fakeNow }

	for i := 0; i < 2; i++ {
		if err := l.Check("k", 2, time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := l.Check("k", 2, time.Minute); err == nil {
		t.Fatal("expected rejection before window elapses")
	}

	fakeNow = fakeNow.Add(time.Minute + time.Second)
	if err := l.Check("k", 2, time.Minute); err != nil {
		t.Fatalf("expected success after window elapses, got %v", err)
	}
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l := New()
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fakeNow }

	for i := 0; i < 2; i++ {
		if err := l.Check("a", 2, time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := l.Check("b", 2, time.Minute); err != nil {
		t.Fatalf("unrelated key should not be rate-limited: %v", err)
	}
}

func TestPrune_RemovesExpiredKeys(t *testing.T) {
	l := New()
	fakeNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fakeNow }

	_ = l.Check("k", 5, time.Minute)

	fakeNow = fakeNow.Add(2 * time.Minute)
	l.Prune(time.Minute)

	l.mu.Lock()
	_, exists := l.buckets["k"]
	l.mu.Unlock()
	if exists {
		t.Error("expected expired key to be pruned")
	}
}
