package subscription

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestScheduler_TicksRepeatedlyUntilStopped(t *testing.T) {
	var count atomic.Int32
	sub := Subscription{
		Name:     "test",
		Interval: 5 * time.Millisecond,
		Tick: func(ctx context.Context) error {
			count.Add(1)
			return nil
		},
	}
	s := New(testLogger(), sub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	time.Sleep(35 * time.Millisecond)
	s.Stop()
	seenAtStop := count.Load()
	time.Sleep(20 * time.Millisecond)

	if seenAtStop < 2 {
		t.Fatalf("expected at least 2 ticks before stop, got %d", seenAtStop)
	}
	if count.Load() > seenAtStop+1 {
		t.Fatalf("expected no further ticks after Stop, seenAtStop=%d, final=%d", seenAtStop, count.Load())
	}
	cancel()
	s.Wait()
}

func TestScheduler_HonorsInitialDelay(t *testing.T) {
	var count atomic.Int32
	sub := Subscription{
		Name:         "delayed",
		Interval:     5 * time.Millisecond,
		InitialDelay: 30 * time.Millisecond,
		Tick: func(ctx context.Context) error {
			count.Add(1)
			return nil
		},
	}
	s := New(testLogger(), sub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	if count.Load() != 0 {
		t.Errorf("expected no ticks before initial delay elapses, got %d", count.Load())
	}

	s.Stop()
	cancel()
	s.Wait()
}

func TestScheduler_ContextCancelStopsLoop(t *testing.T) {
	var count atomic.Int32
	sub := Subscription{
		Name:     "ctxstop",
		Interval: 5 * time.Millisecond,
		Tick: func(ctx context.Context) error {
			count.Add(1)
			return nil
		},
	}
	s := New(testLogger(), sub)
	ctx, cancel := context.WithCancel(context.Background())

	s.Start(ctx)
	time.Sleep(15 * time.Millisecond)
	cancel()
	s.Wait()

	final := count.Load()
	time.Sleep(15 * time.Millisecond)
	if count.Load() != final {
		t.Errorf("expected no ticks after context cancellation")
	}
}
