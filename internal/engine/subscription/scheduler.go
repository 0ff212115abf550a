// Package subscription implements the uniform scheduler loop shared by
// every reactive source (event bus, trigger scheduler, polling, event
// cleanup, credential rotation): each is a named tick() with an interval
// and optional initial delay, and the scheduler is the only place that
// knows how to run one on a timer.
package subscription

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Subscription is one reactive source: a stable name, a poll interval, an
// optional initial delay, and a tick that performs source -> predicate ->
// action.
type Subscription struct {
	Name         string
	Interval     time.Duration
	InitialDelay time.Duration
	Tick         func(ctx context.Context) error
}

// Scheduler runs a fixed set of Subscriptions, gated by one shared
// "running" flag: Stop clears the flag so every in-flight tick finishes
// but no further iteration starts.
type Scheduler struct {
	subscriptions []Subscription
	logger        *slog.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

// New builds a Scheduler over subs. Adding a new reactive source is a
// matter of appending another Subscription; no scheduler code changes.
func New(logger *slog.Logger, subs ...Subscription) *Scheduler {
	return &Scheduler{subscriptions: subs, logger: logger}
}

// Start spawns one goroutine per subscription. It is safe to call once;
// calling Start again after Stop restarts all loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.running.Store(true)
	for _, sub := range s.subscriptions {
		sub := sub
		s.wg.Add(1)
		go s.run(ctx, sub)
	}
}

// Stop clears the running flag. In-flight ticks run to completion; no
// further iteration starts. It does not wait for goroutines to exit --
// call Wait for that.
func (s *Scheduler) Stop() {
	s.running.Store(false)
}

// Wait blocks until every subscription loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, sub Subscription) {
	defer s.wg.Done()

	if sub.InitialDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(sub.InitialDelay):
		}
	}

	ticker := time.NewTicker(sub.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.running.Load() {
				return
			}
			if err := sub.Tick(ctx); err != nil {
				s.logger.Error("subscription: tick failed", "subscription", sub.Name, "error", err)
			}
		}
	}
}
