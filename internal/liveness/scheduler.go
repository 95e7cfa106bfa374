package liveness

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

// Scheduler runs the reaper on a cron schedule. A redis lock keeps multiple
// workers from sweeping at the same time.
type Scheduler struct {
	Reaper *Reaper
	Rdb    *redis.Client
	Spec   string
	Logger *log.Logger
}

const reapLockKey = "reap:lock"

// Run blocks until the context is cancelled, firing the reaper at each cron
// boundary. An unparsable spec falls back to every five minutes.
func (s *Scheduler) Run(ctx context.Context) {
	expr, err := cronexpr.Parse(s.Spec)
	if err != nil {
		s.Logger.Printf("invalid reap schedule %q, falling back to */5: %v", s.Spec, err)
		expr = cronexpr.MustParse("*/5 * * * *")
	}
	for {
		next := expr.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.tick(ctx)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if s.Rdb != nil {
		ok, err := s.Rdb.SetNX(ctx, reapLockKey, "1", time.Minute).Result()
		if err != nil {
			s.Logger.Printf("warn: reap lock: %v", err)
			return
		}
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, reapLockKey)
	}
	n, err := s.Reaper.Reap(ctx)
	if err != nil {
		s.Logger.Printf("warn: reap: %v", err)
		return
	}
	if n > 0 {
		s.Logger.Printf("reaped %d stale editor sessions", n)
	}
}
