// Package sweeper ends sessions that have been idle too long, which forces
// their final compaction.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	robfigcron "github.com/robfig/cron/v3"

	"github.com/roadmate/roadmate/internal/agent"
	"github.com/roadmate/roadmate/internal/schema"
)

// SessionEnder ends one session. *agent.Assistant implements it.
type SessionEnder interface {
	EndSession(ctx context.Context, sessionID string) (agent.CompactionResult, error)
}

// Options configures a Service. Zero fields take their defaults.
type Options struct {
	Schedule    string        // robfig spec, default "@every 5m"
	IdleTimeout time.Duration // default 30m
	BatchSize   int           // sessions ended per run, default 50
}

// Report summarises one sweep.
type Report struct {
	Ended  int
	Failed int
}

// Service periodically ends idle sessions.
type Service struct {
	sessions schema.SessionStore
	ender    SessionEnder
	opts     Options
	now      func() time.Time
	robfig   *robfigcron.Cron
}

// NewService creates a sweeper.
func NewService(sessions schema.SessionStore, ender SessionEnder, opts Options) *Service {
	if opts.Schedule == "" {
		opts.Schedule = "@every 5m"
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	return &Service{
		sessions: sessions,
		ender:    ender,
		opts:     opts,
		now:      time.Now,
		robfig: robfigcron.New(robfigcron.WithChain(
			robfigcron.Recover(robfigcron.DiscardLogger),
			robfigcron.SkipIfStillRunning(robfigcron.DiscardLogger),
		)),
	}
}

// Start schedules the sweep and blocks until ctx is cancelled. Overlapping
// runs are skipped.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.robfig.AddFunc(s.opts.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			slog.Error("sweeper: run failed", "err", err)
		}
	}); err != nil {
		return fmt.Errorf("sweeper: schedule %q: %w", s.opts.Schedule, err)
	}

	s.robfig.Start()
	slog.Info("sweeper: started", "schedule", s.opts.Schedule, "idle_timeout", s.opts.IdleTimeout)

	<-ctx.Done()

	<-s.robfig.Stop().Done()
	slog.Info("sweeper: stopped")
	return ctx.Err()
}

// Sweep ends every session idle for longer than the idle timeout, oldest
// first. A failed session stays active and is retried on the next run.
func (s *Service) Sweep(ctx context.Context) (Report, error) {
	var rep Report
	cutoff := s.now().Add(-s.opts.IdleTimeout)

	idle, err := s.sessions.ListIdle(ctx, cutoff, s.opts.BatchSize)
	if err != nil {
		return rep, fmt.Errorf("list idle sessions: %w", err)
	}

	for _, sess := range idle {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		res, err := s.ender.EndSession(ctx, sess.ID)
		if err != nil {
			rep.Failed++
			slog.Warn("sweeper: end session failed", "session", sess.ID, "err", err)
			continue
		}
		rep.Ended++
		slog.Info("sweeper: session ended", "session", sess.ID, "user", sess.UserID,
			"idle_since", sess.LastActivityAt, "events_compacted", res.EventsCompacted)
	}
	return rep, nil
}
