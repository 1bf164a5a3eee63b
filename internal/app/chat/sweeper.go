/*
Package chat contains the real-time presence and session engine.

This file defines the Sweeper, which runs the retention sweeps on a cron
schedule.
*/
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"lfchat/internal/pkg/logx"
)

// SweepResult summarizes one sweep run.
type SweepResult struct {
	PurgedPairs   int
	DeletedGhosts int64
}

// SweeperConfig holds the sweep schedule and thresholds.
type SweeperConfig struct {
	// Schedule is a five-field cron expression.
	Schedule string

	// Inactivity is the idle time after which a private chat is purged.
	Inactivity time.Duration

	// GhostRetention is how long a message-less offline identity is kept.
	GhostRetention time.Duration
}

// Sweeper runs the periodic retention sweep. Concurrent triggers share one run.
type Sweeper struct {
	retention *Retention
	cfg       SweeperConfig
	group     singleflight.Group
	now       func() time.Time
	logger    zerolog.Logger
}

// NewSweeper validates the schedule and returns a Sweeper.
func NewSweeper(retention *Retention, cfg SweeperConfig) (*Sweeper, error) {
	if !gronx.New().IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("invalid sweep schedule %q", cfg.Schedule)
	}

	return &Sweeper{
		retention: retention,
		cfg:       cfg,
		now:       time.Now,
		logger:    logx.Component("Sweeper"),
	}, nil
}

// Run sweeps on every schedule tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info().Str("schedule", s.cfg.Schedule).Msg("Sweeper started.")

	for {
		next, err := gronx.NextTickAfter(s.cfg.Schedule, s.now(), false)
		if err != nil {
			return fmt.Errorf("compute next sweep: %w", err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("Sweeper stopped.")
			return nil
		case <-timer.C:
		}

		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Sweep finished with errors")
		}
	}
}

// RunOnce performs a sweep now, or joins the one already running.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	v, err, shared := s.group.Do("sweep", func() (any, error) {
		return s.sweep(ctx)
	})

	res, _ := v.(SweepResult)
	if shared {
		s.logger.Debug().Msg("Joined sweep already in progress")
	}
	return res, err
}

func (s *Sweeper) sweep(ctx context.Context) (SweepResult, error) {
	start := s.now()

	var res SweepResult
	purged, pairErr := s.retention.SweepInactive(ctx, s.cfg.Inactivity)
	res.PurgedPairs = purged

	ghosts, ghostErr := s.retention.SweepGhosts(ctx, s.cfg.GhostRetention)
	res.DeletedGhosts = ghosts

	s.logger.Info().
		Int("purged_pairs", res.PurgedPairs).
		Int64("deleted_ghosts", res.DeletedGhosts).
		Dur("took", s.now().Sub(start)).
		Msg("Sweep completed")

	if pairErr != nil {
		return res, pairErr
	}
	return res, ghostErr
}
