// Package scheduler runs the proxy's periodic background tasks: pruning the
// audit log and publishing statistics snapshots.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/conduit/internal/config"
	"github.com/energizer-project/conduit/internal/telemetry"
	"github.com/energizer-project/conduit/internal/util"
)

// AuditPruner removes audit entries older than a retention period.
type AuditPruner interface {
	Prune(retention time.Duration) (int64, error)
}

// StatsPublisher receives periodic statistics snapshots.
type StatsPublisher interface {
	PublishStats(s telemetry.Stats)
}

// Options wires the scheduler to the rest of the proxy. Nil fields disable
// the task that needs them.
type Options struct {
	Audit       AuditPruner
	Stats       StatsPublisher
	Online      func() int
	Connections func() int
	StartedAt   time.Time
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    *config.Config
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, opts Options) *Scheduler {
	if opts.StartedAt.IsZero() {
		opts.StartedAt = time.Now()
	}
	return &Scheduler{
		cfg:    cfg,
		opts:   opts,
		logger: log.With().Str("component", "scheduler").Logger(),
		now:    time.Now,
	}
}

// Start runs every enabled task and blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Msg("scheduler started")

	if s.opts.Audit != nil && s.cfg.Database.AuditRetentionDays > 0 {
		go s.runAuditPruneLoop(ctx)
	}
	if s.opts.Stats != nil && s.cfg.MQTT.StatsIntervalSec > 0 {
		go s.runStatsLoop(ctx, time.Duration(s.cfg.MQTT.StatsIntervalSec)*time.Second)
	}

	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) runAuditPruneLoop(ctx context.Context) {
	for {
		nextRun := s.nextPruneTime()
		sleepDuration := nextRun.Sub(s.now())
		if sleepDuration <= 0 {
			sleepDuration = 24 * time.Hour
		}

		s.logger.Info().
			Time("next_run", nextRun).
			Dur("sleep", sleepDuration).
			Msg("audit prune scheduled")

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.pruneAudit()
		}
	}
}

// pruneAudit removes audit entries past the configured retention.
func (s *Scheduler) pruneAudit() {
	retention := time.Duration(s.cfg.Database.AuditRetentionDays) * 24 * time.Hour
	removed, err := s.opts.Audit.Prune(retention)
	if err != nil {
		s.logger.Warn().Err(err).Msg("audit prune failed")
		return
	}
	s.logger.Info().
		Int64("removed", removed).
		Int("retention_days", s.cfg.Database.AuditRetentionDays).
		Msg("audit prune completed")
}

func (s *Scheduler) runStatsLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishStats()
		}
	}
}

// publishStats samples the proxy and hands the snapshot to the publisher.
func (s *Scheduler) publishStats() {
	stats := telemetry.Stats{
		Uptime:    s.now().Sub(s.opts.StartedAt).Round(time.Second).String(),
		Resources: util.GetResourceUsage(),
	}
	if s.opts.Online != nil {
		stats.OnlinePlayers = s.opts.Online()
	}
	if s.opts.Connections != nil {
		stats.Connections = s.opts.Connections()
	}
	s.opts.Stats.PublishStats(stats)

	s.logger.Debug().
		Int("online", stats.OnlinePlayers).
		Int("connections", stats.Connections).
		Msg("stats published")
}

// nextPruneTime returns the next occurrence of the configured prune time,
// falling back to 04:00 when it cannot be parsed.
func (s *Scheduler) nextPruneTime() time.Time {
	hour, minute := 4, 0
	parts := strings.Split(s.cfg.Database.PruneTime, ":")
	if len(parts) >= 2 {
		var h, m int
		_, errH := fmt.Sscanf(parts[0], "%d", &h)
		_, errM := fmt.Sscanf(parts[1], "%d", &m)
		if errH == nil && errM == nil && h >= 0 && h < 24 && m >= 0 && m < 60 {
			hour, minute = h, m
		}
	}

	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
