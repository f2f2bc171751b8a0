package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/sitwatch/internal/clock"
	"github.com/rewired-gh/sitwatch/internal/logger"
	"github.com/rewired-gh/sitwatch/internal/snapshot"
)

const (
	DefaultRefreshInterval = 5 * time.Minute
	DefaultCleanInterval   = 24 * time.Hour
)

var ErrSchedulerStopped = errors.New("scheduler stopped")

type SchedulerConfig struct {
	RefreshInterval  time.Duration
	SnapshotInterval time.Duration
	CleanInterval    time.Duration
	RetentionDays    int
}

type commandKind int

const (
	cmdRefresh commandKind = iota
	cmdEnterPlayback
	cmdExitPlayback
)

type command struct {
	kind  commandKind
	at    time.Time
	reply chan error
}

// Scheduler drives an Engine from a single loop: periodic refreshes,
// snapshot saves and retention cleanup, plus operator commands.
type Scheduler struct {
	engine  *Engine
	config  SchedulerConfig
	alerter Alerter
	clock   clock.Clock

	commands chan command
	done     chan struct{}

	// only touched by the Run loop
	consecutiveFailures int
}

// NewScheduler uses the engine's clock. alerter may be nil.
func NewScheduler(e *Engine, config SchedulerConfig, alerter Alerter) *Scheduler {
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultRefreshInterval
	}
	if config.SnapshotInterval <= 0 {
		config.SnapshotInterval = snapshot.DefaultSaveInterval
	}
	if config.CleanInterval <= 0 {
		config.CleanInterval = DefaultCleanInterval
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = snapshot.DefaultRetentionDays
	}
	return &Scheduler{
		engine:   e,
		config:   config,
		alerter:  alerter,
		clock:    e.clock,
		commands: make(chan command),
		done:     make(chan struct{}),
	}
}

// Run cleans old snapshots, runs the first cycle and saves the first snapshot,
// then serves timers and commands until ctx is cancelled. It must be called once.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	logger.Info("Starting scheduler (refresh: %v, snapshot: %v, retention: %d days)",
		s.config.RefreshInterval, s.config.SnapshotInterval, s.config.RetentionDays)
	s.clean(ctx)
	s.refresh(ctx)
	s.saveSnapshot(ctx)

	refresh := s.clock.NewTicker(s.config.RefreshInterval)
	defer refresh.Stop()
	snapshots := s.clock.NewTicker(s.config.SnapshotInterval)
	defer snapshots.Stop()
	cleanup := s.clock.NewTicker(s.config.CleanInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped")
			return
		case <-refresh.C():
			s.refresh(ctx)
		case <-snapshots.C():
			s.saveSnapshot(ctx)
		case <-cleanup.C():
			s.clean(ctx)
		case cmd := <-s.commands:
			cmd.reply <- s.handle(ctx, cmd)
		}
	}
}

// RefreshNow runs a cycle immediately and returns its error, if any.
func (s *Scheduler) RefreshNow(ctx context.Context) error {
	return s.send(ctx, command{kind: cmdRefresh})
}

func (s *Scheduler) EnterPlayback(ctx context.Context, ts time.Time) error {
	return s.send(ctx, command{kind: cmdEnterPlayback, at: ts})
}

// ExitPlayback returns to live mode and refreshes right away.
func (s *Scheduler) ExitPlayback(ctx context.Context) error {
	return s.send(ctx, command{kind: cmdExitPlayback})
}

func (s *Scheduler) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) handle(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdRefresh:
		if s.engine.InPlayback() {
			return ErrPlayback
		}
		return s.refresh(ctx).Err
	case cmdEnterPlayback:
		return s.engine.EnterPlayback(cmd.at)
	case cmdExitPlayback:
		if s.engine.ExitPlayback() {
			s.refresh(ctx)
		}
		return nil
	}
	return fmt.Errorf("unknown command %d", cmd.kind)
}

func (s *Scheduler) refresh(ctx context.Context) CycleReport {
	report := s.engine.RunCycle(ctx)
	if report.Skipped {
		logger.Debug("Refresh skipped during playback")
		return report
	}
	if ctx.Err() != nil {
		return report
	}
	s.handleCycleResult(ctx, report)
	return report
}

func (s *Scheduler) handleCycleResult(ctx context.Context, report CycleReport) {
	if report.Failed() {
		s.consecutiveFailures++
		logger.Error("Refresh cycle failed: %v", report.Err)
		if s.consecutiveFailures == 1 && s.alerter != nil {
			if err := s.alerter.SendError(ctx, report.Err); err != nil {
				logger.Warn("Failed to send error notification: %v", err)
			}
		}
		return
	}
	if s.consecutiveFailures > 0 && s.alerter != nil {
		if err := s.alerter.SendRecovery(ctx, s.consecutiveFailures); err != nil {
			logger.Warn("Failed to send recovery notification: %v", err)
		}
	}
	s.consecutiveFailures = 0
}

func (s *Scheduler) saveSnapshot(ctx context.Context) {
	if _, err := s.engine.SaveSnapshot(ctx); err != nil {
		if errors.Is(err, ErrPlayback) {
			logger.Debug("Snapshot skipped during playback")
			return
		}
		logger.Warn("%v", err)
		s.engine.emit(Event{Kind: EventError, Err: err})
	}
}

func (s *Scheduler) clean(ctx context.Context) {
	removed, err := s.engine.deps.Snapshots.CleanOld(ctx, s.config.RetentionDays)
	if err != nil {
		logger.Warn("Failed to clean old snapshots: %v", err)
		s.engine.emit(Event{Kind: EventError, Err: err})
		return
	}
	if removed > 0 {
		logger.Info("Removed %d snapshots older than %d days", removed, s.config.RetentionDays)
	}
}
