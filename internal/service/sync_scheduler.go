package service

import (
	"context"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const schedulerTrigger = "scheduler"

// Scheduler is the subset of the cron runner the sync trigger needs.
type Scheduler interface {
	Add(name, spec string, job func(context.Context)) (cron.EntryID, error)
	Next(id cron.EntryID) time.Time
}

// SyncScheduler fires RunIncrementalSync on a cron spec while the
// feature.recording_sync switch is on. Overlapping ticks are turned away by
// the sync service itself.
type SyncScheduler struct {
	Sync     *RecordingSyncService
	Settings *SystemSettingsService
	Cron     Scheduler
	Spec     string
	Logger   *zap.Logger

	entry cron.EntryID
}

func (s *SyncScheduler) Register() error {
	spec := strings.TrimSpace(s.Spec)
	if spec == "" {
		spec = "@every 5m"
	}
	id, err := s.Cron.Add("recording_sync", spec, s.Tick)
	if err != nil {
		return err
	}
	s.entry = id
	return nil
}

// Tick runs one scheduled attempt. Failures are logged; the next tick tries
// again.
func (s *SyncScheduler) Tick(ctx context.Context) {
	defer s.RecordNextRun(ctx)
	if !s.Settings.IsEnabled(ctx, FeatureRecordingSync, true) {
		s.logger().Debug("recording sync switch off, skipping tick")
		return
	}
	res := s.Sync.RunIncrementalSync(ctx, schedulerTrigger)
	switch {
	case res.Error == ErrSyncInProgress.Error():
		s.logger().Info("cron recording sync skipped, previous run still active")
	case !res.Success:
		s.logger().Warn("cron recording sync failed",
			zap.String("correlation_id", res.CorrelationID),
			zap.String("mode", res.Mode),
			zap.String("error", res.Error),
		)
	default:
		s.logger().Info("cron recording sync ok",
			zap.String("correlation_id", res.CorrelationID),
			zap.String("mode", res.Mode),
			zap.String("status", res.Status),
			zap.Int("fetched", res.Stats.Fetched),
			zap.Int("created", res.Stats.Created),
			zap.Int("updated", res.Stats.Updated),
		)
	}
}

// RecordNextRun stores the next activation in sync_state.next_sync_at. It is
// a no-op until the cron runner has been started.
func (s *SyncScheduler) RecordNextRun(ctx context.Context) {
	if s.Cron == nil || s.Sync == nil || s.entry == 0 {
		return
	}
	next := s.Cron.Next(s.entry)
	if next.IsZero() {
		return
	}
	if err := s.Sync.SetNextSyncAt(context.WithoutCancel(ctx), next); err != nil {
		s.logger().Warn("record next sync time failed", zap.Error(err))
	}
}

func (s *SyncScheduler) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
