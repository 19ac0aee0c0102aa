package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callsync/internal/config"
	"callsync/internal/feed"
	"callsync/internal/metrics"
	"callsync/internal/models"
	"callsync/internal/normalize"
	"callsync/internal/repository"
	"callsync/internal/searchindex"
)

var (
	ErrSyncInProgress   = errors.New("recording sync already in progress")
	ErrBackfillComplete = errors.New("recording backfill already complete")
)

// IndexDispatcher accepts documents for the search index without blocking.
type IndexDispatcher interface {
	Enqueue(doc searchindex.Document) bool
}

// RecordingSyncService drives fetch, normalize, upsert and index for one
// feed. At most one run per sync type is active; callers arriving while a run
// is active get ErrSyncInProgress back immediately.
type RecordingSyncService struct {
	Repo     repository.Repository
	Feed     feed.SessionFeed
	Upserter *RecordingUpsertService
	Index    IndexDispatcher
	Settings *SystemSettingsService
	Guard    *RunGuard
	Logger   *zap.Logger
	Config   config.RecordingSyncConfig
	Now      func() time.Time

	guardOnce sync.Once
}

type SyncStatus struct {
	SyncType         string
	Status           string
	Running          bool
	BackfillComplete bool
	Checkpoint       json.RawMessage
	WatermarkTime    *time.Time
	TotalFetched     int64
	TotalCreated     int64
	TotalUpdated     int64
	TotalErrors      int64
	LastBatchSize    int
	LastDurationMs   int64
	ErrorMessage     *string
	LastSyncAt       *time.Time
	NextSyncAt       *time.Time
	History          []models.SyncHistory
}

// syncRun is the bookkeeping of one active run.
type syncRun struct {
	mode          string
	correlationID string
	triggeredBy   string
	started       time.Time
	wallStart     time.Time
	initial       Checkpoint
	index         IndexDispatcher
	stats         SyncStats
	persisted     SyncStats
	log           *zap.Logger
}

// RunIncrementalSync is the scheduled and manual entry point. While the
// stored checkpoint says backfill is not complete it runs backfill instead.
func (s *RecordingSyncService) RunIncrementalSync(ctx context.Context, triggeredBy string) SyncResult {
	release, ok := s.guard().TryAcquire(s.syncType())
	if !ok {
		return s.rejected(triggeredBy)
	}
	defer release()
	return s.execute(ctx, uuid.NewString(), triggeredBy, nil)
}

// RunBackfill runs backfill from cp, or from the stored checkpoint when cp is
// nil. It refuses to run once the feed has switched to incremental mode.
func (s *RecordingSyncService) RunBackfill(ctx context.Context, correlationID, triggeredBy string, cp Checkpoint) SyncResult {
	release, ok := s.guard().TryAcquire(s.syncType())
	if !ok {
		return s.rejected(triggeredBy)
	}
	defer release()
	if strings.TrimSpace(correlationID) == "" {
		correlationID = uuid.NewString()
	}
	if cp == nil && s.Repo != nil {
		if _, stored, err := s.checkpoints().Load(ctx); err == nil {
			cp = stored
		}
	}
	if _, done := cp.(IncrementalCheckpoint); done {
		return SyncResult{SyncType: s.syncType(), Mode: SyncModeBackfill, CorrelationID: correlationID, TriggeredBy: triggeredBy, Error: ErrBackfillComplete.Error(), BackfillComplete: true, StartedAt: s.now()}
	}
	return s.execute(ctx, correlationID, triggeredBy, cp)
}

// ResetSyncState reinitializes the checkpoint to "backfill not complete" and
// zeroes the totals. It is refused while a run is active.
func (s *RecordingSyncService) ResetSyncState(ctx context.Context) error {
	release, ok := s.guard().TryAcquire(s.syncType())
	if !ok {
		return ErrSyncInProgress
	}
	defer release()
	if err := s.checkpoints().Reset(ctx); err != nil {
		return fmt.Errorf("reset sync state: %w", err)
	}
	s.logger().Warn("recording sync state reset", zap.String("sync_type", s.syncType()))
	return nil
}

func (s *RecordingSyncService) GetSyncStatus(ctx context.Context, historyLimit int) (SyncStatus, error) {
	if historyLimit <= 0 {
		historyLimit = s.Config.HistoryLimit
	}
	state, cp, err := s.checkpoints().Load(ctx)
	if err != nil {
		return SyncStatus{}, err
	}
	history, err := s.Repo.ListSyncHistory(ctx, s.syncType(), historyLimit)
	if err != nil {
		return SyncStatus{}, fmt.Errorf("list sync history: %w", err)
	}
	_, complete := cp.(IncrementalCheckpoint)
	return SyncStatus{
		SyncType:         state.SyncType,
		Status:           state.Status,
		Running:          s.guard().Busy(s.syncType()),
		BackfillComplete: complete,
		Checkpoint:       json.RawMessage(state.Checkpoint),
		WatermarkTime:    state.WatermarkTime,
		TotalFetched:     state.TotalFetched,
		TotalCreated:     state.TotalCreated,
		TotalUpdated:     state.TotalUpdated,
		TotalErrors:      state.TotalErrors,
		LastBatchSize:    state.LastBatchSize,
		LastDurationMs:   state.LastDurationMs,
		ErrorMessage:     state.ErrorMessage,
		LastSyncAt:       state.LastSyncAt,
		NextSyncAt:       state.NextSyncAt,
		History:          history,
	}, nil
}

// SetNextSyncAt records when the scheduler will fire next.
func (s *RecordingSyncService) SetNextSyncAt(ctx context.Context, at time.Time) error {
	if _, _, err := s.checkpoints().Load(ctx); err != nil {
		return err
	}
	return s.checkpoints().SetNextSyncAt(ctx, at)
}

func (s *RecordingSyncService) Running() bool {
	return s.guard().Busy(s.syncType())
}

// execute runs one guarded attempt. A panic anywhere below is turned into a
// FAILED result with a history row.
func (s *RecordingSyncService) execute(ctx context.Context, correlationID, triggeredBy string, requested Checkpoint) (res SyncResult) {
	run := &syncRun{
		mode:          SyncModeIncremental,
		correlationID: correlationID,
		triggeredBy:   triggeredBy,
		started:       s.now(),
		wallStart:     time.Now(),
	}
	run.log = s.logger().With(
		zap.String("sync_type", s.syncType()),
		zap.String("correlation_id", correlationID),
		zap.String("triggered_by", triggeredBy),
	)
	defer func() {
		if rec := recover(); rec != nil {
			run.log.Error("recording sync panicked", zap.Any("panic", rec), zap.Stack("stack"))
			res = s.finish(ctx, run, models.SyncStatusFailed, nil, fmt.Sprintf("panic: %v", rec))
		}
	}()

	if s.Feed == nil || s.Upserter == nil || s.Repo == nil {
		return s.failedBeforeStart(run, errors.New("recording sync not configured"))
	}
	_, cp, err := s.checkpoints().Load(ctx)
	if err != nil {
		run.log.Error("load sync state failed", zap.Error(err))
		return s.failedBeforeStart(run, err)
	}
	if requested != nil {
		cp = requested
	}
	run.initial = cp
	run.index = s.Index
	if run.index != nil && !s.Settings.IsEnabled(ctx, FeatureSearchIndex, true) {
		run.log.Info("search index switch off, run will not dispatch documents")
		run.index = nil
	}

	switch c := cp.(type) {
	case BackfillCheckpoint:
		run.mode = SyncModeBackfill
		run.log = run.log.With(zap.String("mode", run.mode))
		return s.runBackfill(ctx, run, c)
	case IncrementalCheckpoint:
		run.log = run.log.With(zap.String("mode", run.mode))
		return s.runIncremental(ctx, run, c)
	default:
		return s.failedBeforeStart(run, fmt.Errorf("unknown checkpoint %T", cp))
	}
}

func (s *RecordingSyncService) runIncremental(ctx context.Context, run *syncRun, cp IncrementalCheckpoint) SyncResult {
	now := s.now()
	from := s.incrementalFrom(cp.LastSyncTime, now)
	run.log.Info("recording sync started", zap.Time("from", from), zap.Time("to", now))

	if err := s.checkpoints().MarkInProgress(ctx); err != nil {
		return s.finish(ctx, run, models.SyncStatusFailed, nil, fmt.Sprintf("mark in progress: %v", err))
	}
	s.Upserter.LoadRoster(ctx)

	wm := &watermarkTracker{now: now}
	hitCap, err := s.syncWindow(ctx, run, from, now, s.maxPagesPerRun(), wm)
	if err != nil {
		run.log.Warn("recording sync aborted", zap.Error(err))
		return s.finish(ctx, run, models.SyncStatusFailed, nil, err.Error())
	}
	if hitCap {
		run.log.Info("page cap reached, remaining pages continue next run", zap.Int("pages", run.stats.Pages))
	}

	next := IncrementalCheckpoint{LastSyncTime: cp.LastSyncTime, LastSeenID: cp.LastSeenID}
	var candidate *time.Time
	switch {
	case wm.end != nil:
		candidate = wm.end
	case !hitCap:
		candidate = &now
	}
	if candidate != nil {
		prev := cp.LastSyncTime
		if prev == nil || prev.After(now) || candidate.After(*prev) {
			t := *candidate
			next.LastSyncTime = &t
			next.LastSeenID = wm.id
		} else if candidate.Equal(*prev) && wm.id > next.LastSeenID {
			next.LastSeenID = wm.id
		}
	}
	return s.finish(ctx, run, statusFor(run.stats), next, "")
}

func (s *RecordingSyncService) runBackfill(ctx context.Context, run *syncRun, cp BackfillCheckpoint) SyncResult {
	now := s.now()
	store := s.checkpoints()
	if !cp.started() {
		start := truncateDay(now).AddDate(0, 0, -s.backfillDays())
		cp = BackfillCheckpoint{CurrentDate: start, StartDate: start, EndDate: now}
		if err := store.SaveProgress(ctx, cp, SyncStats{}); err != nil {
			return s.finish(ctx, run, models.SyncStatusFailed, nil, fmt.Sprintf("save backfill window: %v", err))
		}
		run.log.Info("backfill window laid out", zap.Time("start", cp.StartDate), zap.Time("end", cp.EndDate))
	}
	run.log.Info("backfill started", zap.Time("current_date", cp.CurrentDate), zap.Time("end", cp.EndDate))

	if err := store.MarkInProgress(ctx); err != nil {
		return s.finish(ctx, run, models.SyncStatusFailed, nil, fmt.Sprintf("mark in progress: %v", err))
	}
	s.Upserter.LoadRoster(ctx)

	maxDays := s.backfillMaxDaysPerRun()
	for run.stats.Days < maxDays && cp.CurrentDate.Before(cp.EndDate) {
		dayStart := cp.CurrentDate
		dayEnd := dayStart.AddDate(0, 0, 1)
		if dayEnd.After(cp.EndDate) {
			dayEnd = cp.EndDate
		}
		dayLog := run.log.With(zap.String("day", dayStart.Format("2006-01-02")))
		before := run.stats

		hitCap, err := s.syncWindow(ctx, run, dayStart, dayEnd, s.backfillMaxPagesPerDay(), nil)
		if err != nil {
			dayLog.Warn("backfill aborted", zap.Error(err))
			return s.finish(ctx, run, models.SyncStatusFailed, nil, fmt.Sprintf("backfill %s: %v", dayStart.Format("2006-01-02"), err))
		}
		if hitCap {
			dayLog.Warn("backfill page cap reached for day, moving on", zap.Int("max_pages", s.backfillMaxPagesPerDay()))
		}

		cp.CurrentDate = dayEnd
		run.stats.Days++
		if err := store.SaveProgress(ctx, cp, run.stats.sub(run.persisted)); err != nil {
			return s.finish(ctx, run, models.SyncStatusFailed, nil, fmt.Sprintf("save backfill progress: %v", err))
		}
		run.persisted = run.stats
		day := run.stats.sub(before)
		dayLog.Info("backfill day done",
			zap.Int("fetched", day.Fetched),
			zap.Int("created", day.Created),
			zap.Int("updated", day.Updated),
			zap.Int("errors", day.Errors),
		)
	}

	var final Checkpoint = cp
	if cp.done() {
		end := cp.EndDate
		final = IncrementalCheckpoint{LastSyncTime: &end}
		run.log.Info("backfill complete", zap.Time("end", end))
	}
	return s.finish(ctx, run, statusFor(run.stats), final, "")
}

// syncWindow pages [from, to] in upstream order until a short page or
// maxPages. It reports whether the page cap stopped it.
func (s *RecordingSyncService) syncWindow(ctx context.Context, run *syncRun, from, to time.Time, maxPages int, wm *watermarkTracker) (bool, error) {
	pageSize := s.pageSize()
	for page := 0; page < maxPages; page++ {
		if page > 0 {
			if err := sleepCtx(ctx, s.Config.PageDelay); err != nil {
				return false, err
			}
		}
		offset := page * pageSize
		p, err := s.Feed.FetchSessions(ctx, feed.Query{From: from, To: to, Offset: offset, Limit: pageSize})
		if err == nil && !p.Success {
			err = pageError(p)
		}
		if err != nil {
			return false, fmt.Errorf("fetch page %d (offset %d): %w", page+1, offset, err)
		}
		run.stats.Pages++
		run.stats.Fetched += len(p.Sessions)
		for _, raw := range p.Sessions {
			s.processRecord(ctx, run, raw, wm)
		}
		run.log.Debug("page processed", zap.Int("page", page+1), zap.Int("offset", offset), zap.Int("records", len(p.Sessions)))
		if len(p.Sessions) < pageSize {
			return false, nil
		}
	}
	return true, nil
}

// processRecord handles one raw record. Failures are counted, never
// returned, so one bad record cannot abort the page.
func (s *RecordingSyncService) processRecord(ctx context.Context, run *syncRun, raw json.RawMessage, wm *watermarkTracker) {
	session, err := normalize.NormalizeSession(raw)
	if err != nil {
		run.stats.Errors++
		metrics.SyncRecords.WithLabelValues("error").Inc()
		run.log.Warn("dropping malformed session payload", zap.Error(err), zap.Int("bytes", len(raw)))
		return
	}
	if session == nil {
		run.stats.Skipped++
		metrics.SyncRecords.WithLabelValues("skipped").Inc()
		run.log.Warn("skipping session payload without session id")
		return
	}
	res, err := s.Upserter.Upsert(ctx, session)
	if err != nil {
		run.stats.Errors++
		metrics.SyncRecords.WithLabelValues("error").Inc()
		run.log.Warn("recording upsert failed", zap.String("session_id", session.SessionID), zap.Error(err))
		return
	}
	wm.observe(session)
	metrics.SyncRecords.WithLabelValues(string(res.Outcome)).Inc()
	switch res.Outcome {
	case UpsertCreated:
		run.stats.Created++
	case UpsertUpdated:
		run.stats.Updated++
	default:
		run.stats.Skipped++
		return
	}
	if run.index != nil && res.Recording != nil {
		run.index.Enqueue(searchindex.DocumentFromRecording(*res.Recording, res.Participants, res.Tags))
	}
}

func (s *RecordingSyncService) finish(ctx context.Context, run *syncRun, status string, cp Checkpoint, errMsg string) SyncResult {
	completed := s.now()
	duration := time.Since(run.wallStart)
	history := &models.SyncHistory{
		SyncType:      s.syncType(),
		Mode:          run.mode,
		Status:        status,
		TriggeredBy:   run.triggeredBy,
		CorrelationID: run.correlationID,
		Fetched:       run.stats.Fetched,
		Created:       run.stats.Created,
		Updated:       run.stats.Updated,
		Skipped:       run.stats.Skipped,
		Errors:        run.stats.Errors,
		Pages:         run.stats.Pages,
		Days:          run.stats.Days,
		DurationMs:    duration.Milliseconds(),
		StartedAt:     run.started,
		CompletedAt:   &completed,
	}
	if errMsg != "" {
		history.ErrorMessage = strPtr(errMsg)
	}

	effective := cp
	if effective == nil {
		effective = run.initial
	}
	_, complete := effective.(IncrementalCheckpoint)
	res := SyncResult{
		Success:          status != models.SyncStatusFailed,
		SyncType:         s.syncType(),
		Mode:             run.mode,
		Status:           status,
		CorrelationID:    run.correlationID,
		TriggeredBy:      run.triggeredBy,
		Stats:            run.stats,
		Error:            errMsg,
		Watermark:        CheckpointWatermark(effective),
		BackfillComplete: complete,
		StartedAt:        run.started,
		DurationMs:       duration.Milliseconds(),
	}

	err := s.checkpoints().Finish(context.WithoutCancel(ctx), RunOutcome{
		Checkpoint: cp,
		Status:     status,
		Delta:      run.stats.sub(run.persisted),
		BatchSize:  run.stats.Fetched,
		Duration:   duration,
		Err:        errMsg,
		History:    history,
	})
	if err != nil {
		run.log.Error("persist sync outcome failed", zap.Error(err))
		res.Success = false
		if res.Error == "" {
			res.Error = fmt.Sprintf("persist sync outcome: %v", err)
		} else {
			res.Error = fmt.Sprintf("%s; persist sync outcome: %v", res.Error, err)
		}
	} else {
		run.persisted = run.stats
		if res.Watermark != nil {
			metrics.SyncWatermark.WithLabelValues(s.syncType()).Set(float64(res.Watermark.Unix()))
		}
	}

	metrics.SyncRuns.WithLabelValues(run.mode, status).Inc()
	metrics.SyncDuration.WithLabelValues(run.mode).Observe(duration.Seconds())
	fields := []zap.Field{
		zap.String("status", status),
		zap.Int("fetched", run.stats.Fetched),
		zap.Int("created", run.stats.Created),
		zap.Int("updated", run.stats.Updated),
		zap.Int("skipped", run.stats.Skipped),
		zap.Int("errors", run.stats.Errors),
		zap.Int("pages", run.stats.Pages),
		zap.Int("days", run.stats.Days),
		zap.Duration("duration", duration),
	}
	if res.Error != "" {
		fields = append(fields, zap.String("error", res.Error))
	}
	if status == models.SyncStatusFailed {
		run.log.Warn("recording sync finished", fields...)
	} else {
		run.log.Info("recording sync finished", fields...)
	}
	return res
}

// failedBeforeStart reports a run that could not even read its state. Nothing
// is written since the store is what failed.
func (s *RecordingSyncService) failedBeforeStart(run *syncRun, err error) SyncResult {
	metrics.SyncRuns.WithLabelValues(run.mode, models.SyncStatusFailed).Inc()
	return SyncResult{
		SyncType:      s.syncType(),
		Mode:          run.mode,
		Status:        models.SyncStatusFailed,
		CorrelationID: run.correlationID,
		TriggeredBy:   run.triggeredBy,
		Error:         err.Error(),
		StartedAt:     run.started,
		DurationMs:    time.Since(run.wallStart).Milliseconds(),
	}
}

func (s *RecordingSyncService) rejected(triggeredBy string) SyncResult {
	metrics.SyncRejected.WithLabelValues(triggerLabel(triggeredBy)).Inc()
	s.logger().Info("recording sync rejected, run already active",
		zap.String("sync_type", s.syncType()),
		zap.String("triggered_by", triggeredBy),
	)
	return SyncResult{
		Success:     false,
		SyncType:    s.syncType(),
		TriggeredBy: triggeredBy,
		Error:       ErrSyncInProgress.Error(),
		StartedAt:   s.now(),
	}
}

// incrementalFrom re-reads an overlap window behind the watermark so
// sessions whose end time was still moving are seen again. A watermark in the
// future is not trusted.
func (s *RecordingSyncService) incrementalFrom(last *time.Time, now time.Time) time.Time {
	floor := now.Add(-s.defaultLookback())
	if last == nil || last.IsZero() {
		return floor
	}
	if last.After(now) {
		return now.Add(-s.futureSkewLookback())
	}
	from := last.Add(-s.overlapWindow())
	if from.Before(floor) {
		return floor
	}
	return from
}

type watermarkTracker struct {
	now time.Time
	end *time.Time
	id  string
}

// observe keeps the largest end time seen, clamped to now; ties go to the
// larger session id.
func (w *watermarkTracker) observe(session *normalize.Session) {
	if w == nil || session == nil || session.EndTime == nil {
		return
	}
	end := *session.EndTime
	if !w.now.IsZero() && end.After(w.now) {
		end = w.now
	}
	switch {
	case w.end == nil, end.After(*w.end):
		w.end = &end
		w.id = session.SessionID
	case end.Equal(*w.end) && session.SessionID > w.id:
		w.id = session.SessionID
	}
}

func statusFor(stats SyncStats) string {
	if stats.Errors > 0 {
		return models.SyncStatusPartial
	}
	return models.SyncStatusSuccess
}

func pageError(p feed.Page) error {
	msg := strings.TrimSpace(p.Error)
	if msg == "" {
		msg = "upstream reported failure"
	}
	if p.InvalidSession {
		return fmt.Errorf("%w: %s", feed.ErrInvalidSession, msg)
	}
	return errors.New(msg)
}

func triggerLabel(triggeredBy string) string {
	label, _, _ := strings.Cut(strings.TrimSpace(triggeredBy), ":")
	if label == "" {
		return "unknown"
	}
	return label
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (s *RecordingSyncService) checkpoints() *CheckpointStore {
	return &CheckpointStore{Repo: s.Repo, SyncType: s.syncType(), Now: s.Now}
}

func (s *RecordingSyncService) guard() *RunGuard {
	s.guardOnce.Do(func() {
		if s.Guard == nil {
			s.Guard = NewRunGuard()
		}
	})
	return s.Guard
}

func (s *RecordingSyncService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *RecordingSyncService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *RecordingSyncService) syncType() string {
	if v := strings.TrimSpace(s.Config.SyncType); v != "" {
		return v
	}
	return "recordings"
}

func (s *RecordingSyncService) pageSize() int {
	return positiveOr(s.Config.PageSize, 100)
}

func (s *RecordingSyncService) maxPagesPerRun() int {
	return positiveOr(s.Config.MaxPagesPerRun, 50)
}

func (s *RecordingSyncService) backfillDays() int {
	return positiveOr(s.Config.BackfillDays, 180)
}

func (s *RecordingSyncService) backfillMaxDaysPerRun() int {
	return positiveOr(s.Config.BackfillMaxDaysPerRun, 7)
}

func (s *RecordingSyncService) backfillMaxPagesPerDay() int {
	return positiveOr(s.Config.BackfillMaxPagesPerDay, 500)
}

func (s *RecordingSyncService) overlapWindow() time.Duration {
	return durationOr(s.Config.OverlapWindow, 30*time.Minute)
}

func (s *RecordingSyncService) defaultLookback() time.Duration {
	return durationOr(s.Config.DefaultLookback, 24*time.Hour)
}

func (s *RecordingSyncService) futureSkewLookback() time.Duration {
	return durationOr(s.Config.FutureSkewLookback, 7*24*time.Hour)
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
