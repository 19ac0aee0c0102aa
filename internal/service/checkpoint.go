package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"callsync/internal/models"
	"callsync/internal/repository"
)

// Checkpoint is the resume position of one feed. It is either a
// BackfillCheckpoint (historical catch-up not finished) or an
// IncrementalCheckpoint; nothing else implements it.
type Checkpoint interface {
	isCheckpoint()
}

// BackfillCheckpoint walks [StartDate, EndDate] one day at a time. Days
// before CurrentDate are done. A zero StartDate means the window has not been
// laid out yet.
type BackfillCheckpoint struct {
	CurrentDate time.Time
	StartDate   time.Time
	EndDate     time.Time
}

// IncrementalCheckpoint follows the feed after backfill. LastSyncTime is nil
// only when backfill finished without a window, which Load never produces.
type IncrementalCheckpoint struct {
	LastSyncTime *time.Time
	LastSeenID   string
}

func (BackfillCheckpoint) isCheckpoint() {}
func (IncrementalCheckpoint) isCheckpoint() {}

func (c BackfillCheckpoint) started() bool {
	return !c.StartDate.IsZero() && !c.EndDate.IsZero()
}

func (c BackfillCheckpoint) done() bool {
	return c.started() && !c.CurrentDate.Before(c.EndDate)
}

type checkpointWire struct {
	LastSyncTime     *time.Time    `json:"lastSyncTime"`
	LastSeenID       string        `json:"lastSeenId,omitempty"`
	BackfillComplete bool          `json:"backfillComplete"`
	BackfillProgress *progressWire `json:"backfillProgress,omitempty"`
}

type progressWire struct {
	CurrentDate string `json:"currentDate"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
}

// EncodeCheckpoint renders cp in the stored JSON shape:
// {lastSyncTime, lastSeenId, backfillComplete, backfillProgress?}.
func EncodeCheckpoint(cp Checkpoint) ([]byte, error) {
	var w checkpointWire
	switch c := cp.(type) {
	case nil:
	case BackfillCheckpoint:
		if c.started() {
			w.BackfillProgress = &progressWire{
				CurrentDate: formatCheckpointTime(c.CurrentDate),
				StartDate:   formatCheckpointTime(c.StartDate),
				EndDate:     formatCheckpointTime(c.EndDate),
			}
		}
	case IncrementalCheckpoint:
		w.BackfillComplete = true
		w.LastSyncTime = c.LastSyncTime
		w.LastSeenID = c.LastSeenID
	default:
		return nil, fmt.Errorf("unknown checkpoint type %T", cp)
	}
	return json.Marshal(w)
}

// DecodeCheckpoint parses the stored JSON. Empty input is a fresh feed, i.e.
// a backfill that has not started.
func DecodeCheckpoint(raw []byte) (Checkpoint, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return BackfillCheckpoint{}, nil
	}
	var w checkpointWire
	if err := json.Unmarshal([]byte(trimmed), &w); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if w.BackfillComplete {
		var last *time.Time
		if w.LastSyncTime != nil && !w.LastSyncTime.IsZero() {
			t := w.LastSyncTime.UTC()
			last = &t
		}
		return IncrementalCheckpoint{LastSyncTime: last, LastSeenID: w.LastSeenID}, nil
	}
	if w.BackfillProgress == nil {
		return BackfillCheckpoint{}, nil
	}
	var (
		c   BackfillCheckpoint
		err error
	)
	if c.CurrentDate, err = parseCheckpointTime(w.BackfillProgress.CurrentDate); err != nil {
		return nil, fmt.Errorf("decode checkpoint currentDate: %w", err)
	}
	if c.StartDate, err = parseCheckpointTime(w.BackfillProgress.StartDate); err != nil {
		return nil, fmt.Errorf("decode checkpoint startDate: %w", err)
	}
	if c.EndDate, err = parseCheckpointTime(w.BackfillProgress.EndDate); err != nil {
		return nil, fmt.Errorf("decode checkpoint endDate: %w", err)
	}
	if c.CurrentDate.Before(c.StartDate) {
		c.CurrentDate = c.StartDate
	}
	return c, nil
}

// CheckpointWatermark is the time below which the feed is fully processed.
func CheckpointWatermark(cp Checkpoint) *time.Time {
	switch c := cp.(type) {
	case BackfillCheckpoint:
		if !c.started() {
			return nil
		}
		t := c.CurrentDate
		return &t
	case IncrementalCheckpoint:
		if c.LastSyncTime == nil {
			return nil
		}
		t := *c.LastSyncTime
		return &t
	}
	return nil
}

func formatCheckpointTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseCheckpointTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// CheckpointStore owns the single SyncState row of one sync type.
type CheckpointStore struct {
	Repo     repository.Repository
	SyncType string
	Now      func() time.Time
}

// Load returns the state row, creating it on first use, and its checkpoint.
func (s *CheckpointStore) Load(ctx context.Context) (*models.SyncState, Checkpoint, error) {
	initial, _ := EncodeCheckpoint(BackfillCheckpoint{})
	state, err := s.Repo.EnsureSyncState(ctx, &models.SyncState{
		SyncType:   s.SyncType,
		Status:     models.SyncStatusIdle,
		Checkpoint: initial,
		UpdatedAt:  s.now(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("load sync state: %w", err)
	}
	if state == nil {
		return nil, nil, fmt.Errorf("load sync state: %s missing", s.SyncType)
	}
	cp, err := DecodeCheckpoint(state.Checkpoint)
	if err != nil {
		return state, nil, err
	}
	return state, cp, nil
}

func (s *CheckpointStore) MarkInProgress(ctx context.Context) error {
	return s.update(ctx, repository.SyncStateUpdate{Status: strPtr(models.SyncStatusInProgress)})
}

// SaveProgress persists a checkpoint together with the counters gathered
// since the previous write.
func (s *CheckpointStore) SaveProgress(ctx context.Context, cp Checkpoint, delta SyncStats) error {
	raw, err := EncodeCheckpoint(cp)
	if err != nil {
		return err
	}
	u := delta.update()
	u.Checkpoint = raw
	u.WatermarkTime = CheckpointWatermark(cp)
	return s.update(ctx, u)
}

// RunOutcome is the final write of one run.
type RunOutcome struct {
	// Checkpoint is nil when the stored checkpoint must stay as is.
	Checkpoint Checkpoint
	Status     string
	Delta      SyncStats
	BatchSize  int
	Duration   time.Duration
	Err        string
	History    *models.SyncHistory
}

// Finish writes the run outcome and its history row in one transaction.
func (s *CheckpointStore) Finish(ctx context.Context, out RunOutcome) error {
	now := s.now()
	u := out.Delta.update()
	u.Status = strPtr(out.Status)
	u.LastBatchSize = &out.BatchSize
	ms := out.Duration.Milliseconds()
	u.LastDurationMs = &ms
	u.SetError = true
	if out.Err != "" {
		u.ErrorMessage = strPtr(out.Err)
	}
	u.LastSyncAt = &now
	if out.Checkpoint != nil {
		raw, err := EncodeCheckpoint(out.Checkpoint)
		if err != nil {
			return err
		}
		u.Checkpoint = raw
		u.WatermarkTime = CheckpointWatermark(out.Checkpoint)
	}
	return s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := s.Repo.UpdateSyncStateTx(ctx, tx, s.SyncType, u); err != nil {
			return err
		}
		if out.History != nil {
			return s.Repo.InsertSyncHistoryTx(ctx, tx, out.History)
		}
		return nil
	})
}

// Reset puts the feed back to "backfill not started" and zeroes the totals.
func (s *CheckpointStore) Reset(ctx context.Context) error {
	if _, _, err := s.Load(ctx); err != nil {
		return err
	}
	raw, _ := EncodeCheckpoint(BackfillCheckpoint{})
	zero := 0
	var zeroMs int64
	return s.update(ctx, repository.SyncStateUpdate{
		Status:         strPtr(models.SyncStatusIdle),
		Checkpoint:     raw,
		ClearWatermark: true,
		ResetCounters:  true,
		LastBatchSize:  &zero,
		LastDurationMs: &zeroMs,
		SetError:       true,
	})
}

func (s *CheckpointStore) SetNextSyncAt(ctx context.Context, at time.Time) error {
	if at.IsZero() {
		return nil
	}
	at = at.UTC()
	return s.update(ctx, repository.SyncStateUpdate{NextSyncAt: &at})
}

func (s *CheckpointStore) update(ctx context.Context, u repository.SyncStateUpdate) error {
	return s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		return s.Repo.UpdateSyncStateTx(ctx, tx, s.SyncType, u)
	})
}

func (s *CheckpointStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func strPtr(s string) *string {
	return &s
}
