package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"callsync/internal/models"
	"callsync/internal/repository"
	"callsync/internal/searchindex"
)

var ErrRebuildInProgress = errors.New("search index rebuild already in progress")

// IndexQueue accepts documents, waiting for room in the queue.
type IndexQueue interface {
	EnqueueWait(ctx context.Context, doc searchindex.Document) error
}

// IndexRebuildService replays every stored recording into the search index.
type IndexRebuildService struct {
	Repo      repository.RecordingRepository
	Queue     IndexQueue
	Guard     *RunGuard
	BatchSize int
	Logger    *zap.Logger

	guardOnce sync.Once
}

type RebuildResult struct {
	Batches    int    `json:"batches"`
	Enqueued   int    `json:"enqueued"`
	LastID     uint64 `json:"last_id"`
	DurationMs int64  `json:"duration_ms"`
}

const rebuildKey = "search_index_rebuild"

// Start kicks off a rebuild in the background and returns at once.
func (s *IndexRebuildService) Start(ctx context.Context) error {
	release, ok := s.guard().TryAcquire(rebuildKey)
	if !ok {
		return ErrRebuildInProgress
	}
	go func() {
		defer release()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger().Error("search index rebuild panicked", zap.Any("panic", rec))
			}
		}()
		if _, err := s.rebuild(context.WithoutCancel(ctx)); err != nil {
			s.logger().Warn("search index rebuild failed", zap.Error(err))
		}
	}()
	return nil
}

// Rebuild runs a rebuild in the calling goroutine.
func (s *IndexRebuildService) Rebuild(ctx context.Context) (RebuildResult, error) {
	release, ok := s.guard().TryAcquire(rebuildKey)
	if !ok {
		return RebuildResult{}, ErrRebuildInProgress
	}
	defer release()
	return s.rebuild(ctx)
}

func (s *IndexRebuildService) Running() bool {
	return s.guard().Busy(rebuildKey)
}

func (s *IndexRebuildService) rebuild(ctx context.Context) (RebuildResult, error) {
	if s.Repo == nil || s.Queue == nil {
		return RebuildResult{}, errors.New("search index rebuild not configured")
	}
	started := time.Now()
	limit := min(positiveOr(s.BatchSize, 200), repository.MaxListLimit)
	var res RebuildResult
	s.logger().Info("search index rebuild started", zap.Int("batch_size", limit))
	for {
		items, err := s.Repo.ListRecordings(ctx, repository.ListRecordingsParams{AfterID: res.LastID, Limit: limit})
		if err != nil {
			return res, fmt.Errorf("list recordings after %d: %w", res.LastID, err)
		}
		if len(items) == 0 {
			break
		}
		ids := make([]uint64, 0, len(items))
		for _, it := range items {
			ids = append(ids, it.ID)
		}
		participants, err := s.Repo.ListParticipantsByRecordingIDs(ctx, ids)
		if err != nil {
			return res, fmt.Errorf("list participants: %w", err)
		}
		tags, err := s.Repo.ListTagsByRecordingIDs(ctx, ids)
		if err != nil {
			return res, fmt.Errorf("list tags: %w", err)
		}
		byParticipant := map[uint64][]models.Participant{}
		for _, p := range participants {
			byParticipant[p.RecordingID] = append(byParticipant[p.RecordingID], p)
		}
		byTag := map[uint64][]models.RecordingTag{}
		for _, t := range tags {
			byTag[t.RecordingID] = append(byTag[t.RecordingID], t)
		}
		for _, it := range items {
			doc := searchindex.DocumentFromRecording(it, byParticipant[it.ID], byTag[it.ID])
			if err := s.Queue.EnqueueWait(ctx, doc); err != nil {
				return res, fmt.Errorf("enqueue recording %d: %w", it.ID, err)
			}
			res.Enqueued++
			res.LastID = it.ID
		}
		res.Batches++
		if len(items) < limit {
			break
		}
	}
	res.DurationMs = time.Since(started).Milliseconds()
	s.logger().Info("search index rebuild done",
		zap.Int("batches", res.Batches),
		zap.Int("enqueued", res.Enqueued),
		zap.Int64("duration_ms", res.DurationMs),
	)
	return res, nil
}

func (s *IndexRebuildService) guard() *RunGuard {
	s.guardOnce.Do(func() {
		if s.Guard == nil {
			s.Guard = NewRunGuard()
		}
	})
	return s.Guard
}

func (s *IndexRebuildService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
