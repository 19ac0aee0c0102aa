package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"callsync/internal/feed"
	"callsync/internal/models"
	"callsync/internal/repository"
	"callsync/internal/searchindex"
)

// stubRepo is an in-memory repository.Repository. InTx does not roll back;
// tests that need atomicity check the final state instead.
type stubRepo struct {
	mu sync.Mutex

	nextID       uint64
	recordings   map[string]*models.Recording
	participants map[uint64][]models.Participant
	tags         map[uint64]map[string]models.RecordingTag
	agents       []models.Agent
	states       map[string]*models.SyncState
	history      []models.SyncHistory
	settings     map[string]models.SystemSetting

	recordingWrites int
	stateWrites     int
	maxListLimit    int

	agentsErr    error
	upsertErr    map[string]error
	stateErr     error
	failStateAt  int
	historyErr   error
	onStateWrite func(u repository.SyncStateUpdate)
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		recordings:   map[string]*models.Recording{},
		participants: map[uint64][]models.Participant{},
		tags:         map[uint64]map[string]models.RecordingTag{},
		states:       map[string]*models.SyncState{},
		settings:     map[string]models.SystemSetting{},
		upsertErr:    map[string]error{},
	}
}

func (r *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (r *stubRepo) GetRecordingBySessionIDTx(ctx context.Context, tx *gorm.DB, sessionID string) (*models.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recordings[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *stubRepo) UpsertRecordingTx(ctx context.Context, tx *gorm.DB, item *models.Recording) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.upsertErr[item.SessionID]; err != nil {
		return err
	}
	r.recordingWrites++
	if existing, ok := r.recordings[item.SessionID]; ok {
		item.ID = existing.ID
	} else {
		r.nextID++
		item.ID = r.nextID
	}
	cp := *item
	r.recordings[item.SessionID] = &cp
	return nil
}

func (r *stubRepo) ReplaceParticipantsTx(ctx context.Context, tx *gorm.DB, recordingID uint64, items []models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants[recordingID] = append([]models.Participant(nil), items...)
	return nil
}

func (r *stubRepo) UpsertRecordingTagsTx(ctx context.Context, tx *gorm.DB, items []models.RecordingTag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range items {
		if r.tags[t.RecordingID] == nil {
			r.tags[t.RecordingID] = map[string]models.RecordingTag{}
		}
		r.tags[t.RecordingID][t.TagName] = t
	}
	return nil
}

func (r *stubRepo) ListRecordings(ctx context.Context, params repository.ListRecordingsParams) ([]models.Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]models.Recording, 0, len(r.recordings))
	for _, rec := range r.recordings {
		if rec.ID > params.AfterID {
			all = append(all, *rec)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	limit := params.Limit
	if r.maxListLimit > 0 && limit > r.maxListLimit {
		limit = r.maxListLimit
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (r *stubRepo) ListParticipantsByRecordingIDs(ctx context.Context, recordingIDs []uint64) ([]models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Participant
	for _, id := range recordingIDs {
		out = append(out, r.participants[id]...)
	}
	return out, nil
}

func (r *stubRepo) ListTagsByRecordingIDs(ctx context.Context, recordingIDs []uint64) ([]models.RecordingTag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.RecordingTag
	for _, id := range recordingIDs {
		for _, t := range r.tags[id] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *stubRepo) ListActiveAgents(ctx context.Context) ([]models.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.agentsErr != nil {
		return nil, r.agentsErr
	}
	return append([]models.Agent(nil), r.agents...), nil
}

func (r *stubRepo) GetSyncState(ctx context.Context, syncType string) (*models.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[syncType]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (r *stubRepo) EnsureSyncState(ctx context.Context, initial *models.SyncState) (*models.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stateErr != nil {
		return nil, r.stateErr
	}
	st, ok := r.states[initial.SyncType]
	if !ok {
		cp := *initial
		r.states[initial.SyncType] = &cp
		st = &cp
	}
	out := *st
	return &out, nil
}

func (r *stubRepo) UpdateSyncStateTx(ctx context.Context, tx *gorm.DB, syncType string, u repository.SyncStateUpdate) error {
	r.mu.Lock()
	r.stateWrites++
	n := r.stateWrites
	st, ok := r.states[syncType]
	hook := r.onStateWrite
	r.mu.Unlock()
	if r.failStateAt > 0 && n >= r.failStateAt {
		return errors.New("state write failed")
	}
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if hook != nil {
		hook(u)
	}
	r.mu.Lock()
	u.Apply(st)
	r.mu.Unlock()
	return nil
}

func (r *stubRepo) InsertSyncHistoryTx(ctx context.Context, tx *gorm.DB, item *models.SyncHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.historyErr != nil {
		return r.historyErr
	}
	item.ID = uint64(len(r.history) + 1)
	r.history = append(r.history, *item)
	return nil
}

func (r *stubRepo) ListSyncHistory(ctx context.Context, syncType string, limit int) ([]models.SyncHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SyncHistory
	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].SyncType == syncType {
			out = append(out, r.history[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *stubRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[item.Key] = *item
	return nil
}

func (r *stubRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.settings[key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (r *stubRepo) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SystemSetting
	for _, item := range r.settings {
		if params.Prefix != nil && !strings.HasPrefix(item.Key, *params.Prefix) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *stubRepo) state(syncType string) models.SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[syncType]; ok {
		return *st
	}
	return models.SyncState{}
}

func (r *stubRepo) recording(sessionID string) *models.Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recordings[sessionID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (r *stubRepo) recordingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recordings)
}

func (r *stubRepo) historyRows() []models.SyncHistory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SyncHistory(nil), r.history...)
}

var _ repository.Repository = (*stubRepo)(nil)

// fakeFeed serves a fixed set of sessions, filtered by end time (or start
// time when end is missing) and paged by offset.
type fakeFeed struct {
	mu       sync.Mutex
	sessions []fakeSession
	queries  []feed.Query
	failAt   int
	block    chan struct{}
	entered  chan struct{}
	panicAt  int
}

type fakeSession struct {
	at  time.Time
	raw json.RawMessage
}

func (f *fakeFeed) add(at time.Time, raw string) {
	f.sessions = append(f.sessions, fakeSession{at: at, raw: json.RawMessage(raw)})
}

func (f *fakeFeed) FetchSessions(ctx context.Context, q feed.Query) (feed.Page, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	n := len(f.queries)
	block, entered := f.block, f.entered
	f.mu.Unlock()

	if entered != nil && n == 1 {
		close(entered)
	}
	if block != nil {
		<-block
	}
	if f.panicAt > 0 && n == f.panicAt {
		panic("feed exploded")
	}
	if f.failAt > 0 && n >= f.failAt {
		return feed.Page{Error: "upstream unavailable"}, errors.New("upstream unavailable")
	}

	var window []json.RawMessage
	for _, s := range f.sessions {
		if s.at.Before(q.From) || s.at.After(q.To) {
			continue
		}
		window = append(window, s.raw)
	}
	if q.Offset >= len(window) {
		return feed.Page{Success: true, Sessions: []json.RawMessage{}}, nil
	}
	end := q.Offset + q.Limit
	if end > len(window) {
		end = len(window)
	}
	return feed.Page{Success: true, Sessions: window[q.Offset:end]}, nil
}

func (f *fakeFeed) queryLog() []feed.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]feed.Query(nil), f.queries...)
}

// recordingIndex captures enqueued documents.
type recordingIndex struct {
	mu   sync.Mutex
	docs []searchindex.Document
}

func (r *recordingIndex) Enqueue(doc searchindex.Document) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
	return true
}

func (r *recordingIndex) EnqueueWait(ctx context.Context, doc searchindex.Document) error {
	r.Enqueue(doc)
	return nil
}

func (r *recordingIndex) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}
