package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"callsync/internal/models"
	"callsync/internal/repository"
	"callsync/internal/service"
)

type settingsRepo struct {
	items map[string]models.SystemSetting
}

func (r *settingsRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	r.items[item.Key] = *item
	return nil
}

func (r *settingsRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	item, ok := r.items[key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (r *settingsRepo) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	var out []models.SystemSetting
	for _, it := range r.items {
		if params.Prefix == nil || strings.HasPrefix(it.Key, *params.Prefix) {
			out = append(out, it)
		}
	}
	return out, nil
}

func newEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func do(r http.Handler, method, path, body string) (*httptest.ResponseRecorder, apiResponse) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var resp apiResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestSettingsSwitchRoundTrip(t *testing.T) {
	r := newEngine()
	settings := &service.SystemSettingsService{Repo: &settingsRepo{items: map[string]models.SystemSetting{}}}
	(&SettingsHandler{Settings: settings}).Register(r)

	w, resp := do(r, http.MethodGet, "/api/settings/switches/recording_sync", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	data := resp.Data.(map[string]any)
	if data["enabled"] != true {
		t.Fatalf("unset recording_sync should report its default, got %v", data)
	}

	w, _ = do(r, http.MethodPut, "/api/settings/switches/recording_sync", `{"enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put status=%d body=%s", w.Code, w.Body.String())
	}
	if settings.IsEnabled(context.Background(), service.FeatureRecordingSync, true) {
		t.Fatalf("switch not stored")
	}

	w, resp = do(r, http.MethodGet, "/api/settings/switches", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status=%d", w.Code)
	}
	items := resp.Data.([]any)
	if len(items) != 1 || items[0].(map[string]any)["name"] != "recording_sync" {
		t.Fatalf("items=%v", items)
	}
}

func TestSettingsSwitchRejectsMissingValue(t *testing.T) {
	r := newEngine()
	settings := &service.SystemSettingsService{Repo: &settingsRepo{items: map[string]models.SystemSetting{}}}
	(&SettingsHandler{Settings: settings}).Register(r)
	w, _ := do(r, http.MethodPut, "/api/settings/switches/recording_sync", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", w.Code)
	}
}

func TestRecordingSyncBusyIsConflict(t *testing.T) {
	guard := service.NewRunGuard()
	release, _ := guard.TryAcquire("recordings")
	defer release()
	r := newEngine()
	(&RecordingSyncHandler{Sync: &service.RecordingSyncService{Guard: guard}}).Register(r)

	for _, path := range []string{"/api/recordings/sync", "/api/recordings/sync?mode=backfill", "/api/recordings/sync/reset"} {
		w, resp := do(r, http.MethodPost, path, "")
		if w.Code != http.StatusConflict {
			t.Fatalf("%s status=%d want 409", path, w.Code)
		}
		if resp.Message != service.ErrSyncInProgress.Error() {
			t.Fatalf("%s message=%q", path, resp.Message)
		}
	}
}

func TestRecordingSyncFailureIsBadGateway(t *testing.T) {
	r := newEngine()
	(&RecordingSyncHandler{Sync: &service.RecordingSyncService{}}).Register(r)
	w, resp := do(r, http.MethodPost, "/api/recordings/sync", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", w.Code)
	}
	if _, ok := resp.Meta["result"]; !ok {
		t.Fatalf("meta=%v want result", resp.Meta)
	}
}

func TestRecordingSyncRejectsUnknownMode(t *testing.T) {
	r := newEngine()
	(&RecordingSyncHandler{Sync: &service.RecordingSyncService{}}).Register(r)
	w, _ := do(r, http.MethodPost, "/api/recordings/sync?mode=weekly", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", w.Code)
	}
}

func TestIndexRebuildBusyIsConflict(t *testing.T) {
	guard := service.NewRunGuard()
	release, _ := guard.TryAcquire("search_index_rebuild")
	defer release()
	r := newEngine()
	(&RecordingSyncHandler{Rebuild: &service.IndexRebuildService{Guard: guard}}).Register(r)
	w, _ := do(r, http.MethodPost, "/api/recordings/index/rebuild", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d want 409", w.Code)
	}
}

func TestHealth(t *testing.T) {
	r := newEngine()
	(&HealthHandler{}).Register(r)
	if w, _ := do(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("healthz=%d", w.Code)
	}
	if w, _ := do(r, http.MethodGet, "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz without db=%d want 503", w.Code)
	}
}

func TestIndexRebuildStartsInBackground(t *testing.T) {
	r := newEngine()
	(&RecordingSyncHandler{Rebuild: &service.IndexRebuildService{}}).Register(r)
	w, resp := do(r, http.MethodPost, "/api/recordings/index/rebuild", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status=%d want 202", w.Code)
	}
	if resp.Code != 0 || resp.Message != "accepted" {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestIndexRebuildWaitReportsFailure(t *testing.T) {
	r := newEngine()
	(&RecordingSyncHandler{Rebuild: &service.IndexRebuildService{}}).Register(r)
	w, _ := do(r, http.MethodPost, "/api/recordings/index/rebuild?wait=true", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", w.Code)
	}
}

// completedSyncRepo serves a single sync state row whose backfill is done.
type completedSyncRepo struct {
	repository.Repository
	state models.SyncState
}

func (r *completedSyncRepo) EnsureSyncState(ctx context.Context, initial *models.SyncState) (*models.SyncState, error) {
	state := r.state
	return &state, nil
}

func TestRecordingBackfillAfterCompletionIsConflict(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw, err := service.EncodeCheckpoint(service.IncrementalCheckpoint{LastSyncTime: &last})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	repo := &completedSyncRepo{state: models.SyncState{SyncType: "recordings", Checkpoint: raw}}
	r := newEngine()
	(&RecordingSyncHandler{Sync: &service.RecordingSyncService{Repo: repo}}).Register(r)

	w, resp := do(r, http.MethodPost, "/api/recordings/sync?mode=backfill", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status=%d want 409 body=%s", w.Code, w.Body.String())
	}
	if resp.Message != service.ErrBackfillComplete.Error() {
		t.Fatalf("message=%q", resp.Message)
	}
	if _, ok := resp.Meta["result"]; !ok {
		t.Fatalf("meta=%v want result", resp.Meta)
	}
}
