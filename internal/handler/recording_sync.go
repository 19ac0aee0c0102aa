package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callsync/internal/auth"
	"callsync/internal/models"
	"callsync/internal/service"
)

type RecordingSyncHandler struct {
	Sync    *service.RecordingSyncService
	Rebuild *service.IndexRebuildService
	Logger  *zap.Logger
}

func (h *RecordingSyncHandler) Register(r *gin.Engine) {
	group := r.Group("/api/recordings")
	group.POST("/sync", h.runSync)
	group.POST("/sync/reset", h.resetSync)
	group.GET("/sync/status", h.syncStatus)
	group.POST("/index/rebuild", h.rebuildIndex)
}

// @Summary Run recording sync now
// @Description Runs one sync step in the request. While backfill is not complete the step is a backfill step regardless of mode.
// @Tags recordings
// @Param mode query string false "incremental|backfill"
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Failure 502 {object} apiResponse
// @Router /api/recordings/sync [post]
func (h *RecordingSyncHandler) runSync(c *gin.Context) {
	if h.Sync == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	triggeredBy := "manual:" + auth.Subject(c, "admin")
	var res service.SyncResult
	switch strings.ToLower(stringQuery(c, "mode", service.SyncModeIncremental)) {
	case service.SyncModeBackfill:
		res = h.Sync.RunBackfill(c.Request.Context(), c.GetHeader("X-Correlation-ID"), triggeredBy, nil)
	case service.SyncModeIncremental:
		res = h.Sync.RunIncrementalSync(c.Request.Context(), triggeredBy)
	default:
		Error(c, http.StatusBadRequest, "invalid mode", nil)
		return
	}
	switch {
	case res.Error == service.ErrSyncInProgress.Error():
		Error(c, http.StatusConflict, res.Error, nil)
	case res.Error == service.ErrBackfillComplete.Error():
		Error(c, http.StatusConflict, res.Error, map[string]any{"result": res})
	case !res.Success:
		if h.Logger != nil {
			h.Logger.Warn("manual recording sync failed",
				zap.String("correlation_id", res.CorrelationID),
				zap.String("error", res.Error),
			)
		}
		Error(c, http.StatusBadGateway, res.Error, map[string]any{"result": res})
	default:
		Ok(c, res, nil)
	}
}

// @Summary Reset recording sync state
// @Description Puts the feed back to backfill-not-started and zeroes the totals. Stored recordings are kept.
// @Tags recordings
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/recordings/sync/reset [post]
func (h *RecordingSyncHandler) resetSync(c *gin.Context) {
	if h.Sync == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	if err := h.Sync.ResetSyncState(c.Request.Context()); err != nil {
		if errors.Is(err, service.ErrSyncInProgress) {
			Error(c, http.StatusConflict, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if h.Logger != nil {
		h.Logger.Warn("recording sync reset requested", zap.String("by", auth.Subject(c, "admin")))
	}
	Ok(c, gin.H{"reset": true}, nil)
}

type syncHistoryItem struct {
	ID            uint64     `json:"id"`
	Mode          string     `json:"mode"`
	Status        string     `json:"status"`
	TriggeredBy   string     `json:"triggered_by"`
	CorrelationID string     `json:"correlation_id"`
	Fetched       int        `json:"fetched"`
	Created       int        `json:"created"`
	Updated       int        `json:"updated"`
	Skipped       int        `json:"skipped"`
	Errors        int        `json:"errors"`
	Pages         int        `json:"pages"`
	Days          int        `json:"days"`
	DurationMs    int64      `json:"duration_ms"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type syncStatusResponse struct {
	SyncType         string            `json:"sync_type"`
	Status           string            `json:"status"`
	Running          bool              `json:"running"`
	BackfillComplete bool              `json:"backfill_complete"`
	Checkpoint       any               `json:"checkpoint"`
	WatermarkTime    *time.Time        `json:"watermark_time,omitempty"`
	TotalFetched     int64             `json:"total_fetched"`
	TotalCreated     int64             `json:"total_created"`
	TotalUpdated     int64             `json:"total_updated"`
	TotalErrors      int64             `json:"total_errors"`
	LastBatchSize    int               `json:"last_batch_size"`
	LastDurationMs   int64             `json:"last_duration_ms"`
	ErrorMessage     *string           `json:"error_message,omitempty"`
	LastSyncAt       *time.Time        `json:"last_sync_at,omitempty"`
	NextSyncAt       *time.Time        `json:"next_sync_at,omitempty"`
	History          []syncHistoryItem `json:"history"`
}

// @Summary Recording sync status
// @Tags recordings
// @Param history query int false "history rows"
// @Success 200 {object} apiResponse
// @Router /api/recordings/sync/status [get]
func (h *RecordingSyncHandler) syncStatus(c *gin.Context) {
	if h.Sync == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	st, err := h.Sync.GetSyncStatus(c.Request.Context(), intQuery(c, "history", 0))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := syncStatusResponse{
		SyncType:         st.SyncType,
		Status:           st.Status,
		Running:          st.Running,
		BackfillComplete: st.BackfillComplete,
		WatermarkTime:    st.WatermarkTime,
		TotalFetched:     st.TotalFetched,
		TotalCreated:     st.TotalCreated,
		TotalUpdated:     st.TotalUpdated,
		TotalErrors:      st.TotalErrors,
		LastBatchSize:    st.LastBatchSize,
		LastDurationMs:   st.LastDurationMs,
		ErrorMessage:     st.ErrorMessage,
		LastSyncAt:       st.LastSyncAt,
		NextSyncAt:       st.NextSyncAt,
		History:          make([]syncHistoryItem, 0, len(st.History)),
	}
	if len(st.Checkpoint) > 0 {
		out.Checkpoint = st.Checkpoint
	}
	for _, it := range st.History {
		out.History = append(out.History, historyItem(it))
	}
	Ok(c, out, map[string]any{"history": len(out.History)})
}

// @Summary Rebuild the search index
// @Description Replays every stored recording into the search index in the background.
// @Tags recordings
// @Param wait query bool false "run in the request and return the result"
// @Success 200 {object} apiResponse
// @Success 202 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/recordings/index/rebuild [post]
func (h *RecordingSyncHandler) rebuildIndex(c *gin.Context) {
	if h.Rebuild == nil {
		Error(c, http.StatusInternalServerError, "search index unavailable", nil)
		return
	}
	if boolQueryDefault(c, "wait", false) {
		res, err := h.Rebuild.Rebuild(c.Request.Context())
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, service.ErrRebuildInProgress) {
				status = http.StatusConflict
			}
			Error(c, status, err.Error(), nil)
			return
		}
		Ok(c, res, nil)
		return
	}
	if err := h.Rebuild.Start(c.Request.Context()); err != nil {
		if errors.Is(err, service.ErrRebuildInProgress) {
			Error(c, http.StatusConflict, err.Error(), nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Accepted(c, gin.H{"started": true})
}

func historyItem(it models.SyncHistory) syncHistoryItem {
	return syncHistoryItem{
		ID:            it.ID,
		Mode:          it.Mode,
		Status:        it.Status,
		TriggeredBy:   it.TriggeredBy,
		CorrelationID: it.CorrelationID,
		Fetched:       it.Fetched,
		Created:       it.Created,
		Updated:       it.Updated,
		Skipped:       it.Skipped,
		Errors:        it.Errors,
		Pages:         it.Pages,
		Days:          it.Days,
		DurationMs:    it.DurationMs,
		ErrorMessage:  it.ErrorMessage,
		StartedAt:     it.StartedAt,
		CompletedAt:   it.CompletedAt,
	}
}
