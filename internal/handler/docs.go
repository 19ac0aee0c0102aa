package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func RegisterDocs(r *gin.Engine) {
	r.GET("/docs", func(c *gin.Context) {
		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.String(http.StatusOK, `# Recording Sync Service

Pulls call sessions from the recording platform, stores them in postgres and
mirrors them into the redis search index.

## Auth

All /api/* routes require a Bearer JWT with the admin role.
Health and metrics endpoints are public.

## Routes

- GET /healthz
- GET /readyz
- GET /metrics
- GET /swagger/index.html
- POST /api/recordings/sync            run now (mode=backfill to force a backfill step)
- POST /api/recordings/sync/reset      restart from backfill, 409 while a run is active
- GET  /api/recordings/sync/status     checkpoint, totals and recent history
- POST /api/recordings/index/rebuild   replay every recording into the search index
- GET  /api/settings/switches
- GET  /api/settings/switches/:name
- PUT  /api/settings/switches/:name    {"enabled": true|false}

## Switches

- recording_sync: scheduled runs (manual runs ignore it)
- search_index: index dispatch for new and updated recordings
`)
	})
}
