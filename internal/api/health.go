package api

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks a backing service.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// ConnStatus reports a client connection state.
type ConnStatus interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status        string             `json:"status"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Checks        map[string]string  `json:"checks"`
	Watcher       *WatcherStatusData `json:"watcher,omitempty"`
	Speech        *SpeechStatusData  `json:"speech,omitempty"`
}

type HealthHandler struct {
	db        Pinger
	mqtt      ConnStatus
	live      LiveDataSource
	version   string
	startTime time.Time
}

// NewHealthHandler creates the health handler. mqtt and live may be nil.
func NewHealthHandler(db Pinger, mqtt ConnStatus, live LiveDataSource, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		db:        db,
		mqtt:      mqtt,
		live:      live,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK
	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	// Vector store: retrieval degrades without it, so the process is unhealthy.
	if h.db == nil {
		checks["database"] = "not_configured"
	} else if err := h.db.HealthCheck(r.Context()); err != nil {
		checks["database"] = "error"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	resp := HealthResponse{
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	}

	if h.live != nil {
		if ws := h.live.WatcherStatus(); ws != nil {
			checks["transcript_watcher"] = ws.Status
			if ws.Status != "watching" {
				degrade()
			}
			resp.Watcher = ws
		} else {
			checks["transcript_watcher"] = "not_configured"
		}
		if ss := h.live.SpeechStatus(); ss != nil {
			checks["speech"] = "ok"
			resp.Speech = ss
		} else {
			checks["speech"] = "disabled"
		}
	}

	resp.Status = status
	WriteJSON(w, httpStatus, resp)
}
