package handlers

import (
	"context"
	"net/http"
)

// StatusFunc assembles the status snapshot served at /status.
type StatusFunc func(ctx context.Context) (interface{}, error)

// StatusHandler serves the read-only service snapshot: build info, uptime,
// redacted configuration and job counters.
type StatusHandler struct {
	fn StatusFunc
}

// NewStatusHandler builds a StatusHandler. fn may be nil.
func NewStatusHandler(fn StatusFunc) *StatusHandler {
	return &StatusHandler{fn: fn}
}

// Status handles GET /status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.fn == nil {
		writeJSON(w, http.StatusOK, okResponse(nil))
		return
	}
	data, err := h.fn(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, okResponse(data))
}
