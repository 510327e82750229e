package handlers

import (
	"context"
	"net/http"
	"time"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// NamedCheck pairs a dependency name with its probe.
type NamedCheck struct {
	Name  string
	Check CheckFunc
}

// HealthHandler serves the liveness and dependency probes.
type HealthHandler struct {
	checks []NamedCheck
}

// NewHealthHandler builds a handler over the given dependency probes. The
// slice may be empty; liveness still works.
func NewHealthHandler(checks []NamedCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Liveness handles GET /healthz. It succeeds whenever the process is able to
// answer, independent of any dependency.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "telarch",
	}))
}

// DependencyHealth is the per-dependency probe result.
type DependencyHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// Dependencies handles GET /healthz/deps. Each registered dependency is
// probed with a shared 5 second budget; any failure turns the response 503.
func (h *HealthHandler) Dependencies(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	results := make([]DependencyHealth, 0, len(h.checks))
	allHealthy := true

	for _, c := range h.checks {
		started := time.Now()
		err := c.Check(ctx)
		result := DependencyHealth{
			Name:    c.Name,
			Status:  "healthy",
			Latency: time.Since(started).String(),
		}
		if err != nil {
			result.Status = "unhealthy"
			result.Error = err.Error()
			allHealthy = false
		}
		results = append(results, result)
	}

	if allHealthy {
		writeJSON(w, http.StatusOK, healthyResponse(results))
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("one or more dependencies failed", results))
}
