package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/farehawk/internal/domain"
	"github.com/opensource-finance/farehawk/internal/ingest"
	"github.com/opensource-finance/farehawk/internal/metrics"
	"github.com/opensource-finance/farehawk/internal/monitor"
	"github.com/opensource-finance/farehawk/internal/repository"
	"github.com/opensource-finance/farehawk/internal/rules"
	"golang.org/x/sync/errgroup"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	monitor *monitor.Service
	metrics *metrics.Metrics
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, svc *monitor.Service, m *metrics.Metrics, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		monitor: svc,
		metrics: m,
		version: version,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// healthTimeout bounds each dependency ping.
const healthTimeout = 2 * time.Second

// Health pings every configured dependency concurrently. A failed ping marks
// the service degraded but still answers 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	type pinger interface {
		Ping(context.Context) error
	}
	checks := map[string]pinger{}
	if h.repo != nil {
		checks["repository"] = h.repo
	}
	if h.cache != nil {
		checks["cache"] = h.cache
	}
	if h.bus != nil {
		checks["eventBus"] = h.bus
	}

	names := make([]string, 0, len(checks))
	results := make([]string, len(checks))
	var g errgroup.Group
	for name, p := range checks {
		i := len(names)
		names = append(names, name)
		g.Go(func() error {
			if err := p.Ping(ctx); err != nil {
				results[i] = err.Error()
				return err
			}
			results[i] = "ok"
			return nil
		})
	}

	resp := HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		Components: make(map[string]string, len(checks)),
	}
	if err := g.Wait(); err != nil {
		slog.Warn("health check degraded", "error", err)
		resp.Status = "degraded"
	}
	for i, name := range names {
		resp.Components[name] = results[i]
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ready returns readiness status.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error, msg string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidTrip),
		errors.Is(err, ingest.ErrInvalidCSV),
		errors.Is(err, rules.ErrInvalidRule),
		errors.Is(err, errBadQuery):
		status = http.StatusBadRequest
	case errors.Is(err, monitor.ErrNoRuleEngine):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		writeJSON(w, status, errorResponse{Error: msg})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
