package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/farehawk/internal/domain"
	"github.com/opensource-finance/farehawk/internal/repository"
)

// ReportResponse presents a detection run with at most Limit anomalies.
// AnomalyCount is always the full count.
type ReportResponse struct {
	RunID         string                     `json:"runId"`
	TraceID       string                     `json:"traceId,omitempty"`
	CreatedAt     time.Time                  `json:"createdAt"`
	AnomalyCount  int                        `json:"anomalyCount"`
	TotalAnalyzed int                        `json:"totalAnalyzed"`
	ElapsedMs     float64                    `json:"elapsedMs"`
	ByType        map[domain.AnomalyType]int `json:"byType"`
	Anomalies     []domain.Anomaly           `json:"anomalies"`
	Limit         int                        `json:"limit"`
}

func newReportResponse(run *domain.DetectionRun, limit int) ReportResponse {
	anomalies := run.Report.Head(limit)
	if anomalies == nil {
		anomalies = []domain.Anomaly{}
	}
	return ReportResponse{
		RunID:         run.ID,
		TraceID:       run.TraceID,
		CreatedAt:     run.CreatedAt,
		AnomalyCount:  run.Report.Count(),
		TotalAnalyzed: run.Report.TotalAnalyzed,
		ElapsedMs:     run.Report.ElapsedMs,
		ByType:        run.Report.CountByType(),
		Anomalies:     anomalies,
		Limit:         limit,
	}
}

// displayLimit reads ?limit=, defaulting to the configured display limit.
// Zero means every record.
func (h *Handler) displayLimit(r *http.Request) (int, error) {
	limit, err := queryInt(r.URL.Query(), "limit", h.monitor.Config().DisplayLimit)
	if err != nil {
		return 0, err
	}
	if limit < 0 {
		return 0, fmt.Errorf("%w: limit must not be negative", errBadQuery)
	}
	return limit, nil
}

// Detect handles POST /detect: runs detection over every stored trip.
// With ?async=true the run is handed to the worker and the call returns 202.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		if err := h.monitor.RequestDetection(r.Context(), GetTenantID(r.Context())); err != nil {
			writeError(w, err, "failed to request detection")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":  "requested",
			"traceId": GetTraceID(r.Context()),
		})
		return
	}

	limit, err := h.displayLimit(r)
	if err != nil {
		writeError(w, err, "invalid limit")
		return
	}

	run, err := h.monitor.RunDetection(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		writeError(w, err, "detection failed")
		return
	}

	writeJSON(w, http.StatusOK, newReportResponse(run, limit))
}

// Anomalies handles GET /anomalies: the latest report.
func (h *Handler) Anomalies(w http.ResponseWriter, r *http.Request) {
	limit, err := h.displayLimit(r)
	if err != nil {
		writeError(w, err, "invalid limit")
		return
	}

	run, err := h.monitor.LatestReport(r.Context(), GetTenantID(r.Context()))
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no detection run yet"})
		return
	}
	if err != nil {
		writeError(w, err, "failed to load report")
		return
	}

	writeJSON(w, http.StatusOK, newReportResponse(run, limit))
}

// GetAnomaly handles GET /anomalies/{tripId}.
func (h *Handler) GetAnomaly(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")

	a, ok, err := h.monitor.Lookup(r.Context(), GetTenantID(r.Context()), tripID)
	if err != nil {
		writeError(w, err, "failed to look up anomaly")
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "trip " + tripID + " is not anomalous"})
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// GetRun handles GET /runs/{id}: a stored run with every record.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.monitor.GetRun(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}
