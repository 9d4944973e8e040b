package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/farehawk/internal/domain"
	"github.com/opensource-finance/farehawk/internal/ingest"
)

const (
	// maxImportBytes caps a CSV upload.
	maxImportBytes = 32 << 20
	maxSampleSize  = 10000
	defaultSeed    = 42
)

// IngestResponse is returned by every trip ingestion endpoint.
type IngestResponse struct {
	Ingested int               `json:"ingested"`
	Format   ingest.Format     `json:"format,omitempty"`
	Skipped  []ingest.RowError `json:"skipped,omitempty"`

	// Detection is set when the request ran detection inline.
	Detection *domain.DetectionSummary `json:"detection,omitempty"`
}

// TripView is a trip annotated with its anomaly from the latest run.
type TripView struct {
	*domain.Trip
	Anomaly *AnomalyTag `json:"anomaly,omitempty"`
}

// AnomalyTag is the anomaly attached to a listed trip.
type AnomalyTag struct {
	Type   domain.AnomalyType `json:"type"`
	Reason string             `json:"reason"`
}

// TripListResponse is the response for GET /trips.
type TripListResponse struct {
	Trips  []TripView `json:"trips"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// CreateTrips handles POST /trips with a JSON array of trips.
func (h *Handler) CreateTrips(w http.ResponseWriter, r *http.Request) {
	var reqs []domain.TripRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return
	}
	if len(reqs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "at least one trip is required"})
		return
	}

	tenantID := GetTenantID(r.Context())
	trips := make([]*domain.Trip, 0, len(reqs))
	for i := range reqs {
		t := reqs[i].ToTrip(tenantID)
		if err := t.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("trip %d: %v", i, err)})
			return
		}
		trips = append(trips, t)
	}

	h.ingest(w, r, trips, "api", IngestResponse{})
}

// ImportTrips handles POST /trips/import with a CSV body in either the
// canonical or the raw pickup/dropoff layout. Bad rows are skipped and reported.
func (h *Handler) ImportTrips(w http.ResponseWriter, r *http.Request) {
	res, err := ingest.ReadCSV(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		writeError(w, err, "failed to read CSV")
		return
	}
	if len(res.Trips) == 0 {
		writeJSON(w, http.StatusBadRequest, IngestResponse{Format: res.Format, Skipped: res.Skipped})
		return
	}

	h.ingest(w, r, res.Trips, "csv", IngestResponse{Format: res.Format, Skipped: res.Skipped})
}

// LoadSample handles POST /trips/sample?count=&seed= with generated trips.
func (h *Handler) LoadSample(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count, err := queryInt(q, "count", ingest.DefaultSampleSize)
	if err != nil || count < 1 || count > maxSampleSize {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("count must be between 1 and %d", maxSampleSize)})
		return
	}
	seed := int64(defaultSeed)
	if v := q.Get("seed"); v != "" {
		if seed, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "seed must be an integer"})
			return
		}
	}

	h.ingest(w, r, ingest.GenerateSample(count, seed), "sample", IngestResponse{})
}

// ingest stores trips, announces them on the bus and, unless a worker owns
// detection, re-runs detection before answering.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, trips []*domain.Trip, source string, resp IngestResponse) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	now := time.Now().UTC()
	for _, t := range trips {
		t.TenantID = tenantID
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
	}

	if err := h.repo.SaveTrips(ctx, tenantID, trips); err != nil {
		writeError(w, err, "failed to save trips")
		return
	}
	h.metrics.TripsIngested(tenantID, source, len(trips))
	resp.Ingested = len(trips)

	slog.Info("trips ingested",
		"tenant_id", tenantID,
		"count", len(trips),
		"source", source,
	)

	h.announce(ctx, tenantID, len(trips), source)

	cfg := h.monitor.Config()
	if cfg.AutoDetect && !cfg.AsyncWorker {
		run, err := h.monitor.RunDetection(ctx, tenantID)
		if err != nil {
			writeError(w, err, "detection failed")
			return
		}
		summary := run.Summary()
		resp.Detection = &summary
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) announce(ctx context.Context, tenantID string, count int, source string) {
	if h.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.TripsIngestedEvent{
		TenantID: tenantID,
		Count:    count,
		Source:   source,
		TraceID:  GetTraceID(ctx),
	})
	if err != nil {
		return
	}
	if err := h.bus.Publish(ctx, tenantID, domain.TopicTripsIngested, payload); err != nil {
		slog.Error("failed to publish trips ingested", "tenant_id", tenantID, "error", err)
	}
}

// ListTrips handles GET /trips.
func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, err, "invalid filter")
		return
	}

	trips, err := h.repo.ListTrips(ctx, tenantID, filter)
	if err != nil {
		writeError(w, err, "failed to list trips")
		return
	}
	total, err := h.repo.CountTrips(ctx, tenantID, filter)
	if err != nil {
		writeError(w, err, "failed to count trips")
		return
	}

	idx, err := h.monitor.Index(ctx, tenantID)
	if err != nil {
		writeError(w, err, "failed to load anomaly index")
		return
	}

	views := make([]TripView, len(trips))
	for i, t := range trips {
		views[i] = annotate(idx, t)
	}

	writeJSON(w, http.StatusOK, TripListResponse{
		Trips:  views,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// GetTrip handles GET /trips/{id}.
func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	trip, err := h.repo.GetTrip(ctx, tenantID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err, "failed to get trip")
		return
	}

	idx, err := h.monitor.Index(ctx, tenantID)
	if err != nil {
		writeError(w, err, "failed to load anomaly index")
		return
	}

	writeJSON(w, http.StatusOK, annotate(idx, trip))
}

func annotate(idx *domain.AnomalyIndex, t *domain.Trip) TripView {
	v := TripView{Trip: t}
	if a, ok := idx.Lookup(t.ID); ok {
		v.Anomaly = &AnomalyTag{Type: a.Type, Reason: a.Reason}
	}
	return v
}
