package api

import (
	"fmt"
	"net/http"

	"github.com/opensource-finance/farehawk/internal/domain"
	"github.com/opensource-finance/farehawk/internal/insights"
)

const defaultTopTrips = 10

// filteredTrips loads every trip matching the request filters. Pagination
// parameters are ignored; aggregates cover the whole filtered set.
func (h *Handler) filteredTrips(r *http.Request) ([]*domain.Trip, error) {
	q := r.URL.Query()
	q.Del("limit")
	q.Del("offset")

	filter, err := parseFilter(q)
	if err != nil {
		return nil, err
	}
	filter.Limit, filter.Offset = 0, 0

	return h.repo.ListTrips(r.Context(), GetTenantID(r.Context()), filter)
}

// Stats handles GET /insights/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	trips, err := h.filteredTrips(r)
	if err != nil {
		writeError(w, err, "failed to load trips")
		return
	}
	writeJSON(w, http.StatusOK, insights.Summarize(trips))
}

// Hourly handles GET /insights/hourly.
func (h *Handler) Hourly(w http.ResponseWriter, r *http.Request) {
	trips, err := h.filteredTrips(r)
	if err != nil {
		writeError(w, err, "failed to load trips")
		return
	}
	writeJSON(w, http.StatusOK, insights.Hourly(trips))
}

// Charts handles GET /insights/charts.
func (h *Handler) Charts(w http.ResponseWriter, r *http.Request) {
	trips, err := h.filteredTrips(r)
	if err != nil {
		writeError(w, err, "failed to load trips")
		return
	}
	writeJSON(w, http.StatusOK, insights.BuildCharts(trips))
}

// Efficiency handles GET /insights/efficiency?top=.
func (h *Handler) Efficiency(w http.ResponseWriter, r *http.Request) {
	top, err := queryInt(r.URL.Query(), "top", defaultTopTrips)
	if err == nil && top < 1 {
		err = fmt.Errorf("%w: top must be positive", errBadQuery)
	}
	if err != nil {
		writeError(w, err, "invalid top")
		return
	}

	trips, err := h.filteredTrips(r)
	if err != nil {
		writeError(w, err, "failed to load trips")
		return
	}

	ranked := insights.RankByEfficiency(trips)
	if len(ranked) > top {
		ranked = ranked[:top]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trips": ranked,
		"count": len(ranked),
	})
}
