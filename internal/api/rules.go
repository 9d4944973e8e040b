package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/farehawk/internal/domain"
)

// CreateRuleRequest is the request body for POST /rules.
type CreateRuleRequest struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Expression  string             `json:"expression"`
	Type        domain.AnomalyType `json:"type"`
	Reason      string             `json:"reason"`
	Priority    int                `json:"priority"`

	// Enabled defaults to true.
	Enabled *bool `json:"enabled"`
}

// ListRules handles GET /rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.monitor.Rules(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		writeError(w, err, "failed to list rules")
		return
	}
	if list == nil {
		list = []*domain.HeuristicRuleConfig{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": list,
		"count": len(list),
	})
}

// CreateRule handles POST /rules. The rule is compiled before it is stored and
// applies from the next detection run.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON request body"})
		return
	}
	if req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "name and expression are required"})
		return
	}

	cfg := &domain.HeuristicRuleConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Type:        req.Type,
		Reason:      req.Reason,
		Priority:    req.Priority,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Reason == "" {
		cfg.Reason = cfg.Name
	}

	if err := h.monitor.SaveRule(ctx, GetTenantID(ctx), cfg); err != nil {
		writeError(w, err, "failed to save rule")
		return
	}

	slog.Info("rule saved",
		"tenant_id", cfg.TenantID,
		"rule_id", cfg.ID,
		"name", cfg.Name,
	)
	writeJSON(w, http.StatusCreated, cfg)
}

// DeleteRule handles DELETE /rules/{id}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.monitor.DeleteRule(ctx, GetTenantID(ctx), id); err != nil {
		writeError(w, err, "failed to delete rule")
		return
	}

	slog.Info("rule deleted", "tenant_id", GetTenantID(ctx), "rule_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules handles POST /rules/reload: recompiles the tenant's stored rules.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	count, err := h.monitor.ReloadRules(ctx, GetTenantID(ctx))
	if err != nil {
		writeError(w, err, "failed to reload rules")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   count,
	})
}
