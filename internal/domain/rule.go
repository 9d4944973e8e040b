package domain

import "time"

// HeuristicRuleConfig is an operator-defined heuristic evaluated after the
// built-in ratio, short-trip and speed rules.
type HeuristicRuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// CEL expression over fare, distance_km, duration_min, speed_kmh, ratio,
	// passengers and hour. Must evaluate to bool.
	Expression string `json:"expression"`

	// Type and Reason are attached to every trip the expression matches.
	Type   AnomalyType `json:"type"`
	Reason string      `json:"reason"`

	// Lower priority values are evaluated first.
	Priority int `json:"priority"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
