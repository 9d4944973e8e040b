package domain

import "time"

// AnomalyType classifies why a trip was flagged.
type AnomalyType string

const (
	AnomalyFare  AnomalyType = "fare"
	AnomalySpeed AnomalyType = "speed"
	AnomalyRatio AnomalyType = "ratio"
)

// Valid reports whether t is one of the known anomaly types.
func (t AnomalyType) Valid() bool {
	switch t {
	case AnomalyFare, AnomalySpeed, AnomalyRatio:
		return true
	}
	return false
}

// Anomaly is a trip flagged by a detector.
// Trip is a reference to the ingested record, never a copy.
type Anomaly struct {
	Trip   *Trip       `json:"trip"`
	Type   AnomalyType `json:"type"`
	Reason string      `json:"reason"`
}

// TripID returns the id of the flagged trip.
func (a Anomaly) TripID() string {
	if a.Trip == nil {
		return ""
	}
	return a.Trip.ID
}

// AnomalyReport is the result of one detection run.
type AnomalyReport struct {
	Records       []Anomaly `json:"records"`
	TotalAnalyzed int       `json:"totalAnalyzed"`
	ElapsedMs     float64   `json:"elapsedMs"`
}

// Count returns the number of distinct anomalous trips.
func (r *AnomalyReport) Count() int {
	return len(r.Records)
}

// Head returns at most n records for display. The report keeps the full sequence.
func (r *AnomalyReport) Head(n int) []Anomaly {
	if n <= 0 || n >= len(r.Records) {
		return r.Records
	}
	return r.Records[:n]
}

// CountByType tallies records per anomaly type.
func (r *AnomalyReport) CountByType() map[AnomalyType]int {
	counts := make(map[AnomalyType]int, 3)
	for _, rec := range r.Records {
		counts[rec.Type]++
	}
	return counts
}

// AnomalyIndex maps trip ids to their single anomaly record.
// An index is built once per run and never modified afterwards.
type AnomalyIndex struct {
	byTrip map[string]Anomaly
}

// NewAnomalyIndex builds an index from deduplicated records.
// When an id repeats, the first record wins.
func NewAnomalyIndex(records []Anomaly) *AnomalyIndex {
	idx := &AnomalyIndex{byTrip: make(map[string]Anomaly, len(records))}
	for _, rec := range records {
		id := rec.TripID()
		if _, seen := idx.byTrip[id]; seen {
			continue
		}
		idx.byTrip[id] = rec
	}
	return idx
}

// Lookup returns the anomaly recorded for a trip id.
func (i *AnomalyIndex) Lookup(tripID string) (Anomaly, bool) {
	if i == nil {
		return Anomaly{}, false
	}
	a, ok := i.byTrip[tripID]
	return a, ok
}

// Len returns the number of indexed trips.
func (i *AnomalyIndex) Len() int {
	if i == nil {
		return 0
	}
	return len(i.byTrip)
}

// DetectionRun is a persisted detection report.
type DetectionRun struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenantId"`
	Report    AnomalyReport `json:"report"`
	CreatedAt time.Time     `json:"createdAt"`
	TraceID   string        `json:"traceId,omitempty"`
}

// DetectionSummary is the event payload published after a run.
type DetectionSummary struct {
	RunID         string              `json:"runId"`
	TenantID      string              `json:"tenantId"`
	AnomalyCount  int                 `json:"anomalyCount"`
	TotalAnalyzed int                 `json:"totalAnalyzed"`
	ElapsedMs     float64             `json:"elapsedMs"`
	ByType        map[AnomalyType]int `json:"byType"`
}

// Summary condenses a run for event consumers.
func (r *DetectionRun) Summary() DetectionSummary {
	return DetectionSummary{
		RunID:         r.ID,
		TenantID:      r.TenantID,
		AnomalyCount:  r.Report.Count(),
		TotalAnalyzed: r.Report.TotalAnalyzed,
		ElapsedMs:     r.Report.ElapsedMs,
		ByType:        r.Report.CountByType(),
	}
}
