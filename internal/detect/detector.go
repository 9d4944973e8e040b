package detect

import (
	"sync"
	"time"

	"github.com/opensource-finance/farehawk/internal/domain"
)

// Detector runs the full pipeline: fare outliers, speed outliers, heuristics,
// then a first-seen-wins merge.
type Detector struct {
	heuristics *HeuristicDetector
	now        func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithHeuristics appends rules after the built-in heuristic chain.
func WithHeuristics(rules ...HeuristicRule) Option {
	return func(d *Detector) {
		d.heuristics = NewHeuristicDetector(rules...)
	}
}

// WithClock overrides the clock used to time runs.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// NewDetector creates a detector with the built-in heuristics.
func NewDetector(opts ...Option) *Detector {
	d := &Detector{
		heuristics: NewHeuristicDetector(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Heuristics returns the rule chain the detector evaluates.
func (d *Detector) Heuristics() []HeuristicRule {
	return d.heuristics.Rules()
}

// Run analyses the complete trip collection. Trips are only read.
// The index is built from the merged records and holds one entry per trip id.
func (d *Detector) Run(trips []*domain.Trip) (*domain.AnomalyReport, *domain.AnomalyIndex) {
	start := d.now()

	fare := DetectOutliers(trips, FieldFare)
	speed := DetectOutliers(trips, FieldSpeed)
	heuristic := d.heuristics.Detect(trips)
	records := Merge(fare, speed, heuristic)

	report := &domain.AnomalyReport{
		Records:       records,
		TotalAnalyzed: len(trips),
		ElapsedMs:     float64(d.now().Sub(start)) / float64(time.Millisecond),
	}
	return report, domain.NewAnomalyIndex(records)
}

// DetectAnomalies runs the default pipeline over trips.
func DetectAnomalies(trips []*domain.Trip) *domain.AnomalyReport {
	report, _ := NewDetector().Run(trips)
	return report
}

// IndexStore holds the latest anomaly index per tenant.
// Each run replaces a tenant's index with a single pointer swap, so readers
// always observe either the previous or the new complete index.
type IndexStore struct {
	mu      sync.RWMutex
	indexes map[string]*domain.AnomalyIndex
}

// NewIndexStore creates an empty store.
func NewIndexStore() *IndexStore {
	return &IndexStore{indexes: make(map[string]*domain.AnomalyIndex)}
}

// Replace discards the tenant's previous index.
func (s *IndexStore) Replace(tenantID string, idx *domain.AnomalyIndex) {
	s.mu.Lock()
	s.indexes[tenantID] = idx
	s.mu.Unlock()
}

// Get returns the tenant's current index, or nil before the first run.
func (s *IndexStore) Get(tenantID string) *domain.AnomalyIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexes[tenantID]
}
