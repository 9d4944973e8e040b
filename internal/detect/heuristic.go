package detect

import (
	"fmt"
	"math"

	"github.com/opensource-finance/farehawk/internal/domain"
)

// Thresholds of the built-in heuristics.
const (
	MaxFarePerKm         = 50.0
	ShortTripKm          = 0.5
	ShortTripMaxFare     = 30.0
	MaxPlausibleSpeedKmh = 150.0
)

// Features are the per-trip values heuristics are evaluated against.
type Features struct {
	Trip *domain.Trip

	// Ratio is fare per km. A zero distance gives +Inf.
	Ratio float64
}

// NewFeatures computes the heuristic inputs for a trip.
func NewFeatures(t *domain.Trip) Features {
	return Features{Trip: t, Ratio: FarePerKm(t.Fare, t.DistanceKm)}
}

// FarePerKm divides fare by distance, treating a zero distance as unbounded.
func FarePerKm(fare, distanceKm float64) float64 {
	if distanceKm == 0 {
		return math.Inf(1)
	}
	return fare / distanceKm
}

// HeuristicRule is one entry of the ordered rule chain.
type HeuristicRule struct {
	Name   string
	Type   domain.AnomalyType
	Match  func(Features) bool
	Reason func(Features) string
}

// BuiltinHeuristics returns the default chain in priority order:
// excessive fare per km, short trip with a high fare, impossible speed.
func BuiltinHeuristics() []HeuristicRule {
	return []HeuristicRule{
		{
			Name: "fare-per-km",
			Type: domain.AnomalyRatio,
			Match: func(f Features) bool {
				return f.Ratio > MaxFarePerKm
			},
			Reason: func(f Features) string {
				if math.IsInf(f.Ratio, 1) {
					return fmt.Sprintf("Fare per km is unbounded: $%.2f charged for zero distance", f.Trip.Fare)
				}
				return fmt.Sprintf("Fare per km $%.2f is very high", f.Ratio)
			},
		},
		{
			Name: "short-trip-high-fare",
			Type: domain.AnomalyRatio,
			Match: func(f Features) bool {
				return f.Trip.DistanceKm < ShortTripKm && f.Trip.Fare > ShortTripMaxFare
			},
			Reason: func(f Features) string {
				return fmt.Sprintf("Short trip of %.2f km with disproportionate fare $%.2f", f.Trip.DistanceKm, f.Trip.Fare)
			},
		},
		{
			Name: "impossible-speed",
			Type: domain.AnomalySpeed,
			Match: func(f Features) bool {
				return f.Trip.SpeedKmh > MaxPlausibleSpeedKmh
			},
			Reason: func(f Features) string {
				return fmt.Sprintf("Impossible speed %.2f km/h", f.Trip.SpeedKmh)
			},
		},
	}
}

// HeuristicDetector classifies each trip with the first matching rule.
type HeuristicDetector struct {
	rules []HeuristicRule
}

// NewHeuristicDetector builds the built-in chain followed by extra rules.
// Extra rules never pre-empt the built-ins.
func NewHeuristicDetector(extra ...HeuristicRule) *HeuristicDetector {
	rules := BuiltinHeuristics()
	for _, r := range extra {
		if r.Match == nil {
			continue
		}
		rules = append(rules, r)
	}
	return &HeuristicDetector{rules: rules}
}

// Rules returns the chain in evaluation order.
func (d *HeuristicDetector) Rules() []HeuristicRule {
	out := make([]HeuristicRule, len(d.rules))
	copy(out, d.rules)
	return out
}

// Classify returns the anomaly raised by the first matching rule, if any.
func (d *HeuristicDetector) Classify(t *domain.Trip) (domain.Anomaly, bool) {
	f := NewFeatures(t)
	for _, r := range d.rules {
		if !r.Match(f) {
			continue
		}
		reason := r.Name
		if r.Reason != nil {
			reason = r.Reason(f)
		}
		return domain.Anomaly{Trip: t, Type: r.Type, Reason: reason}, true
	}
	return domain.Anomaly{}, false
}

// Detect runs the chain over every trip in input order.
func (d *HeuristicDetector) Detect(trips []*domain.Trip) []domain.Anomaly {
	var out []domain.Anomaly
	for _, t := range trips {
		if a, ok := d.Classify(t); ok {
			out = append(out, a)
		}
	}
	return out
}
