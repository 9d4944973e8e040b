// Package insights computes dashboard aggregates over a set of trips.
// Every function reads its input and never modifies it; an empty input yields
// zero values rather than NaN.
package insights

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/farehawk/internal/domain"
)

// Stats summarises a set of trips.
type Stats struct {
	TotalTrips     int     `json:"totalTrips"`
	AvgFare        float64 `json:"avgFare"`
	AvgDistanceKm  float64 `json:"avgDistanceKm"`
	AvgDurationMin float64 `json:"avgDurationMin"`
	AvgSpeedKmh    float64 `json:"avgSpeedKmh"`

	// MostCommonPassengers is 0 for an empty set. Ties go to the smaller count.
	MostCommonPassengers int `json:"mostCommonPassengers"`
}

// Summarize computes averages and the modal passenger count.
func Summarize(trips []*domain.Trip) Stats {
	s := Stats{TotalTrips: len(trips)}
	if len(trips) == 0 {
		return s
	}

	var fare, dist, dur, speed float64
	passengers := make(map[int]int)
	for _, t := range trips {
		fare += t.Fare
		dist += t.DistanceKm
		dur += t.DurationMin
		speed += t.SpeedKmh
		passengers[t.Passengers]++
	}

	n := float64(len(trips))
	s.AvgFare = fare / n
	s.AvgDistanceKm = dist / n
	s.AvgDurationMin = dur / n
	s.AvgSpeedKmh = speed / n

	best := 0
	for p, c := range passengers {
		if c > best || (c == best && p < s.MostCommonPassengers) {
			best, s.MostCommonPassengers = c, p
		}
	}
	return s
}

// HourCount is the number of trips that started in one hour of the day.
type HourCount struct {
	Hour  int `json:"hour"`
	Trips int `json:"trips"`
}

// HourlyPattern is the 24-hour histogram plus the peak-hour insight.
type HourlyPattern struct {
	Hours      []HourCount `json:"hours"`
	PeakHour   int         `json:"peakHour"`
	PeakTrips  int         `json:"peakTrips"`
	AvgPerHour float64     `json:"avgPerHour"`

	// Multiplier is PeakTrips over AvgPerHour.
	Multiplier float64 `json:"multiplier"`
	Insight    string  `json:"insight"`
}

// Hourly buckets trips by pickup hour. The earliest hour wins a tie for peak.
func Hourly(trips []*domain.Trip) HourlyPattern {
	var counts [24]int
	for _, t := range trips {
		counts[t.Hour()]++
	}

	p := HourlyPattern{Hours: make([]HourCount, 24)}
	for h, c := range counts {
		p.Hours[h] = HourCount{Hour: h, Trips: c}
		if c > p.PeakTrips {
			p.PeakHour, p.PeakTrips = h, c
		}
	}

	if len(trips) == 0 {
		p.Insight = "No trips to analyse."
		return p
	}

	p.AvgPerHour = float64(len(trips)) / 24
	p.Multiplier = float64(p.PeakTrips) / p.AvgPerHour
	p.Insight = fmt.Sprintf("Peak hour is %d:00 with %d trips (%.1fx average).",
		p.PeakHour, p.PeakTrips, p.Multiplier)
	return p
}

// Band is one bucket of a chart. Max is exclusive; the last band is open-ended.
type Band struct {
	Label string  `json:"label"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max,omitempty"`
	Trips int     `json:"trips"`

	// AvgFare is only set by FareByDistance; empty bands report 0.
	AvgFare float64 `json:"avgFare,omitempty"`
}

var (
	distanceEdges = []float64{0, 5, 10, 15, 20}
	speedEdges    = []float64{0, 20, 40, 60, 80}
)

func newBands(edges []float64, unit string) []Band {
	bands := make([]Band, len(edges))
	for i, lo := range edges {
		bands[i].Min = lo
		if i+1 < len(edges) {
			bands[i].Max = edges[i+1]
			bands[i].Label = fmt.Sprintf("%g-%g%s", lo, edges[i+1], unit)
		} else {
			bands[i].Label = fmt.Sprintf("%g+%s", lo, unit)
		}
	}
	return bands
}

func bandIndex(edges []float64, v float64) int {
	for i := len(edges) - 1; i > 0; i-- {
		if v >= edges[i] {
			return i
		}
	}
	return 0
}

// FareByDistance averages fares per distance band: 0-5, 5-10, 10-15, 15-20, 20+ km.
func FareByDistance(trips []*domain.Trip) []Band {
	bands := newBands(distanceEdges, "km")
	sums := make([]float64, len(bands))
	for _, t := range trips {
		i := bandIndex(distanceEdges, t.DistanceKm)
		bands[i].Trips++
		sums[i] += t.Fare
	}
	for i := range bands {
		if bands[i].Trips > 0 {
			bands[i].AvgFare = sums[i] / float64(bands[i].Trips)
		}
	}
	return bands
}

// SpeedBands counts trips per speed band: 0-20, 20-40, 40-60, 60-80, 80+ km/h.
func SpeedBands(trips []*domain.Trip) []Band {
	bands := newBands(speedEdges, "")
	for _, t := range trips {
		bands[bandIndex(speedEdges, t.SpeedKmh)].Trips++
	}
	return bands
}

// Charts bundles every chart the dashboard draws.
type Charts struct {
	Hourly         []HourCount `json:"hourly"`
	FareByDistance []Band      `json:"fareByDistance"`
	SpeedBands     []Band      `json:"speedBands"`
}

// BuildCharts computes all charts in one call.
func BuildCharts(trips []*domain.Trip) Charts {
	return Charts{
		Hourly:         Hourly(trips).Hours,
		FareByDistance: FareByDistance(trips),
		SpeedBands:     SpeedBands(trips),
	}
}

// Efficiency scoring constants.
const (
	speedCap      = 120.0
	farePerKmMin  = 0.5
	farePerKmMax  = 10.0
	speedWeight   = 0.6
	fareWeight    = 0.4
	unknownFareKm = 0.5
)

// RankedTrip is a trip with its efficiency score.
type RankedTrip struct {
	Trip *domain.Trip `json:"trip"`

	// FarePerKm is nil when the trip covered no distance.
	FarePerKm *float64 `json:"farePerKm,omitempty"`
	Score     float64  `json:"score"`
}

// Score rates a trip in [0, 1]: 0.6 x speed capped at 120 km/h and normalised,
// plus 0.4 x inverse fare per km clamped to [0.5, 10]. A trip without a usable
// fare per km gets the neutral 0.5 for the fare component.
func Score(t *domain.Trip) (score float64, farePerKm *float64) {
	speed := min(max(t.SpeedKmh, 0), speedCap) / speedCap

	inv := unknownFareKm
	if t.DistanceKm > 0 {
		fpk := t.Fare / t.DistanceKm
		farePerKm = &fpk
		if fpk > 0 {
			capped := min(max(fpk, farePerKmMin), farePerKmMax)
			inv = (farePerKmMax - capped) / (farePerKmMax - farePerKmMin)
		}
	}

	return speedWeight*speed + fareWeight*inv, farePerKm
}

// RankByEfficiency scores trips and sorts them best first. Trips with a
// non-positive duration are left out. Equal scores keep input order.
func RankByEfficiency(trips []*domain.Trip) []RankedTrip {
	ranked := make([]RankedTrip, 0, len(trips))
	for _, t := range trips {
		if t.DurationMin <= 0 {
			continue
		}
		score, fpk := Score(t)
		ranked = append(ranked, RankedTrip{Trip: t, FarePerKm: fpk, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}
