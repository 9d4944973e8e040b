package insights

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/farehawk/internal/domain"
)

func trip(id string, hour int, distance, duration, fare float64, passengers int) *domain.Trip {
	return &domain.Trip{
		ID:          id,
		Timestamp:   time.Date(2024, 1, 15, hour, 10, 0, 0, time.UTC),
		DistanceKm:  distance,
		DurationMin: duration,
		Fare:        fare,
		SpeedKmh:    domain.SpeedKmh(distance, duration),
		Passengers:  passengers,
	}
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func sampleTrips() []*domain.Trip {
	return []*domain.Trip{
		trip("a", 8, 2, 10, 10, 1),   // 12 km/h
		trip("b", 8, 6, 12, 20, 2),   // 30 km/h
		trip("c", 17, 12, 12, 30, 2), // 60 km/h
		trip("d", 8, 25, 15, 60, 1),  // 100 km/h
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleTrips())

	if s.TotalTrips != 4 {
		t.Errorf("expected 4 trips, got %d", s.TotalTrips)
	}
	if !near(s.AvgFare, 30) {
		t.Errorf("expected avg fare 30, got %v", s.AvgFare)
	}
	if !near(s.AvgDistanceKm, 11.25) {
		t.Errorf("expected avg distance 11.25, got %v", s.AvgDistanceKm)
	}
	if !near(s.AvgDurationMin, 12.25) {
		t.Errorf("expected avg duration 12.25, got %v", s.AvgDurationMin)
	}
	if !near(s.AvgSpeedKmh, 50.5) {
		t.Errorf("expected avg speed 50.5, got %v", s.AvgSpeedKmh)
	}
	// one and two passengers tie; the smaller count wins
	if s.MostCommonPassengers != 1 {
		t.Errorf("expected most common passengers 1, got %d", s.MostCommonPassengers)
	}

	empty := Summarize(nil)
	if empty.TotalTrips != 0 || empty.AvgFare != 0 || empty.MostCommonPassengers != 0 {
		t.Errorf("expected zero stats for empty input, got %+v", empty)
	}
}

func TestHourly(t *testing.T) {
	p := Hourly(sampleTrips())

	if len(p.Hours) != 24 {
		t.Fatalf("expected 24 buckets, got %d", len(p.Hours))
	}
	if p.Hours[8].Trips != 3 || p.Hours[17].Trips != 1 {
		t.Errorf("unexpected buckets: 8h=%d 17h=%d", p.Hours[8].Trips, p.Hours[17].Trips)
	}
	if p.PeakHour != 8 || p.PeakTrips != 3 {
		t.Errorf("expected peak 8:00 with 3 trips, got %d:00 with %d", p.PeakHour, p.PeakTrips)
	}
	if !near(p.Multiplier, 18) {
		t.Errorf("expected multiplier 18, got %v", p.Multiplier)
	}
	if p.Insight != "Peak hour is 8:00 with 3 trips (18.0x average)." {
		t.Errorf("unexpected insight: %q", p.Insight)
	}

	t.Run("TieGoesToEarliestHour", func(t *testing.T) {
		p := Hourly([]*domain.Trip{trip("x", 20, 1, 5, 5, 1), trip("y", 3, 1, 5, 5, 1)})
		if p.PeakHour != 3 {
			t.Errorf("expected peak hour 3, got %d", p.PeakHour)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		p := Hourly(nil)
		if p.PeakTrips != 0 || p.Multiplier != 0 || math.IsNaN(p.AvgPerHour) {
			t.Errorf("expected zero pattern, got %+v", p)
		}
	})
}

func TestFareByDistance(t *testing.T) {
	bands := FareByDistance(append(sampleTrips(), trip("e", 9, 4, 10, 14, 1)))

	want := []struct {
		label string
		trips int
		avg   float64
	}{
		{"0-5km", 2, 12},
		{"5-10km", 1, 20},
		{"10-15km", 1, 30},
		{"15-20km", 0, 0},
		{"20+km", 1, 60},
	}
	if len(bands) != len(want) {
		t.Fatalf("expected %d bands, got %d", len(want), len(bands))
	}
	for i, w := range want {
		b := bands[i]
		if b.Label != w.label || b.Trips != w.trips || !near(b.AvgFare, w.avg) {
			t.Errorf("band %d: expected %s/%d/%v, got %s/%d/%v", i, w.label, w.trips, w.avg, b.Label, b.Trips, b.AvgFare)
		}
	}

	t.Run("EdgeGoesUp", func(t *testing.T) {
		bands := FareByDistance([]*domain.Trip{trip("x", 0, 5, 10, 10, 1)})
		if bands[1].Trips != 1 {
			t.Errorf("expected 5 km in the 5-10 band, got %+v", bands)
		}
	})
}

func TestSpeedBands(t *testing.T) {
	bands := SpeedBands(sampleTrips())

	want := []int{1, 1, 0, 1, 1}
	for i, w := range want {
		if bands[i].Trips != w {
			t.Errorf("band %s: expected %d, got %d", bands[i].Label, w, bands[i].Trips)
		}
	}
	if bands[4].Label != "80+" {
		t.Errorf("expected open-ended label 80+, got %s", bands[4].Label)
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		trip     *domain.Trip
		want     float64
		hasRatio bool
	}{
		// 60 km/h -> 0.5; 2.5 $/km -> (10-2.5)/9.5
		{"Typical", trip("a", 0, 10, 10, 25, 1), 0.6*0.5 + 0.4*(7.5/9.5), true},
		{"SpeedCapped", trip("b", 0, 50, 10, 5, 1), 0.6*1 + 0.4*(9.5/9.5), true},
		{"FareClampedHigh", trip("c", 0, 1, 6, 50, 1), 0.6*(10.0/120) + 0, true},
		{"ZeroDistance", trip("d", 0, 0, 10, 8, 1), 0.4 * 0.5, false},
		{"FreeRide", trip("e", 0, 6, 6, 0, 1), 0.6*(60.0/120) + 0.4*0.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fpk := Score(tt.trip)
			if !near(got, tt.want) {
				t.Errorf("expected score %v, got %v", tt.want, got)
			}
			if (fpk != nil) != tt.hasRatio {
				t.Errorf("expected fare per km present=%v, got %v", tt.hasRatio, fpk)
			}
		})
	}
}

func TestRankByEfficiency(t *testing.T) {
	trips := []*domain.Trip{
		trip("slow", 0, 2, 30, 20, 1),
		trip("fast", 0, 30, 20, 40, 1),
		trip("stuck", 0, 3, 0, 10, 1),
		trip("slow-twin", 0, 2, 30, 20, 1),
	}

	ranked := RankByEfficiency(trips)
	if len(ranked) != 3 {
		t.Fatalf("expected zero-duration trip to be skipped, got %d", len(ranked))
	}

	var ids []string
	for _, r := range ranked {
		ids = append(ids, r.Trip.ID)
	}
	if ids[0] != "fast" || ids[1] != "slow" || ids[2] != "slow-twin" {
		t.Errorf("expected fast,slow,slow-twin, got %v", ids)
	}
	if trips[0].ID != "slow" {
		t.Error("expected input order to be untouched")
	}
}
