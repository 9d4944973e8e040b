package detect

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/farehawk/internal/domain"
)

func newTrip(id string, distanceKm, fare, speedKmh float64) *domain.Trip {
	return &domain.Trip{
		ID:          id,
		Timestamp:   time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC),
		DistanceKm:  distanceKm,
		DurationMin: 15,
		Fare:        fare,
		SpeedKmh:    speedKmh,
		Passengers:  1,
	}
}

func tripsWithFares(fares ...float64) []*domain.Trip {
	trips := make([]*domain.Trip, len(fares))
	for i, f := range fares {
		trips[i] = newTrip(string(rune('A'+i)), 5, f, 20)
	}
	return trips
}

func TestSortAscending(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"Empty", []float64{}, []float64{}},
		{"Single", []float64{3}, []float64{3}},
		{"Unsorted", []float64{5, 1, 4, 1, 3}, []float64{1, 1, 3, 4, 5}},
		{"Negative", []float64{0, -2.5, 2.5}, []float64{-2.5, 0, 2.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := append([]float64(nil), tt.in...)
			got := SortAscending(tt.in)

			if len(got) != len(tt.want) {
				t.Fatalf("expected %d values, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("index %d: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
			for i := range tt.in {
				if tt.in[i] != orig[i] {
					t.Errorf("input mutated at index %d", i)
				}
			}
		})
	}
}

func TestComputeBounds(t *testing.T) {
	t.Run("NearestRank", func(t *testing.T) {
		tests := []struct {
			name   string
			values []float64
			q1, q3 float64
		}{
			{"FiveFlat", []float64{5, 5, 5, 5, 100}, 5, 5},
			{"Seven", []float64{70, 10, 60, 20, 50, 30, 40}, 20, 60},
			{"Eight", []float64{8, 1, 7, 2, 6, 3, 5, 4}, 3, 7},
			{"One", []float64{42}, 42, 42},
			{"Two", []float64{9, 1}, 1, 9},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				b, ok := ComputeBounds(tt.values)
				if !ok {
					t.Fatal("expected bounds for non-empty sample")
				}

				sorted := SortAscending(tt.values)
				n := len(sorted)
				refQ1 := sorted[int(math.Floor(float64(n)*0.25))]
				refQ3 := sorted[int(math.Floor(float64(n)*0.75))]

				if b.Q1 != tt.q1 || b.Q1 != refQ1 {
					t.Errorf("expected q1 %v, got %v", tt.q1, b.Q1)
				}
				if b.Q3 != tt.q3 || b.Q3 != refQ3 {
					t.Errorf("expected q3 %v, got %v", tt.q3, b.Q3)
				}
				iqr := refQ3 - refQ1
				if b.Lower != refQ1-1.5*iqr || b.Upper != refQ3+1.5*iqr {
					t.Errorf("unexpected fences [%v, %v]", b.Lower, b.Upper)
				}
			})
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if _, ok := ComputeBounds(nil); ok {
			t.Error("expected ok=false for empty sample")
		}
	})
}

func TestDetectOutliers(t *testing.T) {
	t.Run("FlatSampleWithSpike", func(t *testing.T) {
		trips := tripsWithFares(5, 5, 5, 5, 100)

		got := DetectOutliers(trips, FieldFare)
		if len(got) != 1 {
			t.Fatalf("expected 1 outlier, got %d", len(got))
		}
		if got[0].Trip != trips[4] {
			t.Error("expected the record to reference the 100 fare trip")
		}
		if got[0].Type != domain.AnomalyFare {
			t.Errorf("expected type fare, got %s", got[0].Type)
		}
		if !strings.Contains(got[0].Reason, "5.00–5.00") {
			t.Errorf("expected bounds 5.00–5.00 in reason, got %q", got[0].Reason)
		}
		if !strings.Contains(got[0].Reason, "$100.00") {
			t.Errorf("expected value in reason, got %q", got[0].Reason)
		}
	})

	t.Run("FenceValuesNotFlagged", func(t *testing.T) {
		// sorted: 5 10 20 20 30 30 30 45 -> q1=20 q3=30 fences [5, 45]
		trips := tripsWithFares(30, 5, 20, 45, 10, 30, 20, 30)

		got := DetectOutliers(trips, FieldFare)
		if len(got) != 0 {
			t.Errorf("expected no outliers on the fences, got %d", len(got))
		}
	})

	t.Run("InputOrderPreserved", func(t *testing.T) {
		// q1=10 q3=12 fences [7, 15]
		trips := tripsWithFares(500, 10, 11, 12, 10, 11, 12, 10, 11, 12, 10, 1000)

		got := DetectOutliers(trips, FieldFare)
		if len(got) != 2 {
			t.Fatalf("expected 2 outliers, got %d", len(got))
		}
		if got[0].TripID() != trips[0].ID || got[1].TripID() != trips[11].ID {
			t.Errorf("expected input order, got %s then %s", got[0].TripID(), got[1].TripID())
		}
	})

	t.Run("SpeedReason", func(t *testing.T) {
		trips := []*domain.Trip{
			newTrip("S1", 5, 10, 20),
			newTrip("S2", 5, 10, 20),
			newTrip("S3", 5, 10, 20),
			newTrip("S4", 5, 10, 20),
			newTrip("S5", 5, 10, 120),
		}

		got := DetectOutliers(trips, FieldSpeed)
		if len(got) != 1 {
			t.Fatalf("expected 1 outlier, got %d", len(got))
		}
		if got[0].Type != domain.AnomalySpeed {
			t.Errorf("expected type speed, got %s", got[0].Type)
		}
		if !strings.Contains(got[0].Reason, "km/h") {
			t.Errorf("expected km/h in reason, got %q", got[0].Reason)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if got := DetectOutliers(nil, FieldFare); len(got) != 0 {
			t.Errorf("expected no outliers, got %d", len(got))
		}
	})
}

func TestHeuristicDetector(t *testing.T) {
	d := NewHeuristicDetector()

	tests := []struct {
		name       string
		trip       *domain.Trip
		wantMatch  bool
		wantType   domain.AnomalyType
		wantReason string
	}{
		{"HighRatioBeatsShortTrip", newTrip("H1", 0.2, 40, 30), true, domain.AnomalyRatio, "very high"},
		{"HighRatioBeatsSpeed", newTrip("H2", 1, 60, 200), true, domain.AnomalyRatio, "very high"},
		{"NotShortEnough", newTrip("H3", 0.8, 35, 30), false, "", ""},
		{"ShortTripLowFare", newTrip("H4", 0.49, 24, 30), false, "", ""},
		{"ImpossibleSpeed", newTrip("H5", 10, 20, 200), true, domain.AnomalySpeed, "200.00 km/h"},
		{"SpeedOnBoundary", newTrip("H6", 10, 20, 150), false, "", ""},
		{"RatioOnBoundary", newTrip("H7", 1, 50, 30), false, "", ""},
		{"ZeroDistance", newTrip("H8", 0, 10, 0), true, domain.AnomalyRatio, "unbounded"},
		{"Normal", newTrip("H9", 10, 20, 40), false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := d.Classify(tt.trip)
			if ok != tt.wantMatch {
				t.Fatalf("expected match=%v, got %v (%q)", tt.wantMatch, ok, got.Reason)
			}
			if !ok {
				return
			}
			if got.Type != tt.wantType {
				t.Errorf("expected type %s, got %s", tt.wantType, got.Type)
			}
			if !strings.Contains(got.Reason, tt.wantReason) {
				t.Errorf("expected reason containing %q, got %q", tt.wantReason, got.Reason)
			}
		})
	}

	t.Run("ShortTripRule", func(t *testing.T) {
		// Any trip under 0.5 km with a fare over 30 also exceeds 50 per km,
		// so the chain always reports the ratio rule first.
		trip := newTrip("H10", 0.45, 31, 30)
		got, ok := d.Classify(trip)
		if !ok {
			t.Fatal("expected a match")
		}
		if !strings.Contains(got.Reason, "very high") {
			t.Errorf("expected ratio rule to win, got %q", got.Reason)
		}

		short := BuiltinHeuristics()[1]
		f := NewFeatures(trip)
		if !short.Match(f) {
			t.Error("expected short trip rule to match on its own")
		}
		if !strings.Contains(short.Reason(f), "0.45 km") {
			t.Errorf("unexpected reason %q", short.Reason(f))
		}
		if short.Match(NewFeatures(newTrip("H11", 0.5, 31, 30))) {
			t.Error("expected 0.5 km to not count as short")
		}
	})

	t.Run("ExtraRulesRunAfterBuiltins", func(t *testing.T) {
		extra := HeuristicRule{
			Name:   "crowded",
			Type:   domain.AnomalyRatio,
			Match:  func(f Features) bool { return f.Trip.Passengers > 4 },
			Reason: func(Features) string { return "too many passengers" },
		}
		d := NewHeuristicDetector(extra)

		rules := d.Rules()
		if len(rules) != 4 || rules[3].Name != "crowded" {
			t.Fatalf("expected extra rule last, got %d rules", len(rules))
		}

		fast := newTrip("X1", 10, 20, 200)
		fast.Passengers = 6
		got, _ := d.Classify(fast)
		if got.Type != domain.AnomalySpeed {
			t.Errorf("expected built-in speed rule to win, got %s", got.Type)
		}

		crowded := newTrip("X2", 10, 20, 40)
		crowded.Passengers = 6
		got, ok := d.Classify(crowded)
		if !ok || got.Reason != "too many passengers" {
			t.Errorf("expected extra rule match, got %v %q", ok, got.Reason)
		}
	})

	t.Run("AtMostOneRecordPerTrip", func(t *testing.T) {
		trips := []*domain.Trip{
			newTrip("M1", 0.2, 40, 400),
			newTrip("M2", 10, 20, 40),
			newTrip("M3", 10, 20, 151),
		}
		got := d.Detect(trips)
		if len(got) != 2 {
			t.Fatalf("expected 2 records, got %d", len(got))
		}
		if got[0].TripID() != "M1" || got[1].TripID() != "M3" {
			t.Errorf("unexpected order %s, %s", got[0].TripID(), got[1].TripID())
		}
	})
}

func TestFarePerKm(t *testing.T) {
	if r := FarePerKm(40, 0.2); r != 200 {
		t.Errorf("expected 200, got %v", r)
	}
	if r := FarePerKm(10, 0); !math.IsInf(r, 1) {
		t.Errorf("expected +Inf for zero distance, got %v", r)
	}
	if r := FarePerKm(0, 0); !math.IsInf(r, 1) {
		t.Errorf("expected +Inf for zero distance and fare, got %v", r)
	}
}

func TestMerge(t *testing.T) {
	a := newTrip("A", 5, 10, 20)
	b := newTrip("B", 5, 10, 20)
	c := newTrip("C", 5, 10, 20)
	d := newTrip("D", 5, 10, 20)

	fare := []domain.Anomaly{
		{Trip: b, Type: domain.AnomalyFare, Reason: "fare b"},
		{Trip: a, Type: domain.AnomalyFare, Reason: "fare a"},
	}
	speed := []domain.Anomaly{
		{Trip: c, Type: domain.AnomalySpeed, Reason: "speed c"},
		{Trip: a, Type: domain.AnomalySpeed, Reason: "speed a"},
	}
	ratio := []domain.Anomaly{
		{Trip: a, Type: domain.AnomalyRatio, Reason: "ratio a"},
		{Trip: d, Type: domain.AnomalyRatio, Reason: "ratio d"},
		{Trip: c, Type: domain.AnomalySpeed, Reason: "ratio c"},
	}

	got := Merge(fare, speed, ratio)

	want := []struct {
		id     string
		reason string
	}{
		{"B", "fare b"},
		{"A", "fare a"},
		{"C", "speed c"},
		{"D", "ratio d"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i, w := range want {
		if got[i].TripID() != w.id || got[i].Reason != w.reason {
			t.Errorf("position %d: expected %s/%q, got %s/%q", i, w.id, w.reason, got[i].TripID(), got[i].Reason)
		}
	}

	t.Run("Empty", func(t *testing.T) {
		got := Merge(nil, nil, nil)
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil slice, got %v", got)
		}
	})
}

func TestDetectorRun(t *testing.T) {
	trips := []*domain.Trip{
		newTrip("T1", 5, 15, 20),
		newTrip("T2", 6, 16, 20),
		newTrip("T3", 4, 14, 20),
		newTrip("T4", 5, 15, 20),
		newTrip("T5", 1, 300, 20),  // fare outlier and ratio heuristic
		newTrip("T6", 10, 30, 200), // speed outlier and speed heuristic
	}

	t.Run("FirstSourceWins", func(t *testing.T) {
		report, index := NewDetector().Run(trips)

		if report.TotalAnalyzed != len(trips) {
			t.Errorf("expected %d analyzed, got %d", len(trips), report.TotalAnalyzed)
		}
		if report.Count() != 2 {
			t.Fatalf("expected 2 anomalies, got %d", report.Count())
		}
		if report.Records[0].TripID() != "T5" || report.Records[0].Type != domain.AnomalyFare {
			t.Errorf("expected T5 as fare anomaly, got %s/%s", report.Records[0].TripID(), report.Records[0].Type)
		}
		if report.Records[1].TripID() != "T6" || report.Records[1].Type != domain.AnomalySpeed {
			t.Errorf("expected T6 as speed anomaly, got %s/%s", report.Records[1].TripID(), report.Records[1].Type)
		}
		if !strings.Contains(report.Records[1].Reason, "normal range") {
			t.Errorf("expected speed outlier reason, got %q", report.Records[1].Reason)
		}

		if index.Len() != report.Count() {
			t.Errorf("expected index size %d, got %d", report.Count(), index.Len())
		}
		rec, ok := index.Lookup("T5")
		if !ok || rec.Type != domain.AnomalyFare {
			t.Errorf("expected T5 indexed as fare, got %v %s", ok, rec.Type)
		}
		if _, ok := index.Lookup("T1"); ok {
			t.Error("expected T1 not indexed")
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		first := DetectAnomalies(trips)
		second := DetectAnomalies(trips)

		if first.TotalAnalyzed != second.TotalAnalyzed || first.Count() != second.Count() {
			t.Fatal("expected identical reports")
		}
		for i := range first.Records {
			a, b := first.Records[i], second.Records[i]
			if a.Trip != b.Trip || a.Type != b.Type || a.Reason != b.Reason {
				t.Errorf("record %d differs between runs", i)
			}
		}
	})

	t.Run("InputNotMutated", func(t *testing.T) {
		before := *trips[4]
		order := make([]string, len(trips))
		for i, tr := range trips {
			order[i] = tr.ID
		}

		DetectAnomalies(trips)

		if *trips[4] != before {
			t.Error("expected trip to be unchanged")
		}
		for i, tr := range trips {
			if tr.ID != order[i] {
				t.Errorf("expected trip order unchanged at %d", i)
			}
		}
	})

	t.Run("Empty", func(t *testing.T) {
		report := DetectAnomalies([]*domain.Trip{})
		if report.TotalAnalyzed != 0 {
			t.Errorf("expected 0 analyzed, got %d", report.TotalAnalyzed)
		}
		if report.Records == nil || len(report.Records) != 0 {
			t.Errorf("expected empty records, got %v", report.Records)
		}
	})

	t.Run("Elapsed", func(t *testing.T) {
		t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		calls := 0
		clock := func() time.Time {
			calls++
			if calls == 1 {
				return t0
			}
			return t0.Add(5 * time.Millisecond)
		}

		report, _ := NewDetector(WithClock(clock)).Run(trips)
		if report.ElapsedMs != 5 {
			t.Errorf("expected 5ms elapsed, got %v", report.ElapsedMs)
		}
	})
}

func TestIndexStore(t *testing.T) {
	store := NewIndexStore()
	if store.Get("tenant-001") != nil {
		t.Fatal("expected nil index before first run")
	}

	first := domain.NewAnomalyIndex([]domain.Anomaly{{Trip: newTrip("A", 1, 1, 1), Type: domain.AnomalyFare}})
	store.Replace("tenant-001", first)

	second := domain.NewAnomalyIndex(nil)
	store.Replace("tenant-001", second)

	got := store.Get("tenant-001")
	if got != second {
		t.Error("expected the latest index")
	}
	if _, ok := got.Lookup("A"); ok {
		t.Error("expected previous index contents to be discarded")
	}
	if store.Get("tenant-002") != nil {
		t.Error("expected tenant isolation")
	}
}
