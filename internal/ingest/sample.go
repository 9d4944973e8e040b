package ingest

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/opensource-finance/farehawk/internal/domain"
)

// DefaultSampleSize is the number of trips GenerateSample produces when count <= 0.
const DefaultSampleSize = 150

// sampleDays are the dates sample trips are spread across.
var sampleDays = []time.Time{
	time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
	time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC),
	time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC),
	time.Date(2024, 1, 18, 0, 0, 0, 0, time.UTC),
}

// GenerateSample builds a deterministic demo data set. The same seed always
// yields the same trips.
//
// Distance is 0.3-25.3 km, duration 3-53 min, fare $3-63 and passengers 1-5,
// rounded to 2, 1 and 2 decimals. Ids run T1000, T1001, ...
func GenerateSample(count int, seed int64) []*domain.Trip {
	if count <= 0 {
		count = DefaultSampleSize
	}

	rng := rand.New(rand.NewPCG(uint64(seed), 0x66617265))
	created := time.Now().UTC()

	trips := make([]*domain.Trip, count)
	for i := range trips {
		distance := round(rng.Float64()*25+0.3, 2)
		duration := round(rng.Float64()*50+3, 1)
		fare := round(rng.Float64()*60+3, 2)
		passengers := rng.IntN(5) + 1

		day := sampleDays[rng.IntN(len(sampleDays))]
		ts := day.Add(time.Duration(rng.IntN(24))*time.Hour + time.Duration(rng.IntN(60))*time.Minute)

		trips[i] = &domain.Trip{
			ID:          fmt.Sprintf("T%d", 1000+i),
			Timestamp:   ts,
			DistanceKm:  distance,
			DurationMin: duration,
			Fare:        fare,
			SpeedKmh:    domain.SpeedKmh(distance, duration),
			Passengers:  passengers,
			CreatedAt:   created,
		}
	}
	return trips
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
