package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidTrip is returned when a trip record breaks the ingestion contract.
var ErrInvalidTrip = errors.New("invalid trip")

// Trip is a single ride observation.
// Trips are immutable once ingested; detectors and reports hold *Trip references.
type Trip struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	DistanceKm  float64 `json:"distanceKm"`
	DurationMin float64 `json:"durationMin"`
	Fare        float64 `json:"fare"`

	// SpeedKmh is derived at ingestion as DistanceKm / (DurationMin/60).
	SpeedKmh float64 `json:"speedKmh"`

	Passengers int `json:"passengers"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Hour returns the hour of day (0-23) the trip started.
func (t *Trip) Hour() int {
	return t.Timestamp.Hour()
}

// Validate checks the fields the detectors rely on.
func (t *Trip) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTrip)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: trip %s: timestamp is required", ErrInvalidTrip, t.ID)
	}

	fields := []struct {
		name  string
		value float64
	}{
		{"distanceKm", t.DistanceKm},
		{"durationMin", t.DurationMin},
		{"fare", t.Fare},
		{"speedKmh", t.SpeedKmh},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: trip %s: %s must be a finite number", ErrInvalidTrip, t.ID, f.name)
		}
		if f.value < 0 {
			return fmt.Errorf("%w: trip %s: %s must not be negative", ErrInvalidTrip, t.ID, f.name)
		}
	}

	if t.Passengers < 1 {
		return fmt.Errorf("%w: trip %s: passengers must be at least 1", ErrInvalidTrip, t.ID)
	}
	return nil
}

// SpeedKmh derives the average speed of a trip.
// A non-positive duration yields 0 rather than an unbounded speed.
func SpeedKmh(distanceKm, durationMin float64) float64 {
	if durationMin <= 0 {
		return 0
	}
	return distanceKm / (durationMin / 60)
}

// TripRequest is the API payload for a single trip.
type TripRequest struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	DistanceKm  float64   `json:"distanceKm"`
	DurationMin float64   `json:"durationMin"`
	Fare        float64   `json:"fare"`
	Passengers  int       `json:"passengers"`
}

// ToTrip converts a request to a Trip, deriving its speed.
func (r *TripRequest) ToTrip(tenantID string) *Trip {
	return &Trip{
		ID:          r.ID,
		TenantID:    tenantID,
		Timestamp:   r.Timestamp.UTC(),
		DistanceKm:  r.DistanceKm,
		DurationMin: r.DurationMin,
		Fare:        r.Fare,
		SpeedKmh:    SpeedKmh(r.DistanceKm, r.DurationMin),
		Passengers:  r.Passengers,
		CreatedAt:   time.Now().UTC(),
	}
}

// TimeSlot buckets trips by the hour they started.
type TimeSlot string

const (
	SlotMorning   TimeSlot = "morning"   // 06:00-11:59
	SlotAfternoon TimeSlot = "afternoon" // 12:00-17:59
	SlotEvening   TimeSlot = "evening"   // 18:00-23:59
	SlotNight     TimeSlot = "night"     // 00:00-05:59
)

// HourRange returns the [from, to) hour range of the slot.
func (s TimeSlot) HourRange() (from, to int, ok bool) {
	switch s {
	case SlotMorning:
		return 6, 12, true
	case SlotAfternoon:
		return 12, 18, true
	case SlotEvening:
		return 18, 24, true
	case SlotNight:
		return 0, 6, true
	default:
		return 0, 0, false
	}
}

// TripFilter narrows a trip listing. Zero values mean "no constraint".
type TripFilter struct {
	Start       time.Time `json:"start,omitempty"`
	End         time.Time `json:"end,omitempty"` // inclusive day when set from a date
	MinDistance *float64  `json:"minDistance,omitempty"`
	MaxDistance *float64  `json:"maxDistance,omitempty"`
	MinFare     *float64  `json:"minFare,omitempty"`
	MaxFare     *float64  `json:"maxFare,omitempty"`
	MinSpeed    *float64  `json:"minSpeed,omitempty"`
	MaxSpeed    *float64  `json:"maxSpeed,omitempty"`

	// Passengers filters by exact count; 5 means five or more.
	Passengers int      `json:"passengers,omitempty"`
	TimeOfDay  TimeSlot `json:"timeOfDay,omitempty"`

	SortBy   string `json:"sortBy,omitempty"`
	SortDesc bool   `json:"sortDesc,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// MaxPassengerBucket is the passenger filter value that matches "this many or more".
const MaxPassengerBucket = 5
