// Package ingest turns CSV files into trips and writes them back out.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/farehawk/internal/domain"
)

// ErrInvalidCSV is returned when a file cannot be read as trips at all.
var ErrInvalidCSV = errors.New("invalid trip csv")

// Format identifies the column layout of a trip CSV.
type Format string

const (
	// FormatCanonical is id,timestamp,distance_km,duration_min,fare,passengers.
	FormatCanonical Format = "canonical"

	// FormatRaw is the taxi export: coordinates, trip_duration in seconds, fare_amount.
	FormatRaw Format = "raw"
)

var canonicalColumns = []string{"id", "timestamp", "distance_km", "duration_min", "fare", "passengers"}

var rawColumns = []string{
	"id", "pickup_datetime",
	"pickup_latitude", "pickup_longitude",
	"dropoff_latitude", "dropoff_longitude",
	"trip_duration", "fare_amount", "passenger_count",
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// RowError describes a row that was skipped.
type RowError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

// Result is the outcome of reading one file.
type Result struct {
	Format  Format         `json:"format"`
	Trips   []*domain.Trip `json:"-"`
	Skipped []RowError     `json:"skipped,omitempty"`
}

// ReadCSV parses trips from r. The layout is chosen from the header row.
// Rows that fail to parse or validate are skipped and reported; a bad header
// fails the whole file.
func ReadCSV(r io.Reader) (*Result, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidCSV)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCSV, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	var (
		format Format
		parse  func(row) (*domain.Trip, error)
	)
	switch {
	case hasAll(cols, canonicalColumns):
		format, parse = FormatCanonical, parseCanonical
	case hasAll(cols, rawColumns):
		format, parse = FormatRaw, parseRaw
	default:
		return nil, fmt.Errorf("%w: header must contain either %s or %s",
			ErrInvalidCSV, strings.Join(canonicalColumns, ","), strings.Join(rawColumns, ","))
	}

	res := &Result{Format: format, Trips: []*domain.Trip{}}
	now := time.Now().UTC()
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			res.skip(line, err)
			continue
		}

		trip, err := parse(row{cols: cols, rec: rec})
		if err == nil {
			err = trip.Validate()
		}
		if err != nil {
			res.skip(line, err)
			continue
		}
		trip.CreatedAt = now
		res.Trips = append(res.Trips, trip)
	}

	return res, nil
}

func (r *Result) skip(line int, err error) {
	slog.Debug("skipping csv row", "line", line, "error", err)
	r.Skipped = append(r.Skipped, RowError{Line: line, Err: err.Error()})
}

func hasAll(cols map[string]int, names []string) bool {
	for _, n := range names {
		if _, ok := cols[n]; !ok {
			return false
		}
	}
	return true
}

type row struct {
	cols map[string]int
	rec  []string
}

func (r row) str(name string) string {
	i := r.cols[name]
	if i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r row) floatField(name string) (float64, error) {
	v, err := strconv.ParseFloat(r.str(name), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}

func (r row) intField(name string) (int, error) {
	s := r.str(name)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	// exports sometimes write counts as floats
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("%s: not an integer: %q", name, s)
	}
	return int(f), nil
}

func (r row) timeField(name string) (time.Time, error) {
	s := r.str(name)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%s: unrecognised time %q", name, s)
}

func parseCanonical(r row) (*domain.Trip, error) {
	ts, err := r.timeField("timestamp")
	if err != nil {
		return nil, err
	}
	distance, err := r.floatField("distance_km")
	if err != nil {
		return nil, err
	}
	duration, err := r.floatField("duration_min")
	if err != nil {
		return nil, err
	}
	fare, err := r.floatField("fare")
	if err != nil {
		return nil, err
	}
	passengers, err := r.intField("passengers")
	if err != nil {
		return nil, err
	}

	return &domain.Trip{
		ID:          r.str("id"),
		Timestamp:   ts,
		DistanceKm:  distance,
		DurationMin: duration,
		Fare:        fare,
		SpeedKmh:    domain.SpeedKmh(distance, duration),
		Passengers:  passengers,
	}, nil
}

func parseRaw(r row) (*domain.Trip, error) {
	ts, err := r.timeField("pickup_datetime")
	if err != nil {
		return nil, err
	}

	var coords [4]float64
	for i, name := range []string{"pickup_latitude", "pickup_longitude", "dropoff_latitude", "dropoff_longitude"} {
		if coords[i], err = r.floatField(name); err != nil {
			return nil, err
		}
	}
	seconds, err := r.floatField("trip_duration")
	if err != nil {
		return nil, err
	}
	fare, err := r.floatField("fare_amount")
	if err != nil {
		return nil, err
	}
	passengers, err := r.intField("passenger_count")
	if err != nil {
		return nil, err
	}

	distance := Haversine(coords[0], coords[1], coords[2], coords[3])
	duration := seconds / 60

	return &domain.Trip{
		ID:          r.str("id"),
		Timestamp:   ts,
		DistanceKm:  distance,
		DurationMin: duration,
		Fare:        fare,
		SpeedKmh:    domain.SpeedKmh(distance, duration),
		Passengers:  passengers,
	}, nil
}

const earthRadiusKm = 6371

// Haversine returns the great-circle distance in km between two points given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// WriteCSV writes trips in the canonical layout plus a derived speed_kmh column.
func WriteCSV(w io.Writer, trips []*domain.Trip) error {
	cw := csv.NewWriter(w)

	header := append(append([]string{}, canonicalColumns...), "speed_kmh")
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, t := range trips {
		err := cw.Write([]string{
			t.ID,
			t.Timestamp.UTC().Format(time.RFC3339),
			strconv.FormatFloat(t.DistanceKm, 'f', -1, 64),
			strconv.FormatFloat(t.DurationMin, 'f', -1, 64),
			strconv.FormatFloat(t.Fare, 'f', -1, 64),
			strconv.Itoa(t.Passengers),
			strconv.FormatFloat(t.SpeedKmh, 'f', 2, 64),
		})
		if err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
