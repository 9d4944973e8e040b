package api

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/farehawk/internal/domain"
	"github.com/opensource-finance/farehawk/internal/repository"
)

var errBadQuery = errors.New("invalid query parameter")

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

const dateLayout = "2006-01-02"

// parseFilter reads trip filters from the query string:
// start, end (date or RFC3339), min/max Distance, Fare and Speed,
// passengers, timeOfDay, sortBy, order (asc|desc), limit and offset.
func parseFilter(q url.Values) (domain.TripFilter, error) {
	var f domain.TripFilter
	var err error

	if f.Start, err = queryTime(q, "start", false); err != nil {
		return f, err
	}
	if f.End, err = queryTime(q, "end", true); err != nil {
		return f, err
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return f, fmt.Errorf("%w: end is before start", errBadQuery)
	}

	ranges := []struct {
		name string
		dst  **float64
	}{
		{"minDistance", &f.MinDistance},
		{"maxDistance", &f.MaxDistance},
		{"minFare", &f.MinFare},
		{"maxFare", &f.MaxFare},
		{"minSpeed", &f.MinSpeed},
		{"maxSpeed", &f.MaxSpeed},
	}
	for _, r := range ranges {
		if *r.dst, err = queryFloat(q, r.name); err != nil {
			return f, err
		}
	}

	if f.Passengers, err = queryInt(q, "passengers", 0); err != nil {
		return f, err
	}
	if f.Passengers < 0 {
		return f, fmt.Errorf("%w: passengers must not be negative", errBadQuery)
	}

	if slot := q.Get("timeOfDay"); slot != "" {
		f.TimeOfDay = domain.TimeSlot(strings.ToLower(slot))
		if _, _, ok := f.TimeOfDay.HourRange(); !ok {
			return f, fmt.Errorf("%w: timeOfDay must be morning, afternoon, evening or night", errBadQuery)
		}
	}

	if f.SortBy = q.Get("sortBy"); f.SortBy != "" && !repository.ValidSortKey(f.SortBy) {
		return f, fmt.Errorf("%w: sortBy must be one of %s", errBadQuery, strings.Join(repository.SortKeys(), ", "))
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		f.SortDesc = true
	default:
		return f, fmt.Errorf("%w: order must be asc or desc", errBadQuery)
	}

	if f.Limit, err = queryInt(q, "limit", defaultPageSize); err != nil {
		return f, err
	}
	if f.Limit < 1 || f.Limit > maxPageSize {
		return f, fmt.Errorf("%w: limit must be between 1 and %d", errBadQuery, maxPageSize)
	}
	if f.Offset, err = queryInt(q, "offset", 0); err != nil {
		return f, err
	}
	if f.Offset < 0 {
		return f, fmt.Errorf("%w: offset must not be negative", errBadQuery)
	}

	return f, nil
}

// queryTime accepts a date or an RFC3339 timestamp. A bare end date covers
// the whole day.
func queryTime(q url.Values, name string, endOfDay bool) (time.Time, error) {
	v := q.Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD or RFC3339", errBadQuery, name)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Millisecond)
	}
	return t, nil
}

func queryFloat(q url.Values, name string) (*float64, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", errBadQuery, name)
	}
	return &f, nil
}

func queryInt(q url.Values, name string, def int) (int, error) {
	v := q.Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadQuery, name)
	}
	return n, nil
}
