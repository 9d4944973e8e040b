package repository

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/farehawk/internal/domain"
)

// sortColumns whitelists the sort keys accepted by ListTrips.
var sortColumns = map[string]string{
	"timestamp":  "pickup_unix",
	"distance":   "distance_km",
	"duration":   "duration_min",
	"fare":       "fare",
	"speed":      "speed_kmh",
	"passengers": "passengers",
}

// SortKeys returns the accepted sort keys.
func SortKeys() []string {
	return []string{"timestamp", "distance", "duration", "fare", "speed", "passengers"}
}

// ValidSortKey reports whether key can be used as TripFilter.SortBy.
func ValidSortKey(key string) bool {
	_, ok := sortColumns[key]
	return ok
}

// tripWhere builds the WHERE clause for a tenant-scoped trip filter.
func tripWhere(tenantID string, f domain.TripFilter) (string, []any, error) {
	conds := []string{"tenant_id = ?"}
	args := []any{tenantID}

	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}

	if !f.Start.IsZero() {
		add("pickup_unix >= ?", f.Start.UnixMilli())
	}
	if !f.End.IsZero() {
		add("pickup_unix <= ?", f.End.UnixMilli())
	}

	ranges := []struct {
		column string
		min    *float64
		max    *float64
	}{
		{"distance_km", f.MinDistance, f.MaxDistance},
		{"fare", f.MinFare, f.MaxFare},
		{"speed_kmh", f.MinSpeed, f.MaxSpeed},
	}
	for _, r := range ranges {
		if r.min != nil {
			add(r.column+" >= ?", *r.min)
		}
		if r.max != nil {
			add(r.column+" <= ?", *r.max)
		}
	}

	switch {
	case f.Passengers >= domain.MaxPassengerBucket:
		add("passengers >= ?", domain.MaxPassengerBucket)
	case f.Passengers > 0:
		add("passengers = ?", f.Passengers)
	}

	if f.TimeOfDay != "" {
		from, to, ok := f.TimeOfDay.HourRange()
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown time of day %q", ErrInvalidInput, f.TimeOfDay)
		}
		add("pickup_hour >= ?", from)
		add("pickup_hour < ?", to)
	}

	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// tripOrder builds ORDER BY and pagination. Ingestion order breaks ties.
func tripOrder(f domain.TripFilter) (string, error) {
	var b strings.Builder
	b.WriteString(" ORDER BY ")

	if f.SortBy != "" {
		col, ok := sortColumns[f.SortBy]
		if !ok {
			return "", fmt.Errorf("%w: unknown sort key %q", ErrInvalidInput, f.SortBy)
		}
		dir := "ASC"
		if f.SortDesc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, "%s %s, ", col, dir)
	}
	b.WriteString("seq ASC")

	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
		if f.Offset > 0 {
			fmt.Fprintf(&b, " OFFSET %d", f.Offset)
		}
	}
	return b.String(), nil
}
