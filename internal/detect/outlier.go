package detect

import (
	"fmt"
	"math"

	"github.com/opensource-finance/farehawk/internal/domain"
)

// Field selects the trip attribute an outlier pass runs over.
type Field string

const (
	FieldFare  Field = "fare"
	FieldSpeed Field = "speed"
)

// Fence multiplier applied to the interquartile range.
const iqrMultiplier = 1.5

// Value extracts the field from a trip.
func (f Field) Value(t *domain.Trip) float64 {
	switch f {
	case FieldFare:
		return t.Fare
	case FieldSpeed:
		return t.SpeedKmh
	default:
		panic(fmt.Sprintf("detect: unknown field %q", string(f)))
	}
}

// AnomalyType is the classification given to outliers of this field.
func (f Field) AnomalyType() domain.AnomalyType {
	return domain.AnomalyType(f)
}

func (f Field) reason(v float64, b Bounds) string {
	if f == FieldFare {
		return fmt.Sprintf("Fare $%.2f is outside the normal range $%.2f–%.2f", v, b.Lower, b.Upper)
	}
	return fmt.Sprintf("Speed %.2f km/h is outside the normal range %.2f–%.2f km/h", v, b.Lower, b.Upper)
}

// Bounds are the nearest-rank quartiles of a sample and the fences derived from them.
type Bounds struct {
	Q1    float64 `json:"q1"`
	Q3    float64 `json:"q3"`
	IQR   float64 `json:"iqr"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Outside reports whether v lies strictly beyond either fence.
// Values equal to a fence are inside.
func (b Bounds) Outside(v float64) bool {
	return v < b.Lower || v > b.Upper
}

// ComputeBounds derives quartile fences from an unsorted sample.
// Q1 and Q3 are taken at indices floor(n*0.25) and floor(n*0.75) of the
// ascending sample, without interpolation. ok is false for an empty sample.
func ComputeBounds(values []float64) (b Bounds, ok bool) {
	n := len(values)
	if n == 0 {
		return Bounds{}, false
	}

	sorted := SortAscending(values)
	q1Index := int(math.Floor(float64(n) * 0.25))
	q3Index := int(math.Floor(float64(n) * 0.75))

	b.Q1 = sorted[q1Index]
	b.Q3 = sorted[q3Index]
	b.IQR = b.Q3 - b.Q1
	b.Lower = b.Q1 - iqrMultiplier*b.IQR
	b.Upper = b.Q3 + iqrMultiplier*b.IQR
	return b, true
}

// FieldValues extracts field values from trips in input order.
func FieldValues(trips []*domain.Trip, field Field) []float64 {
	values := make([]float64, len(trips))
	for i, t := range trips {
		values[i] = field.Value(t)
	}
	return values
}

// DetectOutliers flags trips whose field value falls outside the sample's
// quartile fences. Records keep the input order of trips.
func DetectOutliers(trips []*domain.Trip, field Field) []domain.Anomaly {
	bounds, ok := ComputeBounds(FieldValues(trips, field))
	if !ok {
		return nil
	}

	var out []domain.Anomaly
	for _, t := range trips {
		v := field.Value(t)
		if !bounds.Outside(v) {
			continue
		}
		out = append(out, domain.Anomaly{
			Trip:   t,
			Type:   field.AnomalyType(),
			Reason: field.reason(v, bounds),
		})
	}
	return out
}
