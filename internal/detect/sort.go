// Package detect implements the trip anomaly detectors: quartile-based
// outlier bounds for fare and speed, an ordered heuristic rule chain, and the
// merge step that combines them into a single deduplicated report.
package detect

import "slices"

// SortAscending returns a sorted copy of values. The input is left untouched.
func SortAscending(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	slices.Sort(sorted)
	return sorted
}
