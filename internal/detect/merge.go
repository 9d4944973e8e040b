package detect

import "github.com/opensource-finance/farehawk/internal/domain"

// Merge concatenates the source lists, keeping only the first record seen for
// each trip id. Sources are scanned in argument order, each left to right.
func Merge(sources ...[]domain.Anomaly) []domain.Anomaly {
	total := 0
	for _, src := range sources {
		total += len(src)
	}

	seen := make(map[string]struct{}, total)
	merged := make([]domain.Anomaly, 0, total)
	for _, src := range sources {
		for _, a := range src {
			id := a.TripID()
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, a)
		}
	}
	return merged
}
