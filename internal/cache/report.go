package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/farehawk/internal/domain"
)

// byteStore is the raw key/value surface shared by every cache tier.
type byteStore interface {
	Get(ctx context.Context, tenantID string, key string) ([]byte, error)
	Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error
}

// getReport decodes the cached latest run. A miss returns nil, nil.
func getReport(ctx context.Context, s byteStore, tenantID string) (*domain.DetectionRun, error) {
	data, err := s.Get(ctx, tenantID, domain.ReportCacheKey)
	if err != nil || data == nil {
		return nil, err
	}

	var run domain.DetectionRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to decode cached report: %w", err)
	}
	return &run, nil
}

func setReport(ctx context.Context, s byteStore, tenantID string, run *domain.DetectionRun, ttl time.Duration) error {
	if run == nil {
		return fmt.Errorf("run is required")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return s.Set(ctx, tenantID, domain.ReportCacheKey, data, ttl)
}
