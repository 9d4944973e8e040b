// Package monitor runs detection for a tenant and publishes the outcome.
// It owns the detection pipeline between storage and the API: load the full
// trip collection, detect, swap the index, persist, cache and notify.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/farehawk/internal/detect"
	"github.com/opensource-finance/farehawk/internal/domain"
	"github.com/opensource-finance/farehawk/internal/metrics"
	"github.com/opensource-finance/farehawk/internal/repository"
	"github.com/opensource-finance/farehawk/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrTenantRequired is returned when an operation is called without a tenant.
var ErrTenantRequired = errors.New("tenant id is required")

var tracer = otel.Tracer("farehawk-monitor")

// Service coordinates detection runs. Cache, bus, engine and metrics are optional.
type Service struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	engine  *rules.Engine
	metrics *metrics.Metrics
	indexes *detect.IndexStore
	cfg     domain.DetectionConfig
	now     func() time.Time

	mu          sync.Mutex
	tenantLocks map[string]*sync.Mutex
	rulesLoaded map[string]bool
}

// Option configures a Service.
type Option func(*Service)

// WithCache caches the latest run per tenant.
func WithCache(c domain.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithEventBus publishes completion and alert events.
func WithEventBus(b domain.EventBus) Option {
	return func(s *Service) { s.bus = b }
}

// WithRuleEngine adds the tenant's CEL heuristics after the built-in chain.
func WithRuleEngine(e *rules.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithMetrics records run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a monitor over repo.
func NewService(repo domain.Repository, cfg domain.DetectionConfig, opts ...Option) *Service {
	if cfg.DisplayLimit <= 0 {
		cfg.DisplayLimit = domain.DefaultConfig().Detection.DisplayLimit
	}
	if cfg.ReportTTL <= 0 {
		cfg.ReportTTL = domain.DefaultConfig().Detection.ReportTTL
	}

	s := &Service{
		repo:        repo,
		indexes:     detect.NewIndexStore(),
		cfg:         cfg,
		now:         time.Now,
		tenantLocks: make(map[string]*sync.Mutex),
		rulesLoaded: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the detection settings in effect.
func (s *Service) Config() domain.DetectionConfig {
	return s.cfg
}

func (s *Service) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.tenantLocks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		s.tenantLocks[tenantID] = l
	}
	return l
}

// RunDetection analyses the tenant's complete trip collection and replaces
// its anomaly index. Runs for the same tenant are serialised.
func (s *Service) RunDetection(ctx context.Context, tenantID string) (*domain.DetectionRun, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	ctx, span := tracer.Start(ctx, "monitor.RunDetection",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)),
	)
	defer span.End()

	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	start := s.now()

	run, err := s.runLocked(ctx, tenantID)
	if err != nil {
		s.metrics.RunFailed(tenantID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("detection run failed",
			"tenant_id", tenantID,
			"error", err,
		)
		return nil, err
	}

	elapsed := s.now().Sub(start)
	s.metrics.ObserveRun(tenantID, &run.Report, elapsed)
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int("run.anomaly_count", run.Report.Count()),
		attribute.Int("run.total_analyzed", run.Report.TotalAnalyzed),
	)

	s.publish(ctx, run)

	slog.Info("detection run completed",
		"tenant_id", tenantID,
		"run_id", run.ID,
		"anomaly_count", run.Report.Count(),
		"total_analyzed", run.Report.TotalAnalyzed,
		"duration_ms", elapsed.Milliseconds(),
	)

	return run, nil
}

func (s *Service) runLocked(ctx context.Context, tenantID string) (*domain.DetectionRun, error) {
	trips, err := s.repo.AllTrips(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trips: %w", err)
	}

	var opts []detect.Option
	if s.engine != nil {
		if err := s.ensureRules(ctx, tenantID); err != nil {
			return nil, err
		}
		opts = append(opts, detect.WithHeuristics(s.engine.HeuristicRules(tenantID)...))
	}

	report, idx := detect.NewDetector(opts...).Run(trips)
	s.indexes.Replace(tenantID, idx)

	run := &domain.DetectionRun{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Report:    *report,
		CreatedAt: s.now().UTC(),
		TraceID:   traceID(ctx),
	}

	if err := s.repo.SaveDetectionRun(ctx, tenantID, run); err != nil {
		slog.Error("failed to save detection run",
			"tenant_id", tenantID,
			"run_id", run.ID,
			"error", err,
		)
	}

	if s.cache != nil {
		if err := s.cache.SetReport(ctx, tenantID, run, s.cfg.ReportTTL); err != nil {
			slog.Warn("failed to cache detection run",
				"tenant_id", tenantID,
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	return run, nil
}

func (s *Service) publish(ctx context.Context, run *domain.DetectionRun) {
	if s.bus == nil {
		return
	}

	summary := run.Summary()
	payload, err := json.Marshal(summary)
	if err != nil {
		slog.Error("failed to encode detection summary", "run_id", run.ID, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, run.TenantID, domain.TopicDetectionCompleted, payload); err != nil {
		slog.Error("failed to publish detection summary",
			"run_id", run.ID,
			"error", err,
		)
	}

	if run.Report.Count() == 0 {
		return
	}

	alert, err := json.Marshal(domain.AnomalyAlertEvent{
		DetectionSummary: summary,
		Records:          run.Report.Head(s.cfg.DisplayLimit),
	})
	if err != nil {
		slog.Error("failed to encode anomaly alert", "run_id", run.ID, "error", err)
		return
	}
	if err := s.bus.Publish(ctx, run.TenantID, domain.TopicAnomalyAlert, alert); err != nil {
		slog.Error("failed to publish anomaly alert",
			"run_id", run.ID,
			"error", err,
		)
	}
}

// LatestReport returns the tenant's most recent run: cache first, then storage.
// It returns repository.ErrNotFound before the first run.
func (s *Service) LatestReport(ctx context.Context, tenantID string) (*domain.DetectionRun, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	if s.cache != nil {
		run, err := s.cache.GetReport(ctx, tenantID)
		if err != nil {
			slog.Warn("report cache read failed", "tenant_id", tenantID, "error", err)
		} else if run != nil {
			return run, nil
		}
	}

	run, err := s.repo.LatestDetectionRun(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetReport(ctx, tenantID, run, s.cfg.ReportTTL); err != nil {
			slog.Warn("failed to cache detection run", "tenant_id", tenantID, "error", err)
		}
	}
	return run, nil
}

// GetRun returns a stored run by id.
func (s *Service) GetRun(ctx context.Context, tenantID, runID string) (*domain.DetectionRun, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	return s.repo.GetDetectionRun(ctx, tenantID, runID)
}

// Index returns the tenant's current anomaly index. After a restart the index
// is rebuilt from the latest stored run; it is nil when no run exists yet.
func (s *Service) Index(ctx context.Context, tenantID string) (*domain.AnomalyIndex, error) {
	if idx := s.indexes.Get(tenantID); idx != nil {
		return idx, nil
	}

	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	if idx := s.indexes.Get(tenantID); idx != nil {
		return idx, nil
	}

	run, err := s.repo.LatestDetectionRun(ctx, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	idx := domain.NewAnomalyIndex(run.Report.Records)
	s.indexes.Replace(tenantID, idx)
	return idx, nil
}

// Lookup answers "is this trip anomalous, and why" from the current index.
func (s *Service) Lookup(ctx context.Context, tenantID, tripID string) (domain.Anomaly, bool, error) {
	idx, err := s.Index(ctx, tenantID)
	if err != nil {
		return domain.Anomaly{}, false, err
	}
	a, ok := idx.Lookup(tripID)
	return a, ok, nil
}

// RequestDetection asks workers to run detection asynchronously.
func (s *Service) RequestDetection(ctx context.Context, tenantID string) error {
	if s.bus == nil {
		return errors.New("no event bus configured")
	}
	payload, err := json.Marshal(domain.DetectionRequestedEvent{
		TenantID: tenantID,
		TraceID:  traceID(ctx),
	})
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, tenantID, domain.TopicDetectionRequested, payload)
}

func traceID(ctx context.Context) string {
	if id := domain.TraceIDFromContext(ctx); id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.TraceID().IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
