// Package worker re-runs detection in the background when trips arrive.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/farehawk/internal/domain"
	"github.com/opensource-finance/farehawk/internal/monitor"
)

// Worker triggers detection runs from EventBus messages.
type Worker struct {
	bus     domain.EventBus
	monitor *monitor.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	processed     int64
	failed        int64

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to serve (empty = global subscription)
	TenantIDs []string
}

// topics are the messages that lead to a detection run.
var topics = []string{
	domain.TopicTripsIngested,
	domain.TopicDetectionRequested,
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, svc *monitor.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		monitor: svc,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker serves every tenant through the bus's global subscription.
func (w *Worker) startGlobalWorker() error {
	for _, topic := range topics {
		sub, err := w.bus.Subscribe(w.ctx, domain.GlobalTenantID, topic, w.handleMessage)
		if err != nil {
			return err
		}
		w.track(sub)
	}

	slog.Info("global worker started")
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	for _, topic := range topics {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
			return w.process(ctx, tenantID, msg)
		})
		if err != nil {
			return err
		}
		w.track(sub)

		slog.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", topic,
		)
	}
	return nil
}

func (w *Worker) track(sub domain.Subscription) {
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.process(ctx, msg.TenantID, msg)
}

// process runs detection for the tenant the message names.
func (w *Worker) process(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	trig := decodeTrigger(msg)
	if trig.TenantID != "" {
		tenantID = trig.TenantID
	}
	if trig.TraceID != "" {
		ctx = domain.ContextWithTraceID(ctx, trig.TraceID)
	}

	slog.Debug("processing detection trigger",
		"topic", msg.Topic,
		"tenant_id", tenantID,
		"message_id", msg.ID,
	)

	run, err := w.monitor.RunDetection(ctx, tenantID)
	if err != nil {
		w.mu.Lock()
		w.failed++
		w.mu.Unlock()
		return err
	}

	w.mu.Lock()
	w.processed++
	w.mu.Unlock()

	slog.Info("detection triggered by event",
		"topic", msg.Topic,
		"tenant_id", tenantID,
		"run_id", run.ID,
		"anomaly_count", run.Report.Count(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

type trigger struct {
	TenantID string `json:"tenantId"`
	TraceID  string `json:"traceId"`
}

// decodeTrigger reads either trigger payload; both carry tenantId.
// An unreadable payload falls back to the message's tenant.
func decodeTrigger(msg *domain.Message) trigger {
	var t trigger
	if err := json.Unmarshal(msg.Payload, &t); err != nil {
		slog.Warn("unreadable trigger payload",
			"topic", msg.Topic,
			"message_id", msg.ID,
			"error", err,
		)
	}
	return t
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	RunsTriggered     int64    `json:"runsTriggered"`
	RunsFailed        int64    `json:"runsFailed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		names[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            names,
		RunsTriggered:     w.processed,
		RunsFailed:        w.failed,
	}
}
