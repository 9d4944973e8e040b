package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `json:"type" yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `json:"natsUrl" yaml:"natsUrl"`
	NATSToken         string `json:"-" yaml:"natsToken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"natsReconnectWait"` // seconds
}

// GlobalTenantID is the subscription tenant used when a worker serves every tenant.
const GlobalTenantID = "_global"

// Topic names for the detection pipeline.
const (
	TopicTripsIngested      = "farehawk.trips.ingested"
	TopicDetectionRequested = "farehawk.detection.requested"
	TopicDetectionCompleted = "farehawk.detection.completed"
	TopicAnomalyAlert       = "farehawk.anomaly.alert"
)

// TripsIngestedEvent is published after a batch of trips is stored.
type TripsIngestedEvent struct {
	TenantID string `json:"tenantId"`
	Count    int    `json:"count"`
	Source   string `json:"source"` // "api", "csv", "sample"
	TraceID  string `json:"traceId,omitempty"`
}

// AnomalyAlertEvent is published when a run flags at least one trip.
type AnomalyAlertEvent struct {
	DetectionSummary
	Records []Anomaly `json:"records"` // first DisplayLimit records
}

// DetectionRequestedEvent asks a worker to re-run detection for a tenant.
type DetectionRequestedEvent struct {
	TenantID string `json:"tenantId"`
	TraceID  string `json:"traceId,omitempty"`
}
