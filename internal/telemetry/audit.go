package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Publisher is the transport audit events leave through.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// AuditEmitter records messaging-flow events (sends, reads, connections) for
// the learning center's audit trail.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

// AuditEnvelope is the published audit record.
type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id,omitempty"`
	TraceID       string       `json:"trace_id,omitempty"`
	UserID        *int         `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

// AuditPayload describes the audited action.
type AuditPayload struct {
	Action    string `json:"action"`
	MessageID int64  `json:"message_id,omitempty"`
	PeerID    int    `json:"peer_id,omitempty"`
}

// NewAuditEmitter builds an emitter; publisher may be a noop.
func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes one audit record. Failures are logged and swallowed: the
// audit trail never blocks message flow.
func (e *AuditEmitter) Emit(ctx context.Context, action string, userID *int, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}

	payload.Action = action
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "messaging_audit",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		UserID:        userID,
		Payload:       payload,
	}
	if span := trace.SpanContextFromContext(ctx); span.HasTraceID() {
		envelope.TraceID = span.TraceID().String()
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope, nil); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}
