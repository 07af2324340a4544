// Package bus provides the event bus implementations for Kestrel.
package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"go.opentelemetry.io/otel/propagation"
)

// subjectPrefix namespaces every Kestrel subject.
const subjectPrefix = "kestrel"

var propagator = propagation.TraceContext{}

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newMessage wraps payload in an envelope carrying the caller's trace context.
func newMessage(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	propagator.Inject(ctx, propagation.MapCarrier(msg.Metadata))
	return msg
}

// handlerContext restores the publisher's trace context for a handler.
func handlerContext(ctx context.Context, msg *domain.Message) context.Context {
	if len(msg.Metadata) == 0 {
		return ctx
	}
	return propagator.Extract(ctx, propagation.MapCarrier(msg.Metadata))
}

// Subject returns the wire subject for a tenant topic. Dots in tenant IDs
// are replaced so the tenant stays a single subject token.
func Subject(tenantID, topic string) string {
	return subjectPrefix + "." + strings.ReplaceAll(tenantID, ".", "_") + "." + topic
}

func validateTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return nil
}
