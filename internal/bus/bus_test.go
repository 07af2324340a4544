package bus

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"go.opentelemetry.io/otel/trace"
)

func receiveOne(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func collect(ch chan<- *domain.Message) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		ch <- msg
		return nil
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		if _, err := bus.Subscribe(ctx, tenantID, domain.TopicAnalysisCompleted, collect(got)); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, tenantID, domain.TopicAnalysisCompleted, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := receiveOne(t, got)
		if string(msg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
		}
		if msg.TenantID != tenantID || msg.Topic != domain.TopicAnalysisCompleted {
			t.Errorf("unexpected envelope %+v", msg)
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Error("expected message id and timestamp")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32
		got := make(chan *domain.Message, 1)

		bus.Subscribe(ctx, "tenant-a", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			got <- msg
			return nil
		})
		bus.Subscribe(ctx, "tenant-b", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-a", "isolation.topic", []byte("msg1"))
		receiveOne(t, got)
		time.Sleep(20 * time.Millisecond)

		if received1.Load() != 1 {
			t.Errorf("tenant-a should receive 1 message, got %d", received1.Load())
		}
		if received2.Load() != 0 {
			t.Errorf("tenant-b should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("AllTenants", func(t *testing.T) {
		got := make(chan *domain.Message, 2)
		if _, err := bus.Subscribe(ctx, domain.AllTenants, domain.TopicAnalysisRequested, collect(got)); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		bus.Publish(ctx, "tenant-x", domain.TopicAnalysisRequested, []byte("x"))
		bus.Publish(ctx, "tenant-y", domain.TopicAnalysisRequested, []byte("y"))

		first, second := receiveOne(t, got), receiveOne(t, got)
		if first.TenantID != "tenant-x" || second.TenantID != "tenant-y" {
			t.Errorf("expected messages in publish order with their tenants, got %s, %s", first.TenantID, second.TenantID)
		}

		if err := bus.Publish(ctx, domain.AllTenants, domain.TopicAnalysisRequested, nil); err == nil {
			t.Error("expected error publishing to all tenants")
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		if sub.Topic() != "unsub.topic" {
			t.Errorf("unexpected topic %s", sub.Topic())
		}

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("late"))
		time.Sleep(20 * time.Millisecond)

		if count.Load() != 0 {
			t.Errorf("expected no delivery after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("TraceContextPropagated", func(t *testing.T) {
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    trace.TraceID{0x4b, 0x65, 0x73, 0x74, 0x72, 0x65, 0x6c, 1, 2, 3, 4, 5, 6, 7, 8, 9},
			SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
			TraceFlags: trace.FlagsSampled,
		})
		pubCtx := trace.ContextWithSpanContext(ctx, sc)

		traces := make(chan trace.TraceID, 1)
		bus.Subscribe(ctx, tenantID, "trace.topic", func(ctx context.Context, msg *domain.Message) error {
			traces <- trace.SpanContextFromContext(ctx).TraceID()
			return nil
		})
		bus.Publish(pubCtx, tenantID, "trace.topic", nil)

		select {
		case got := <-traces:
			if got != sc.TraceID() {
				t.Errorf("expected trace %s, got %s", sc.TraceID(), got)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})
}

func TestChannelBusDropsWhenFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	bus.Subscribe(ctx, "t", "slow", func(ctx context.Context, msg *domain.Message) error {
		started <- struct{}{}
		<-release
		return nil
	})

	bus.Publish(ctx, "t", "slow", nil)
	<-started
	bus.Publish(ctx, "t", "slow", nil) // buffered
	bus.Publish(ctx, "t", "slow", nil) // dropped
	close(release)

	if got := bus.Dropped(); got != 1 {
		t.Errorf("expected 1 dropped message, got %d", got)
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()

	if err := bus.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	if err := bus.Ping(ctx); err == nil {
		t.Error("expected Ping to fail after close")
	}
	if err := bus.Publish(ctx, "t", "topic", nil); err == nil {
		t.Error("expected Publish to fail after close")
	}
	if _, err := bus.Subscribe(ctx, "t", "topic", func(context.Context, *domain.Message) error { return nil }); err == nil {
		t.Error("expected Subscribe to fail after close")
	}
}

func TestNewBus(t *testing.T) {
	for _, typ := range []string{"", "channel"} {
		b, err := New(domain.EventBusConfig{Type: typ})
		if err != nil {
			t.Fatalf("New(%q) failed: %v", typ, err)
		}
		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("New(%q): expected *ChannelBus, got %T", typ, b)
		}
		b.Close()
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}

func TestSubject(t *testing.T) {
	tests := []struct {
		tenant, topic, want string
	}{
		{"acme", domain.TopicAnalysisCompleted, "kestrel.acme.analysis.completed"},
		{domain.AllTenants, domain.TopicAnalysisRequested, "kestrel.*.analysis.requested"},
		{"acme.eu", "scam.reported", "kestrel.acme_eu.scam.reported"},
	}
	for _, tt := range tests {
		if got := Subject(tt.tenant, tt.topic); got != tt.want {
			t.Errorf("Subject(%q, %q) = %q, want %q", tt.tenant, tt.topic, got, tt.want)
		}
	}
}

func TestNATSBus(t *testing.T) {
	url := os.Getenv("KESTREL_TEST_NATS")
	if url == "" {
		t.Skip("KESTREL_TEST_NATS not set")
	}

	bus, err := NewNATSBus(domain.EventBusConfig{NATSUrl: url, NATSMaxReconnects: 1, NATSReconnectWait: 1})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer bus.Close()

	ctx := context.Background()
	if err := bus.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	got := make(chan *domain.Message, 1)
	if _, err := bus.Subscribe(ctx, domain.AllTenants, "nats.test", collect(got)); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := bus.conn.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if err := bus.Publish(ctx, "tenant-n", "nats.test", []byte("over the wire")); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	msg := receiveOne(t, got)
	if msg.TenantID != "tenant-n" || string(msg.Payload) != "over the wire" {
		t.Errorf("unexpected message %+v", msg)
	}
}
