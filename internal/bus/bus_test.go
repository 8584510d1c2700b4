package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hirewise/magpie/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	ctx := context.Background()

	t.Run("DeliversToSubscriber", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var received atomic.Bool
		var gotPayload atomic.Value

		sub, err := b.Subscribe(ctx, "org-001", domain.TopicScanRequested, func(ctx context.Context, msg *domain.Message) error {
			gotPayload.Store(string(msg.Payload))
			received.Store(true)
			return nil
		})
		if err != nil {
			t.Fatalf("failed to subscribe: %v", err)
		}
		defer sub.Unsubscribe()

		if err := b.Publish(ctx, "org-001", domain.TopicScanRequested, []byte(`{"entityType":"candidates"}`)); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}

		time.Sleep(50 * time.Millisecond)

		if !received.Load() {
			t.Fatal("expected subscriber to receive the message")
		}
		if gotPayload.Load() != `{"entityType":"candidates"}` {
			t.Errorf("unexpected payload: %v", gotPayload.Load())
		}
	})

	t.Run("OrganizationIsolation", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var received atomic.Bool
		sub, err := b.Subscribe(ctx, "org-001", domain.TopicScanRequested, func(ctx context.Context, msg *domain.Message) error {
			received.Store(true)
			return nil
		})
		if err != nil {
			t.Fatalf("failed to subscribe: %v", err)
		}
		defer sub.Unsubscribe()

		if err := b.Publish(ctx, "org-002", domain.TopicScanRequested, []byte("x")); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}

		time.Sleep(50 * time.Millisecond)

		if received.Load() {
			t.Error("subscriber received a message for another organization")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var received atomic.Bool
		sub, err := b.Subscribe(ctx, "org-001", domain.TopicScanCompleted, func(ctx context.Context, msg *domain.Message) error {
			received.Store(true)
			return nil
		})
		if err != nil {
			t.Fatalf("failed to subscribe: %v", err)
		}
		defer sub.Unsubscribe()

		if err := b.Publish(ctx, "org-001", domain.TopicScanRequested, []byte("x")); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}

		time.Sleep(50 * time.Millisecond)

		if received.Load() {
			t.Error("subscriber received a message for another topic")
		}
	})

	t.Run("UnsubscribeStopsDelivery", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var count atomic.Int32
		sub, err := b.Subscribe(ctx, "org-001", domain.TopicScanRequested, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("failed to subscribe: %v", err)
		}

		b.Publish(ctx, "org-001", domain.TopicScanRequested, []byte("one"))
		time.Sleep(50 * time.Millisecond)

		sub.Unsubscribe()
		time.Sleep(10 * time.Millisecond)

		b.Publish(ctx, "org-001", domain.TopicScanRequested, []byte("two"))
		time.Sleep(50 * time.Millisecond)

		if got := count.Load(); got != 1 {
			t.Errorf("expected 1 delivery, got %d", got)
		}
	})

	t.Run("MessageEnvelope", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		msgCh := make(chan *domain.Message, 1)
		sub, err := b.Subscribe(ctx, "org-001", domain.TopicDuplicatesDetected, func(ctx context.Context, msg *domain.Message) error {
			msgCh <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("failed to subscribe: %v", err)
		}
		defer sub.Unsubscribe()

		b.Publish(ctx, "org-001", domain.TopicDuplicatesDetected, []byte("x"))

		select {
		case msg := <-msgCh:
			if msg.ID == "" {
				t.Error("expected generated message ID")
			}
			if msg.OrganizationID != "org-001" {
				t.Errorf("expected organization org-001, got %q", msg.OrganizationID)
			}
			if msg.Topic != domain.TopicDuplicatesDetected {
				t.Errorf("unexpected topic %q", msg.Topic)
			}
			if msg.Timestamp == 0 {
				t.Error("expected timestamp to be set")
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	})

	t.Run("MissingOrganization", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		if err := b.Publish(ctx, "", "topic", []byte("x")); err == nil {
			t.Error("expected error for missing organization")
		}
		if _, err := b.Subscribe(ctx, "", "topic", nil); err == nil {
			t.Error("expected error for missing organization")
		}
	})
}

func TestChannelBusRequest(t *testing.T) {
	t.Run("TimesOutWithoutResponder", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		reqCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		if _, err := b.Request(reqCtx, "org-001", "echo", []byte("ping")); err == nil {
			t.Error("expected timeout error without a responder")
		}
	})

	t.Run("ClosedBus", func(t *testing.T) {
		b := NewChannelBus(10)
		b.Close()

		ctx := context.Background()
		if err := b.Publish(ctx, "org-001", "topic", []byte("x")); err == nil {
			t.Error("expected error publishing to closed bus")
		}
		if _, err := b.Subscribe(ctx, "org-001", "topic", nil); err == nil {
			t.Error("expected error subscribing to closed bus")
		}
		if err := b.Ping(ctx); err == nil {
			t.Error("expected ping to fail on closed bus")
		}
	})
}

func TestNewFactory(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel"})
		if err != nil {
			t.Fatalf("failed to create bus: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected channel bus, got %T", b)
		}
	})

	t.Run("DefaultsToChannel", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{})
		if err != nil {
			t.Fatalf("failed to create bus: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected channel bus, got %T", b)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unknown bus type")
		}
	})
}
