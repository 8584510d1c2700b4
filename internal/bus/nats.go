package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/hirewise/magpie/internal/domain"
)

// NATSBus implements EventBus using NATS.
// Used as the Pro tier event bus.
type NATSBus struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSBus creates a new NATS-backed event bus.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}

	maxReconnects := cfg.NATSMaxReconnects
	if maxReconnects == 0 {
		maxReconnects = -1
	}
	reconnectWait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}

	opts := []nats.Option{
		nats.Name("magpie"),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return &NATSBus{conn: conn, prefix: "magpie"}, nil
}

// Publish sends a message to a topic.
func (b *NATSBus) Publish(ctx context.Context, organizationID string, topic string, payload []byte) error {
	if organizationID == "" {
		return fmt.Errorf("organizationID is required")
	}

	msg := &domain.Message{
		ID:             uuid.New().String(),
		OrganizationID: organizationID,
		Topic:          topic,
		Payload:        payload,
		Metadata:       make(map[string]string),
		Timestamp:      time.Now().UnixNano(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := b.conn.Publish(b.makeSubject(organizationID, topic), data); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}
	return nil
}

// Subscribe registers a handler for a topic.
func (b *NATSBus) Subscribe(ctx context.Context, organizationID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("organizationID is required")
	}

	sub, err := b.conn.Subscribe(b.makeSubject(organizationID, topic), func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("failed to unmarshal message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, &msg); err != nil {
			slog.Error("message handler failed", "topic", msg.Topic, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return &natsSubscription{sub: sub, topic: topic}, nil
}

// Request implements request-reply using NATS request semantics.
func (b *NATSBus) Request(ctx context.Context, organizationID string, topic string, payload []byte) ([]byte, error) {
	if organizationID == "" {
		return nil, fmt.Errorf("organizationID is required")
	}

	msg := &domain.Message{
		ID:             uuid.New().String(),
		OrganizationID: organizationID,
		Topic:          topic,
		Payload:        payload,
		Metadata:       make(map[string]string),
		Timestamp:      time.Now().UnixNano(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	reply, err := b.conn.RequestWithContext(ctx, b.makeSubject(organizationID, topic), data)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	var replyMsg domain.Message
	if err := json.Unmarshal(reply.Data, &replyMsg); err != nil {
		// Replies are not required to use the envelope format.
		return reply.Data, nil
	}
	return replyMsg.Payload, nil
}

// Ping checks NATS connectivity.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("nats not connected: %s", b.conn.Status())
	}
	return nil
}

// Close drains and closes the NATS connection.
func (b *NATSBus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}

func (b *NATSBus) makeSubject(organizationID, topic string) string {
	return b.prefix + "." + organizationID + "." + topic
}

type natsSubscription struct {
	sub   *nats.Subscription
	topic string
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string {
	return s.topic
}
