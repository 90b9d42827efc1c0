package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Dispatcher delivers negotiation events to the notification system.
// Delivery is best-effort: negotiation state never depends on it.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Envelope is the wire format published on NATS.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Type      Type            `json:"type"`
	Audience  Audience        `json:"audience"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NATSDispatcherConfig configures the NATS dispatcher.
type NATSDispatcherConfig struct {
	URL    string
	Prefix string // Subject prefix (default: "commissions.")
}

// NATSDispatcher publishes events on commissions.{audience}.{type} subjects.
type NATSDispatcher struct {
	nc     *nats.Conn
	prefix string
	owned  bool // whether Close should close the connection
}

// NewNATSDispatcher connects to NATS and returns a dispatcher.
func NewNATSDispatcher(config NATSDispatcherConfig) (*NATSDispatcher, error) {
	nc, err := nats.Connect(
		config.URL,
		nats.Name("commissions-dispatcher"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if config.Prefix == "" {
		config.Prefix = "commissions."
	}

	log.Info().
		Str("nats_url", config.URL).
		Str("prefix", config.Prefix).
		Msg("Notification dispatcher initialized")

	return &NATSDispatcher{
		nc:     nc,
		prefix: config.Prefix,
		owned:  true,
	}, nil
}

// NewNATSDispatcherWithConn wraps an existing connection. The caller retains
// ownership of the connection; Close on the dispatcher does not close it.
func NewNATSDispatcherWithConn(nc *nats.Conn, prefix string) *NATSDispatcher {
	if prefix == "" {
		prefix = "commissions."
	}
	return &NATSDispatcher{nc: nc, prefix: prefix}
}

// Subject returns the NATS subject an event is published on.
func (d *NATSDispatcher) Subject(event Event) string {
	return fmt.Sprintf("%s%s.%s", d.prefix, event.EventAudience(), event.EventType())
}

// Publish serializes and publishes one event.
func (d *NATSDispatcher) Publish(ctx context.Context, event Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !d.nc.IsConnected() {
		return fmt.Errorf("dispatcher not connected")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	envelope := Envelope{
		ID:        uuid.New(),
		Type:      event.EventType(),
		Audience:  event.EventAudience(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event envelope: %w", err)
	}

	subject := d.Subject(event)
	if err := d.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().
		Str("event_id", envelope.ID.String()).
		Str("type", string(envelope.Type)).
		Str("subject", subject).
		Msg("Event published")

	return nil
}

// Close flushes pending publishes and, when the dispatcher dialed its own
// connection, closes it.
func (d *NATSDispatcher) Close() error {
	if d.nc == nil {
		return nil
	}
	if d.nc.IsConnected() {
		if err := d.nc.Flush(); err != nil {
			return fmt.Errorf("failed to flush dispatcher: %w", err)
		}
	}
	if d.owned {
		d.nc.Close()
		log.Info().Msg("Notification dispatcher closed")
	}
	return nil
}

// HandlerFunc consumes a decoded envelope.
type HandlerFunc func(envelope *Envelope)

// Subscribe listens for events matching an audience and type. Either may be
// "*" to match all. Used by the push bridge and by tests.
func (d *NATSDispatcher) Subscribe(audience, eventType string, handler HandlerFunc) (*nats.Subscription, error) {
	subject := fmt.Sprintf("%s%s.%s", d.prefix, audience, eventType)

	sub, err := d.nc.Subscribe(subject, func(msg *nats.Msg) {
		var envelope Envelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("Failed to unmarshal event envelope")
			return
		}
		handler(&envelope)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	log.Info().Str("subject", subject).Msg("Subscribed to events")
	return sub, nil
}

// NoopDispatcher discards events. Used when NATS is disabled and in tests.
type NoopDispatcher struct{}

func (NoopDispatcher) Publish(ctx context.Context, event Event) error { return nil }
func (NoopDispatcher) Close() error                                   { return nil }
