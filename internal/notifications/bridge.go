package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/kalaikatha/commissions/internal/db"
	"github.com/kalaikatha/commissions/internal/events"
)

// EventSource is the subscription side of the event dispatcher
type EventSource interface {
	Subscribe(audience, eventType string, handler events.HandlerFunc) (*nats.Subscription, error)
}

// Bridge consumes negotiation events and turns them into push notifications.
// It runs beside the negotiation engine but never feeds back into it; a
// failed delivery only shows up in the log and metrics.
type Bridge struct {
	source      EventSource
	service     Service
	sub         *nats.Subscription
	sendTimeout time.Duration
}

// NewBridge creates an event to push notification bridge
func NewBridge(source EventSource, service Service) *Bridge {
	return &Bridge{
		source:      source,
		service:     service,
		sendTimeout: 10 * time.Second,
	}
}

// Start subscribes to all negotiation events
func (b *Bridge) Start() error {
	sub, err := b.source.Subscribe("*", "*", b.handleEnvelope)
	if err != nil {
		return fmt.Errorf("failed to subscribe to negotiation events: %w", err)
	}
	b.sub = sub

	log.Info().Msg("Notification bridge started")
	return nil
}

// Stop unsubscribes from negotiation events
func (b *Bridge) Stop() error {
	if b.sub == nil {
		return nil
	}
	if err := b.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	b.sub = nil

	log.Info().Msg("Notification bridge stopped")
	return nil
}

// handleEnvelope routes one decoded event envelope to a push notification
func (b *Bridge) handleEnvelope(envelope *events.Envelope) {
	userID, notification, err := b.translate(envelope)
	if err != nil {
		log.Warn().
			Err(err).
			Str("event_id", envelope.ID.String()).
			Str("event_type", string(envelope.Type)).
			Msg("Failed to translate event into notification")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
	defer cancel()

	if err := b.service.SendToUser(ctx, userID, notification); err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("event_type", string(envelope.Type)).
			Msg("Failed to deliver event notification")
	}
}

// translate maps an event envelope to its recipient and push content
func (b *Bridge) translate(envelope *events.Envelope) (string, Notification, error) {
	switch envelope.Type {
	case events.TypeOrderOpenedForSeller:
		var ev events.OrderOpenedForSeller
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			return "", Notification{}, err
		}
		return ev.SellerID, Notification{
			Type:  envelope.Type,
			Title: "New Commission Request",
			Body: fmt.Sprintf("A buyer requested a custom commission. Respond by %s.",
				ev.DeadlineAt.Format("Jan 2")),
			Data: map[string]string{
				"order_id":    ev.OrderID.String(),
				"deadline_at": ev.DeadlineAt.Format(time.RFC3339),
			},
			Priority: PriorityHigh,
		}, nil

	case events.TypeOfferReceived:
		var ev events.OfferReceived
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			return "", Notification{}, err
		}
		title := "Offer Received"
		if ev.Final {
			title = "Final Offer Received"
		}
		return ev.BuyerID, Notification{
			Type:  envelope.Type,
			Title: title,
			Body:  fmt.Sprintf("A seller offered %s for your commission.", FormatMoney(ev.Price)),
			Data: map[string]string{
				"order_id":  ev.OrderID.String(),
				"seller_id": ev.SellerID,
				"price":     fmt.Sprintf("%d", ev.Price),
				"origin":    string(ev.Origin),
			},
			Priority: PriorityHigh,
		}, nil

	case events.TypeCounterOffered:
		var ev events.CounterOffered
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			return "", Notification{}, err
		}
		title := "Counter-Offer"
		if ev.Final {
			title = "Final Counter-Offer"
		}
		return ev.SellerID, Notification{
			Type:  envelope.Type,
			Title: title,
			Body:  fmt.Sprintf("The buyer countered at %s.", FormatMoney(ev.Price)),
			Data: map[string]string{
				"order_id": ev.OrderID.String(),
				"price":    fmt.Sprintf("%d", ev.Price),
				"origin":   string(ev.Origin),
			},
			Priority: PriorityHigh,
		}, nil

	case events.TypeOrderFulfilled:
		var ev events.OrderFulfilled
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			return "", Notification{}, err
		}
		return ev.BuyerID, Notification{
			Type:  envelope.Type,
			Title: "Commission Confirmed",
			Body:  fmt.Sprintf("Your commission was accepted at %s.", FormatMoney(ev.Price)),
			Data: map[string]string{
				"order_id":  ev.OrderID.String(),
				"seller_id": ev.SellerID,
				"price":     fmt.Sprintf("%d", ev.Price),
			},
			Priority: PriorityHigh,
		}, nil

	case events.TypeOrderExpired:
		var ev events.OrderExpired
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			return "", Notification{}, err
		}
		return ev.BuyerID, Notification{
			Type:  envelope.Type,
			Title: "Commission Expired",
			Body:  "No seller accepted your commission before the deadline.",
			Data: map[string]string{
				"order_id": ev.OrderID.String(),
			},
			Priority: PriorityNormal,
		}, nil

	case events.TypeOrderCancelled:
		var ev events.OrderCancelled
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			return "", Notification{}, err
		}
		return ev.SellerID, Notification{
			Type:  envelope.Type,
			Title: "Commission Withdrawn",
			Body:  "The buyer withdrew a commission you were negotiating.",
			Data: map[string]string{
				"order_id": ev.OrderID.String(),
			},
			Priority: PriorityNormal,
		}, nil

	case events.TypeSlotDeclinedElsewhere:
		var ev events.SlotDeclinedElsewhere
		if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
			return "", Notification{}, err
		}
		return ev.SellerID, Notification{
			Type:  envelope.Type,
			Title: "Commission Filled",
			Body:  "A commission you were negotiating was fulfilled by another seller.",
			Data: map[string]string{
				"order_id": ev.OrderID.String(),
			},
			Priority: PriorityNormal,
		}, nil

	default:
		return "", Notification{}, fmt.Errorf("unknown event type %q", envelope.Type)
	}
}

// FormatMoney renders a paise amount as rupees for display
func FormatMoney(m db.Money) string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	return fmt.Sprintf("%s₹%d.%02d", sign, m/100, m%100)
}
