package notifications

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalaikatha/commissions/internal/db"
	"github.com/kalaikatha/commissions/internal/events"
)

type recordingService struct {
	mu    sync.Mutex
	sends []recordedSend
}

type recordedSend struct {
	UserID       string
	Notification Notification
}

func (r *recordingService) SendToUser(ctx context.Context, userID string, notification Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, recordedSend{UserID: userID, Notification: notification})
	return nil
}

func (r *recordingService) RegisterDevice(ctx context.Context, userID, deviceToken string, platform Platform) error {
	return nil
}

func (r *recordingService) UnregisterDevice(ctx context.Context, deviceToken string) error {
	return nil
}

func (r *recordingService) GetUserDevices(ctx context.Context, userID string) ([]Device, error) {
	return nil, nil
}

func (r *recordingService) UpdatePreferences(ctx context.Context, userID string, prefs Preferences) error {
	return nil
}

func (r *recordingService) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	return DefaultPreferences(), nil
}

func (r *recordingService) last(t *testing.T) recordedSend {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.sends)
	return r.sends[len(r.sends)-1]
}

func envelopeFor(t *testing.T, event events.Event) *events.Envelope {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return &events.Envelope{
		ID:        uuid.New(),
		Type:      event.EventType(),
		Audience:  event.EventAudience(),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

func TestBridgeRoutesSellerEvents(t *testing.T) {
	service := &recordingService{}
	bridge := NewBridge(nil, service)
	orderID := uuid.New()

	bridge.handleEnvelope(envelopeFor(t, events.OrderOpenedForSeller{
		OrderID:    orderID,
		SellerID:   "seller-a",
		DeadlineAt: fixedTime().Add(7 * 24 * time.Hour),
	}))

	sent := service.last(t)
	assert.Equal(t, "seller-a", sent.UserID)
	assert.Equal(t, events.TypeOrderOpenedForSeller, sent.Notification.Type)
	assert.Equal(t, "New Commission Request", sent.Notification.Title)
	assert.Equal(t, orderID.String(), sent.Notification.Data["order_id"])
	assert.Equal(t, "high", sent.Notification.Priority)
}

func TestBridgeRoutesBuyerEvents(t *testing.T) {
	service := &recordingService{}
	bridge := NewBridge(nil, service)
	orderID := uuid.New()

	bridge.handleEnvelope(envelopeFor(t, events.OfferReceived{
		OrderID:  orderID,
		BuyerID:  "buyer-1",
		SellerID: "seller-a",
		Price:    300000,
		Origin:   db.OfferOriginSeller,
	}))

	sent := service.last(t)
	assert.Equal(t, "buyer-1", sent.UserID)
	assert.Equal(t, "Offer Received", sent.Notification.Title)
	assert.Contains(t, sent.Notification.Body, "₹3000.00")
	assert.Equal(t, "seller-a", sent.Notification.Data["seller_id"])
}

func TestBridgeMarksFinalOffers(t *testing.T) {
	service := &recordingService{}
	bridge := NewBridge(nil, service)

	bridge.handleEnvelope(envelopeFor(t, events.CounterOffered{
		OrderID:  uuid.New(),
		SellerID: "seller-a",
		Price:    310000,
		Origin:   db.OfferOriginAutoAgent,
		Final:    true,
	}))

	sent := service.last(t)
	assert.Equal(t, "seller-a", sent.UserID)
	assert.Equal(t, "Final Counter-Offer", sent.Notification.Title)
}

func TestBridgeRoutesTerminalEvents(t *testing.T) {
	service := &recordingService{}
	bridge := NewBridge(nil, service)
	orderID := uuid.New()

	bridge.handleEnvelope(envelopeFor(t, events.OrderFulfilled{
		OrderID:  orderID,
		BuyerID:  "buyer-1",
		SellerID: "seller-a",
		Price:    300000,
	}))
	bridge.handleEnvelope(envelopeFor(t, events.SlotDeclinedElsewhere{
		OrderID:  orderID,
		SellerID: "seller-b",
	}))
	bridge.handleEnvelope(envelopeFor(t, events.OrderExpired{
		OrderID: orderID,
		BuyerID: "buyer-1",
	}))
	bridge.handleEnvelope(envelopeFor(t, events.OrderCancelled{
		OrderID:  orderID,
		SellerID: "seller-a",
	}))

	require.Len(t, service.sends, 4)
	assert.Equal(t, "Commission Confirmed", service.sends[0].Notification.Title)
	assert.Equal(t, "seller-b", service.sends[1].UserID)
	assert.Equal(t, "Commission Expired", service.sends[2].Notification.Title)
	assert.Equal(t, "Commission Withdrawn", service.sends[3].Notification.Title)
}

func TestBridgeIgnoresUnknownEventTypes(t *testing.T) {
	service := &recordingService{}
	bridge := NewBridge(nil, service)

	bridge.handleEnvelope(&events.Envelope{
		ID:      uuid.New(),
		Type:    events.Type("mystery"),
		Payload: json.RawMessage(`{}`),
	})

	assert.Empty(t, service.sends)
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "₹3200.00", FormatMoney(320000))
	assert.Equal(t, "₹0.50", FormatMoney(50))
	assert.Equal(t, "₹0.00", FormatMoney(0))
	assert.Equal(t, "-₹12.05", FormatMoney(-1205))
}
