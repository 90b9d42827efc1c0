package notifications

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalaikatha/commissions/internal/events"
)

func TestFCMBackendFallsBackToMock(t *testing.T) {
	ctx := context.Background()

	t.Run("empty credentials path", func(t *testing.T) {
		backend, err := NewFCMBackend(ctx, "")
		require.NoError(t, err)
		assert.True(t, backend.IsMock())
		assert.Equal(t, "fcm_mock", backend.Name())
	})

	t.Run("missing credentials file", func(t *testing.T) {
		backend, err := NewFCMBackend(ctx, "/nonexistent/fcm-credentials.json")
		require.NoError(t, err)
		assert.True(t, backend.IsMock())
	})
}

func TestMockFCMSend(t *testing.T) {
	ctx := context.Background()
	backend, err := NewFCMBackend(ctx, "")
	require.NoError(t, err)

	notification := Notification{
		Type:     events.TypeOfferReceived,
		Title:    "Offer Received",
		Body:     "A seller offered ₹3000.00 for your commission.",
		Priority: "high",
	}

	assert.NoError(t, backend.Send(ctx, "test-token", notification))

	response, err := backend.SendMulticast(ctx, []string{"token-1", "token-2"}, notification)
	require.NoError(t, err)
	assert.Equal(t, 2, response.SuccessCount)

	assert.NoError(t, backend.Close())
}

func TestFCMMessagePayload(t *testing.T) {
	backend := &FCMBackend{}

	msg := backend.message("tok-1", Notification{
		Type:     events.TypeOfferReceived,
		Title:    "Offer Received",
		Body:     "A seller offered ₹3000.00 for your commission.",
		Data:     map[string]string{"order_id": "o-1"},
		Priority: PriorityHigh,
	})

	assert.Equal(t, "tok-1", msg.Token)
	assert.Equal(t, "Offer Received", msg.Notification.Title)
	assert.Equal(t, "o-1", msg.Data["order_id"])
	assert.Equal(t, string(events.TypeOfferReceived), msg.Data["event_type"])
	require.NotNil(t, msg.Android)
	assert.Equal(t, "high", msg.Android.Priority)
	require.NotNil(t, msg.APNS)
	assert.Equal(t, "10", msg.APNS.Headers["apns-priority"])

	quiet := backend.message("tok-2", Notification{
		Type:     events.TypeOrderExpired,
		Title:    "Commission Expired",
		Priority: PriorityNormal,
	})
	assert.Nil(t, quiet.Android)
	assert.Nil(t, quiet.APNS)
}

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		valid bool
	}{
		{
			name:  "plausible token",
			token: strings.Repeat("a1B2-", 31), // 155 chars
			valid: true,
		},
		{
			name:  "too short",
			token: "short-token",
			valid: false,
		},
		{
			name:  "too long",
			token: strings.Repeat("x", 250),
			valid: false,
		},
		{
			name:  "invalid characters",
			token: strings.Repeat("a", 150) + "!!",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidateToken(tt.token))
		})
	}
}
