package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Registration token plausibility bounds. Real FCM tokens run 152-163
// characters but the format is not contractual, so the bounds are loose.
const (
	fcmTokenMinLen = 100
	fcmTokenMaxLen = 200
)

// FCMBackend delivers notifications through Firebase Cloud Messaging. A
// backend built without usable credentials runs in mock mode: deliveries
// are logged, never sent, so development environments work without a
// Firebase project.
type FCMBackend struct {
	client *messaging.Client
}

// NewFCMBackend initializes the messaging client from a service-account
// credentials file. An empty or unreadable path yields a mock backend, not
// an error.
func NewFCMBackend(ctx context.Context, credentialsPath string) (*FCMBackend, error) {
	if credentialsPath == "" {
		log.Warn().Msg("FCM credentials not configured, push deliveries will be logged only")
		return &FCMBackend{}, nil
	}
	if _, err := os.Stat(credentialsPath); err != nil {
		log.Warn().
			Err(err).
			Str("path", credentialsPath).
			Msg("FCM credentials unreadable, push deliveries will be logged only")
		return &FCMBackend{}, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsPath))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize messaging client: %w", err)
	}

	log.Info().Msg("FCM backend ready")
	return &FCMBackend{client: client}, nil
}

// Send delivers one notification to one device.
func (f *FCMBackend) Send(ctx context.Context, deviceToken string, n Notification) error {
	if f.client == nil {
		f.logDelivery(deviceToken, n)
		return nil
	}

	id, err := f.client.Send(ctx, f.message(deviceToken, n))
	if err != nil {
		return fmt.Errorf("fcm send: %w", err)
	}

	log.Debug().
		Str("message_id", id).
		Str("device_token", maskToken(deviceToken)).
		Str("type", string(n.Type)).
		Msg("Push delivered")
	return nil
}

// SendMulticast delivers one notification to a batch of devices, reporting
// per-token outcomes.
func (f *FCMBackend) SendMulticast(ctx context.Context, deviceTokens []string, n Notification) (*messaging.BatchResponse, error) {
	if f.client == nil {
		for _, token := range deviceTokens {
			f.logDelivery(token, n)
		}
		return &messaging.BatchResponse{SuccessCount: len(deviceTokens)}, nil
	}

	msg := &messaging.MulticastMessage{
		Tokens:       deviceTokens,
		Notification: &messaging.Notification{Title: n.Title, Body: n.Body},
		Data:         payloadData(n),
	}
	if n.Priority == PriorityHigh {
		msg.Android = androidHighPriority()
		msg.APNS = apnsHighPriority()
	}

	response, err := f.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("fcm multicast: %w", err)
	}

	log.Info().
		Int("delivered", response.SuccessCount).
		Int("failed", response.FailureCount).
		Str("type", string(n.Type)).
		Msg("Push multicast complete")
	return response, nil
}

// message builds the single-device payload. The event type rides along in
// the data map so clients can route a tap without parsing the body.
func (f *FCMBackend) message(token string, n Notification) *messaging.Message {
	msg := &messaging.Message{
		Token:        token,
		Notification: &messaging.Notification{Title: n.Title, Body: n.Body},
		Data:         payloadData(n),
	}
	if n.Priority == PriorityHigh {
		msg.Android = androidHighPriority()
		msg.APNS = apnsHighPriority()
	}
	return msg
}

func payloadData(n Notification) map[string]string {
	data := make(map[string]string, len(n.Data)+1)
	for k, v := range n.Data {
		data[k] = v
	}
	if n.Type != "" {
		data["event_type"] = string(n.Type)
	}
	return data
}

func androidHighPriority() *messaging.AndroidConfig {
	return &messaging.AndroidConfig{Priority: "high"}
}

func apnsHighPriority() *messaging.APNSConfig {
	return &messaging.APNSConfig{Headers: map[string]string{"apns-priority": "10"}}
}

// logDelivery records what mock mode would have sent.
func (f *FCMBackend) logDelivery(deviceToken string, n Notification) {
	data, _ := json.Marshal(n.Data)
	log.Info().
		Str("backend", f.Name()).
		Str("device_token", maskToken(deviceToken)).
		Str("type", string(n.Type)).
		Str("title", n.Title).
		Str("priority", n.Priority).
		RawJSON("data", data).
		Msg("Push logged, not sent")
}

func (f *FCMBackend) Name() string {
	if f.client == nil {
		return "fcm_mock"
	}
	return "fcm"
}

// IsMock reports whether deliveries are logged instead of sent.
func (f *FCMBackend) IsMock() bool {
	return f.client == nil
}

// Close is a no-op: the messaging client holds no connection state.
func (f *FCMBackend) Close() error {
	return nil
}

// ValidateToken is a plausibility check on an FCM registration token.
// Definitive validation happens on send.
func ValidateToken(token string) bool {
	if len(token) < fcmTokenMinLen || len(token) > fcmTokenMaxLen {
		return false
	}
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == ':':
		default:
			return false
		}
	}
	return true
}
