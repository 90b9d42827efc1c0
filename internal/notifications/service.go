package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/kalaikatha/commissions/internal/metrics"
)

// Pool defines the database operations the service needs. Satisfied by the
// store's pgx pool in production and pgxmock in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Service defines the interface for push notification operations
type Service interface {
	// SendToUser sends a notification to all enabled devices for a user
	SendToUser(ctx context.Context, userID string, notification Notification) error

	// RegisterDevice registers a device token for push notifications
	RegisterDevice(ctx context.Context, userID, deviceToken string, platform Platform) error

	// UnregisterDevice disables a device token
	UnregisterDevice(ctx context.Context, deviceToken string) error

	// GetUserDevices returns all enabled devices for a user
	GetUserDevices(ctx context.Context, userID string) ([]Device, error)

	// UpdatePreferences updates user notification preferences
	UpdatePreferences(ctx context.Context, userID string, prefs Preferences) error

	// GetPreferences returns user notification preferences
	GetPreferences(ctx context.Context, userID string) (Preferences, error)
}

// Backend defines the interface for push delivery backends (FCM, APNs, etc.)
type Backend interface {
	// Send sends a notification to a device
	Send(ctx context.Context, deviceToken string, notification Notification) error

	// Name returns the backend name
	Name() string

	// Close closes the backend connection
	Close() error
}

// Push backend circuit breaker defaults
const (
	pushMinRequests     = 5
	pushFailureRatio    = 0.6
	pushOpenTimeout     = 30 * time.Second
	pushHalfOpenMaxReqs = 3
	pushCountInterval   = 10 * time.Second
)

// BreakerSettings tunes the push delivery circuit breaker. Zero values fall
// back to the defaults above.
type BreakerSettings struct {
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
}

func (b BreakerSettings) withDefaults() BreakerSettings {
	if b.MinRequests == 0 {
		b.MinRequests = pushMinRequests
	}
	if b.FailureRatio <= 0 {
		b.FailureRatio = pushFailureRatio
	}
	if b.OpenTimeout <= 0 {
		b.OpenTimeout = pushOpenTimeout
	}
	return b
}

// NotificationService implements the Service interface over the order store's
// pool. Backend sends run behind a circuit breaker so a degraded push
// provider cannot stall event processing.
type NotificationService struct {
	db      Pool
	backend Backend
	breaker *gobreaker.CircuitBreaker
}

// NewService creates a notification service with default breaker settings
func NewService(db Pool, backend Backend) *NotificationService {
	return NewServiceWithBreaker(db, backend, BreakerSettings{})
}

// NewServiceWithBreaker creates a notification service with tuned breaker
// settings
func NewServiceWithBreaker(db Pool, backend Backend, settings BreakerSettings) *NotificationService {
	settings = settings.withDefaults()

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "push_backend",
		MaxRequests: pushHalfOpenMaxReqs,
		Interval:    pushCountInterval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= settings.MinRequests && failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Push backend circuit breaker state changed")
		},
	})

	return &NotificationService{
		db:      db,
		backend: backend,
		breaker: breaker,
	}
}

// SendToUser sends a notification to all enabled devices for a user
func (s *NotificationService) SendToUser(ctx context.Context, userID string, notification Notification) error {
	prefs, err := s.GetPreferences(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			prefs = DefaultPreferences()
		} else {
			return fmt.Errorf("failed to get user preferences: %w", err)
		}
	}

	if !prefs.IsEnabled(notification.Type) {
		log.Debug().
			Str("user_id", userID).
			Str("notification_type", string(notification.Type)).
			Msg("Notification type disabled for user")
		return nil
	}

	devices, err := s.GetUserDevices(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user devices: %w", err)
	}

	if len(devices) == 0 {
		log.Debug().Str("user_id", userID).Msg("No enabled devices found for user")
		return nil
	}

	var lastErr error
	sentCount := 0
	for _, device := range devices {
		if err := s.sendAndLog(ctx, userID, device.DeviceToken, notification); err != nil {
			log.Error().
				Err(err).
				Str("user_id", userID).
				Str("device_token", maskToken(device.DeviceToken)).
				Msg("Failed to send notification to device")
			lastErr = err
		} else {
			sentCount++
		}
	}

	if sentCount > 0 {
		log.Info().
			Str("user_id", userID).
			Int("sent_count", sentCount).
			Int("total_devices", len(devices)).
			Str("notification_type", string(notification.Type)).
			Msg("Sent notifications to user devices")
	}

	// Error only if every device failed
	if sentCount == 0 && lastErr != nil {
		return fmt.Errorf("failed to send to any device: %w", lastErr)
	}

	return nil
}

// sendAndLog delivers through the circuit breaker and records the outcome
func (s *NotificationService) sendAndLog(ctx context.Context, userID, deviceToken string, notification Notification) error {
	var status NotificationStatus
	var errorMsg string

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.backend.Send(ctx, deviceToken, notification)
	})

	switch {
	case err == nil:
		status = NotificationStatusSent
		_ = s.touchDevice(ctx, deviceToken)
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		status = NotificationStatusDropped
		errorMsg = err.Error()
	default:
		status = NotificationStatusFailed
		errorMsg = err.Error()
	}
	metrics.PushDeliveries.WithLabelValues(string(status)).Inc()

	dataJSON, _ := json.Marshal(notification.Data)
	_, logErr := s.db.Exec(ctx, `
		INSERT INTO notification_log (
			user_id, device_token, event_type, title, body, data, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, userID, deviceToken, notification.Type, notification.Title, notification.Body, dataJSON, status, errorMsg)

	if logErr != nil {
		log.Error().Err(logErr).Msg("Failed to log notification")
	}

	return err
}

// RegisterDevice registers a device token for push notifications
func (s *NotificationService) RegisterDevice(ctx context.Context, userID, deviceToken string, platform Platform) error {
	if !ValidPlatform(platform) {
		return fmt.Errorf("unknown platform %q", platform)
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO devices (device_token, user_id, platform)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_token) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    platform = EXCLUDED.platform,
		    enabled = TRUE,
		    last_used_at = NOW()
	`, deviceToken, userID, platform)

	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}

	log.Info().
		Str("user_id", userID).
		Str("platform", string(platform)).
		Str("device_token", maskToken(deviceToken)).
		Msg("Registered device for notifications")

	return nil
}

// UnregisterDevice disables a device token
func (s *NotificationService) UnregisterDevice(ctx context.Context, deviceToken string) error {
	result, err := s.db.Exec(ctx, `
		UPDATE devices
		SET enabled = FALSE
		WHERE device_token = $1
	`, deviceToken)

	if err != nil {
		return fmt.Errorf("failed to unregister device: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("device token not found")
	}

	log.Info().
		Str("device_token", maskToken(deviceToken)).
		Msg("Unregistered device")

	return nil
}

// GetUserDevices returns all enabled devices for a user
func (s *NotificationService) GetUserDevices(ctx context.Context, userID string) ([]Device, error) {
	rows, err := s.db.Query(ctx, `
		SELECT device_token, user_id, platform, enabled, created_at, last_used_at
		FROM devices
		WHERE user_id = $1 AND enabled = TRUE
		ORDER BY last_used_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		err := rows.Scan(
			&d.DeviceToken,
			&d.UserID,
			&d.Platform,
			&d.Enabled,
			&d.CreatedAt,
			&d.LastUsedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}

	return devices, nil
}

// UpdatePreferences updates user notification preferences
func (s *NotificationService) UpdatePreferences(ctx context.Context, userID string, prefs Preferences) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO notification_preferences (
			user_id, order_events, offer_events, deadline_events
		) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET order_events = EXCLUDED.order_events,
		    offer_events = EXCLUDED.offer_events,
		    deadline_events = EXCLUDED.deadline_events,
		    updated_at = NOW()
	`, userID, prefs.OrderEvents, prefs.OfferEvents, prefs.DeadlineEvents)

	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}

	log.Info().Str("user_id", userID).Msg("Updated notification preferences")

	return nil
}

// GetPreferences returns user notification preferences
func (s *NotificationService) GetPreferences(ctx context.Context, userID string) (Preferences, error) {
	var prefs Preferences
	err := s.db.QueryRow(ctx, `
		SELECT order_events, offer_events, deadline_events
		FROM notification_preferences
		WHERE user_id = $1
	`, userID).Scan(
		&prefs.OrderEvents,
		&prefs.OfferEvents,
		&prefs.DeadlineEvents,
	)

	if err != nil {
		return Preferences{}, err
	}

	return prefs, nil
}

// touchDevice updates the last used timestamp for a device
func (s *NotificationService) touchDevice(ctx context.Context, deviceToken string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE devices
		SET last_used_at = NOW()
		WHERE device_token = $1
	`, deviceToken)

	if err != nil {
		return fmt.Errorf("failed to update device last used: %w", err)
	}

	return nil
}

// Close closes the notification service
func (s *NotificationService) Close() error {
	if s.backend != nil {
		return s.backend.Close()
	}
	return nil
}

// maskToken hides most of a device token in logs
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
