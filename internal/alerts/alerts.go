// Package alerts delivers operator alerts for conditions that need human
// attention, primarily scheduling failures and reconciliation flags.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert represents an alert message
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Alerter defines the interface for sending alerts
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager fans one alert out to every configured channel
type Manager struct {
	alerters []Alerter
}

// NewManager creates a new alert manager
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
	}
}

// Send sends an alert to all configured alerters
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Str("title", alert.Title).
				Msg("Failed to send alert")
			lastErr = err
		}
	}

	return lastErr
}

// SchedulingFailure alerts operators that a deadline could not be fired or
// recomputed for an order. The order has been flagged for reconciliation.
func (m *Manager) SchedulingFailure(ctx context.Context, orderID uuid.UUID, cause error) {
	_ = m.Send(ctx, Alert{
		Title:    "Scheduling Failure",
		Severity: SeverityCritical,
		Message: fmt.Sprintf(
			"Deadline processing failed for order %s; the order is flagged for manual reconciliation: %v",
			orderID, cause,
		),
		Metadata: map[string]interface{}{
			"order_id": orderID.String(),
			"error":    cause.Error(),
		},
	})
}

// DatabaseDown alerts operators that the order store is unreachable.
func (m *Manager) DatabaseDown(ctx context.Context, cause error) {
	_ = m.Send(ctx, Alert{
		Title:    "Order Store Unreachable",
		Severity: SeverityCritical,
		Message:  fmt.Sprintf("Database health check failed: %v", cause),
		Metadata: map[string]interface{}{
			"error": cause.Error(),
		},
	})
}

// DispatcherDegraded alerts operators that event publishing keeps failing
// and sellers/buyers may be missing notifications.
func (m *Manager) DispatcherDegraded(ctx context.Context, failures int64) {
	_ = m.Send(ctx, Alert{
		Title:    "Notification Dispatcher Degraded",
		Severity: SeverityWarning,
		Message:  fmt.Sprintf("Event publishing failed %d times since startup", failures),
		Metadata: map[string]interface{}{
			"failures": failures,
		},
	})
}

// LogAlerter logs alerts using zerolog
type LogAlerter struct{}

// NewLogAlerter creates a new log-based alerter
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// Send sends an alert by logging it
func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	event := log.Log()

	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	case SeverityInfo:
		event = log.Info()
	}

	for key, value := range alert.Metadata {
		event = event.Interface(key, value)
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(fmt.Sprintf("ALERT: %s", alert.Message))

	return nil
}
