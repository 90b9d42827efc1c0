package notifications

import (
	"time"

	"github.com/kalaikatha/commissions/internal/events"
)

// Platform represents the device platform
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// Delivery priorities.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
)

// Notification represents a push notification to be sent
type Notification struct {
	Type     events.Type       `json:"type"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // PriorityHigh or PriorityNormal
}

// Preferences represents user notification preferences. Each flag covers a
// class of negotiation events rather than individual event types.
type Preferences struct {
	OrderEvents    bool `json:"order_events"`
	OfferEvents    bool `json:"offer_events"`
	DeadlineEvents bool `json:"deadline_events"`
}

// DefaultPreferences returns the default notification preferences
func DefaultPreferences() Preferences {
	return Preferences{
		OrderEvents:    true,
		OfferEvents:    true,
		DeadlineEvents: true,
	}
}

// IsEnabled checks whether the preference class covering an event type is on
func (p Preferences) IsEnabled(eventType events.Type) bool {
	switch eventType {
	case events.TypeOrderOpenedForSeller,
		events.TypeOrderFulfilled,
		events.TypeOrderCancelled,
		events.TypeSlotDeclinedElsewhere:
		return p.OrderEvents
	case events.TypeOfferReceived,
		events.TypeCounterOffered:
		return p.OfferEvents
	case events.TypeOrderExpired:
		return p.DeadlineEvents
	default:
		return false
	}
}

// Device represents a user device for push notifications
type Device struct {
	UserID      string    `json:"user_id"`
	DeviceToken string    `json:"device_token"`
	Platform    Platform  `json:"platform"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
}

// ValidPlatform reports whether a platform string is one we accept
func ValidPlatform(p Platform) bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformWeb:
		return true
	default:
		return false
	}
}

// NotificationStatus represents the delivery outcome recorded in the log
type NotificationStatus string

const (
	NotificationStatusPending NotificationStatus = "pending"
	NotificationStatusSent    NotificationStatus = "sent"
	NotificationStatusFailed  NotificationStatus = "failed"
	// NotificationStatusDropped means the delivery circuit was open and the
	// send was not attempted.
	NotificationStatusDropped NotificationStatus = "dropped"
)
