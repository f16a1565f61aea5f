package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "PENDING"
	NotificationStatusInFlight  NotificationStatus = "IN_FLIGHT"
	NotificationStatusSent      NotificationStatus = "SENT"
	NotificationStatusCancelled NotificationStatus = "CANCELLED"
	NotificationStatusError     NotificationStatus = "ERROR"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s NotificationStatus) IsTerminal() bool {
	switch s {
	case NotificationStatusSent, NotificationStatusCancelled, NotificationStatusError:
		return true
	}
	return false
}

func (s NotificationStatus) Valid() bool {
	switch s {
	case NotificationStatusPending, NotificationStatusInFlight,
		NotificationStatusSent, NotificationStatusCancelled, NotificationStatusError:
		return true
	}
	return false
}

type NotificationKind string

const (
	NotificationKindRest           NotificationKind = "REST"
	NotificationKindFinishReminder NotificationKind = "FINISH_REMINDER"
	NotificationKindTest           NotificationKind = "TEST"
	NotificationKindCustom         NotificationKind = "CUSTOM"
)

func (k NotificationKind) Valid() bool {
	switch k {
	case NotificationKindRest, NotificationKindFinishReminder, NotificationKindTest, NotificationKindCustom:
		return true
	}
	return false
}

var (
	ErrPayloadTitleRequired = errors.New("payload title is required")
	ErrPayloadBodyRequired  = errors.New("payload body is required")
	ErrPayloadURLNotString  = errors.New("payload data.url must be a string")
)

// Payload is the document delivered to the browser. Data is open so callers
// can attach whatever the service worker understands.
type Payload struct {
	Title string  `json:"title"`
	Body  string  `json:"body"`
	Data  JSONMap `json:"data,omitempty"`
}

func (p Payload) Validate() error {
	if p.Title == "" {
		return ErrPayloadTitleRequired
	}
	if p.Body == "" {
		return ErrPayloadBodyRequired
	}
	if raw, ok := p.Data["url"]; ok {
		if _, isString := raw.(string); !isString {
			return ErrPayloadURLNotString
		}
	}
	return nil
}

// URL returns data.url or an empty string.
func (p Payload) URL() string {
	if s, ok := p.Data["url"].(string); ok {
		return s
	}
	return ""
}

func (p Payload) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *Payload) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	case nil:
		*p = Payload{}
		return nil
	}
	return fmt.Errorf("unsupported type %T for Payload", src)
}

type ScheduledNotification struct {
	Base
	UserID    int64              `json:"user_id" db:"user_id"`
	Kind      NotificationKind   `json:"kind" db:"kind"`
	SendAt    time.Time          `json:"send_at" db:"send_at"`
	Payload   Payload            `json:"payload" db:"payload"`
	Status    NotificationStatus `json:"status" db:"status"`
	ClaimedAt *time.Time         `json:"claimed_at,omitempty" db:"claimed_at"`
	SentAt    *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
}

// IsDue reports whether n would be picked up by a tick at now.
func (n *ScheduledNotification) IsDue(now time.Time) bool {
	return n.Status == NotificationStatusPending && !n.SendAt.After(now)
}

type NotificationFilter struct {
	UserID int64
	Status NotificationStatus
	Kind   NotificationKind
	Limit  int
}

type DeliveryOutcome string

const (
	DeliveryOutcomeSuccess DeliveryOutcome = "SUCCESS"
	DeliveryOutcomeGone    DeliveryOutcome = "GONE"
	DeliveryOutcomeFailed  DeliveryOutcome = "FAILED"
)

// NotificationDelivery records one attempt against one endpoint.
type NotificationDelivery struct {
	ID             int64           `json:"id" db:"id"`
	NotificationID int64           `json:"notification_id" db:"notification_id"`
	Endpoint       string          `json:"endpoint" db:"endpoint"`
	Outcome        DeliveryOutcome `json:"outcome" db:"outcome"`
	StatusCode     *int            `json:"status_code,omitempty" db:"status_code"`
	Error          *string         `json:"error,omitempty" db:"error"`
	AttemptedAt    time.Time       `json:"attempted_at" db:"attempted_at"`
}

// NotificationEvent is published on lifecycle transitions.
type NotificationEvent struct {
	NotificationID int64              `json:"notification_id"`
	UserID         int64              `json:"user_id"`
	Kind           NotificationKind   `json:"kind,omitempty"`
	Status         NotificationStatus `json:"status,omitempty"`
	Count          int64              `json:"count,omitempty"`
	Endpoint       string             `json:"endpoint,omitempty"`
	OccurredAt     time.Time          `json:"occurred_at"`
}

const (
	EventNotificationScheduled = "notification.scheduled"
	EventNotificationCancelled = "notification.cancelled"
	EventNotificationSent      = "notification.sent"
	EventNotificationError     = "notification.error"
	EventSubscriptionPruned    = "subscription.pruned"
)
