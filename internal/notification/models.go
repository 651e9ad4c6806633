package notification

import (
	"time"
)

// NotificationType selects the delivery channel and template.
type NotificationType string

const (
	TypeHabitReminder     NotificationType = "HABIT_REMINDER"
	TypeStreakAchievement NotificationType = "STREAK_ACHIEVEMENT"
	TypeWeeklySummary     NotificationType = "WEEKLY_SUMMARY"
	TypeStreakWarning     NotificationType = "STREAK_WARNING"
	TypeSystemAlert       NotificationType = "SYSTEM_ALERT"
)

// KnownTypes lists every valid notification type.
var KnownTypes = []NotificationType{
	TypeHabitReminder,
	TypeStreakAchievement,
	TypeWeeklySummary,
	TypeStreakWarning,
	TypeSystemAlert,
}

func (t NotificationType) Valid() bool {
	for _, k := range KnownTypes {
		if t == k {
			return true
		}
	}
	return false
}

// Status is the notification lifecycle position. SENT, FAILED and CANCELLED
// are terminal; the orchestrator never transitions out of them.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRetrying  Status = "RETRYING"
	StatusSent      Status = "SENT"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// Notification is created by external callers (business logic, scheduler) and
// handed to the orchestrator, which owns all further status mutation.
type Notification struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Type         NotificationType  `json:"type"`
	Recipient    string            `json:"recipient"`
	Title        string            `json:"title,omitempty"`
	Message      string            `json:"message,omitempty"`
	Status       Status            `json:"status"`
	Priority     Priority          `json:"priority,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	RetryCount   int               `json:"retry_count"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
}

// Frequency is the user's digest cadence.
type Frequency string

const (
	FrequencyImmediate Frequency = "IMMEDIATE"
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
)

// Preference is the per-user delivery policy. One active record per user,
// last write wins.
type Preference struct {
	UserID          string             `json:"user_id"`
	EmailEnabled    bool               `json:"email_enabled"`
	PushEnabled     bool               `json:"push_enabled"`
	Types           []NotificationType `json:"types"`
	QuietHoursStart string             `json:"quiet_hours_start,omitempty"` // "22:00"
	QuietHoursEnd   string             `json:"quiet_hours_end,omitempty"`   // "08:00"
	PreferredTime   string             `json:"preferred_time,omitempty"`
	Frequency       Frequency          `json:"frequency,omitempty"`
	Timezone        string             `json:"timezone,omitempty"` // IANA identifier
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// OptedIn reports whether the user subscribed to the given type.
func (p *Preference) OptedIn(t NotificationType) bool {
	for _, pt := range p.Types {
		if pt == t {
			return true
		}
	}
	return false
}

// DefaultPreference is applied when a user has never stored preferences:
// everything on, every type opted in, no quiet hours.
func DefaultPreference(userID string) *Preference {
	return &Preference{
		UserID:       userID,
		EmailEnabled: true,
		PushEnabled:  true,
		Types:        append([]NotificationType(nil), KnownTypes...),
		Frequency:    FrequencyImmediate,
		Timezone:     "UTC",
	}
}

// DeliveryTask is the queue payload produced by the external scheduler and
// consumed by cmd/worker.
type DeliveryTask struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	Type         NotificationType  `json:"type"`
	Recipient    string            `json:"recipient"`
	TemplateID   string            `json:"template_id,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Priority     Priority          `json:"priority,omitempty"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
}
