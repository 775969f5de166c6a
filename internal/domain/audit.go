package domain

import "time"

// AuditEntry records an action taken against an appointment or waitlist entry.
type AuditEntry struct {
	ID         string
	Action     string
	EntityType string
	EntityID   string
	UserID     *string
	Changes    map[string]any
	Reason     string
	CreatedAt  time.Time
}

// ReminderLog marks that a reminder was sent for an appointment.
type ReminderLog struct {
	AppointmentID string
	Recipient     string
	ReminderType  string
	SentAt        time.Time
}
