package events

import (
	"time"

	"github.com/civicq/queue-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventAppointmentBooked      EventType = "appointment_booked"
	EventAppointmentCheckedIn   EventType = "appointment_checked_in"
	EventTokenCalled            EventType = "token_called"
	EventTokenCompleted         EventType = "token_completed"
	EventAppointmentCancelled   EventType = "appointment_cancelled"
	EventAppointmentRescheduled EventType = "appointment_rescheduled"
	EventAppointmentNoShow      EventType = "appointment_no_show"
	EventAppointmentReactivated EventType = "appointment_reactivated"
	EventWaitlistJoined         EventType = "waitlist_joined"
	EventWaitlistPromoted       EventType = "waitlist_promoted"
	EventAppointmentReminder    EventType = "appointment_reminder"
)

// Actor identifies who triggered an event. An empty UserID means the system.
type Actor struct {
	UserID string      `json:"user_id,omitempty"`
	Role   domain.Role `json:"role,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	EntityID  string    `json:"entity_id"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// AppointmentPayload is a snapshot of the appointment after the change.
type AppointmentPayload struct {
	Appointment domain.Appointment `json:"appointment"`
	Reason      string             `json:"reason,omitempty"`
	// PreviousStatus is set for transitions.
	PreviousStatus domain.AppointmentStatus `json:"previous_status,omitempty"`
}

// RescheduledPayload links the superseded and the new appointment.
type RescheduledPayload struct {
	Original    domain.Appointment `json:"original"`
	Replacement domain.Appointment `json:"replacement"`
}

// WaitlistPayload carries the waitlist entry and, on promotion, the new appointment.
type WaitlistPayload struct {
	Entry       domain.WaitlistEntry `json:"entry"`
	Appointment *domain.Appointment  `json:"appointment,omitempty"`
}
