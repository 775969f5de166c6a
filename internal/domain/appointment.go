package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AppointmentStatus enumerates lifecycle states for appointments.
type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusWaiting   AppointmentStatus = "waiting"
	StatusServing   AppointmentStatus = "serving"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// IsActive reports whether the appointment holds a queue position.
func (s AppointmentStatus) IsActive() bool {
	return s == StatusConfirmed || s == StatusWaiting || s == StatusServing
}

// NotificationChannel selects how a citizen is contacted.
type NotificationChannel string

const (
	ChannelEmail    NotificationChannel = "email"
	ChannelSMS      NotificationChannel = "sms"
	ChannelWhatsApp NotificationChannel = "whatsapp"
)

// Contact holds the notification details of a citizen.
type Contact struct {
	Email   string              `json:"email,omitempty"`
	Phone   string              `json:"phone,omitempty"`
	Channel NotificationChannel `json:"channel,omitempty"`
}

// Appointment is a booked visit at a department counter.
type Appointment struct {
	ID              string
	TokenNumber     string
	CitizenID       string
	DepartmentID    string
	ServiceID       string
	AppointmentDate time.Time
	TimeSlot        string
	QueuePosition   int
	Priority        PriorityTier
	PriorityFlags
	// Tier-specific proof documents.
	PwdCertificateURL string
	AgeProofURL       string
	Status            AppointmentStatus
	CounterID         string
	Contact           Contact
	Notes             string

	CreatedAt       time.Time
	UpdatedAt       time.Time
	CheckedInAt     *time.Time
	ActualStartTime *time.Time
	ActualEndTime   *time.Time
	NoShowAt        *time.Time
	CancelledAt     *time.Time

	CalledBy           string
	CompletedBy        string
	CancelledBy        string
	CancellationReason string

	RescheduledFrom    string
	RescheduledAt      *time.Time
	AutoReassignedFrom string

	// Version guards optimistic updates.
	Version int
}

// Validate checks the invariants that must hold when an appointment is constructed.
func (a *Appointment) Validate() error {
	if a.CitizenID == "" || a.DepartmentID == "" || a.ServiceID == "" {
		return errors.New("citizen, department and service are required")
	}
	if a.AppointmentDate.IsZero() {
		return errors.New("appointment date is required")
	}
	if _, err := ParseTimeSlot(a.TimeSlot); err != nil {
		return err
	}
	if a.Priority != a.PriorityFlags.Tier() {
		return fmt.Errorf("priority %s does not match flags", a.Priority)
	}
	if a.PwdCertificateURL != "" && !a.IsPwd {
		return errors.New("certificate only applies to PwD bookings")
	}
	if a.AgeProofURL != "" && !a.IsSeniorCitizen {
		return errors.New("age proof only applies to senior citizen bookings")
	}
	return nil
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (a *Appointment) Clone() *Appointment {
	if a == nil {
		return nil
	}
	cp := *a
	cp.CheckedInAt = cloneTime(a.CheckedInAt)
	cp.ActualStartTime = cloneTime(a.ActualStartTime)
	cp.ActualEndTime = cloneTime(a.ActualEndTime)
	cp.NoShowAt = cloneTime(a.NoShowAt)
	cp.CancelledAt = cloneTime(a.CancelledAt)
	cp.RescheduledAt = cloneTime(a.RescheduledAt)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

const dateLayout = "2006-01-02"

// DateKey formats a calendar date.
func DateKey(t time.Time) string {
	return t.Format(dateLayout)
}

// ParseDate parses a YYYY-MM-DD calendar date at UTC midnight.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimSpace(s))
}

// DateOf truncates t to its calendar date in loc, returned at UTC midnight.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDate compares calendar dates.
func SameDate(a, b time.Time) bool {
	return DateKey(a) == DateKey(b)
}

// TimeSlot is a parsed "HH:MM-HH:MM" range in minutes from midnight.
type TimeSlot struct {
	StartMinute int
	EndMinute   int
}

// ParseTimeSlot parses strings such as "09:00-10:00".
func ParseTimeSlot(s string) (TimeSlot, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return TimeSlot{}, fmt.Errorf("invalid time slot %q", s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return TimeSlot{}, fmt.Errorf("invalid time slot %q: %w", s, err)
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return TimeSlot{}, fmt.Errorf("invalid time slot %q: %w", s, err)
	}
	if end <= start {
		return TimeSlot{}, fmt.Errorf("invalid time slot %q: end before start", s)
	}
	return TimeSlot{StartMinute: start, EndMinute: end}, nil
}

// ParseClock parses "HH:MM" into minutes from midnight.
func ParseClock(s string) (int, error) {
	return parseClock(s)
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (s TimeSlot) String() string {
	return fmt.Sprintf("%s-%s", FormatClock(s.StartMinute), FormatClock(s.EndMinute))
}

// FormatClock renders minutes from midnight as "HH:MM".
func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// StartOn returns the wall-clock start of the slot on date in loc.
func (s TimeSlot) StartOn(date time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(date.Year(), date.Month(), date.Day(), s.StartMinute/60, s.StartMinute%60, 0, 0, loc)
}

// ScheduledStart derives the scheduled start of an appointment.
func (a *Appointment) ScheduledStart(loc *time.Location) (time.Time, error) {
	slot, err := ParseTimeSlot(a.TimeSlot)
	if err != nil {
		return time.Time{}, err
	}
	return slot.StartOn(a.AppointmentDate, loc), nil
}
