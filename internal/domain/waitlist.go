package domain

import "time"

// WaitlistStatus enumerates waitlist lifecycle states.
type WaitlistStatus string

const (
	WaitlistWaiting   WaitlistStatus = "waiting"
	WaitlistAssigned  WaitlistStatus = "assigned"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

// WaitlistEntry is a citizen waiting for capacity on a (department, service, date).
type WaitlistEntry struct {
	ID                    string
	CitizenID             string
	DepartmentID          string
	ServiceID             string
	PreferredDate         time.Time
	PreferredTimeSlot     string
	Position              int
	Status                WaitlistStatus
	AssignedAppointmentID string
	PriorityFlags
	Contact      Contact
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Version      int
}

// Clone returns a copy of the entry.
func (w *WaitlistEntry) Clone() *WaitlistEntry {
	if w == nil {
		return nil
	}
	cp := *w
	return &cp
}

// AcceptsSlot reports whether the entry can be promoted into timeSlot.
func (w *WaitlistEntry) AcceptsSlot(timeSlot string) bool {
	return w.PreferredTimeSlot == "" || w.PreferredTimeSlot == timeSlot
}
