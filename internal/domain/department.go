package domain

import "time"

// Department carries the counter configuration used for slot capacity.
type Department struct {
	ID                  string
	Code                string
	Name                string
	WorkingStart        string
	WorkingEnd          string
	SlotDurationMinutes int
	MaxSlotsPerTimeSlot int
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
