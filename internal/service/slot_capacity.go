package service

import (
	"fmt"
	"time"

	"github.com/civicq/queue-service/internal/domain"
)

// SlotAvailability describes one enumerated time slot of a department day.
type SlotAvailability struct {
	TimeSlot  string `json:"time_slot"`
	Booked    int    `json:"booked"`
	Capacity  int    `json:"capacity"`
	Available bool   `json:"available"`
}

// EnumerateSlots lists the department's time slots from working hours and slot duration.
func EnumerateSlots(dept *domain.Department) ([]string, error) {
	start, err := domain.ParseClock(dept.WorkingStart)
	if err != nil {
		return nil, fmt.Errorf("working start %q: %w", dept.WorkingStart, err)
	}
	end, err := domain.ParseClock(dept.WorkingEnd)
	if err != nil {
		return nil, fmt.Errorf("working end %q: %w", dept.WorkingEnd, err)
	}
	if dept.SlotDurationMinutes <= 0 {
		return nil, fmt.Errorf("slot duration must be positive")
	}

	var slots []string
	for cur := start; cur+dept.SlotDurationMinutes <= end; cur += dept.SlotDurationMinutes {
		slots = append(slots, domain.TimeSlot{StartMinute: cur, EndMinute: cur + dept.SlotDurationMinutes}.String())
	}
	return slots, nil
}

// IsValidSlot reports whether timeSlot is one of the department's enumerated slots.
func IsValidSlot(dept *domain.Department, timeSlot string) bool {
	slots, err := EnumerateSlots(dept)
	if err != nil {
		return false
	}
	for _, slot := range slots {
		if slot == timeSlot {
			return true
		}
	}
	return false
}

// BookedCount counts active bookings for the exact (department, date, slot).
func BookedCount(departmentID string, date time.Time, timeSlot string, existing []domain.Appointment) int {
	count := 0
	for i := range existing {
		a := &existing[i]
		if a.DepartmentID == departmentID && a.TimeSlot == timeSlot &&
			domain.SameDate(a.AppointmentDate, date) && a.Status.IsActive() {
			count++
		}
	}
	return count
}

// IsSlotAvailable reports whether the slot still has capacity.
func IsSlotAvailable(dept *domain.Department, date time.Time, timeSlot string, existing []domain.Appointment) bool {
	return BookedCount(dept.ID, date, timeSlot, existing) < dept.MaxSlotsPerTimeSlot
}

// SlotAt returns the enumerated slot containing t, if any.
func SlotAt(dept *domain.Department, t time.Time) (string, bool) {
	slots, err := EnumerateSlots(dept)
	if err != nil {
		return "", false
	}
	minute := t.Hour()*60 + t.Minute()
	for _, slot := range slots {
		parsed, _ := domain.ParseTimeSlot(slot)
		if minute >= parsed.StartMinute && minute < parsed.EndMinute {
			return slot, true
		}
	}
	return "", false
}

// SlotAvailabilities evaluates every slot of the department day.
func SlotAvailabilities(dept *domain.Department, date time.Time, existing []domain.Appointment) ([]SlotAvailability, error) {
	slots, err := EnumerateSlots(dept)
	if err != nil {
		return nil, err
	}
	result := make([]SlotAvailability, 0, len(slots))
	for _, slot := range slots {
		booked := BookedCount(dept.ID, date, slot, existing)
		result = append(result, SlotAvailability{
			TimeSlot:  slot,
			Booked:    booked,
			Capacity:  dept.MaxSlotsPerTimeSlot,
			Available: booked < dept.MaxSlotsPerTimeSlot,
		})
	}
	return result, nil
}
