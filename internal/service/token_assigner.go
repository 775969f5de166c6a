package service

import (
	"fmt"
	"sort"

	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/repository"
)

// TokenAssignment is the outcome of placing a new appointment.
type TokenAssignment struct {
	TokenNumber   string
	QueuePosition int
	Shifts        []repository.PositionUpdate
}

// AssignToken issues the next token for the department day and inserts candidate into
// the queue. existing holds every appointment of the (department, date) bucket.
func AssignToken(departmentCode string, existing []domain.Appointment, candidate *domain.Appointment) TokenAssignment {
	token := fmt.Sprintf("%s%02d", departmentCode, len(existing)+1)
	position, shifts := Reorder(existing, candidate)
	return TokenAssignment{TokenNumber: token, QueuePosition: position, Shifts: shifts}
}

// queueLess orders active appointments: tier first, then creation order, then id.
func queueLess(a, b *domain.Appointment) bool {
	if a.Priority != b.Priority {
		return a.Priority.Outranks(b.Priority)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Reorder renumbers the active appointments of a bucket as 1..N in queue order, with
// subject in its new state replacing any stored copy. It returns subject's position
// (0 when subject is not active) and position updates for every other appointment
// whose stored position changes.
func Reorder(existing []domain.Appointment, subject *domain.Appointment) (int, []repository.PositionUpdate) {
	active := make([]*domain.Appointment, 0, len(existing)+1)
	for i := range existing {
		a := &existing[i]
		if subject != nil && a.ID == subject.ID {
			continue
		}
		if a.Status.IsActive() {
			active = append(active, a)
		}
	}
	if subject != nil && subject.Status.IsActive() {
		active = append(active, subject)
	}
	sort.SliceStable(active, func(i, j int) bool { return queueLess(active[i], active[j]) })

	subjectPos := 0
	var shifts []repository.PositionUpdate
	for i, a := range active {
		pos := i + 1
		if subject != nil && a.ID == subject.ID {
			subjectPos = pos
			continue
		}
		if a.QueuePosition != pos {
			shifts = append(shifts, repository.PositionUpdate{ID: a.ID, Position: pos})
		}
	}
	return subjectPos, shifts
}

// callOrder sorts waiting appointments the way counters call them: tier, then queue position.
func callOrder(appts []domain.Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		if appts[i].Priority != appts[j].Priority {
			return appts[i].Priority.Outranks(appts[j].Priority)
		}
		if appts[i].QueuePosition != appts[j].QueuePosition {
			return appts[i].QueuePosition < appts[j].QueuePosition
		}
		return appts[i].ID < appts[j].ID
	})
}

// renumberWaitlist returns position updates that make the waiting entries of a bucket,
// other than excludeID, contiguous from 1 in creation order.
func renumberWaitlist(entries []domain.WaitlistEntry, excludeID string) []repository.PositionUpdate {
	waiting := make([]domain.WaitlistEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.ID != excludeID && entry.Status == domain.WaitlistWaiting {
			waiting = append(waiting, entry)
		}
	}
	sort.SliceStable(waiting, func(i, j int) bool {
		if !waiting[i].CreatedAt.Equal(waiting[j].CreatedAt) {
			return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
		}
		return waiting[i].ID < waiting[j].ID
	})
	var shifts []repository.PositionUpdate
	for i, entry := range waiting {
		if entry.Position != i+1 {
			shifts = append(shifts, repository.PositionUpdate{ID: entry.ID, Position: i + 1})
		}
	}
	return shifts
}
