package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/repository"
)

func appointmentAt(id string, tier domain.PriorityTier, pos int, status domain.AppointmentStatus, created time.Time) domain.Appointment {
	return domain.Appointment{ID: id, Priority: tier, QueuePosition: pos, Status: status, CreatedAt: created}
}

func TestAssignTokenCountsEveryAppointment(t *testing.T) {
	base := bookingTime
	existing := []domain.Appointment{
		appointmentAt("a", domain.TierNormal, 1, domain.StatusConfirmed, base),
		appointmentAt("b", domain.TierNormal, 0, domain.StatusCancelled, base.Add(time.Minute)),
	}
	candidate := &domain.Appointment{ID: "c", Priority: domain.TierNormal, Status: domain.StatusConfirmed, CreatedAt: base.Add(2 * time.Minute)}

	assignment := AssignToken("D", existing, candidate)
	assert.Equal(t, "D03", assignment.TokenNumber)
	assert.Equal(t, 2, assignment.QueuePosition)
	assert.Empty(t, assignment.Shifts)
}

func TestReorderInsertsByTier(t *testing.T) {
	base := bookingTime
	existing := []domain.Appointment{
		appointmentAt("n1", domain.TierNormal, 1, domain.StatusConfirmed, base),
		appointmentAt("s1", domain.TierSenior, 2, domain.StatusWaiting, base.Add(time.Minute)),
		appointmentAt("n2", domain.TierNormal, 3, domain.StatusConfirmed, base.Add(2*time.Minute)),
	}
	// n1 was stored ahead of a senior; Reorder repairs every position it touches.
	candidate := &domain.Appointment{ID: "p1", Priority: domain.TierDisabled, Status: domain.StatusConfirmed, CreatedAt: base.Add(3 * time.Minute)}

	pos, shifts := Reorder(existing, candidate)
	assert.Equal(t, 1, pos)
	assert.ElementsMatch(t, []repository.PositionUpdate{
		{ID: "n1", Position: 3},
		{ID: "n2", Position: 4},
	}, shifts)
}

func TestReorderRemovesInactiveSubject(t *testing.T) {
	base := bookingTime
	existing := []domain.Appointment{
		appointmentAt("a", domain.TierNormal, 1, domain.StatusConfirmed, base),
		appointmentAt("b", domain.TierNormal, 2, domain.StatusConfirmed, base.Add(time.Minute)),
		appointmentAt("c", domain.TierNormal, 3, domain.StatusConfirmed, base.Add(2*time.Minute)),
	}
	subject := existing[0]
	subject.Status = domain.StatusCancelled

	pos, shifts := Reorder(existing, &subject)
	assert.Equal(t, 0, pos)
	assert.Equal(t, []repository.PositionUpdate{{ID: "b", Position: 1}, {ID: "c", Position: 2}}, shifts)
}

func TestReorderTieBreaksByID(t *testing.T) {
	existing := []domain.Appointment{appointmentAt("b", domain.TierSenior, 1, domain.StatusConfirmed, bookingTime)}
	candidate := &domain.Appointment{ID: "a", Priority: domain.TierSenior, Status: domain.StatusConfirmed, CreatedAt: bookingTime}

	pos, shifts := Reorder(existing, candidate)
	assert.Equal(t, 1, pos)
	assert.Equal(t, []repository.PositionUpdate{{ID: "b", Position: 2}}, shifts)
}

func TestCallOrder(t *testing.T) {
	appts := []domain.Appointment{
		appointmentAt("n", domain.TierNormal, 1, domain.StatusWaiting, bookingTime),
		appointmentAt("s", domain.TierSenior, 3, domain.StatusWaiting, bookingTime),
		appointmentAt("e", domain.TierEmergency, 2, domain.StatusWaiting, bookingTime),
	}
	callOrder(appts)
	require.Len(t, appts, 3)
	assert.Equal(t, []string{"e", "s", "n"}, []string{appts[0].ID, appts[1].ID, appts[2].ID})
}

func TestRenumberWaitlist(t *testing.T) {
	entries := []domain.WaitlistEntry{
		{ID: "w1", Position: 1, Status: domain.WaitlistWaiting, CreatedAt: bookingTime},
		{ID: "w2", Position: 2, Status: domain.WaitlistWaiting, CreatedAt: bookingTime.Add(time.Minute)},
		{ID: "w3", Position: 3, Status: domain.WaitlistAssigned, CreatedAt: bookingTime.Add(2 * time.Minute)},
		{ID: "w4", Position: 4, Status: domain.WaitlistWaiting, CreatedAt: bookingTime.Add(3 * time.Minute)},
	}
	assert.Equal(t, []repository.PositionUpdate{
		{ID: "w2", Position: 1},
		{ID: "w4", Position: 2},
	}, renumberWaitlist(entries, "w1"))
}
