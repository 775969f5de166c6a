package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/repository"
)

func TestAuditServiceRecordsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	audit := NewAuditService(env.store.Audit(), 16, nil)
	deps := env.deps
	deps.Audit = audit
	waitlist := NewWaitlistService(deps)
	booking := NewBookingService(deps, waitlist)
	cancellation := NewCancellationService(deps, waitlist, DefaultPolicies())

	result, err := booking.Book(context.Background(), BookingInput{
		CitizenID: "citizen-1", DepartmentID: "dept-d", ServiceID: "svc-1",
		Date: serviceDate, TimeSlot: "09:00-10:00", BookedBy: "clerk-1",
	})
	require.NoError(t, err)
	_, err = cancellation.Cancel(context.Background(), result.Appointment.ID, "citizen-1", "sick")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, audit.Close(ctx))

	entries := env.store.AuditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "appointment_booked", entries[0].Action)
	require.NotNil(t, entries[0].UserID)
	assert.Equal(t, "clerk-1", *entries[0].UserID)
	assert.Equal(t, "D01", entries[0].Changes["token_number"])
	assert.Equal(t, "appointment_cancelled", entries[1].Action)
	assert.Equal(t, "sick", entries[1].Reason)

	// Entries logged after Close are dropped silently.
	audit.LogAction(context.Background(), AuditAction{Action: "late"})
	assert.Len(t, env.store.AuditEntries(), 2)
}

type failingAudit struct{ calls int }

func (f *failingAudit) Create(context.Context, *domain.AuditEntry) error {
	f.calls++
	return errors.New("db down")
}

func TestAuditFailuresDoNotReachCaller(t *testing.T) {
	repo := &failingAudit{}
	var _ repository.AuditRepository = repo
	audit := NewAuditService(repo, 4, nil)

	audit.LogAction(context.Background(), AuditAction{Action: "appointment_booked", EntityType: "appointment", EntityID: "a1"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, audit.Close(ctx))
	assert.Equal(t, 1, repo.calls)
}
