package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/events"
	"github.com/civicq/queue-service/internal/repository"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

func counterDept() domain.Department {
	dept := deptD()
	dept.MaxSlotsPerTimeSlot = 5
	return dept
}

func (e *testEnv) walkIn(t *testing.T, citizen string, flags domain.PriorityFlags) *domain.Appointment {
	t.Helper()
	result, err := e.booking.Book(context.Background(), BookingInput{
		CitizenID:    citizen,
		DepartmentID: "dept-d",
		ServiceID:    "svc-1",
		Flags:        flags,
		WalkIn:       true,
	})
	require.NoError(t, err)
	return result.Appointment
}

func TestCallNextServesHighestTierFirst(t *testing.T) {
	env := newTestEnv(t, counterDept())
	env.clock.Set(serviceDate.Add(9*time.Hour + 30*time.Minute))

	normal := env.walkIn(t, "c-normal", domain.PriorityFlags{})
	env.clock.Advance(time.Minute)
	senior := env.walkIn(t, "c-senior", domain.PriorityFlags{IsSeniorCitizen: true})
	env.clock.Advance(time.Minute)
	emergency := env.walkIn(t, "c-emergency", domain.PriorityFlags{IsEmergency: true})

	next, err := env.queue.NextToCall(context.Background(), "dept-d", "svc-1")
	require.NoError(t, err)
	assert.Equal(t, emergency.ID, next.ID)

	var order []string
	for i := 0; i < 3; i++ {
		called, err := env.queue.CallNext(context.Background(), "dept-d", "svc-1", "counter-1", "officer")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusServing, called.Status)
		assert.Equal(t, "counter-1", called.CounterID)
		require.NotNil(t, called.ActualStartTime)
		order = append(order, called.ID)
	}
	assert.Equal(t, []string{emergency.ID, senior.ID, normal.ID}, order)

	_, err = env.queue.CallNext(context.Background(), "dept-d", "svc-1", "counter-1", "officer")
	requireKind(t, err, apperrors.CodeNoAppointmentsInQueue)
	assert.Len(t, env.recorded.ofType(events.EventTokenCalled), 3)
}

func TestCallNextSkipsConfirmedAndRequiresCounter(t *testing.T) {
	env := newTestEnv(t, counterDept())
	env.clock.Set(serviceDate.Add(9 * time.Hour))
	env.book(t, "citizen-1", "09:00-10:00", domain.PriorityFlags{})

	_, err := env.queue.CallNext(context.Background(), "dept-d", "svc-1", "", "officer")
	requireKind(t, err, apperrors.CodeValidationFailed)

	_, err = env.queue.CallNext(context.Background(), "dept-d", "svc-1", "counter-1", "officer")
	requireKind(t, err, apperrors.CodeNoAppointmentsInQueue)
}

func TestCheckInCallCompleteLifecycle(t *testing.T) {
	env := newTestEnv(t, counterDept())
	booked := env.book(t, "citizen-1", "09:00-10:00", domain.PriorityFlags{})
	env.clock.Advance(time.Minute)
	later := env.book(t, "citizen-2", "09:00-10:00", domain.PriorityFlags{})

	env.clock.Set(serviceDate.Add(8*time.Hour + 55*time.Minute))
	checkedIn, err := env.queue.CheckIn(context.Background(), booked.ID, "citizen-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, checkedIn.Status)
	require.NotNil(t, checkedIn.CheckedInAt)

	_, err = env.queue.CheckIn(context.Background(), booked.ID, "citizen-1")
	requireKind(t, err, apperrors.CodeInvalidStatusTransition)

	env.clock.Advance(10 * time.Minute)
	called, err := env.queue.CallNext(context.Background(), "dept-d", "svc-1", "counter-2", "officer")
	require.NoError(t, err)
	assert.Equal(t, booked.ID, called.ID)

	_, err = env.queue.Complete(context.Background(), later.TokenNumber, "officer", "")
	requireKind(t, err, apperrors.CodeInvalidStatusTransition)

	env.clock.Advance(6 * time.Minute)
	done, err := env.queue.Complete(context.Background(), called.TokenNumber, "officer", "documents issued")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, "documents issued", done.Notes)
	require.NotNil(t, done.ActualEndTime)

	assert.Equal(t, 1, env.reload(t, later.ID).QueuePosition)
	requireContiguous(t, env, "dept-d", serviceDate)

	_, err = env.queue.Complete(context.Background(), "D99", "officer", "")
	requireKind(t, err, apperrors.CodeAppointmentNotFound)

	metrics, err := env.queue.Metrics(context.Background(), "dept-d", "svc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.TotalServed)
	assert.InDelta(t, 10.0, metrics.AverageWaitMinutes, 0.001)
	assert.InDelta(t, 6.0, metrics.AverageServiceTimeMinutes, 0.001)
	assert.InDelta(t, 1.0, metrics.Efficiency, 0.001)
}

func TestComputeMetrics(t *testing.T) {
	base := serviceDate.Add(9 * time.Hour)
	at := func(min int) *time.Time {
		v := base.Add(time.Duration(min) * time.Minute)
		return &v
	}
	m := computeMetrics([]domain.Appointment{
		{Status: domain.StatusCompleted, CheckedInAt: at(0), ActualStartTime: at(10), ActualEndTime: at(20)},
		{Status: domain.StatusCompleted, CheckedInAt: at(0), ActualStartTime: at(20), ActualEndTime: at(25)},
		{Status: domain.StatusCancelled},
		{Status: domain.StatusNoShow},
		{Status: domain.StatusWaiting},
		{Status: domain.StatusWaiting},
	})
	assert.Equal(t, 2, m.TotalServed)
	assert.Equal(t, 1, m.TotalCancelled)
	assert.Equal(t, 1, m.TotalNoShow)
	assert.Equal(t, 2, m.CurrentQueueLength)
	assert.InDelta(t, 15.0, m.AverageWaitMinutes, 0.001)
	assert.InDelta(t, 7.5, m.AverageServiceTimeMinutes, 0.001)
	assert.InDelta(t, 0.5, m.Efficiency, 0.001)

	assert.Equal(t, QueueMetrics{}, computeMetrics(nil))
}

func TestLiveQueueAndQueueStatus(t *testing.T) {
	env := newTestEnv(t, counterDept())
	env.clock.Set(serviceDate.Add(9 * time.Hour))
	first := env.walkIn(t, "c1", domain.PriorityFlags{})
	env.clock.Advance(time.Minute)
	second := env.walkIn(t, "c2", domain.PriorityFlags{})
	env.clock.Advance(time.Minute)
	pwd := env.walkIn(t, "c3", domain.PriorityFlags{IsPwd: true})
	upcoming := env.book(t, "c4", "10:00-11:00", domain.PriorityFlags{})

	live, err := env.queue.LiveQueue(context.Background(), "dept-d", "svc-1")
	require.NoError(t, err)
	require.Len(t, live.Waiting, 3)
	assert.Equal(t, pwd.ID, live.Waiting[0].ID)
	require.Len(t, live.Upcoming, 1)
	assert.Equal(t, upcoming.ID, live.Upcoming[0].ID)
	assert.Equal(t, 3, live.Metrics.CurrentQueueLength)
	assert.Equal(t, "2024-01-10", live.Date)

	status, err := env.queue.QueueStatus(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.AheadCount)
	// No completed service yet: slot duration divided by seats.
	assert.InDelta(t, 24.0, status.EstimatedWaitMinutes, 0.001)

	status, err = env.queue.QueueStatus(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.AheadCount)
}

// conflictingAppointments fails the first n updates with a version conflict.
type conflictingAppointments struct {
	repository.AppointmentRepository
	remaining int
	calls     int
}

func (c *conflictingAppointments) Update(ctx context.Context, appt *domain.Appointment, shifts []repository.PositionUpdate) error {
	c.calls++
	if c.remaining != 0 {
		c.remaining--
		return repository.ErrVersionConflict
	}
	return c.AppointmentRepository.Update(ctx, appt, shifts)
}

func TestOptimisticConflictsAreRetried(t *testing.T) {
	env := newTestEnv(t)
	booked := env.book(t, "citizen-1", "09:00-10:00", domain.PriorityFlags{})

	flaky := &conflictingAppointments{AppointmentRepository: env.store.Appointments(), remaining: 2}
	deps := env.deps
	deps.AppointmentRepo = flaky
	queue := NewQueueService(deps)

	appt, err := queue.CheckIn(context.Background(), booked.ID, "citizen-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, appt.Status)
	assert.Equal(t, 3, flaky.calls)
}

func TestPersistentConflictsSurfaceAsConcurrentModification(t *testing.T) {
	env := newTestEnv(t)
	booked := env.book(t, "citizen-1", "09:00-10:00", domain.PriorityFlags{})

	flaky := &conflictingAppointments{AppointmentRepository: env.store.Appointments(), remaining: -1}
	deps := env.deps
	deps.AppointmentRepo = flaky
	deps.MaxRetryAttempts = 2
	queue := NewQueueService(deps)

	_, err := queue.CheckIn(context.Background(), booked.ID, "citizen-1")
	requireKind(t, err, apperrors.CodeConcurrentModification)
	assert.Equal(t, 2, flaky.calls)
	assert.Equal(t, domain.StatusConfirmed, env.reload(t, booked.ID).Status)
}
