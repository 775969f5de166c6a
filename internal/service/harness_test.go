package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/civicq/queue-service/internal/bucket"
	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/events"
	"github.com/civicq/queue-service/internal/repository"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) handle(_ context.Context, e events.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recordedEvents) ofType(t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

var allEventTypes = []events.EventType{
	events.EventAppointmentBooked,
	events.EventAppointmentCheckedIn,
	events.EventTokenCalled,
	events.EventTokenCompleted,
	events.EventAppointmentCancelled,
	events.EventAppointmentRescheduled,
	events.EventAppointmentNoShow,
	events.EventAppointmentReactivated,
	events.EventWaitlistJoined,
	events.EventWaitlistPromoted,
	events.EventAppointmentReminder,
}

type testEnv struct {
	store        *repository.MemoryStore
	clock        *fakeClock
	deps         EngineDependencies
	recorded     *recordedEvents
	booking      *BookingService
	waitlist     *WaitlistService
	queue        *QueueService
	noShows      *NoShowService
	cancellation *CancellationService
	reminders    *ReminderService
}

var (
	serviceDate = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	// Two days before the service date, well outside every cancellation window.
	bookingTime = time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
)

// deptD has one seat per hourly slot.
func deptD() domain.Department {
	return domain.Department{
		ID:                  "dept-d",
		Code:                "D",
		Name:                "Documents",
		WorkingStart:        "09:00",
		WorkingEnd:          "17:00",
		SlotDurationMinutes: 60,
		MaxSlotsPerTimeSlot: 1,
		IsActive:            true,
	}
}

func newTestEnv(t *testing.T, depts ...domain.Department) *testEnv {
	t.Helper()
	if len(depts) == 0 {
		depts = []domain.Department{deptD()}
	}
	store := repository.NewMemoryStore()
	for _, d := range depts {
		store.PutDepartment(d)
	}
	clock := &fakeClock{now: bookingTime}
	dispatcher := events.NewInMemoryDispatcher(nil)
	recorded := &recordedEvents{}
	for _, et := range allEventTypes {
		dispatcher.Subscribe(et, recorded.handle)
	}

	deps := EngineDependencies{
		AppointmentRepo: store.Appointments(),
		WaitlistRepo:    store.Waitlist(),
		DepartmentRepo:  store.Departments(),
		Locker:          bucket.NewKeyedMutex(),
		Dispatcher:      dispatcher,
		Clock:           clock.Now,
		Location:        time.UTC,
	}
	waitlist := NewWaitlistService(deps)
	return &testEnv{
		store:        store,
		clock:        clock,
		deps:         deps,
		recorded:     recorded,
		waitlist:     waitlist,
		booking:      NewBookingService(deps, waitlist),
		queue:        NewQueueService(deps),
		noShows:      NewNoShowService(deps, waitlist, defaultNoShowConfig()),
		cancellation: NewCancellationService(deps, waitlist, DefaultPolicies()),
		reminders:    NewReminderService(deps, store.Reminders(), 15),
	}
}

func defaultNoShowConfig() NoShowConfig {
	return NoShowConfig{
		GracePeriodMinutes:      15,
		AutoMarkNoShow:          true,
		AllowReactivation:       true,
		ReactivationWindowHours: 2,
	}
}

func (e *testEnv) book(t *testing.T, citizen, slot string, flags domain.PriorityFlags) *domain.Appointment {
	t.Helper()
	result, err := e.booking.Book(context.Background(), BookingInput{
		CitizenID:    citizen,
		DepartmentID: "dept-d",
		ServiceID:    "svc-1",
		Date:         serviceDate,
		TimeSlot:     slot,
		Flags:        flags,
		Contact:      domain.Contact{Email: citizen + "@example.com"},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Appointment)
	return result.Appointment
}

func (e *testEnv) reload(t *testing.T, id string) *domain.Appointment {
	t.Helper()
	appt, err := e.store.Appointments().GetByID(context.Background(), id)
	require.NoError(t, err)
	return appt
}

func (e *testEnv) addToWaitlist(t *testing.T, citizen, slot string) *domain.WaitlistEntry {
	t.Helper()
	entry, err := e.waitlist.AddToWaitlist(context.Background(), WaitlistInput{
		CitizenID:         citizen,
		DepartmentID:      "dept-d",
		ServiceID:         "svc-1",
		PreferredDate:     serviceDate,
		PreferredTimeSlot: slot,
	})
	require.NoError(t, err)
	return entry
}

// requireContiguous checks that the active appointments of the bucket hold positions
// 1..N and that no lower tier sits ahead of a higher one.
func requireContiguous(t *testing.T, e *testEnv, departmentID string, date time.Time) {
	t.Helper()
	appts, err := e.store.Appointments().ListByDepartmentDate(context.Background(), departmentID, date)
	require.NoError(t, err)
	byPosition := map[int]domain.Appointment{}
	for _, a := range appts {
		if !a.Status.IsActive() {
			continue
		}
		_, dup := byPosition[a.QueuePosition]
		require.False(t, dup, "duplicate position %d", a.QueuePosition)
		byPosition[a.QueuePosition] = a
	}
	for pos := 1; pos <= len(byPosition); pos++ {
		a, ok := byPosition[pos]
		require.True(t, ok, "missing position %d", pos)
		if next, ok := byPosition[pos+1]; ok {
			require.False(t, next.Priority.Outranks(a.Priority),
				"%s at %d ahead of %s at %d", a.Priority, pos, next.Priority, pos+1)
		}
	}
}

func requireKind(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, apperrors.IsKind(err, code), "expected %s, got %v", code, err)
}
