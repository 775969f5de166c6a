package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/api/http/handlers"
	"github.com/civicq/queue-service/internal/auth"
	"github.com/civicq/queue-service/internal/bucket"
	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/events"
	"github.com/civicq/queue-service/internal/observability"
	"github.com/civicq/queue-service/internal/persistence"
	"github.com/civicq/queue-service/internal/repository"
	"github.com/civicq/queue-service/internal/service"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type apiEnv struct {
	app    *fiber.App
	clock  *testClock
	tokens *auth.TokenManager
}

var serviceDay = time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	store.PutDepartment(domain.Department{
		ID:                  "dept-d",
		Code:                "D",
		Name:                "Documents",
		WorkingStart:        "09:00",
		WorkingEnd:          "17:00",
		SlotDurationMinutes: 60,
		MaxSlotsPerTimeSlot: 1,
		IsActive:            true,
	})
	clock := &testClock{now: time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)}
	reg := prometheus.NewRegistry()
	metrics := observability.NewQueueMetrics(reg)

	deps := service.EngineDependencies{
		AppointmentRepo: store.Appointments(),
		WaitlistRepo:    store.Waitlist(),
		DepartmentRepo:  store.Departments(),
		Locker:          bucket.NewKeyedMutex(),
		Dispatcher:      events.NewInMemoryDispatcher(nil),
		Metrics:         metrics,
		Clock:           clock.Now,
		Location:        time.UTC,
	}
	waitlist := service.NewWaitlistService(deps)
	booking := service.NewBookingService(deps, waitlist)
	queue := service.NewQueueService(deps)
	noShows := service.NewNoShowService(deps, waitlist, service.NoShowConfig{
		GracePeriodMinutes:      15,
		AutoMarkNoShow:          true,
		AllowReactivation:       true,
		ReactivationWindowHours: 2,
	})
	cancellation := service.NewCancellationService(deps, waitlist, service.DefaultPolicies())
	tokens := auth.NewTokenManager("test-secret", 60)

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("queue-service", "test", &persistence.Postgres{}, nil),
		Departments:    handlers.NewDepartmentsHandler(store.Departments(), booking),
		Appointments:   handlers.NewAppointmentsHandler(booking, cancellation, noShows, queue),
		Waitlist:       handlers.NewWaitlistHandler(waitlist),
		Queue:          handlers.NewQueueHandler(queue, noShows),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Gatherer:       reg,
	})
	return &apiEnv{app: app, clock: clock, tokens: tokens}
}

func (e *apiEnv) token(t *testing.T, subject string, role domain.Role) string {
	t.Helper()
	token, _, err := e.tokens.GenerateToken(subject, role, "")
	require.NoError(t, err)
	return token
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &payload))
	}
	return resp.StatusCode, payload
}

func data(t *testing.T, payload map[string]any) map[string]any {
	t.Helper()
	d, ok := payload["data"].(map[string]any)
	require.True(t, ok, "missing data in %v", payload)
	return d
}

func errorCode(payload map[string]any) string {
	errBody, _ := payload["error"].(map[string]any)
	code, _ := errBody["code"].(string)
	return code
}

func bookBody(citizen, slot string) fiber.Map {
	return fiber.Map{
		"citizen_id":    citizen,
		"department_id": "dept-d",
		"service_id":    "svc-1",
		"date":          "2024-01-10",
		"time_slot":     slot,
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newAPIEnv(t)

	status, body := env.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, body = env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "counterq_http_requests_total")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newAPIEnv(t)

	status, body := env.do(t, http.MethodPost, "/appointments", "", bookBody("cit-1", "09:00-10:00"))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, apperrors.CodeUnauthorized, errorCode(body))

	citizen := env.token(t, "cit-1", domain.RoleCitizen)
	status, body = env.do(t, http.MethodPost, "/queue/dept-d/svc-1/call-next", citizen, fiber.Map{"counter_id": "C1"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperrors.CodeForbidden, errorCode(body))
}

func TestDepartmentsAndSlots(t *testing.T) {
	env := newAPIEnv(t)

	status, body := env.do(t, http.MethodGet, "/departments", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 1)

	status, body = env.do(t, http.MethodGet, "/departments/dept-d/slots?date=2024-01-10", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, data(t, body)["slots"], 8)

	status, body = env.do(t, http.MethodGet, "/departments/dept-d/slots?date=10-01-2024", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperrors.CodeValidationFailed, errorCode(body))

	status, body = env.do(t, http.MethodGet, "/departments/nope/slots?date=2024-01-10", "", nil)
	assert.Equal(t, apperrors.CodeDepartmentNotFound, errorCode(body))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestBookWaitlistAndCancelPromotes(t *testing.T) {
	env := newAPIEnv(t)
	first := env.token(t, "cit-1", domain.RoleCitizen)
	second := env.token(t, "cit-2", domain.RoleCitizen)
	third := env.token(t, "cit-3", domain.RoleCitizen)

	status, body := env.do(t, http.MethodPost, "/appointments", first, bookBody("", "09:00-10:00"))
	require.Equal(t, http.StatusCreated, status, body)
	booked := data(t, body)
	assert.Equal(t, "D01", booked["token_number"])
	assert.Equal(t, "cit-1", booked["citizen_id"])
	assert.EqualValues(t, 1, booked["queue_position"])
	apptID := booked["id"].(string)

	waitlisted := bookBody("cit-2", "09:00-10:00")
	waitlisted["join_waitlist_if_full"] = true
	status, body = env.do(t, http.MethodPost, "/appointments", second, waitlisted)
	require.Equal(t, http.StatusAccepted, status, body)
	entry := data(t, body)["waitlist_entry"].(map[string]any)
	assert.EqualValues(t, 1, entry["position"])
	assert.Equal(t, "cit-2", entry["citizen_id"])
	reason := data(t, body)["reason"].(map[string]any)
	assert.Equal(t, apperrors.CodeSlotUnavailable, reason["code"])

	status, body = env.do(t, http.MethodPost, "/appointments", third, bookBody("cit-3", "09:00-10:00"))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, apperrors.CodeSlotUnavailable, errorCode(body))

	status, body = env.do(t, http.MethodGet, "/appointments/"+apptID, second, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperrors.CodeForbidden, errorCode(body))

	status, body = env.do(t, http.MethodPost, "/appointments/"+apptID+"/cancel", first, fiber.Map{"reason": "travel"})
	require.Equal(t, http.StatusOK, status, body)
	cancelled := data(t, body)
	assert.EqualValues(t, 100, cancelled["refund_percentage"])
	assert.Equal(t, "cancelled", cancelled["appointment"].(map[string]any)["status"])
	promotion := cancelled["promotion"].(map[string]any)
	assert.Equal(t, true, promotion["promoted"])
	promoted := promotion["appointment"].(map[string]any)
	assert.Equal(t, "cit-2", promoted["citizen_id"])
	assert.Equal(t, "D02", promoted["token_number"])

	status, body = env.do(t, http.MethodGet, "/appointments/"+promoted["id"].(string)+"/status", second, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 0, data(t, body)["ahead_count"])
}

func TestCitizenCannotBookForOthersOrWalkIn(t *testing.T) {
	env := newAPIEnv(t)
	citizen := env.token(t, "cit-1", domain.RoleCitizen)

	status, body := env.do(t, http.MethodPost, "/appointments", citizen, bookBody("cit-9", "09:00-10:00"))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, apperrors.CodeForbidden, errorCode(body))

	walkIn := bookBody("cit-1", "")
	walkIn["walk_in"] = true
	status, _ = env.do(t, http.MethodPost, "/appointments", citizen, walkIn)
	assert.Equal(t, http.StatusForbidden, status)

	missingDate := bookBody("cit-1", "09:00-10:00")
	delete(missingDate, "date")
	status, body = env.do(t, http.MethodPost, "/appointments", citizen, missingDate)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, apperrors.CodeValidationFailed, errorCode(body))
}

func TestCounterFlow(t *testing.T) {
	env := newAPIEnv(t)
	env.clock.Set(serviceDay.Add(9*time.Hour + 30*time.Minute))
	clerk := env.token(t, "clerk-1", domain.RoleClerk)

	walkIn := fiber.Map{
		"citizen_id":    "walk-1",
		"department_id": "dept-d",
		"service_id":    "svc-1",
		"walk_in":       true,
	}
	status, body := env.do(t, http.MethodPost, "/appointments", clerk, walkIn)
	require.Equal(t, http.StatusCreated, status, body)
	appt := data(t, body)
	assert.Equal(t, "waiting", appt["status"])
	assert.Equal(t, "09:00-10:00", appt["time_slot"])

	status, body = env.do(t, http.MethodGet, "/queue/dept-d/svc-1", clerk, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, data(t, body)["waiting"], 1)

	status, body = env.do(t, http.MethodPost, "/queue/dept-d/svc-1/call-next", clerk, fiber.Map{"counter_id": "C1"})
	require.Equal(t, http.StatusOK, status, body)
	called := data(t, body)
	assert.Equal(t, "serving", called["status"])
	assert.Equal(t, "C1", called["counter_id"])

	status, body = env.do(t, http.MethodPost, "/queue/tokens/"+called["token_number"].(string)+"/complete", clerk, fiber.Map{"notes": "done"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "completed", data(t, body)["status"])

	_, body = env.do(t, http.MethodPost, "/queue/dept-d/svc-1/call-next", clerk, fiber.Map{"counter_id": "C1"})
	assert.Equal(t, apperrors.CodeNoAppointmentsInQueue, errorCode(body))
}

func TestNoShowAndReactivateAreStaffOnly(t *testing.T) {
	env := newAPIEnv(t)
	citizen := env.token(t, "cit-1", domain.RoleCitizen)
	clerk := env.token(t, "clerk-1", domain.RoleClerk)

	status, body := env.do(t, http.MethodPost, "/appointments", citizen, bookBody("cit-1", "09:00-10:00"))
	require.Equal(t, http.StatusCreated, status, body)
	apptID := data(t, body)["id"].(string)

	status, _ = env.do(t, http.MethodPost, "/appointments/"+apptID+"/no-show", citizen, nil)
	assert.Equal(t, http.StatusForbidden, status)

	env.clock.Set(serviceDay.Add(9*time.Hour + 20*time.Minute))
	status, body = env.do(t, http.MethodPost, "/appointments/"+apptID+"/no-show", clerk, fiber.Map{"reason": "absent"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "no_show", data(t, body)["appointment"].(map[string]any)["status"])

	env.clock.Set(serviceDay.Add(10 * time.Hour))
	status, body = env.do(t, http.MethodPost, "/appointments/"+apptID+"/reactivate", clerk, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "confirmed", data(t, body)["status"])
}

func TestWaitlistJoinAndLeave(t *testing.T) {
	env := newAPIEnv(t)
	owner := env.token(t, "cit-1", domain.RoleCitizen)
	other := env.token(t, "cit-2", domain.RoleCitizen)
	clerk := env.token(t, "clerk-1", domain.RoleClerk)

	join := fiber.Map{
		"department_id":  "dept-d",
		"service_id":     "svc-1",
		"preferred_date": "2024-01-10",
	}
	status, body := env.do(t, http.MethodPost, "/waitlist", owner, join)
	require.Equal(t, http.StatusCreated, status, body)
	entryID := data(t, body)["id"].(string)

	status, body = env.do(t, http.MethodPost, "/waitlist", owner, join)
	assert.Equal(t, apperrors.CodeAlreadyOnWaitlist, errorCode(body))
	assert.Equal(t, http.StatusConflict, status)

	status, body = env.do(t, http.MethodGet, "/waitlist/dept-d/svc-1?date=2024-01-10", clerk, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["data"], 1)

	status, _ = env.do(t, http.MethodDelete, "/waitlist/"+entryID, other, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = env.do(t, http.MethodDelete, "/waitlist/"+entryID, owner, nil)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "cancelled", data(t, body)["status"])

	_, body = env.do(t, http.MethodDelete, "/waitlist/missing", owner, nil)
	assert.Equal(t, apperrors.CodeWaitlistEntryNotFound, errorCode(body))
}
