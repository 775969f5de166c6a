package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/bucket"
	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/events"
	"github.com/civicq/queue-service/internal/observability"
	"github.com/civicq/queue-service/internal/repository"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

var tracer = otel.Tracer("counterq/service")

const defaultMaxRetries = 3

// EngineDependencies bundles what the queue services share.
type EngineDependencies struct {
	AppointmentRepo repository.AppointmentRepository
	WaitlistRepo    repository.WaitlistRepository
	DepartmentRepo  repository.DepartmentRepository
	Locker          bucket.Locker
	Dispatcher      events.Dispatcher
	Audit           AuditLogger
	Metrics         *observability.QueueMetrics
	Logger          *zap.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Location is the time zone time slots are expressed in. Defaults to UTC.
	Location         *time.Location
	MaxRetryAttempts int
}

type engine struct {
	appointments repository.AppointmentRepository
	waitlist     repository.WaitlistRepository
	departments  repository.DepartmentRepository
	locker       bucket.Locker
	dispatcher   events.Dispatcher
	audit        AuditLogger
	metrics      *observability.QueueMetrics
	logger       *zap.Logger
	clock        func() time.Time
	loc          *time.Location
	maxRetries   int
}

func newEngine(deps EngineDependencies) *engine {
	e := &engine{
		appointments: deps.AppointmentRepo,
		waitlist:     deps.WaitlistRepo,
		departments:  deps.DepartmentRepo,
		locker:       deps.Locker,
		dispatcher:   deps.Dispatcher,
		audit:        deps.Audit,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		clock:        deps.Clock,
		loc:          deps.Location,
		maxRetries:   deps.MaxRetryAttempts,
	}
	if e.locker == nil {
		e.locker = bucket.NewKeyedMutex()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.maxRetries <= 0 {
		e.maxRetries = defaultMaxRetries
	}
	if e.audit == nil {
		e.audit = nopAudit{}
	}
	return e
}

func (e *engine) now() time.Time {
	return e.clock().In(e.loc)
}

func (e *engine) today() time.Time {
	return domain.DateOf(e.clock(), e.loc)
}

// department loads an active department or fails with DepartmentNotFound.
func (e *engine) department(ctx context.Context, id string) (*domain.Department, error) {
	dept, err := e.departments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewDepartmentNotFound(id)
		}
		return nil, apperrors.NewInternalError(err)
	}
	if !dept.IsActive {
		return nil, apperrors.NewDepartmentNotFound(id)
	}
	return dept, nil
}

func (e *engine) appointment(ctx context.Context, id string) (*domain.Appointment, error) {
	appt, err := e.appointments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewAppointmentNotFound(id)
		}
		return nil, apperrors.NewInternalError(err)
	}
	return appt, nil
}

// critical runs fn while holding every key, retrying fn on optimistic conflicts.
// fn must re-read whatever it mutates.
func (e *engine) critical(ctx context.Context, op string, keys []string, fn func() error) error {
	start := time.Now()
	release, err := e.locker.Acquire(ctx, keys...)
	e.metrics.ObserveLockWait(op, time.Since(start))
	if err != nil {
		e.logger.Warn("bucket lock unavailable", zap.String("operation", op), zap.Strings("keys", keys), zap.Error(err))
		return apperrors.NewConcurrentModification(err)
	}
	defer release()
	return e.retry(op, fn)
}

func (e *engine) retry(op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		err = fn()
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		e.logger.Debug("optimistic conflict, retrying", zap.String("operation", op), zap.Int("attempt", attempt))
	}
	return apperrors.NewConcurrentModification(err)
}

func (e *engine) publish(ctx context.Context, evts ...events.Event) {
	if e.dispatcher == nil {
		return
	}
	for _, event := range evts {
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = e.clock()
		}
		if err := e.dispatcher.Publish(ctx, event); err != nil {
			e.logger.Warn("publish event failed", zap.String("event_type", string(event.Type)), zap.Error(err))
		}
	}
}

func (e *engine) appointmentEvent(eventType events.EventType, actor string, appt *domain.Appointment, previous domain.AppointmentStatus, reason string) events.Event {
	return events.Event{
		Type:     eventType,
		EntityID: appt.ID,
		Actor:    events.Actor{UserID: actor},
		Payload:  events.AppointmentPayload{Appointment: *appt, PreviousStatus: previous, Reason: reason},
	}
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, name)
	span.SetAttributes(attrs...)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func bucketAttrs(departmentID string, date time.Time) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("queue.department_id", departmentID),
		attribute.String("queue.date", domain.DateKey(date)),
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
