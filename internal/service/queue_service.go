package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/bucket"
	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/events"
	"github.com/civicq/queue-service/internal/repository"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

// QueueService runs the live counter queue of a (department, service) bucket.
type QueueService struct {
	*engine
}

// NewQueueService constructs the service.
func NewQueueService(deps EngineDependencies) *QueueService {
	return &QueueService{engine: newEngine(deps)}
}

// QueueMetrics summarizes a bucket's day.
type QueueMetrics struct {
	TotalServed               int     `json:"total_served"`
	TotalCancelled            int     `json:"total_cancelled"`
	TotalNoShow               int     `json:"total_no_show"`
	AverageWaitMinutes        float64 `json:"average_wait_minutes"`
	AverageServiceTimeMinutes float64 `json:"average_service_time_minutes"`
	CurrentQueueLength        int     `json:"current_queue_length"`
	Efficiency                float64 `json:"efficiency"`
}

// LiveQueue is the counter board view of a bucket.
type LiveQueue struct {
	DepartmentID string               `json:"department_id"`
	ServiceID    string               `json:"service_id"`
	Date         string               `json:"date"`
	NowServing   []domain.Appointment `json:"now_serving"`
	Waiting      []domain.Appointment `json:"waiting"`
	Upcoming     []domain.Appointment `json:"upcoming"`
	Metrics      QueueMetrics         `json:"metrics"`
}

// QueueStatus tells a citizen where they stand.
type QueueStatus struct {
	Appointment          *domain.Appointment `json:"appointment"`
	AheadCount           int                 `json:"ahead_count"`
	EstimatedWaitMinutes float64             `json:"estimated_wait_minutes"`
}

var allowedTransitions = map[domain.AppointmentStatus][]domain.AppointmentStatus{
	domain.StatusConfirmed: {domain.StatusWaiting, domain.StatusCancelled, domain.StatusNoShow},
	domain.StatusWaiting:   {domain.StatusServing, domain.StatusCancelled, domain.StatusNoShow},
	domain.StatusServing:   {domain.StatusCompleted},
	domain.StatusNoShow:    {domain.StatusConfirmed, domain.StatusCancelled},
	domain.StatusCompleted: {},
	domain.StatusCancelled: {},
}

func isValidTransition(current, next domain.AppointmentStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

func transitionError(current, next domain.AppointmentStatus) error {
	return apperrors.NewInvalidStatusTransition(string(current), string(next))
}

// CheckIn marks a confirmed citizen as present and waiting to be called.
func (s *QueueService) CheckIn(ctx context.Context, appointmentID, actor string) (appt *domain.Appointment, err error) {
	ctx, span := startSpan(ctx, "queue.check_in", attribute.String("queue.appointment_id", appointmentID))
	defer func() { endSpan(span, err) }()

	current, err := s.appointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	key := bucket.AppointmentKey(current.DepartmentID, current.AppointmentDate)
	err = s.critical(ctx, "check_in", []string{key}, func() error {
		fresh, err := s.appointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if fresh.Status != domain.StatusConfirmed {
			return transitionError(fresh.Status, domain.StatusWaiting)
		}
		now := s.now()
		fresh.Status = domain.StatusWaiting
		fresh.CheckedInAt = timePtr(now)
		fresh.UpdatedAt = now
		if err := s.appointments.Update(ctx, fresh, nil); err != nil {
			return err
		}
		appt = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, s.appointmentEvent(events.EventAppointmentCheckedIn, actor, appt, domain.StatusConfirmed, ""))
	s.audit.LogAction(ctx, AuditAction{
		Action:     "appointment_checked_in",
		EntityType: "appointment",
		EntityID:   appt.ID,
		UserID:     actor,
		Changes:    map[string]any{"status": string(appt.Status)},
	})
	return appt, nil
}

// NextToCall returns the waiting appointment a counter would call next, or nil.
func (s *QueueService) NextToCall(ctx context.Context, departmentID, serviceID string) (*domain.Appointment, error) {
	appts, err := s.appointments.ListByDepartmentDate(ctx, departmentID, s.today())
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return nextWaiting(appts, serviceID), nil
}

func nextWaiting(appts []domain.Appointment, serviceID string) *domain.Appointment {
	waiting := filterStatus(appts, serviceID, domain.StatusWaiting)
	if len(waiting) == 0 {
		return nil
	}
	callOrder(waiting)
	next := waiting[0]
	return &next
}

func filterStatus(appts []domain.Appointment, serviceID string, statuses ...domain.AppointmentStatus) []domain.Appointment {
	var out []domain.Appointment
	for _, a := range appts {
		if serviceID != "" && a.ServiceID != serviceID {
			continue
		}
		for _, status := range statuses {
			if a.Status == status {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// CallNext moves the next waiting citizen to a counter.
func (s *QueueService) CallNext(ctx context.Context, departmentID, serviceID, counterID, calledBy string) (appt *domain.Appointment, err error) {
	date := s.today()
	ctx, span := startSpan(ctx, "queue.call_next",
		append(bucketAttrs(departmentID, date), attribute.String("queue.service_id", serviceID))...)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(counterID) == "" {
		return nil, apperrors.NewValidationError("counter_id is required", nil)
	}
	if _, err := s.department(ctx, departmentID); err != nil {
		return nil, err
	}

	err = s.critical(ctx, "call_next", []string{bucket.AppointmentKey(departmentID, date)}, func() error {
		appts, err := s.appointments.ListByDepartmentDate(ctx, departmentID, date)
		if err != nil {
			return err
		}
		next := nextWaiting(appts, serviceID)
		if next == nil {
			return apperrors.NewNoAppointmentsInQueue()
		}
		now := s.now()
		next.Status = domain.StatusServing
		next.ActualStartTime = timePtr(now)
		next.CounterID = counterID
		next.CalledBy = calledBy
		next.UpdatedAt = now
		if err := s.appointments.Update(ctx, next, nil); err != nil {
			return err
		}
		appt = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("token called",
		zap.String("token", appt.TokenNumber),
		zap.String("counter_id", counterID),
		zap.String("tier", appt.Priority.String()))
	s.publish(ctx, s.appointmentEvent(events.EventTokenCalled, calledBy, appt, domain.StatusWaiting, ""))
	s.audit.LogAction(ctx, AuditAction{
		Action:     "token_called",
		EntityType: "appointment",
		EntityID:   appt.ID,
		UserID:     calledBy,
		Changes:    map[string]any{"status": string(appt.Status), "counter_id": counterID},
	})
	return appt, nil
}

// Complete finishes service for today's token.
func (s *QueueService) Complete(ctx context.Context, tokenNumber, completedBy, notes string) (appt *domain.Appointment, err error) {
	date := s.today()
	ctx, span := startSpan(ctx, "queue.complete", attribute.String("queue.token", tokenNumber))
	defer func() { endSpan(span, err) }()

	current, err := s.appointments.GetByToken(ctx, tokenNumber, date)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewAppointmentNotFound(tokenNumber)
		}
		return nil, apperrors.NewInternalError(err)
	}

	key := bucket.AppointmentKey(current.DepartmentID, date)
	err = s.critical(ctx, "complete", []string{key}, func() error {
		fresh, err := s.appointment(ctx, current.ID)
		if err != nil {
			return err
		}
		if !isValidTransition(fresh.Status, domain.StatusCompleted) {
			return transitionError(fresh.Status, domain.StatusCompleted)
		}
		appts, err := s.appointments.ListByDepartmentDate(ctx, fresh.DepartmentID, date)
		if err != nil {
			return err
		}
		now := s.now()
		fresh.Status = domain.StatusCompleted
		fresh.ActualEndTime = timePtr(now)
		fresh.CompletedBy = completedBy
		if notes != "" {
			fresh.Notes = notes
		}
		fresh.UpdatedAt = now
		_, shifts := Reorder(appts, fresh)
		if err := s.appointments.Update(ctx, fresh, shifts); err != nil {
			return err
		}
		appt = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, s.appointmentEvent(events.EventTokenCompleted, completedBy, appt, domain.StatusServing, ""))
	s.audit.LogAction(ctx, AuditAction{
		Action:     "token_completed",
		EntityType: "appointment",
		EntityID:   appt.ID,
		UserID:     completedBy,
		Changes:    map[string]any{"status": string(appt.Status)},
	})
	return appt, nil
}

// Metrics summarizes today's activity in a bucket.
func (s *QueueService) Metrics(ctx context.Context, departmentID, serviceID string) (QueueMetrics, error) {
	appts, err := s.appointments.ListByDepartmentDate(ctx, departmentID, s.today())
	if err != nil {
		return QueueMetrics{}, apperrors.NewInternalError(err)
	}
	return computeMetrics(filterStatus(appts, serviceID,
		domain.StatusConfirmed, domain.StatusWaiting, domain.StatusServing,
		domain.StatusCompleted, domain.StatusCancelled, domain.StatusNoShow)), nil
}

func computeMetrics(appts []domain.Appointment) QueueMetrics {
	var m QueueMetrics
	var waitTotal, serviceTotal time.Duration
	var waitSamples, serviceSamples int
	for _, a := range appts {
		switch a.Status {
		case domain.StatusCompleted:
			m.TotalServed++
		case domain.StatusCancelled:
			m.TotalCancelled++
		case domain.StatusNoShow:
			m.TotalNoShow++
		case domain.StatusWaiting:
			m.CurrentQueueLength++
		}
		if a.ActualStartTime != nil {
			arrived := a.CreatedAt
			if a.CheckedInAt != nil {
				arrived = *a.CheckedInAt
			}
			if wait := a.ActualStartTime.Sub(arrived); wait >= 0 {
				waitTotal += wait
				waitSamples++
			}
			if a.ActualEndTime != nil {
				serviceTotal += a.ActualEndTime.Sub(*a.ActualStartTime)
				serviceSamples++
			}
		}
	}
	if waitSamples > 0 {
		m.AverageWaitMinutes = waitTotal.Minutes() / float64(waitSamples)
	}
	if serviceSamples > 0 {
		m.AverageServiceTimeMinutes = serviceTotal.Minutes() / float64(serviceSamples)
	}
	if finished := m.TotalServed + m.TotalCancelled + m.TotalNoShow; finished > 0 {
		m.Efficiency = float64(m.TotalServed) / float64(finished)
	}
	return m
}

// LiveQueue returns the counter board for a bucket.
func (s *QueueService) LiveQueue(ctx context.Context, departmentID, serviceID string) (*LiveQueue, error) {
	if _, err := s.department(ctx, departmentID); err != nil {
		return nil, err
	}
	date := s.today()
	appts, err := s.appointments.ListByDepartmentDate(ctx, departmentID, date)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	waiting := filterStatus(appts, serviceID, domain.StatusWaiting)
	callOrder(waiting)
	upcoming := filterStatus(appts, serviceID, domain.StatusConfirmed)
	callOrder(upcoming)
	return &LiveQueue{
		DepartmentID: departmentID,
		ServiceID:    serviceID,
		Date:         domain.DateKey(date),
		NowServing:   filterStatus(appts, serviceID, domain.StatusServing),
		Waiting:      waiting,
		Upcoming:     upcoming,
		Metrics: computeMetrics(filterStatus(appts, serviceID,
			domain.StatusWaiting, domain.StatusServing, domain.StatusCompleted,
			domain.StatusCancelled, domain.StatusNoShow)),
	}, nil
}

// QueueStatus reports how many citizens will be called before the appointment.
func (s *QueueService) QueueStatus(ctx context.Context, appointmentID string) (*QueueStatus, error) {
	appt, err := s.appointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	status := &QueueStatus{Appointment: appt}
	if appt.Status != domain.StatusConfirmed && appt.Status != domain.StatusWaiting {
		return status, nil
	}
	dept, err := s.department(ctx, appt.DepartmentID)
	if err != nil {
		return nil, err
	}
	appts, err := s.appointments.ListByDepartmentDate(ctx, appt.DepartmentID, appt.AppointmentDate)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	queue := filterStatus(appts, appt.ServiceID, domain.StatusWaiting, domain.StatusConfirmed)
	if appt.Status == domain.StatusWaiting {
		queue = filterStatus(appts, appt.ServiceID, domain.StatusWaiting)
	}
	callOrder(queue)
	for _, a := range queue {
		if a.ID == appt.ID {
			break
		}
		status.AheadCount++
	}

	perCitizen := computeMetrics(filterStatus(appts, appt.ServiceID, domain.StatusCompleted)).AverageServiceTimeMinutes
	if perCitizen == 0 && dept.MaxSlotsPerTimeSlot > 0 {
		perCitizen = float64(dept.SlotDurationMinutes) / float64(dept.MaxSlotsPerTimeSlot)
	}
	status.EstimatedWaitMinutes = float64(status.AheadCount) * perCitizen
	return status, nil
}
