package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/bucket"
	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/events"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

// NoShowConfig tunes no-show detection and reactivation.
type NoShowConfig struct {
	GracePeriodMinutes      int
	AutoMarkNoShow          bool
	AllowReactivation       bool
	ReactivationWindowHours int
}

// NoShowService marks absent citizens as no-show and frees their slots.
type NoShowService struct {
	*engine
	waitlist *WaitlistService
	cfg      NoShowConfig
}

// NewNoShowService constructs the service.
func NewNoShowService(deps EngineDependencies, waitlist *WaitlistService, cfg NoShowConfig) *NoShowService {
	if cfg.GracePeriodMinutes < 0 {
		cfg.GracePeriodMinutes = 0
	}
	return &NoShowService{engine: newEngine(deps), waitlist: waitlist, cfg: cfg}
}

// NoShowReport summarizes one sweep.
type NoShowReport struct {
	Processed  int                  `json:"processed"`
	NoShows    []domain.Appointment `json:"no_shows"`
	Promotions []PromotionResult    `json:"promotions"`
}

// NoShowResult is the outcome of marking a single appointment.
type NoShowResult struct {
	Appointment *domain.Appointment `json:"appointment"`
	Promotion   *PromotionResult    `json:"promotion,omitempty"`
}

const noShowReason = "Grace period elapsed"

// ProcessNoShows marks today's confirmed or waiting appointments whose grace period
// ended at or before now. Appointments already marked are skipped.
func (s *NoShowService) ProcessNoShows(ctx context.Context, now time.Time) (report *NoShowReport, err error) {
	date := domain.DateOf(now, s.loc)
	ctx, span := startSpan(ctx, "noshow.process", attribute.String("queue.date", domain.DateKey(date)))
	defer func() { endSpan(span, err) }()

	report = &NoShowReport{}
	if !s.cfg.AutoMarkNoShow {
		return report, nil
	}
	appts, err := s.appointments.ListByDate(ctx, date)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}

	grace := time.Duration(s.cfg.GracePeriodMinutes) * time.Minute
	for i := range appts {
		a := &appts[i]
		if !s.graceElapsed(a, now, grace) {
			continue
		}
		result, marked, err := s.mark(ctx, a.ID, "", noShowReason, "sweep", now, func(fresh *domain.Appointment) bool {
			return s.graceElapsed(fresh, now, grace)
		})
		if err != nil {
			s.logger.Warn("no-show sweep failed for appointment", zap.String("appointment_id", a.ID), zap.Error(err))
			continue
		}
		if !marked {
			continue
		}
		report.Processed++
		report.NoShows = append(report.NoShows, *result.Appointment)
		if result.Promotion != nil {
			report.Promotions = append(report.Promotions, *result.Promotion)
		}
	}
	span.SetAttributes(attribute.Int("noshow.processed", report.Processed))
	if report.Processed > 0 {
		s.logger.Info("no-show sweep finished", zap.Int("processed", report.Processed))
	}
	return report, nil
}

// graceElapsed measures the grace period from the later of the slot start and the moment
// the appointment entered its current status, so promoted, reactivated and walk-in
// appointments are never swept the instant they appear.
func (s *NoShowService) graceElapsed(a *domain.Appointment, now time.Time, grace time.Duration) bool {
	if a.Status != domain.StatusConfirmed && a.Status != domain.StatusWaiting {
		return false
	}
	start, err := a.ScheduledStart(s.loc)
	if err != nil {
		return false
	}
	if a.UpdatedAt.After(start) {
		start = a.UpdatedAt
	}
	return !start.Add(grace).After(now)
}

// MarkAsNoShow marks an appointment regardless of timing.
func (s *NoShowService) MarkAsNoShow(ctx context.Context, appointmentID, markedBy, reason string) (*NoShowResult, error) {
	result, _, err := s.mark(ctx, appointmentID, markedBy, reason, "manual", s.now(), nil)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// mark transitions the appointment to no_show under its bucket lock. eligible, when set,
// is re-evaluated on the fresh copy; a false result skips the appointment without error.
// now stamps NoShowAt and anchors the reactivation window.
func (s *NoShowService) mark(ctx context.Context, appointmentID, actor, reason, source string, now time.Time, eligible func(*domain.Appointment) bool) (result *NoShowResult, marked bool, err error) {
	ctx, span := startSpan(ctx, "noshow.mark",
		attribute.String("queue.appointment_id", appointmentID), attribute.String("noshow.source", source))
	defer func() { endSpan(span, err) }()

	current, err := s.appointment(ctx, appointmentID)
	if err != nil {
		return nil, false, err
	}
	var previous domain.AppointmentStatus
	var appt *domain.Appointment
	key := bucket.AppointmentKey(current.DepartmentID, current.AppointmentDate)
	err = s.critical(ctx, "no_show", []string{key}, func() error {
		appt = nil
		fresh, err := s.appointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if eligible != nil && !eligible(fresh) {
			return nil
		}
		if fresh.Status != domain.StatusConfirmed && fresh.Status != domain.StatusWaiting {
			return transitionError(fresh.Status, domain.StatusNoShow)
		}
		appts, err := s.appointments.ListByDepartmentDate(ctx, fresh.DepartmentID, fresh.AppointmentDate)
		if err != nil {
			return err
		}
		previous = fresh.Status
		fresh.Status = domain.StatusNoShow
		fresh.NoShowAt = timePtr(now)
		fresh.UpdatedAt = now
		_, shifts := Reorder(appts, fresh)
		if err := s.appointments.Update(ctx, fresh, shifts); err != nil {
			return err
		}
		appt = fresh
		return nil
	})
	if err != nil || appt == nil {
		return nil, false, err
	}

	s.metrics.ObserveNoShow(source)
	s.publish(ctx, s.appointmentEvent(events.EventAppointmentNoShow, actor, appt, previous, reason))
	s.audit.LogAction(ctx, AuditAction{
		Action:     "appointment_no_show",
		EntityType: "appointment",
		EntityID:   appt.ID,
		UserID:     actor,
		Reason:     reason,
		Changes:    map[string]any{"previous_status": string(previous), "source": source},
	})

	result = &NoShowResult{Appointment: appt}
	// Only a confirmed booking still held a slot nobody had started using.
	if previous == domain.StatusConfirmed && s.waitlist != nil {
		promotion, err := s.waitlist.ProcessWaitlistForSlot(ctx, appt.DepartmentID, appt.ServiceID, appt.AppointmentDate, appt.TimeSlot)
		if err != nil {
			s.logger.Warn("waitlist reallocation after no-show failed",
				zap.String("appointment_id", appt.ID), zap.Error(err))
		} else {
			result.Promotion = promotion
		}
	}
	return result, true, nil
}

// Reactivate restores a no-show appointment within the reactivation window.
func (s *NoShowService) Reactivate(ctx context.Context, appointmentID, reactivatedBy, reason string) (appt *domain.Appointment, err error) {
	ctx, span := startSpan(ctx, "noshow.reactivate", attribute.String("queue.appointment_id", appointmentID))
	defer func() { endSpan(span, err) }()

	if !s.cfg.AllowReactivation {
		return nil, apperrors.NewForbidden("Reactivation of no-show appointments is disabled")
	}
	current, err := s.appointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	dept, err := s.department(ctx, current.DepartmentID)
	if err != nil {
		return nil, err
	}

	window := time.Duration(s.cfg.ReactivationWindowHours) * time.Hour
	keys := []string{
		bucket.AppointmentKey(current.DepartmentID, current.AppointmentDate),
		bucket.CitizenKey(current.CitizenID, current.AppointmentDate),
	}
	err = s.critical(ctx, "reactivate", keys, func() error {
		fresh, err := s.appointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if fresh.Status != domain.StatusNoShow || fresh.NoShowAt == nil {
			return transitionError(fresh.Status, domain.StatusConfirmed)
		}
		now := s.now()
		if now.After(fresh.NoShowAt.Add(window)) {
			return apperrors.NewReactivationWindowExpired(s.cfg.ReactivationWindowHours)
		}
		// A no-show frees the citizen to book elsewhere that day.
		day, err := s.appointments.ListByDate(ctx, fresh.AppointmentDate)
		if err != nil {
			return err
		}
		if hasActiveAppointment(day, fresh.CitizenID, fresh.ID) {
			return apperrors.NewDuplicateBookingSameDay(domain.DateKey(fresh.AppointmentDate))
		}
		appts, err := s.appointments.ListByDepartmentDate(ctx, fresh.DepartmentID, fresh.AppointmentDate)
		if err != nil {
			return err
		}
		if !IsSlotAvailable(dept, fresh.AppointmentDate, fresh.TimeSlot, appts) {
			return apperrors.NewSlotNoLongerAvailable(fresh.TimeSlot)
		}
		fresh.Status = domain.StatusConfirmed
		fresh.NoShowAt = nil
		fresh.UpdatedAt = now
		position, shifts := Reorder(appts, fresh)
		fresh.QueuePosition = position
		if err := s.appointments.Update(ctx, fresh, shifts); err != nil {
			return err
		}
		appt = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, s.appointmentEvent(events.EventAppointmentReactivated, reactivatedBy, appt, domain.StatusNoShow, reason))
	s.audit.LogAction(ctx, AuditAction{
		Action:     "appointment_reactivated",
		EntityType: "appointment",
		EntityID:   appt.ID,
		UserID:     reactivatedBy,
		Reason:     reason,
		Changes:    map[string]any{"status": string(appt.Status), "queue_position": appt.QueuePosition},
	})
	return appt, nil
}
