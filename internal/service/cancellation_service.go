package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/bucket"
	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/events"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

// CancellationPolicy bounds how late an appointment may be cancelled or rescheduled.
type CancellationPolicy struct {
	Name             string  `json:"name"`
	CutoffHours      int     `json:"cutoff_hours"`
	RefundPercentage int     `json:"refund_percentage"`
	CancellationFee  float64 `json:"cancellation_fee"`
}

// Policies holds the policy for each appointment classification.
type Policies struct {
	Standard  CancellationPolicy
	Premium   CancellationPolicy
	Emergency CancellationPolicy
}

// DefaultPolicies returns the stock policies.
func DefaultPolicies() Policies {
	return Policies{
		Standard:  CancellationPolicy{Name: "standard", CutoffHours: 24, RefundPercentage: 100},
		Premium:   CancellationPolicy{Name: "premium", CutoffHours: 2, RefundPercentage: 100},
		Emergency: CancellationPolicy{Name: "emergency", CutoffHours: 0, RefundPercentage: 100},
	}
}

// For picks the policy: emergency bookings first, then VIP, otherwise standard.
func (p Policies) For(appt *domain.Appointment) CancellationPolicy {
	switch {
	case appt.IsEmergency:
		return p.Emergency
	case appt.IsVip:
		return p.Premium
	default:
		return p.Standard
	}
}

// CancellationService enforces cancellation policies and frees slots for the waitlist.
type CancellationService struct {
	*engine
	waitlist *WaitlistService
	policies Policies
}

// NewCancellationService constructs the service.
func NewCancellationService(deps EngineDependencies, waitlist *WaitlistService, policies Policies) *CancellationService {
	if policies.Standard.Name == "" {
		policies.Standard.Name = "standard"
	}
	if policies.Premium.Name == "" {
		policies.Premium.Name = "premium"
	}
	if policies.Emergency.Name == "" {
		policies.Emergency.Name = "emergency"
	}
	return &CancellationService{engine: newEngine(deps), waitlist: waitlist, policies: policies}
}

// CancellationResult reports a successful cancellation.
type CancellationResult struct {
	Appointment           *domain.Appointment `json:"appointment"`
	Policy                string              `json:"policy"`
	RefundPercentage      int                 `json:"refund_percentage"`
	CancellationFee       float64             `json:"cancellation_fee"`
	HoursUntilAppointment float64             `json:"hours_until_appointment"`
	Promotion             *PromotionResult    `json:"promotion,omitempty"`
}

// RescheduleResult links the superseded appointment to its replacement.
type RescheduleResult struct {
	Original    *domain.Appointment `json:"original"`
	Replacement *domain.Appointment `json:"replacement"`
	Promotion   *PromotionResult    `json:"promotion,omitempty"`
}

// checkCancellable enforces the status precondition before the time window.
func (s *CancellationService) checkCancellable(appt *domain.Appointment, now time.Time) (CancellationPolicy, float64, error) {
	policy := s.policies.For(appt)
	switch appt.Status {
	case domain.StatusCancelled, domain.StatusCompleted, domain.StatusServing:
		return policy, 0, transitionError(appt.Status, domain.StatusCancelled)
	}
	start, err := appt.ScheduledStart(s.loc)
	if err != nil {
		return policy, 0, apperrors.NewInternalError(err)
	}
	hours := start.Sub(now).Hours()
	if hours < float64(policy.CutoffHours) {
		return policy, hours, apperrors.NewCancellationWindowExpired(policy.CutoffHours)
	}
	return policy, hours, nil
}

// Cancel cancels an appointment and offers its slot to the waitlist.
func (s *CancellationService) Cancel(ctx context.Context, appointmentID, cancelledBy, reason string) (result *CancellationResult, err error) {
	ctx, span := startSpan(ctx, "cancellation.cancel", attribute.String("queue.appointment_id", appointmentID))
	defer func() { endSpan(span, err) }()

	current, err := s.appointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	var previous domain.AppointmentStatus
	key := bucket.AppointmentKey(current.DepartmentID, current.AppointmentDate)
	err = s.critical(ctx, "cancel", []string{key}, func() error {
		fresh, err := s.appointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		now := s.now()
		policy, hours, err := s.checkCancellable(fresh, now)
		if err != nil {
			return err
		}
		appts, err := s.appointments.ListByDepartmentDate(ctx, fresh.DepartmentID, fresh.AppointmentDate)
		if err != nil {
			return err
		}
		previous = fresh.Status
		applyCancellation(fresh, now, cancelledBy, reason)
		_, shifts := Reorder(appts, fresh)
		if err := s.appointments.Update(ctx, fresh, shifts); err != nil {
			return err
		}
		result = &CancellationResult{
			Appointment:           fresh,
			Policy:                policy.Name,
			RefundPercentage:      policy.RefundPercentage,
			CancellationFee:       policy.CancellationFee,
			HoursUntilAppointment: hours,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	appt := result.Appointment
	s.metrics.ObserveCancellation(result.Policy)
	s.publish(ctx, s.appointmentEvent(events.EventAppointmentCancelled, cancelledBy, appt, previous, reason))
	s.audit.LogAction(ctx, AuditAction{
		Action:     "appointment_cancelled",
		EntityType: "appointment",
		EntityID:   appt.ID,
		UserID:     cancelledBy,
		Reason:     reason,
		Changes: map[string]any{
			"previous_status":   string(previous),
			"policy":            result.Policy,
			"refund_percentage": result.RefundPercentage,
		},
	})
	result.Promotion = s.reallocate(ctx, previous, appt.DepartmentID, appt.ServiceID, appt.AppointmentDate, appt.TimeSlot)
	return result, nil
}

func applyCancellation(appt *domain.Appointment, now time.Time, by, reason string) {
	appt.Status = domain.StatusCancelled
	appt.CancelledAt = timePtr(now)
	appt.CancelledBy = by
	appt.CancellationReason = reason
	appt.UpdatedAt = now
}

func (s *CancellationService) reallocate(ctx context.Context, previous domain.AppointmentStatus, departmentID, serviceID string, date time.Time, timeSlot string) *PromotionResult {
	if previous != domain.StatusConfirmed && previous != domain.StatusWaiting {
		return nil
	}
	if s.waitlist == nil {
		return nil
	}
	promotion, err := s.waitlist.ProcessWaitlistForSlot(ctx, departmentID, serviceID, date, timeSlot)
	if err != nil {
		s.logger.Warn("waitlist reallocation after cancellation failed",
			zap.String("department_id", departmentID),
			zap.String("time_slot", timeSlot),
			zap.Error(err))
		return nil
	}
	return promotion
}

// Reschedule moves an appointment to a new date and slot. The replacement gets a fresh
// token in its new bucket and the original is cancelled.
func (s *CancellationService) Reschedule(ctx context.Context, appointmentID string, newDate time.Time, newTimeSlot, rescheduledBy, reason string) (result *RescheduleResult, err error) {
	newDate = domain.DateOf(newDate, nil)
	ctx, span := startSpan(ctx, "cancellation.reschedule",
		attribute.String("queue.appointment_id", appointmentID),
		attribute.String("queue.new_date", domain.DateKey(newDate)),
		attribute.String("queue.new_time_slot", newTimeSlot))
	defer func() { endSpan(span, err) }()

	if newDate.IsZero() || newTimeSlot == "" {
		return nil, apperrors.NewValidationError("new_date and new_time_slot are required", nil)
	}
	current, err := s.appointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	dept, err := s.department(ctx, current.DepartmentID)
	if err != nil {
		return nil, err
	}
	if !IsValidSlot(dept, newTimeSlot) {
		return nil, apperrors.NewValidationError("new_time_slot is not a slot of this department",
			map[string]any{"time_slot": newTimeSlot})
	}

	var previous domain.AppointmentStatus
	keys := []string{
		bucket.AppointmentKey(dept.ID, current.AppointmentDate),
		bucket.AppointmentKey(dept.ID, newDate),
		bucket.CitizenKey(current.CitizenID, newDate),
	}
	err = s.critical(ctx, "reschedule", keys, func() error {
		original, err := s.appointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		now := s.now()
		if _, _, err := s.checkCancellable(original, now); err != nil {
			return err
		}
		if !domain.SameDate(original.AppointmentDate, newDate) {
			dayAppointments, err := s.appointments.ListByDate(ctx, newDate)
			if err != nil {
				return err
			}
			if hasActiveAppointment(dayAppointments, original.CitizenID, original.ID) {
				return apperrors.NewDuplicateBookingSameDay(domain.DateKey(newDate))
			}
		}
		target, err := s.appointments.ListByDepartmentDate(ctx, dept.ID, newDate)
		if err != nil {
			return err
		}
		if !IsSlotAvailable(dept, newDate, newTimeSlot, withoutAppointment(target, original.ID)) {
			return apperrors.NewSlotUnavailable(domain.DateKey(newDate), newTimeSlot)
		}

		replacement := &domain.Appointment{
			ID:                uuid.NewString(),
			CitizenID:         original.CitizenID,
			DepartmentID:      original.DepartmentID,
			ServiceID:         original.ServiceID,
			AppointmentDate:   newDate,
			TimeSlot:          newTimeSlot,
			Priority:          original.Priority,
			PriorityFlags:     original.PriorityFlags,
			PwdCertificateURL: original.PwdCertificateURL,
			AgeProofURL:       original.AgeProofURL,
			Status:            domain.StatusConfirmed,
			Contact:           original.Contact,
			Notes:             original.Notes,
			RescheduledFrom:   original.ID,
			RescheduledAt:     timePtr(now),
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		assignment := AssignToken(dept.Code, target, replacement)
		replacement.TokenNumber = assignment.TokenNumber
		replacement.QueuePosition = assignment.QueuePosition
		if err := s.appointments.Create(ctx, replacement, assignment.Shifts); err != nil {
			return err
		}

		// Creation may have shifted the original; cancel from a fresh copy.
		original, err = s.appointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		source, err := s.appointments.ListByDepartmentDate(ctx, dept.ID, original.AppointmentDate)
		if err != nil {
			return err
		}
		previous = original.Status
		cancelReason := fmt.Sprintf("Rescheduled to %s %s", domain.DateKey(newDate), newTimeSlot)
		if reason != "" {
			cancelReason += ": " + reason
		}
		applyCancellation(original, now, rescheduledBy, cancelReason)
		original.RescheduledAt = timePtr(now)
		_, shifts := Reorder(source, original)
		if err := s.appointments.Update(ctx, original, shifts); err != nil {
			s.logger.Error("replacement booked but original could not be cancelled",
				zap.String("original_id", original.ID), zap.String("replacement_id", replacement.ID), zap.Error(err))
			return apperrors.NewInternalError(err)
		}
		if refreshed, err := s.appointments.GetByID(ctx, replacement.ID); err == nil {
			replacement = refreshed
		}
		result = &RescheduleResult{Original: original, Replacement: replacement}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:     events.EventAppointmentRescheduled,
		EntityID: result.Replacement.ID,
		Actor:    events.Actor{UserID: rescheduledBy},
		Payload:  events.RescheduledPayload{Original: *result.Original, Replacement: *result.Replacement},
	})
	s.audit.LogAction(ctx, AuditAction{
		Action:     "appointment_rescheduled",
		EntityType: "appointment",
		EntityID:   result.Original.ID,
		UserID:     rescheduledBy,
		Reason:     reason,
		Changes: map[string]any{
			"replacement_id": result.Replacement.ID,
			"new_date":       domain.DateKey(newDate),
			"new_time_slot":  newTimeSlot,
			"new_token":      result.Replacement.TokenNumber,
		},
	})
	orig := result.Original
	result.Promotion = s.reallocate(ctx, previous, orig.DepartmentID, orig.ServiceID, orig.AppointmentDate, orig.TimeSlot)
	return result, nil
}

func withoutAppointment(appts []domain.Appointment, id string) []domain.Appointment {
	out := make([]domain.Appointment, 0, len(appts))
	for _, a := range appts {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

// Policies returns the configured policies.
func (s *CancellationService) Policies() Policies {
	return s.policies
}
