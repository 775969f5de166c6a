package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/bucket"
	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/events"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

// BookingService books citizens into department slots.
type BookingService struct {
	*engine
	waitlist *WaitlistService
}

// NewBookingService constructs the service. Full slots spill into waitlist when requested.
func NewBookingService(deps EngineDependencies, waitlist *WaitlistService) *BookingService {
	return &BookingService{engine: newEngine(deps), waitlist: waitlist}
}

// BookingInput describes a booking request.
type BookingInput struct {
	CitizenID         string
	DepartmentID      string
	ServiceID         string
	Date              time.Time
	TimeSlot          string
	Flags             domain.PriorityFlags
	PwdCertificateURL string
	AgeProofURL       string
	Contact           domain.Contact
	Notes             string
	// WalkIn creates the appointment already checked in. Emergencies are always walk-ins.
	WalkIn             bool
	JoinWaitlistIfFull bool
	BookedBy           string
}

// BookingResult carries the new appointment, or the waitlist entry when the slot was full.
type BookingResult struct {
	Appointment   *domain.Appointment
	WaitlistEntry *domain.WaitlistEntry
}

// Book assigns a token and queue position for a new appointment.
func (s *BookingService) Book(ctx context.Context, input BookingInput) (result *BookingResult, err error) {
	tier := input.Flags.Tier()
	ctx, span := startSpan(ctx, "booking.book",
		append(bucketAttrs(input.DepartmentID, input.Date), attribute.String("queue.tier", tier.String()))...)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(input.CitizenID) == "" || input.ServiceID == "" {
		return nil, apperrors.NewValidationError("citizen_id and service_id are required", nil)
	}
	dept, err := s.department(ctx, input.DepartmentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	walkIn := input.WalkIn || tier == domain.TierEmergency
	date := domain.DateOf(input.Date, nil)
	timeSlot := input.TimeSlot
	if walkIn {
		date = domain.DateOf(now, s.loc)
		if timeSlot == "" {
			slot, ok := SlotAt(dept, now)
			if !ok {
				return nil, apperrors.NewValidationError("department is not serving at this time", nil)
			}
			timeSlot = slot
		}
	}
	if input.Date.IsZero() && !walkIn {
		return nil, apperrors.NewValidationError("date is required", nil)
	}
	if !IsValidSlot(dept, timeSlot) {
		return nil, apperrors.NewValidationError("time_slot is not a slot of this department",
			map[string]any{"time_slot": timeSlot})
	}

	appt := &domain.Appointment{
		ID:                uuid.NewString(),
		CitizenID:         input.CitizenID,
		DepartmentID:      dept.ID,
		ServiceID:         input.ServiceID,
		AppointmentDate:   date,
		TimeSlot:          timeSlot,
		Priority:          tier,
		PriorityFlags:     input.Flags,
		PwdCertificateURL: input.PwdCertificateURL,
		AgeProofURL:       input.AgeProofURL,
		Status:            domain.StatusConfirmed,
		Contact:           input.Contact,
		Notes:             input.Notes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if walkIn {
		appt.Status = domain.StatusWaiting
		appt.CheckedInAt = timePtr(now)
	}
	if err := appt.Validate(); err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}
	if !walkIn {
		start, err := appt.ScheduledStart(s.loc)
		if err != nil {
			return nil, apperrors.NewValidationError(err.Error(), nil)
		}
		if start.Before(now) {
			return nil, apperrors.NewValidationError("time_slot has already started",
				map[string]any{"date": domain.DateKey(date), "time_slot": timeSlot})
		}
	}

	keys := []string{bucket.AppointmentKey(dept.ID, date), bucket.CitizenKey(input.CitizenID, date)}
	full := false
	err = s.critical(ctx, "book", keys, func() error {
		dayAppointments, err := s.appointments.ListByDate(ctx, date)
		if err != nil {
			return err
		}
		if hasActiveAppointment(dayAppointments, input.CitizenID, "") {
			return apperrors.NewDuplicateBookingSameDay(domain.DateKey(date))
		}
		existing, err := s.appointments.ListByDepartmentDate(ctx, dept.ID, date)
		if err != nil {
			return err
		}
		// Emergencies jump the live queue without consuming slot capacity.
		if tier != domain.TierEmergency && !IsSlotAvailable(dept, date, timeSlot, existing) {
			full = true
			return nil
		}
		assignment := AssignToken(dept.Code, existing, appt)
		appt.TokenNumber = assignment.TokenNumber
		appt.QueuePosition = assignment.QueuePosition
		appt.Version = 0
		return s.appointments.Create(ctx, appt, assignment.Shifts)
	})
	if err != nil {
		if apperrors.IsKind(err, apperrors.CodeDuplicateBookingSameDay) {
			s.metrics.ObserveBooking(tier.String(), "duplicate")
		}
		return nil, err
	}

	if full {
		s.metrics.ObserveBooking(tier.String(), "slot_unavailable")
		return s.slotFull(ctx, input, dept, date, timeSlot)
	}

	s.metrics.ObserveBooking(tier.String(), "booked")
	s.logger.Info("appointment booked",
		zap.String("appointment_id", appt.ID),
		zap.String("token", appt.TokenNumber),
		zap.Int("queue_position", appt.QueuePosition),
		zap.String("tier", tier.String()))
	s.publish(ctx, s.appointmentEvent(events.EventAppointmentBooked, input.BookedBy, appt, "", ""))
	s.audit.LogAction(ctx, AuditAction{
		Action:     "appointment_booked",
		EntityType: "appointment",
		EntityID:   appt.ID,
		UserID:     input.BookedBy,
		Changes: map[string]any{
			"token_number":   appt.TokenNumber,
			"queue_position": appt.QueuePosition,
			"priority":       tier.String(),
			"status":         string(appt.Status),
		},
	})
	return &BookingResult{Appointment: appt}, nil
}

func (s *BookingService) slotFull(ctx context.Context, input BookingInput, dept *domain.Department, date time.Time, timeSlot string) (*BookingResult, error) {
	full := apperrors.NewSlotUnavailable(domain.DateKey(date), timeSlot)
	if !input.JoinWaitlistIfFull || s.waitlist == nil {
		return nil, full
	}
	entry, err := s.waitlist.AddToWaitlist(ctx, WaitlistInput{
		CitizenID:         input.CitizenID,
		DepartmentID:      dept.ID,
		ServiceID:         input.ServiceID,
		PreferredDate:     date,
		PreferredTimeSlot: timeSlot,
		Flags:             input.Flags,
		Contact:           input.Contact,
	})
	if err != nil {
		return nil, err
	}
	domainErr := apperrors.ToDomainError(full)
	domainErr.Details["waitlist_entry_id"] = entry.ID
	domainErr.Details["waitlist_position"] = entry.Position
	return &BookingResult{WaitlistEntry: entry}, domainErr
}

// ListSlots reports capacity for every slot of a department day.
func (s *BookingService) ListSlots(ctx context.Context, departmentID string, date time.Time) ([]SlotAvailability, error) {
	dept, err := s.department(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	date = domain.DateOf(date, nil)
	existing, err := s.appointments.ListByDepartmentDate(ctx, dept.ID, date)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	slots, err := SlotAvailabilities(dept, date, existing)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return slots, nil
}

// GetAppointment loads an appointment by id.
func (s *BookingService) GetAppointment(ctx context.Context, id string) (*domain.Appointment, error) {
	return s.appointment(ctx, id)
}
