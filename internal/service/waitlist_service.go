package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/bucket"
	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/events"
	"github.com/civicq/queue-service/internal/repository"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

// WaitlistService manages waitlist entries and reallocates freed slots to them.
type WaitlistService struct {
	*engine
}

// NewWaitlistService constructs the service.
func NewWaitlistService(deps EngineDependencies) *WaitlistService {
	return &WaitlistService{engine: newEngine(deps)}
}

// WaitlistInput describes a request to join a waitlist.
type WaitlistInput struct {
	CitizenID         string
	DepartmentID      string
	ServiceID         string
	PreferredDate     time.Time
	PreferredTimeSlot string
	Flags             domain.PriorityFlags
	Contact           domain.Contact
}

// PromotionResult is the outcome of a reallocation attempt.
type PromotionResult struct {
	Promoted    bool                  `json:"promoted"`
	Reason      string                `json:"reason,omitempty"`
	Entry       *domain.WaitlistEntry `json:"entry,omitempty"`
	Appointment *domain.Appointment   `json:"appointment,omitempty"`
}

const (
	promotionNoCandidate     = "no eligible waitlist entry"
	promotionSlotUnavailable = "slot no longer available"
)

// AddToWaitlist appends the citizen to the (department, service, date) waitlist.
func (s *WaitlistService) AddToWaitlist(ctx context.Context, input WaitlistInput) (entry *domain.WaitlistEntry, err error) {
	ctx, span := startSpan(ctx, "waitlist.add", bucketAttrs(input.DepartmentID, input.PreferredDate)...)
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(input.CitizenID) == "" || input.ServiceID == "" || input.PreferredDate.IsZero() {
		return nil, apperrors.NewValidationError("citizen_id, service_id and preferred_date are required", nil)
	}
	dept, err := s.department(ctx, input.DepartmentID)
	if err != nil {
		return nil, err
	}
	if input.PreferredTimeSlot != "" && !IsValidSlot(dept, input.PreferredTimeSlot) {
		return nil, apperrors.NewValidationError("preferred_time_slot is not a slot of this department",
			map[string]any{"time_slot": input.PreferredTimeSlot})
	}
	date := domain.DateOf(input.PreferredDate, nil)

	key := bucket.WaitlistKey(dept.ID, input.ServiceID, date)
	err = s.critical(ctx, "waitlist_add", []string{key}, func() error {
		entries, err := s.waitlist.ListByBucket(ctx, dept.ID, input.ServiceID, date)
		if err != nil {
			return err
		}
		waiting := 0
		for _, existing := range entries {
			if existing.Status != domain.WaitlistWaiting {
				continue
			}
			if existing.CitizenID == input.CitizenID {
				return apperrors.NewAlreadyOnWaitlist()
			}
			waiting++
		}
		now := s.now()
		entry = &domain.WaitlistEntry{
			ID:                uuid.NewString(),
			CitizenID:         input.CitizenID,
			DepartmentID:      dept.ID,
			ServiceID:         input.ServiceID,
			PreferredDate:     date,
			PreferredTimeSlot: input.PreferredTimeSlot,
			Position:          waiting + 1,
			Status:            domain.WaitlistWaiting,
			PriorityFlags:     input.Flags,
			Contact:           input.Contact,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return s.waitlist.Create(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:     events.EventWaitlistJoined,
		EntityID: entry.ID,
		Actor:    events.Actor{UserID: entry.CitizenID, Role: domain.RoleCitizen},
		Payload:  events.WaitlistPayload{Entry: *entry},
	})
	s.audit.LogAction(ctx, AuditAction{
		Action:     "waitlist_joined",
		EntityType: "waitlist_entry",
		EntityID:   entry.ID,
		UserID:     entry.CitizenID,
		Changes:    map[string]any{"position": entry.Position},
	})
	return entry, nil
}

// RemoveFromWaitlist cancels a waiting entry and closes the gap it leaves.
func (s *WaitlistService) RemoveFromWaitlist(ctx context.Context, id, removedBy, reason string) (entry *domain.WaitlistEntry, err error) {
	ctx, span := startSpan(ctx, "waitlist.remove", attribute.String("waitlist.entry_id", id))
	defer func() { endSpan(span, err) }()

	current, err := s.entry(ctx, id)
	if err != nil {
		return nil, err
	}
	key := bucket.WaitlistKey(current.DepartmentID, current.ServiceID, current.PreferredDate)
	err = s.critical(ctx, "waitlist_remove", []string{key}, func() error {
		fresh, err := s.entry(ctx, id)
		if err != nil {
			return err
		}
		if fresh.Status != domain.WaitlistWaiting {
			return apperrors.NewInvalidStatusTransition(string(fresh.Status), string(domain.WaitlistCancelled))
		}
		entries, err := s.waitlist.ListByBucket(ctx, fresh.DepartmentID, fresh.ServiceID, fresh.PreferredDate)
		if err != nil {
			return err
		}
		fresh.Status = domain.WaitlistCancelled
		fresh.CancelReason = reason
		fresh.UpdatedAt = s.now()
		if err := s.waitlist.Update(ctx, fresh, renumberWaitlist(entries, fresh.ID)); err != nil {
			return err
		}
		entry = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.audit.LogAction(ctx, AuditAction{
		Action:     "waitlist_removed",
		EntityType: "waitlist_entry",
		EntityID:   entry.ID,
		UserID:     removedBy,
		Reason:     reason,
	})
	return entry, nil
}

// Waitlist returns the entries of a bucket in position order.
func (s *WaitlistService) Waitlist(ctx context.Context, departmentID, serviceID string, date time.Time) ([]domain.WaitlistEntry, error) {
	entries, err := s.waitlist.ListByBucket(ctx, departmentID, serviceID, domain.DateOf(date, nil))
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return entries, nil
}

// GetEntry loads a waitlist entry by id.
func (s *WaitlistService) GetEntry(ctx context.Context, id string) (*domain.WaitlistEntry, error) {
	return s.entry(ctx, id)
}

func (s *WaitlistService) entry(ctx context.Context, id string) (*domain.WaitlistEntry, error) {
	entry, err := s.waitlist.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewWaitlistEntryNotFound(id)
		}
		return nil, apperrors.NewInternalError(err)
	}
	return entry, nil
}

// ProcessWaitlistForSlot promotes the earliest eligible waiting citizen into a freed slot.
// It returns a result with Promoted=false when nobody is eligible or capacity is gone;
// the waitlist is left untouched in that case.
func (s *WaitlistService) ProcessWaitlistForSlot(ctx context.Context, departmentID, serviceID string, date time.Time, timeSlot string) (result *PromotionResult, err error) {
	date = domain.DateOf(date, nil)
	ctx, span := startSpan(ctx, "waitlist.process_slot",
		append(bucketAttrs(departmentID, date), attribute.String("queue.time_slot", timeSlot))...)
	defer func() { endSpan(span, err) }()

	dept, err := s.department(ctx, departmentID)
	if err != nil {
		return nil, err
	}

	// The candidate's citizen key is only known after reading the waitlist, so the
	// candidate is peeked first and confirmed again once every key is held.
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		candidate, err := s.firstEligible(ctx, dept, serviceID, date, timeSlot)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			s.metrics.ObservePromotion("no_candidate")
			return &PromotionResult{Reason: promotionNoCandidate}, nil
		}

		keys := []string{
			bucket.WaitlistKey(dept.ID, serviceID, date),
			bucket.AppointmentKey(dept.ID, date),
			bucket.CitizenKey(candidate.CitizenID, date),
		}
		var stale bool
		err = s.critical(ctx, "waitlist_promote", keys, func() error {
			stale = false
			current, err := s.firstEligible(ctx, dept, serviceID, date, timeSlot)
			if err != nil {
				return err
			}
			if current == nil || current.ID != candidate.ID {
				stale = true
				return nil
			}
			existing, err := s.appointments.ListByDepartmentDate(ctx, dept.ID, date)
			if err != nil {
				return err
			}
			if !IsSlotAvailable(dept, date, timeSlot, existing) {
				result = &PromotionResult{Reason: promotionSlotUnavailable, Entry: current}
				return nil
			}
			result, err = s.promote(ctx, dept, current, timeSlot, existing)
			return err
		})
		if err != nil {
			return nil, err
		}
		if stale {
			continue
		}
		break
	}
	if result == nil {
		return nil, apperrors.NewConcurrentModification(errors.New("waitlist kept changing during promotion"))
	}

	if !result.Promoted {
		s.metrics.ObservePromotion("slot_unavailable")
		return result, nil
	}
	s.metrics.ObservePromotion("promoted")
	s.logger.Info("waitlist entry promoted",
		zap.String("waitlist_entry_id", result.Entry.ID),
		zap.String("appointment_id", result.Appointment.ID),
		zap.String("token", result.Appointment.TokenNumber))
	s.publish(ctx, events.Event{
		Type:     events.EventWaitlistPromoted,
		EntityID: result.Entry.ID,
		Payload:  events.WaitlistPayload{Entry: *result.Entry, Appointment: result.Appointment},
	})
	s.audit.LogAction(ctx, AuditAction{
		Action:     "waitlist_promoted",
		EntityType: "waitlist_entry",
		EntityID:   result.Entry.ID,
		Changes: map[string]any{
			"appointment_id": result.Appointment.ID,
			"token_number":   result.Appointment.TokenNumber,
			"time_slot":      timeSlot,
		},
	})
	return result, nil
}

// firstEligible returns the lowest-position waiting entry that accepts timeSlot and
// whose citizen holds no active appointment that day.
func (s *WaitlistService) firstEligible(ctx context.Context, dept *domain.Department, serviceID string, date time.Time, timeSlot string) (*domain.WaitlistEntry, error) {
	entries, err := s.waitlist.ListByBucket(ctx, dept.ID, serviceID, date)
	if err != nil {
		return nil, err
	}
	var dayAppointments []domain.Appointment
	loaded := false
	for i := range entries {
		entry := &entries[i]
		if entry.Status != domain.WaitlistWaiting || !entry.AcceptsSlot(timeSlot) {
			continue
		}
		if !loaded {
			dayAppointments, err = s.appointments.ListByDate(ctx, date)
			if err != nil {
				return nil, err
			}
			loaded = true
		}
		if hasActiveAppointment(dayAppointments, entry.CitizenID, "") {
			continue
		}
		return entry, nil
	}
	return nil, nil
}

func (s *WaitlistService) promote(ctx context.Context, dept *domain.Department, entry *domain.WaitlistEntry, timeSlot string, existing []domain.Appointment) (*PromotionResult, error) {
	now := s.now()
	entries, err := s.waitlist.ListByBucket(ctx, entry.DepartmentID, entry.ServiceID, entry.PreferredDate)
	if err != nil {
		return nil, err
	}

	appt := &domain.Appointment{
		ID:                 uuid.NewString(),
		CitizenID:          entry.CitizenID,
		DepartmentID:       dept.ID,
		ServiceID:          entry.ServiceID,
		AppointmentDate:    entry.PreferredDate,
		TimeSlot:           timeSlot,
		Priority:           entry.PriorityFlags.Tier(),
		PriorityFlags:      entry.PriorityFlags,
		Status:             domain.StatusConfirmed,
		Contact:            entry.Contact,
		AutoReassignedFrom: entry.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	assignment := AssignToken(dept.Code, existing, appt)
	appt.TokenNumber = assignment.TokenNumber
	appt.QueuePosition = assignment.QueuePosition

	// The entry is claimed first so a lost race never leaves an orphan appointment.
	entry.Status = domain.WaitlistAssigned
	entry.AssignedAppointmentID = appt.ID
	entry.UpdatedAt = now
	if err := s.waitlist.Update(ctx, entry, renumberWaitlist(entries, entry.ID)); err != nil {
		return nil, err
	}
	if err := s.appointments.Create(ctx, appt, assignment.Shifts); err != nil {
		s.logger.Error("promoted waitlist entry but appointment create failed",
			zap.String("waitlist_entry_id", entry.ID), zap.Error(err))
		return nil, apperrors.NewInternalError(err)
	}
	return &PromotionResult{Promoted: true, Entry: entry, Appointment: appt}, nil
}

// hasActiveAppointment reports whether citizenID holds an active appointment in appts,
// ignoring excludeID.
func hasActiveAppointment(appts []domain.Appointment, citizenID, excludeID string) bool {
	for i := range appts {
		if appts[i].CitizenID == citizenID && appts[i].ID != excludeID && appts[i].Status.IsActive() {
			return true
		}
	}
	return false
}
