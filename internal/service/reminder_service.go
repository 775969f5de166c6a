package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/events"
	"github.com/civicq/queue-service/internal/repository"
	apperrors "github.com/civicq/queue-service/pkg/util"
)

const reminderTypeUpcoming = "upcoming_appointment"

// ReminderService sends one reminder shortly before each confirmed appointment.
type ReminderService struct {
	*engine
	reminders repository.ReminderRepository
	lead      time.Duration
}

// NewReminderService constructs the service.
func NewReminderService(deps EngineDependencies, reminders repository.ReminderRepository, leadMinutes int) *ReminderService {
	if leadMinutes <= 0 {
		leadMinutes = 15
	}
	return &ReminderService{
		engine:    newEngine(deps),
		reminders: reminders,
		lead:      time.Duration(leadMinutes) * time.Minute,
	}
}

// SendDueReminders publishes a reminder for every confirmed appointment of today that
// starts within the lead time after now. Each appointment is reminded at most once.
func (s *ReminderService) SendDueReminders(ctx context.Context, now time.Time) (sent int, err error) {
	date := domain.DateOf(now, s.loc)
	ctx, span := startSpan(ctx, "reminder.send_due", attribute.String("queue.date", domain.DateKey(date)))
	defer func() { endSpan(span, err) }()

	appts, err := s.appointments.ListByDate(ctx, date)
	if err != nil {
		return 0, apperrors.NewInternalError(err)
	}
	for i := range appts {
		appt := &appts[i]
		if appt.Status != domain.StatusConfirmed {
			continue
		}
		start, err := appt.ScheduledStart(s.loc)
		if err != nil || !start.After(now) || start.After(now.Add(s.lead)) {
			continue
		}
		recipient := appt.Contact.Email
		if appt.Contact.Channel == domain.ChannelSMS || appt.Contact.Channel == domain.ChannelWhatsApp {
			recipient = appt.Contact.Phone
		}
		first, err := s.reminders.MarkSent(ctx, &domain.ReminderLog{
			AppointmentID: appt.ID,
			Recipient:     recipient,
			ReminderType:  reminderTypeUpcoming,
			SentAt:        now,
		})
		if err != nil {
			s.logger.Warn("reminder log write failed", zap.String("appointment_id", appt.ID), zap.Error(err))
			continue
		}
		if !first {
			continue
		}
		s.publish(ctx, s.appointmentEvent(events.EventAppointmentReminder, "", appt, "", ""))
		sent++
	}
	span.SetAttributes(attribute.Int("reminder.sent", sent))
	return sent, nil
}
