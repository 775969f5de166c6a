package service

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/domain"
	"github.com/civicq/queue-service/internal/events"
	"github.com/civicq/queue-service/internal/notify"
	"github.com/civicq/queue-service/internal/observability"
)

// NotificationService turns domain events into citizen notifications.
// Delivery failures are logged and counted, never retried.
type NotificationService struct {
	dispatcher              events.Dispatcher
	sender                  notify.Sender
	logger                  *zap.Logger
	metrics                 *observability.QueueMetrics
	loc                     *time.Location
	reactivationWindowHours int
}

// NotificationDependencies bundles collaborators of the notification service.
type NotificationDependencies struct {
	Dispatcher              events.Dispatcher
	Sender                  notify.Sender
	Logger                  *zap.Logger
	Metrics                 *observability.QueueMetrics
	Location                *time.Location
	ReactivationWindowHours int
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	n := &NotificationService{
		dispatcher:              deps.Dispatcher,
		sender:                  deps.Sender,
		logger:                  deps.Logger,
		metrics:                 deps.Metrics,
		loc:                     deps.Location,
		reactivationWindowHours: deps.ReactivationWindowHours,
	}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
	if n.loc == nil {
		n.loc = time.UTC
	}
	return n
}

var appointmentTemplates = map[events.EventType]string{
	events.EventAppointmentBooked:      notify.TemplateBooked,
	events.EventAppointmentCheckedIn:   notify.TemplateCheckedIn,
	events.EventTokenCalled:            notify.TemplateCalled,
	events.EventTokenCompleted:         notify.TemplateCompleted,
	events.EventAppointmentCancelled:   notify.TemplateCancelled,
	events.EventAppointmentNoShow:      notify.TemplateNoShow,
	events.EventAppointmentReactivated: notify.TemplateReactivated,
	events.EventAppointmentReminder:    notify.TemplateReminder,
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for eventType := range appointmentTemplates {
		n.dispatcher.Subscribe(eventType, n.handleAppointmentEvent)
	}
	n.dispatcher.Subscribe(events.EventAppointmentRescheduled, n.handleRescheduled)
	n.dispatcher.Subscribe(events.EventWaitlistJoined, n.handleWaitlistEvent)
	n.dispatcher.Subscribe(events.EventWaitlistPromoted, n.handleWaitlistEvent)
}

func (n *NotificationService) handleAppointmentEvent(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.AppointmentPayload)
	if !ok {
		return nil
	}
	vars := n.appointmentVariables(&payload.Appointment)
	vars["reason"] = payload.Reason
	if event.Type == events.EventAppointmentNoShow {
		vars["window_hours"] = strconv.Itoa(n.reactivationWindowHours)
	}
	n.send(ctx, event, payload.Appointment.Contact, appointmentTemplates[event.Type], vars)
	return nil
}

func (n *NotificationService) handleRescheduled(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.RescheduledPayload)
	if !ok {
		return nil
	}
	n.send(ctx, event, payload.Replacement.Contact, notify.TemplateRescheduled, n.appointmentVariables(&payload.Replacement))
	return nil
}

func (n *NotificationService) handleWaitlistEvent(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.WaitlistPayload)
	if !ok {
		return nil
	}
	if event.Type == events.EventWaitlistPromoted && payload.Appointment != nil {
		n.send(ctx, event, payload.Entry.Contact, notify.TemplatePromoted, n.appointmentVariables(payload.Appointment))
		return nil
	}
	vars := map[string]string{
		"date":     domain.DateKey(payload.Entry.PreferredDate),
		"position": strconv.Itoa(payload.Entry.Position),
	}
	n.send(ctx, event, payload.Entry.Contact, notify.TemplateWaitlisted, vars)
	return nil
}

func (n *NotificationService) appointmentVariables(appt *domain.Appointment) map[string]string {
	vars := map[string]string{
		"token":     appt.TokenNumber,
		"date":      domain.DateKey(appt.AppointmentDate),
		"time_slot": appt.TimeSlot,
		"position":  strconv.Itoa(appt.QueuePosition),
		"counter":   appt.CounterID,
	}
	if start, err := appt.ScheduledStart(n.loc); err == nil {
		vars["start_time"] = start.Format("15:04")
	}
	return vars
}

func (n *NotificationService) send(ctx context.Context, event events.Event, contact domain.Contact, template string, vars map[string]string) {
	channel := contact.Channel
	if channel == "" {
		channel = domain.ChannelEmail
	}
	to := contact.Email
	if channel == domain.ChannelSMS || channel == domain.ChannelWhatsApp {
		to = contact.Phone
	}
	if to == "" {
		n.logger.Debug("no contact for notification",
			zap.String("event_type", string(event.Type)), zap.String("entity_id", event.EntityID))
		return
	}
	if n.sender == nil {
		return
	}
	err := n.sender.Send(ctx, notify.Message{To: to, Channel: channel, Template: template, Variables: vars})
	n.metrics.ObserveNotification(string(channel), err == nil)
	if err != nil {
		n.logger.Warn("notification failed",
			zap.String("event_type", string(event.Type)),
			zap.String("entity_id", event.EntityID),
			zap.String("channel", string(channel)),
			zap.Error(err))
	}
}
