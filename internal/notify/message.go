// Package notify delivers citizen notifications over email, SMS and WhatsApp.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/civicq/queue-service/internal/domain"
)

// Message is a channel-agnostic notification request.
type Message struct {
	To        string
	Channel   domain.NotificationChannel
	Template  string
	Variables map[string]string
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Template names.
const (
	TemplateBooked      = "appointment_booked"
	TemplateCheckedIn   = "appointment_checked_in"
	TemplateCalled      = "token_called"
	TemplateCompleted   = "token_completed"
	TemplateCancelled   = "appointment_cancelled"
	TemplateRescheduled = "appointment_rescheduled"
	TemplateNoShow      = "appointment_no_show"
	TemplateReactivated = "appointment_reactivated"
	TemplateWaitlisted  = "waitlist_joined"
	TemplatePromoted    = "waitlist_promoted"
	TemplateReminder    = "appointment_reminder"
)

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templates = map[string]messageTemplate{
	TemplateBooked: parseTemplate("Appointment confirmed: {{.token}}",
		"Your appointment on {{.date}} at {{.time_slot}} is confirmed. Token {{.token}}, queue position {{.position}}."),
	TemplateCheckedIn: parseTemplate("Checked in: {{.token}}",
		"You are checked in with token {{.token}}. Please wait to be called."),
	TemplateCalled: parseTemplate("Token {{.token}} is being called",
		"Token {{.token}}, please proceed to counter {{.counter}}."),
	TemplateCompleted: parseTemplate("Visit completed: {{.token}}",
		"Your visit with token {{.token}} is complete. Thank you."),
	TemplateCancelled: parseTemplate("Appointment cancelled: {{.token}}",
		"Your appointment on {{.date}} at {{.time_slot}} was cancelled. {{.reason}}"),
	TemplateRescheduled: parseTemplate("Appointment rescheduled: {{.token}}",
		"Your appointment has moved to {{.date}} at {{.time_slot}}. New token {{.token}}."),
	TemplateNoShow: parseTemplate("Missed appointment: {{.token}}",
		"You missed your appointment on {{.date}} at {{.time_slot}}. Contact the counter within {{.window_hours}} hours to reactivate it."),
	TemplateReactivated: parseTemplate("Appointment reactivated: {{.token}}",
		"Your appointment on {{.date}} at {{.time_slot}} is active again with token {{.token}}."),
	TemplateWaitlisted: parseTemplate("Added to waitlist",
		"You are number {{.position}} on the waitlist for {{.date}}. We will notify you when a slot opens."),
	TemplatePromoted: parseTemplate("A slot opened up: {{.token}}",
		"Good news, a slot opened on {{.date}} at {{.time_slot}}. Your token is {{.token}}."),
	TemplateReminder: parseTemplate("Reminder: appointment at {{.time_slot}}",
		"Your appointment with token {{.token}} starts at {{.start_time}} today."),
}

func parseTemplate(subject, body string) messageTemplate {
	return messageTemplate{
		subject: template.Must(template.New("subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New("body").Option("missingkey=zero").Parse(body)),
	}
}

// Render produces the subject and body for msg.
func Render(msg Message) (subject, body string, err error) {
	tmpl, ok := templates[msg.Template]
	if !ok {
		return "", "", fmt.Errorf("notify: unknown template %q", msg.Template)
	}
	var sb, bb bytes.Buffer
	if err := tmpl.subject.Execute(&sb, msg.Variables); err != nil {
		return "", "", fmt.Errorf("notify: render subject: %w", err)
	}
	if err := tmpl.body.Execute(&bb, msg.Variables); err != nil {
		return "", "", fmt.Errorf("notify: render body: %w", err)
	}
	return sb.String(), bb.String(), nil
}
