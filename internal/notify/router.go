package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/civicq/queue-service/internal/domain"
)

// Router picks the delivery mechanism for a Message by channel.
type Router struct {
	email   EmailSender
	webhook *WebhookSender
	logger  *zap.Logger
}

// NewRouter builds a Router. A nil email sender falls back to the stub sender.
func NewRouter(email EmailSender, webhook *WebhookSender, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if email == nil {
		email = NewStubEmailSender(logger)
	}
	return &Router{email: email, webhook: webhook, logger: logger}
}

// Send renders msg and hands it to the sender for its channel.
func (r *Router) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("notify: no recipient for %s", msg.Channel)
	}
	subject, body, err := Render(msg)
	if err != nil {
		return err
	}
	switch msg.Channel {
	case domain.ChannelEmail, "":
		return r.email.SendEmail(ctx, EmailMessage{To: msg.To, Subject: subject, Body: body})
	case domain.ChannelSMS, domain.ChannelWhatsApp:
		if r.webhook == nil {
			r.logger.Info("no text gateway configured; skipping", zap.String("channel", string(msg.Channel)), zap.String("to", msg.To))
			return nil
		}
		return r.webhook.SendText(ctx, msg.Channel, msg.To, msg.Template, body)
	default:
		return fmt.Errorf("notify: unsupported channel %q", msg.Channel)
	}
}

var _ Sender = (*Router)(nil)
