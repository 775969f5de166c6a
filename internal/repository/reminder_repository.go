package repository

import (
	"context"

	"github.com/civicq/queue-service/internal/domain"
)

// ReminderRepository records which appointments already received a reminder.
type ReminderRepository interface {
	// MarkSent stores the log and reports false when a reminder was already recorded.
	MarkSent(ctx context.Context, log *domain.ReminderLog) (bool, error)
}

type reminderRepository struct {
	db DB
}

// NewReminderRepository creates repository.
func NewReminderRepository(db DB) ReminderRepository {
	return &reminderRepository{db: db}
}

func (r *reminderRepository) MarkSent(ctx context.Context, log *domain.ReminderLog) (bool, error) {
	const query = `
        INSERT INTO reminder_logs (appointment_id, recipient, reminder_type, sent_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (appointment_id) DO NOTHING`
	cmd, err := r.db.Exec(ctx, query, log.AppointmentID, log.Recipient, log.ReminderType, log.SentAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}
