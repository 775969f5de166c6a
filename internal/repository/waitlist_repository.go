package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/civicq/queue-service/internal/domain"
)

// WaitlistRepository encapsulates waitlist persistence.
type WaitlistRepository interface {
	Create(ctx context.Context, entry *domain.WaitlistEntry) error
	// Update saves entry if its Version is current and renumbers the other entries atomically.
	Update(ctx context.Context, entry *domain.WaitlistEntry, shifts []PositionUpdate) error
	GetByID(ctx context.Context, id string) (*domain.WaitlistEntry, error)
	// ListByBucket returns every entry of the bucket ordered by position then creation.
	ListByBucket(ctx context.Context, departmentID, serviceID string, date time.Time) ([]domain.WaitlistEntry, error)
}

type waitlistRepository struct {
	db DB
}

// NewWaitlistRepository instantiates the Postgres repository.
func NewWaitlistRepository(db DB) WaitlistRepository {
	return &waitlistRepository{db: db}
}

const waitlistColumns = `id, citizen_id, department_id, service_id, preferred_date, preferred_time_slot, position,
        status, assigned_appointment_id, is_pwd, is_senior_citizen, is_emergency, is_vip,
        contact_email, contact_phone, contact_channel, cancel_reason, created_at, updated_at, version`

func (r *waitlistRepository) Create(ctx context.Context, entry *domain.WaitlistEntry) error {
	const query = `
        INSERT INTO waitlist_entries (` + waitlistColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`
	if entry.Version == 0 {
		entry.Version = 1
	}
	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.CitizenID,
		entry.DepartmentID,
		entry.ServiceID,
		entry.PreferredDate,
		entry.PreferredTimeSlot,
		entry.Position,
		entry.Status,
		entry.AssignedAppointmentID,
		entry.IsPwd,
		entry.IsSeniorCitizen,
		entry.IsEmergency,
		entry.IsVip,
		entry.Contact.Email,
		entry.Contact.Phone,
		entry.Contact.Channel,
		entry.CancelReason,
		entry.CreatedAt,
		entry.UpdatedAt,
		entry.Version,
	)
	return err
}

func (r *waitlistRepository) Update(ctx context.Context, entry *domain.WaitlistEntry, shifts []PositionUpdate) error {
	const query = `
        UPDATE waitlist_entries SET position=$1, status=$2, assigned_appointment_id=$3, cancel_reason=$4,
            updated_at=$5, version=version+1
        WHERE id=$6 AND version=$7`
	const shiftQuery = `UPDATE waitlist_entries SET position=$1, version=version+1 WHERE id=$2`
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, query,
			entry.Position,
			entry.Status,
			entry.AssignedAppointmentID,
			entry.CancelReason,
			entry.UpdatedAt,
			entry.ID,
			entry.Version,
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		for _, shift := range shifts {
			if _, err := tx.Exec(ctx, shiftQuery, shift.Position, shift.ID); err != nil {
				return fmt.Errorf("shift waitlist entry %s: %w", shift.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	entry.Version++
	return nil
}

func (r *waitlistRepository) GetByID(ctx context.Context, id string) (*domain.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE id=$1`
	entry, err := scanWaitlistEntry(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err)
	}
	return entry, nil
}

func (r *waitlistRepository) ListByBucket(ctx context.Context, departmentID, serviceID string, date time.Time) ([]domain.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries
        WHERE department_id=$1 AND service_id=$2 AND preferred_date=$3
        ORDER BY position, created_at, id`
	rows, err := r.db.Query(ctx, query, departmentID, serviceID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.WaitlistEntry
	for rows.Next() {
		entry, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *entry)
	}
	return result, rows.Err()
}

func scanWaitlistEntry(row pgx.Row) (*domain.WaitlistEntry, error) {
	var e domain.WaitlistEntry
	if err := row.Scan(
		&e.ID,
		&e.CitizenID,
		&e.DepartmentID,
		&e.ServiceID,
		&e.PreferredDate,
		&e.PreferredTimeSlot,
		&e.Position,
		&e.Status,
		&e.AssignedAppointmentID,
		&e.IsPwd,
		&e.IsSeniorCitizen,
		&e.IsEmergency,
		&e.IsVip,
		&e.Contact.Email,
		&e.Contact.Phone,
		&e.Contact.Channel,
		&e.CancelReason,
		&e.CreatedAt,
		&e.UpdatedAt,
		&e.Version,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
