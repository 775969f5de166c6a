package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/civicq/queue-service/internal/domain"
)

// AppointmentRepository encapsulates appointment persistence.
type AppointmentRepository interface {
	// Create inserts the appointment and applies the position shifts atomically.
	Create(ctx context.Context, appt *domain.Appointment, shifts []PositionUpdate) error
	// Update saves appt if its Version is current, then applies shifts atomically.
	Update(ctx context.Context, appt *domain.Appointment, shifts []PositionUpdate) error
	GetByID(ctx context.Context, id string) (*domain.Appointment, error)
	GetByToken(ctx context.Context, token string, date time.Time) (*domain.Appointment, error)
	ListByDate(ctx context.Context, date time.Time) ([]domain.Appointment, error)
	ListByDepartmentDate(ctx context.Context, departmentID string, date time.Time) ([]domain.Appointment, error)
}

type appointmentRepository struct {
	db DB
}

// NewAppointmentRepository instantiates the Postgres repository.
func NewAppointmentRepository(db DB) AppointmentRepository {
	return &appointmentRepository{db: db}
}

const appointmentColumns = `id, token_number, citizen_id, department_id, service_id, appointment_date, time_slot,
        queue_position, priority_tier, is_pwd, is_senior_citizen, is_emergency, is_vip,
        pwd_certificate_url, age_proof_url, status, counter_id, contact_email, contact_phone, contact_channel,
        notes, created_at, updated_at, checked_in_at, actual_start_time, actual_end_time, no_show_at, cancelled_at,
        called_by, completed_by, cancelled_by, cancellation_reason, rescheduled_from, rescheduled_at,
        auto_reassigned_from, version`

func (r *appointmentRepository) Create(ctx context.Context, appt *domain.Appointment, shifts []PositionUpdate) error {
	const query = `
        INSERT INTO appointments (` + appointmentColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
                $21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31,$32,$33,$34,$35,$36)`
	if appt.Version == 0 {
		appt.Version = 1
	}
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query, appointmentArgs(appt)...); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return applyAppointmentShifts(ctx, tx, shifts)
	})
}

func (r *appointmentRepository) Update(ctx context.Context, appt *domain.Appointment, shifts []PositionUpdate) error {
	const query = `
        UPDATE appointments SET queue_position=$1, status=$2, counter_id=$3, notes=$4, checked_in_at=$5,
            actual_start_time=$6, actual_end_time=$7, no_show_at=$8, cancelled_at=$9, called_by=$10,
            completed_by=$11, cancelled_by=$12, cancellation_reason=$13, rescheduled_at=$14,
            updated_at=$15, version=version+1
        WHERE id=$16 AND version=$17`
	err := inTx(ctx, r.db, func(tx pgx.Tx) error {
		cmd, err := tx.Exec(ctx, query,
			appt.QueuePosition,
			appt.Status,
			appt.CounterID,
			appt.Notes,
			appt.CheckedInAt,
			appt.ActualStartTime,
			appt.ActualEndTime,
			appt.NoShowAt,
			appt.CancelledAt,
			appt.CalledBy,
			appt.CompletedBy,
			appt.CancelledBy,
			appt.CancellationReason,
			appt.RescheduledAt,
			appt.UpdatedAt,
			appt.ID,
			appt.Version,
		)
		if err != nil {
			return err
		}
		if cmd.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		return applyAppointmentShifts(ctx, tx, shifts)
	})
	if err != nil {
		return err
	}
	appt.Version++
	return nil
}

func applyAppointmentShifts(ctx context.Context, tx pgx.Tx, shifts []PositionUpdate) error {
	const query = `UPDATE appointments SET queue_position=$1, version=version+1 WHERE id=$2`
	for _, shift := range shifts {
		if _, err := tx.Exec(ctx, query, shift.Position, shift.ID); err != nil {
			return fmt.Errorf("shift appointment %s: %w", shift.ID, err)
		}
	}
	return nil
}

func (r *appointmentRepository) GetByID(ctx context.Context, id string) (*domain.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *appointmentRepository) GetByToken(ctx context.Context, token string, date time.Time) (*domain.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE token_number=$1 AND appointment_date=$2`
	return r.fetchSingle(ctx, query, token, date)
}

func (r *appointmentRepository) fetchSingle(ctx context.Context, query string, args ...any) (*domain.Appointment, error) {
	appt, err := scanAppointment(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, notFound(err)
	}
	return appt, nil
}

func (r *appointmentRepository) ListByDate(ctx context.Context, date time.Time) ([]domain.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
        WHERE appointment_date=$1 ORDER BY department_id, created_at, id`
	return r.list(ctx, query, date)
}

func (r *appointmentRepository) ListByDepartmentDate(ctx context.Context, departmentID string, date time.Time) ([]domain.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments
        WHERE department_id=$1 AND appointment_date=$2 ORDER BY created_at, id`
	return r.list(ctx, query, departmentID, date)
}

func (r *appointmentRepository) list(ctx context.Context, query string, args ...any) ([]domain.Appointment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *appt)
	}
	return result, rows.Err()
}

func appointmentArgs(a *domain.Appointment) []any {
	return []any{
		a.ID, a.TokenNumber, a.CitizenID, a.DepartmentID, a.ServiceID, a.AppointmentDate, a.TimeSlot,
		a.QueuePosition, int16(a.Priority), a.IsPwd, a.IsSeniorCitizen, a.IsEmergency, a.IsVip,
		a.PwdCertificateURL, a.AgeProofURL, a.Status, a.CounterID, a.Contact.Email, a.Contact.Phone, a.Contact.Channel,
		a.Notes, a.CreatedAt, a.UpdatedAt, a.CheckedInAt, a.ActualStartTime, a.ActualEndTime, a.NoShowAt, a.CancelledAt,
		a.CalledBy, a.CompletedBy, a.CancelledBy, a.CancellationReason, a.RescheduledFrom, a.RescheduledAt,
		a.AutoReassignedFrom, a.Version,
	}
}

func scanAppointment(row pgx.Row) (*domain.Appointment, error) {
	var a domain.Appointment
	var tier int16
	if err := row.Scan(
		&a.ID,
		&a.TokenNumber,
		&a.CitizenID,
		&a.DepartmentID,
		&a.ServiceID,
		&a.AppointmentDate,
		&a.TimeSlot,
		&a.QueuePosition,
		&tier,
		&a.IsPwd,
		&a.IsSeniorCitizen,
		&a.IsEmergency,
		&a.IsVip,
		&a.PwdCertificateURL,
		&a.AgeProofURL,
		&a.Status,
		&a.CounterID,
		&a.Contact.Email,
		&a.Contact.Phone,
		&a.Contact.Channel,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.CheckedInAt,
		&a.ActualStartTime,
		&a.ActualEndTime,
		&a.NoShowAt,
		&a.CancelledAt,
		&a.CalledBy,
		&a.CompletedBy,
		&a.CancelledBy,
		&a.CancellationReason,
		&a.RescheduledFrom,
		&a.RescheduledAt,
		&a.AutoReassignedFrom,
		&a.Version,
	); err != nil {
		return nil, err
	}
	a.Priority = domain.PriorityTier(tier)
	return &a, nil
}
