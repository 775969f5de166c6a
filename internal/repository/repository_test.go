package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicq/queue-service/internal/domain"
)

var departmentCols = []string{"id", "code", "name", "working_start", "working_end", "slot_duration_minutes",
	"max_slots_per_time_slot", "is_active", "created_at", "updated_at"}

func TestCachedDepartmentRepositoryHitsDatabaseOnce(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM departments WHERE id=$1")).
		WithArgs("dept-d").
		WillReturnRows(pgxmock.NewRows(departmentCols).
			AddRow("dept-d", "D", "Documents", "09:00", "17:00", 60, 1, true, created, created))

	repo := NewCachedDepartmentRepository(NewDepartmentRepository(mock), 8, time.Minute)
	for i := 0; i < 2; i++ {
		dept, err := repo.GetByID(context.Background(), "dept-d")
		require.NoError(t, err)
		assert.Equal(t, "D", dept.Code)
		assert.Equal(t, 60, dept.SlotDurationMinutes)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDepartmentNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM departments WHERE id=$1")).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = NewDepartmentRepository(mock).GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

const (
	updateAppointmentSQL = `UPDATE appointments SET queue_position=$1, status=$2`
	shiftAppointmentSQL  = `UPDATE appointments SET queue_position=$1, version=version+1 WHERE id=$2`

	updateAppointmentArgs = 17
	insertAppointmentArgs = 36
)

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestAppointmentUpdateRejectsStaleVersion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(updateAppointmentSQL)).WithArgs(anyArgs(updateAppointmentArgs)...).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	appt := &domain.Appointment{ID: "a1", Status: domain.StatusCancelled, Version: 3}
	err = NewAppointmentRepository(mock).Update(context.Background(), appt, []PositionUpdate{{ID: "a2", Position: 1}})
	assert.True(t, errors.Is(err, ErrVersionConflict))
	assert.Equal(t, 3, appt.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentUpdateAppliesShiftsInOneTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(updateAppointmentSQL)).WithArgs(anyArgs(updateAppointmentArgs)...).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(shiftAppointmentSQL)).WithArgs(1, "a2").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta(shiftAppointmentSQL)).WithArgs(2, "a3").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	appt := &domain.Appointment{ID: "a1", Status: domain.StatusCancelled, Version: 3}
	err = NewAppointmentRepository(mock).Update(context.Background(), appt,
		[]PositionUpdate{{ID: "a2", Position: 1}, {ID: "a3", Position: 2}})
	require.NoError(t, err)
	assert.Equal(t, 4, appt.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentCreateRollsBackWhenShiftFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO appointments")).WithArgs(anyArgs(insertAppointmentArgs)...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(shiftAppointmentSQL)).WithArgs(2, "a0").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	appt := &domain.Appointment{ID: "a1", TokenNumber: "D02", Status: domain.StatusConfirmed}
	err = NewAppointmentRepository(mock).Create(context.Background(), appt, []PositionUpdate{{ID: "a0", Position: 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shift appointment a0")
	assert.NoError(t, mock.ExpectationsWereMet())
}
