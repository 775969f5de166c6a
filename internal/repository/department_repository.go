package repository

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/civicq/queue-service/internal/domain"
)

// DepartmentRepository reads department slot configuration.
type DepartmentRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Department, error)
	ListActive(ctx context.Context) ([]domain.Department, error)
}

type departmentRepository struct {
	db DB
}

// NewDepartmentRepository builds the repository.
func NewDepartmentRepository(db DB) DepartmentRepository {
	return &departmentRepository{db: db}
}

const departmentColumns = `id, code, name, working_start, working_end, slot_duration_minutes,
        max_slots_per_time_slot, is_active, created_at, updated_at`

func (r *departmentRepository) GetByID(ctx context.Context, id string) (*domain.Department, error) {
	query := `SELECT ` + departmentColumns + ` FROM departments WHERE id=$1`
	var dept domain.Department
	if err := r.db.QueryRow(ctx, query, id).Scan(
		&dept.ID,
		&dept.Code,
		&dept.Name,
		&dept.WorkingStart,
		&dept.WorkingEnd,
		&dept.SlotDurationMinutes,
		&dept.MaxSlotsPerTimeSlot,
		&dept.IsActive,
		&dept.CreatedAt,
		&dept.UpdatedAt,
	); err != nil {
		return nil, notFound(err)
	}
	return &dept, nil
}

func (r *departmentRepository) ListActive(ctx context.Context) ([]domain.Department, error) {
	query := `SELECT ` + departmentColumns + ` FROM departments WHERE is_active = TRUE ORDER BY code`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Department
	for rows.Next() {
		var dept domain.Department
		if err := rows.Scan(&dept.ID, &dept.Code, &dept.Name, &dept.WorkingStart, &dept.WorkingEnd,
			&dept.SlotDurationMinutes, &dept.MaxSlotsPerTimeSlot, &dept.IsActive, &dept.CreatedAt, &dept.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, dept)
	}
	return result, rows.Err()
}

// cachedDepartmentRepository keeps recently read departments in an expiring LRU.
type cachedDepartmentRepository struct {
	inner DepartmentRepository
	cache *expirable.LRU[string, domain.Department]
}

// NewCachedDepartmentRepository wraps inner with a size-bounded cache whose entries expire after ttl.
func NewCachedDepartmentRepository(inner DepartmentRepository, size int, ttl time.Duration) DepartmentRepository {
	if size <= 0 {
		size = 128
	}
	return &cachedDepartmentRepository{
		inner: inner,
		cache: expirable.NewLRU[string, domain.Department](size, nil, ttl),
	}
}

func (r *cachedDepartmentRepository) GetByID(ctx context.Context, id string) (*domain.Department, error) {
	if dept, ok := r.cache.Get(id); ok {
		return &dept, nil
	}
	dept, err := r.inner.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Add(id, *dept)
	return dept, nil
}

func (r *cachedDepartmentRepository) ListActive(ctx context.Context) ([]domain.Department, error) {
	return r.inner.ListActive(ctx)
}
