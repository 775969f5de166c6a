package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/civicq/queue-service/internal/domain"
)

// AuditRepository persists audit entries.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditEntry) error
}

type auditRepository struct {
	db DB
}

// NewAuditRepository creates repository.
func NewAuditRepository(db DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Create(ctx context.Context, entry *domain.AuditEntry) error {
	const query = `
        INSERT INTO audit_logs (id, action, entity_type, entity_id, user_id, changes, reason, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("marshal audit changes: %w", err)
	}
	_, err = r.db.Exec(ctx, query,
		entry.ID,
		entry.Action,
		entry.EntityType,
		entry.EntityID,
		entry.UserID,
		changes,
		entry.Reason,
		entry.CreatedAt,
	)
	return err
}
