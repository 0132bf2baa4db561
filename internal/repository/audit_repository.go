package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/ortsistemas48/svt-backend/internal/models"
)

// AuditRepository appends to and reads the audit trail.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository constructs a repository using the provided gorm DB.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AppendAudit inserts one entry. Entries are never updated.
func (r *AuditRepository) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	return errors.WithStack(r.db.WithContext(ctx).Create(entry).Error)
}

// ListAudit returns the trail of one resource, oldest first.
func (r *AuditRepository) ListAudit(ctx context.Context, resourceType string, resourceID uuid.UUID) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := r.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("created_at asc").
		Find(&entries).Error
	return entries, errors.WithStack(err)
}
