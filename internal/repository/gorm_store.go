package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
	"github.com/ortsistemas48/svt-backend/internal/models"
)

// GormStore implements Store on postgres through gorm.
type GormStore struct {
	*StickerRepository
	*ApplicationRepository
	*InspectionRepository
	*AuditRepository

	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore wires the repositories around one gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{
		StickerRepository:     NewStickerRepository(db),
		ApplicationRepository: NewApplicationRepository(db),
		InspectionRepository:  NewInspectionRepository(db),
		AuditRepository:       NewAuditRepository(db),
		db:                    db,
	}
}

// WithApplicationLock opens a transaction, takes SELECT ... FOR UPDATE on
// the application row and runs fn against a store bound to that transaction.
func (s *GormStore) WithApplicationLock(ctx context.Context, id uuid.UUID, fn func(tx Store, app *models.Application) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var app models.Application
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&app, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("application", id.String(), "application not found")
		}
		if err != nil {
			return errors.WithStack(err)
		}
		return fn(NewGormStore(tx), &app)
	})
}
