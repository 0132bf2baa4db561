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

// StickerRepository provides persistence access for Sticker entities.
type StickerRepository struct {
	db *gorm.DB
}

// NewStickerRepository constructs a repository using the provided gorm DB.
func NewStickerRepository(db *gorm.DB) *StickerRepository {
	return &StickerRepository{db: db}
}

// CreateStickers inserts the batch; a duplicate number fails the whole batch with Conflict.
func (r *StickerRepository) CreateStickers(ctx context.Context, stickers []*models.Sticker) error {
	if len(stickers) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Create(&stickers).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("sticker", "", "", "sticker number already provisioned")
	}
	return errors.WithStack(err)
}

// ListAvailableStickers returns one page of the workshop's Disponible pool in intake order.
func (r *StickerRepository) ListAvailableStickers(ctx context.Context, workshopID string, afterSeq int64, limit int) ([]models.Sticker, error) {
	if limit <= 0 {
		limit = 50
	}
	var stickers []models.Sticker
	err := r.db.WithContext(ctx).
		Where("workshop_id = ? AND status = ? AND intake_seq > ?", workshopID, models.StickerDisponible, afterSeq).
		Order("intake_seq asc").
		Limit(limit).
		Find(&stickers).Error
	return stickers, errors.WithStack(err)
}

// FindSticker returns the sticker when it belongs to workshopID.
func (r *StickerRepository) FindSticker(ctx context.Context, workshopID string, id uuid.UUID) (*models.Sticker, error) {
	var sticker models.Sticker
	err := r.db.WithContext(ctx).First(&sticker, "id = ? AND workshop_id = ?", id, workshopID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("sticker", id.String(), "sticker not found in workshop %s", workshopID)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &sticker, nil
}

// FindStickerByNumber resolves a normalized sticker number within the workshop.
func (r *StickerRepository) FindStickerByNumber(ctx context.Context, workshopID, number string) (*models.Sticker, error) {
	var sticker models.Sticker
	err := r.db.WithContext(ctx).First(&sticker, "number = ? AND workshop_id = ?", number, workshopID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("sticker", number, "sticker number not found in workshop %s", workshopID)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &sticker, nil
}

// FindStickerByPlate returns the sticker currently bound to plate.
func (r *StickerRepository) FindStickerByPlate(ctx context.Context, plate string) (*models.Sticker, error) {
	var sticker models.Sticker
	err := r.db.WithContext(ctx).First(&sticker, "assigned_plate = ?", plate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("license_plate", plate, "no sticker bound to plate")
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &sticker, nil
}

// ClaimSticker is a conditional UPDATE on status = Disponible. The partial
// unique index on assigned_plate rejects a second sticker for the same plate.
func (r *StickerRepository) ClaimSticker(ctx context.Context, workshopID string, id uuid.UUID, plate string) (*models.Sticker, error) {
	res := r.db.WithContext(ctx).Model(&models.Sticker{}).
		Where("id = ? AND workshop_id = ? AND status = ?", id, workshopID, models.StickerDisponible).
		Updates(map[string]any{
			"status":         models.StickerEnUso,
			"assigned_plate": plate,
		})
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return nil, apperr.Conflict("license_plate", plate, "", "plate already holds an active sticker")
	}
	if res.Error != nil {
		return nil, errors.WithStack(res.Error)
	}
	current, err := r.FindSticker(ctx, workshopID, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Conflict("sticker", id.String(), current.StateString(), "sticker is not available")
	}
	return current, nil
}

// ReleaseSticker locks the sticker bound to plate and clears the binding.
func (r *StickerRepository) ReleaseSticker(ctx context.Context, plate string, to models.StickerStatus) (*models.Sticker, error) {
	var released models.Sticker
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&released, "assigned_plate = ?", plate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("license_plate", plate, "no sticker bound to plate")
		}
		if err != nil {
			return errors.WithStack(err)
		}
		released.Status = to
		released.AssignedPlate = nil
		return errors.WithStack(tx.Model(&released).Select("status", "assigned_plate").Updates(&released).Error)
	})
	if err != nil {
		return nil, err
	}
	return &released, nil
}

// UpdateStickerStatus is a conditional UPDATE on the previously observed status.
func (r *StickerRepository) UpdateStickerStatus(ctx context.Context, workshopID string, id uuid.UUID, from, to models.StickerStatus) (*models.Sticker, error) {
	updates := map[string]any{"status": to}
	if to != models.StickerEnUso {
		updates["assigned_plate"] = nil
	}
	res := r.db.WithContext(ctx).Model(&models.Sticker{}).
		Where("id = ? AND workshop_id = ? AND status = ?", id, workshopID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, errors.WithStack(res.Error)
	}
	current, err := r.FindSticker(ctx, workshopID, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Conflict("sticker", id.String(), current.StateString(), "sticker status changed concurrently")
	}
	return current, nil
}
