package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
	"github.com/ortsistemas48/svt-backend/internal/models"
)

// InspectionRepository provides persistence access for inspection attempts.
type InspectionRepository struct {
	db *gorm.DB
}

// NewInspectionRepository constructs a repository using the provided gorm DB.
func NewInspectionRepository(db *gorm.DB) *InspectionRepository {
	return &InspectionRepository{db: db}
}

func (r *InspectionRepository) withSteps(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Steps", func(db *gorm.DB) *gorm.DB {
		return db.Order("position asc")
	})
}

// FindInspection returns the attempt of the requested kind.
func (r *InspectionRepository) FindInspection(ctx context.Context, applicationID uuid.UUID, isSecond bool) (*models.Inspection, error) {
	var inspection models.Inspection
	err := r.withSteps(ctx).First(&inspection, "application_id = ? AND is_second = ?", applicationID, isSecond).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("inspection", applicationID.String(), "no %s attempt for application", attemptName(isSecond))
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &inspection, nil
}

// FindInspectionByID returns the attempt by id.
func (r *InspectionRepository) FindInspectionByID(ctx context.Context, id uuid.UUID) (*models.Inspection, error) {
	var inspection models.Inspection
	err := r.withSteps(ctx).First(&inspection, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("inspection", id.String(), "inspection not found")
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &inspection, nil
}

// CreateInspection inserts the attempt with its seeded steps. The unique
// index on (application_id, is_second) turns a lost race into Conflict.
func (r *InspectionRepository) CreateInspection(ctx context.Context, inspection *models.Inspection) error {
	err := r.db.WithContext(ctx).Create(inspection).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Conflict("inspection", inspection.ApplicationID.String(), "", "%s attempt already exists", attemptName(inspection.IsSecond))
	}
	return errors.WithStack(err)
}

// UpdateStep overwrites one step under a row lock on the attempt.
func (r *InspectionRepository) UpdateStep(ctx context.Context, inspectionID uuid.UUID, stepID string, status models.StepStatus, observations string) (*models.Inspection, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inspection models.Inspection
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&inspection, "id = ?", inspectionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("inspection", inspectionID.String(), "inspection not found")
		}
		if err != nil {
			return errors.WithStack(err)
		}
		if inspection.FinalizedAt != nil {
			return apperr.AlreadyFinalized("inspection", inspectionID.String(), "finalized", "attempt already finalized")
		}
		res := tx.Model(&models.StepResult{}).
			Where("inspection_id = ? AND step_id = ?", inspectionID, stepID).
			Updates(map[string]any{"status": status, "observations": observations})
		if res.Error != nil {
			return errors.WithStack(res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.InvalidStep(inspectionID.String(), stepID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.FindInspectionByID(ctx, inspectionID)
}

// FinalizeInspection locks the attempt, derives its result from the locked
// steps and stamps it when complete.
func (r *InspectionRepository) FinalizeInspection(ctx context.Context, inspectionID uuid.UUID, at time.Time) (*models.Inspection, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var inspection models.Inspection
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&inspection, "id = ?", inspectionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("inspection", inspectionID.String(), "inspection not found")
		}
		if err != nil {
			return errors.WithStack(err)
		}
		if inspection.FinalizedAt != nil {
			return apperr.AlreadyFinalized("inspection", inspectionID.String(), "finalized", "attempt already finalized")
		}
		var steps []models.StepResult
		if err := tx.Where("inspection_id = ?", inspectionID).Order("position asc").Find(&steps).Error; err != nil {
			return errors.WithStack(err)
		}
		if result := models.DeriveAttemptResult(steps); result == models.AttemptIncomplete {
			return apperr.IllegalTransition("inspection", inspectionID.String(), "attempt="+string(result), "attempt has unset steps")
		}
		return errors.WithStack(tx.Model(&inspection).Update("finalized_at", at).Error)
	})
	if err != nil {
		return nil, err
	}
	return r.FindInspectionByID(ctx, inspectionID)
}

func attemptName(isSecond bool) string {
	if isSecond {
		return "second"
	}
	return "first"
}
