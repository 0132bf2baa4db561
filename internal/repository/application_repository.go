package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
	"github.com/ortsistemas48/svt-backend/internal/models"
)

// ApplicationRepository provides persistence access for Application entities.
type ApplicationRepository struct {
	db *gorm.DB
}

// NewApplicationRepository constructs a repository using the provided gorm DB.
func NewApplicationRepository(db *gorm.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// CreateApplication persists the application instance.
func (r *ApplicationRepository) CreateApplication(ctx context.Context, app *models.Application) error {
	return errors.WithStack(r.db.WithContext(ctx).Create(app).Error)
}

// SaveApplication persists the modified application.
func (r *ApplicationRepository) SaveApplication(ctx context.Context, app *models.Application) error {
	return errors.WithStack(r.db.WithContext(ctx).Save(app).Error)
}

// FindApplication returns the application by id.
func (r *ApplicationRepository) FindApplication(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var app models.Application
	err := r.db.WithContext(ctx).First(&app, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("application", id.String(), "application not found")
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &app, nil
}

// ListApplications returns the workshop's applications, newest first.
func (r *ApplicationRepository) ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := r.db.WithContext(ctx).Where("workshop_id = ?", filter.WorkshopID)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.LicensePlate != "" {
		query = query.Where("license_plate = ?", filter.LicensePlate)
	}
	if filter.EligibleForSecond {
		query = query.Where("result = ? AND result2 IS NULL AND status NOT IN ?",
			models.ResultCondicional,
			[]models.ApplicationStatus{models.ApplicationStatusCompletado, models.ApplicationStatusCancelado})
	}
	var apps []models.Application
	err := query.Order("created_at desc").Limit(limit).Find(&apps).Error
	return apps, errors.WithStack(err)
}
