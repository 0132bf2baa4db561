package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ortsistemas48/svt-backend/internal/models"
)

// StickerStore persists stickers. ClaimSticker, ReleaseSticker and
// UpdateStickerStatus are single compare-and-set operations: each either
// applies against the observed current state or fails without side effects.
type StickerStore interface {
	CreateStickers(ctx context.Context, stickers []*models.Sticker) error
	// ListAvailableStickers returns up to limit Disponible stickers of the
	// workshop with IntakeSeq > afterSeq, oldest first.
	ListAvailableStickers(ctx context.Context, workshopID string, afterSeq int64, limit int) ([]models.Sticker, error)
	FindSticker(ctx context.Context, workshopID string, id uuid.UUID) (*models.Sticker, error)
	FindStickerByNumber(ctx context.Context, workshopID, number string) (*models.Sticker, error)
	FindStickerByPlate(ctx context.Context, plate string) (*models.Sticker, error)
	// ClaimSticker moves a Disponible sticker of the workshop to EnUso bound
	// to plate. Fails NotFound outside the workshop, Conflict when the
	// sticker is not Disponible or the plate already holds a sticker.
	ClaimSticker(ctx context.Context, workshopID string, id uuid.UUID, plate string) (*models.Sticker, error)
	// ReleaseSticker clears the binding of the sticker held by plate and sets
	// its status to `to`. Fails NotFound when the plate holds no sticker.
	ReleaseSticker(ctx context.Context, plate string, to models.StickerStatus) (*models.Sticker, error)
	// UpdateStickerStatus applies from -> to. Fails Conflict when the stored
	// status is no longer `from`.
	UpdateStickerStatus(ctx context.Context, workshopID string, id uuid.UUID, from, to models.StickerStatus) (*models.Sticker, error)
}

// ApplicationStore persists applications.
type ApplicationStore interface {
	CreateApplication(ctx context.Context, app *models.Application) error
	FindApplication(ctx context.Context, id uuid.UUID) (*models.Application, error)
	ListApplications(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error)
	// SaveApplication writes app. Only call it from inside WithApplicationLock.
	SaveApplication(ctx context.Context, app *models.Application) error
}

// InspectionStore persists inspection attempts and their step results.
type InspectionStore interface {
	FindInspection(ctx context.Context, applicationID uuid.UUID, isSecond bool) (*models.Inspection, error)
	FindInspectionByID(ctx context.Context, id uuid.UUID) (*models.Inspection, error)
	// CreateInspection fails Conflict when the attempt already exists.
	CreateInspection(ctx context.Context, inspection *models.Inspection) error
	// UpdateStep fails InvalidStep for unknown steps and AlreadyFinalized
	// once the attempt has been finalized.
	UpdateStep(ctx context.Context, inspectionID uuid.UUID, stepID string, status models.StepStatus, observations string) (*models.Inspection, error)
	// FinalizeInspection stamps the attempt and returns it. It fails
	// AlreadyFinalized when already finalized and IllegalTransition while any
	// step is still unset; the check and the stamp are one atomic step.
	FinalizeInspection(ctx context.Context, inspectionID uuid.UUID, at time.Time) (*models.Inspection, error)
}

// AuditStore appends to and reads the audit trail.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, resourceType string, resourceID uuid.UUID) ([]models.AuditEntry, error)
}

// Store is the persistence port of the inspection core.
type Store interface {
	StickerStore
	ApplicationStore
	InspectionStore
	AuditStore

	// WithApplicationLock runs fn with exclusive access to the application
	// aggregate, handing it the freshly read row. On stores that support it
	// every write made through tx commits or rolls back together.
	WithApplicationLock(ctx context.Context, id uuid.UUID, fn func(tx Store, app *models.Application) error) error
}
