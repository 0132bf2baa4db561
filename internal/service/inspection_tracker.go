package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
	"github.com/ortsistemas48/svt-backend/internal/metrics"
	"github.com/ortsistemas48/svt-backend/internal/models"
	"github.com/ortsistemas48/svt-backend/internal/repository"
)

// InspectionTracker records the checklist of each inspection attempt.
type InspectionTracker struct {
	store   repository.Store
	catalog StepCatalog
	log     logrus.FieldLogger
}

// NewInspectionTracker builds a tracker seeding attempts from catalog.
func NewInspectionTracker(store repository.Store, catalog StepCatalog, log logrus.FieldLogger) *InspectionTracker {
	return &InspectionTracker{store: store, catalog: catalog, log: log}
}

// Ensure returns the attempt of the requested kind, creating it with every
// configured step Unset when missing. Recorded steps are never reset. A
// second attempt is only created once the application is in
// SegundaInspeccion; see ApplicationWorkflow.BeginSecondInspection.
func (t *InspectionTracker) Ensure(ctx context.Context, applicationID uuid.UUID, isSecond bool) (*models.Inspection, error) {
	defer metrics.ObserveDuration("inspection_ensure")()

	if existing, err := t.store.FindInspection(ctx, applicationID, isSecond); err == nil {
		return existing, nil
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}

	app, err := t.store.FindApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	steps, err := t.catalog.Steps(ctx, app.WorkshopID)
	if err != nil {
		return nil, err
	}

	var inspection *models.Inspection
	err = t.store.WithApplicationLock(ctx, applicationID, func(tx repository.Store, app *models.Application) error {
		existing, err := tx.FindInspection(ctx, applicationID, isSecond)
		if err == nil {
			inspection = existing
			return nil
		}
		if !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		switch {
		case app.Status.IsTerminal():
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "application is closed")
		case isSecond && app.Status != models.ApplicationStatusSegundaInspeccion:
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "second inspection has not been started")
		}
		inspection, err = t.ensure(ctx, tx, app, isSecond, steps)
		return err
	})
	if err != nil {
		return nil, err
	}
	return inspection, nil
}

// ensure is the get-or-create step, run under the application lock.
func (t *InspectionTracker) ensure(ctx context.Context, tx repository.Store, app *models.Application, isSecond bool, steps []models.StepDefinition) (*models.Inspection, error) {
	existing, err := tx.FindInspection(ctx, app.ID, isSecond)
	if err == nil {
		return existing, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, errors.Errorf("no inspection steps configured for workshop %s", app.WorkshopID)
	}

	inspection := &models.Inspection{
		ApplicationID: app.ID,
		WorkshopID:    app.WorkshopID,
		IsSecond:      isSecond,
		Steps:         make([]models.StepResult, 0, len(steps)),
	}
	for i, def := range steps {
		inspection.Steps = append(inspection.Steps, models.StepResult{
			StepID:   def.StepID,
			Position: i + 1,
			Status:   models.StepUnset,
		})
	}
	if err := tx.CreateInspection(ctx, inspection); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return tx.FindInspection(ctx, app.ID, isSecond)
		}
		return nil, err
	}
	t.log.WithFields(logrus.Fields{
		"application_id": app.ID,
		"inspection_id":  inspection.ID,
		"is_second":      isSecond,
		"steps":          len(steps),
	}).Info("inspection attempt created")
	return inspection, nil
}

// RecordStep overwrites one step of an open attempt. Unknown steps fail
// InvalidStep; finalized attempts fail AlreadyFinalized.
func (t *InspectionTracker) RecordStep(ctx context.Context, inspectionID uuid.UUID, stepID string, status models.StepStatus, observations string) (*models.Inspection, error) {
	defer metrics.ObserveDuration("inspection_record_step")()

	stepID = strings.TrimSpace(stepID)
	if stepID == "" {
		return nil, apperr.InvalidFormat("inspection", inspectionID.String(), "step id is required")
	}
	if !status.Valid() {
		return nil, apperr.InvalidFormat("inspection", inspectionID.String(), "unknown step status %q", status)
	}
	inspection, err := t.store.UpdateStep(ctx, inspectionID, stepID, status, observations)
	if err != nil {
		return nil, err
	}
	t.log.WithFields(logrus.Fields{
		"inspection_id": inspectionID,
		"step_id":       stepID,
		"status":        status,
	}).Debug("inspection step recorded")
	return inspection, nil
}

// AttemptResult derives the attempt result from the stored steps.
func (t *InspectionTracker) AttemptResult(ctx context.Context, inspectionID uuid.UUID) (models.AttemptResult, error) {
	inspection, err := t.store.FindInspectionByID(ctx, inspectionID)
	if err != nil {
		return "", err
	}
	return models.DeriveAttemptResult(inspection.Steps), nil
}

// Get returns the attempt with its steps.
func (t *InspectionTracker) Get(ctx context.Context, inspectionID uuid.UUID) (*models.Inspection, error) {
	return t.store.FindInspectionByID(ctx, inspectionID)
}
