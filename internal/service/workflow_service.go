package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
	"github.com/ortsistemas48/svt-backend/internal/cache"
	"github.com/ortsistemas48/svt-backend/internal/metrics"
	"github.com/ortsistemas48/svt-backend/internal/models"
	"github.com/ortsistemas48/svt-backend/internal/mq"
	"github.com/ortsistemas48/svt-backend/internal/repository"
)

type actorKey struct{}

// WithActor tags ctx with the operator recorded in the audit trail.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the operator set by WithActor, or "".
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// CreateApplicationInput carries the intake data of a new application.
type CreateApplicationInput struct {
	WorkshopID   string `json:"workshop_id" validate:"required,max=64"`
	LicensePlate string `json:"license_plate" validate:"required,plate"`
	OwnerRef     string `json:"owner_ref" validate:"max=128"`
}

// AssignStickerInput selects the assignment mode: Manual nil means auto.
type AssignStickerInput struct {
	Manual *StickerNumberParts `json:"manual,omitempty"`
}

// Dependencies groups the collaborators of ApplicationWorkflow.
type Dependencies struct {
	Store       repository.Store
	Registry    *StickerRegistry
	Coordinator *AllocationCoordinator
	Tracker     *InspectionTracker
	Catalog     StepCatalog
	Vehicles    VehicleDirectory
	Policy      QueuePolicy
	Publisher   mq.Publisher
	Statuses    cache.StatusCache
	Log         logrus.FieldLogger
}

// ApplicationWorkflow is the authoritative application state machine. Every
// transition re-reads the application under its lock, checks the guard
// against that row and commits the new state with its audit entries in one
// unit; events and projections go out after commit.
type ApplicationWorkflow struct {
	store       repository.Store
	registry    *StickerRegistry
	coordinator *AllocationCoordinator
	tracker     *InspectionTracker
	catalog     StepCatalog
	vehicles    VehicleDirectory
	policy      QueuePolicy
	publisher   mq.Publisher
	statuses    cache.StatusCache
	log         logrus.FieldLogger
	now         func() time.Time
}

// NewApplicationWorkflow builds the workflow. Publisher and Statuses may be nil.
func NewApplicationWorkflow(deps Dependencies) *ApplicationWorkflow {
	w := &ApplicationWorkflow{
		store:       deps.Store,
		registry:    deps.Registry,
		coordinator: deps.Coordinator,
		tracker:     deps.Tracker,
		catalog:     deps.Catalog,
		vehicles:    deps.Vehicles,
		policy:      deps.Policy,
		publisher:   deps.Publisher,
		statuses:    deps.Statuses,
		log:         deps.Log,
		now:         func() time.Time { return time.Now().UTC() },
	}
	if w.vehicles == nil {
		w.vehicles = FormatDirectory{}
	}
	if w.policy == nil {
		w.policy = ResultPolicy
	}
	if w.log == nil {
		w.log = logrus.StandardLogger()
	}
	return w
}

// Create registers a new application in Pendiente.
func (w *ApplicationWorkflow) Create(ctx context.Context, in CreateApplicationInput) (*models.Application, error) {
	defer metrics.ObserveDuration("application_create")()

	workshopID := strings.TrimSpace(in.WorkshopID)
	if workshopID == "" {
		return nil, apperr.InvalidFormat("workshop", in.WorkshopID, "workshop id is required")
	}
	plate, err := w.vehicles.ValidatePlate(ctx, in.LicensePlate)
	if err != nil {
		return nil, err
	}
	app := &models.Application{
		ID:           uuid.New(),
		WorkshopID:   workshopID,
		LicensePlate: plate,
		OwnerRef:     strings.TrimSpace(in.OwnerRef),
		Status:       models.ApplicationStatusPendiente,
	}
	if err := w.store.CreateApplication(ctx, app); err != nil {
		return nil, err
	}
	if err := w.store.AppendAudit(ctx, auditEntry(models.ResourceApplication, app.ID, workshopID,
		mq.EventApplicationCreated, ActorFrom(ctx), nil, applicationState(app))); err != nil {
		w.log.WithError(err).WithField("application_id", app.ID).Warn("audit append failed")
	}

	var out effects
	out.views = append(out.views, app.View())
	out.publish(mq.EventApplicationCreated, applicationEvent(app, "", w.now()))
	flush(ctx, w.log, w.publisher, w.statuses, &out)

	w.log.WithFields(logrus.Fields{
		"application_id": app.ID,
		"workshop_id":    workshopID,
		"license_plate":  plate,
	}).Info("application created")
	return app, nil
}

// Get returns the application when it belongs to workshopID.
func (w *ApplicationWorkflow) Get(ctx context.Context, workshopID string, id uuid.UUID) (*models.Application, error) {
	app, err := w.store.FindApplication(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.WorkshopID != workshopID {
		return nil, apperr.NotFound("application", id.String(), "application not found in workshop %s", workshopID)
	}
	return app, nil
}

// Status returns the (status, result, result2) view of the application.
// It reads the store and refreshes the projection on the way out; the
// projection is for collaborators that cannot reach the store.
func (w *ApplicationWorkflow) Status(ctx context.Context, workshopID string, id uuid.UUID) (*models.StatusView, error) {
	app, err := w.Get(ctx, workshopID, id)
	if err != nil {
		return nil, err
	}
	view := app.View()
	project(ctx, w.log, w.statuses, view)
	return &view, nil
}

// List searches the workshop's applications.
func (w *ApplicationWorkflow) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	if filter.WorkshopID == "" {
		return nil, apperr.InvalidFormat("workshop", "", "workshop id is required")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.InvalidFormat("application", "", "unknown status %q", filter.Status)
	}
	if filter.LicensePlate != "" {
		filter.LicensePlate = NormalizePlate(filter.LicensePlate)
	}
	return w.store.ListApplications(ctx, filter)
}

// History returns the audit trail of the application.
func (w *ApplicationWorkflow) History(ctx context.Context, workshopID string, id uuid.UUID) ([]models.AuditEntry, error) {
	if _, err := w.Get(ctx, workshopID, id); err != nil {
		return nil, err
	}
	return w.store.ListAudit(ctx, models.ResourceApplication, id)
}

// Inspection returns the requested attempt of the application.
func (w *ApplicationWorkflow) Inspection(ctx context.Context, workshopID string, id uuid.UUID, isSecond bool) (*models.Inspection, error) {
	if _, err := w.Get(ctx, workshopID, id); err != nil {
		return nil, err
	}
	return w.store.FindInspection(ctx, id, isSecond)
}

// RecordStep records a step of one of the application's attempts.
func (w *ApplicationWorkflow) RecordStep(ctx context.Context, workshopID string, id uuid.UUID, isSecond bool, stepID string, status models.StepStatus, observations string) (*models.Inspection, error) {
	inspection, err := w.Inspection(ctx, workshopID, id, isSecond)
	if err != nil {
		return nil, err
	}
	return w.tracker.RecordStep(ctx, inspection.ID, stepID, status, observations)
}

// Start moves Pendiente -> EnCurso and opens the first attempt.
func (w *ApplicationWorkflow) Start(ctx context.Context, workshopID string, id uuid.UUID) (*models.Application, error) {
	defer metrics.ObserveDuration("application_start")()

	steps, err := w.workshopSteps(ctx, workshopID, id)
	if err != nil {
		return nil, err
	}
	return w.transition(ctx, workshopID, id, "start", func(tx repository.Store, app *models.Application, out *effects) error {
		if app.Status != models.ApplicationStatusPendiente {
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "only pending applications can be started")
		}
		if _, err := w.tracker.ensure(ctx, tx, app, false, steps); err != nil {
			return err
		}
		app.Status = models.ApplicationStatusEnCurso
		return nil
	})
}

// CompleteAttempt finalizes the first or second attempt and records its
// result. The first result moves EnCurso to the target chosen by the queue
// policy; the second moves SegundaInspeccion to Completado when rejected and
// to EmitirCRT otherwise.
func (w *ApplicationWorkflow) CompleteAttempt(ctx context.Context, workshopID string, id uuid.UUID, isSecond bool) (*models.Application, error) {
	defer metrics.ObserveDuration("application_complete_attempt")()

	return w.transition(ctx, workshopID, id, "complete_attempt", func(tx repository.Store, app *models.Application, out *effects) error {
		if isSecond {
			if app.Result2 != nil {
				return apperr.AlreadyFinalized("application", app.ID.String(), app.StateString(), "second inspection already completed with result %s", *app.Result2)
			}
			if app.Status != models.ApplicationStatusSegundaInspeccion {
				return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "no second inspection in progress")
			}
		} else {
			if app.Result != nil {
				return apperr.AlreadyFinalized("application", app.ID.String(), app.StateString(), "first inspection already completed with result %s", *app.Result)
			}
			if app.Status != models.ApplicationStatusEnCurso {
				return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "first inspection is not in progress")
			}
		}

		inspection, err := tx.FindInspection(ctx, app.ID, isSecond)
		if err != nil {
			return err
		}
		// Result and target are settled before the attempt is stamped; the
		// memory store has no rollback.
		result, ok := models.DeriveAttemptResult(inspection.Steps).Result()
		if !ok {
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString()+" attempt=Incomplete", "inspection has unset steps")
		}
		target, err := w.attemptTarget(app, result, isSecond)
		if err != nil {
			return err
		}

		finalized, err := tx.FinalizeInspection(ctx, inspection.ID, w.now())
		if err != nil {
			if apperr.Is(err, apperr.KindIllegalTransition) {
				return apperr.IllegalTransition("application", app.ID.String(), app.StateString()+" attempt=Incomplete", "inspection has unset steps")
			}
			return err
		}
		settled, ok := models.DeriveAttemptResult(finalized.Steps).Result()
		if !ok {
			return errors.Errorf("finalized inspection %s has no result", finalized.ID)
		}
		if settled != result {
			// a step changed between the read and the stamp
			result = settled
			if target, err = w.attemptTarget(app, result, isSecond); err != nil {
				return err
			}
		}

		if isSecond {
			app.Result2 = models.ResultPtr(result)
		} else {
			app.Result = models.ResultPtr(result)
		}
		app.Status = target
		return nil
	})
}

// attemptTarget is the status an application moves to once the attempt
// settles on result.
func (w *ApplicationWorkflow) attemptTarget(app *models.Application, result models.Result, isSecond bool) (models.ApplicationStatus, error) {
	if isSecond {
		return secondAttemptTarget(result), nil
	}
	target := w.policy.FirstAttemptTarget(app, result)
	if target != models.ApplicationStatusAInspeccionar && target != models.ApplicationStatusEmitirCRT {
		return "", errors.Errorf("queue policy returned %s; want AInspeccionar or EmitirCRT", target)
	}
	return target, nil
}

// BeginSecondInspection moves an eligible application to SegundaInspeccion
// and opens the second attempt. Eligibility (result Condicional, result2
// unset) is re-checked on the locked row, so of two concurrent callers only
// one succeeds.
func (w *ApplicationWorkflow) BeginSecondInspection(ctx context.Context, workshopID string, id uuid.UUID) (*models.Inspection, error) {
	defer metrics.ObserveDuration("application_begin_second")()

	steps, err := w.workshopSteps(ctx, workshopID, id)
	if err != nil {
		return nil, err
	}
	var inspection *models.Inspection
	_, err = w.transition(ctx, workshopID, id, "begin_second_inspection", func(tx repository.Store, app *models.Application, out *effects) error {
		switch {
		case app.Result2 != nil:
			return apperr.AlreadyFinalized("application", app.ID.String(), app.StateString(), "second inspection already completed with result %s", *app.Result2)
		case app.Status.IsTerminal():
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "application is closed")
		case app.Result == nil || *app.Result != models.ResultCondicional:
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "second inspection requires a Condicional first result")
		case app.Status == models.ApplicationStatusSegundaInspeccion:
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "second inspection already in progress")
		}
		var err error
		if inspection, err = w.tracker.ensure(ctx, tx, app, true, steps); err != nil {
			return err
		}
		app.Status = models.ApplicationStatusSegundaInspeccion
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inspection, nil
}

// Dispatch moves a queued application (AInspeccionar) to EmitirCRT.
func (w *ApplicationWorkflow) Dispatch(ctx context.Context, workshopID string, id uuid.UUID) (*models.Application, error) {
	return w.transition(ctx, workshopID, id, "dispatch", func(_ repository.Store, app *models.Application, _ *effects) error {
		if app.Status != models.ApplicationStatusAInspeccionar {
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "only queued applications can be dispatched")
		}
		app.Status = models.ApplicationStatusEmitirCRT
		return nil
	})
}

// MarkIssued closes an application whose certificate has been issued.
func (w *ApplicationWorkflow) MarkIssued(ctx context.Context, workshopID string, id uuid.UUID) (*models.Application, error) {
	return w.transition(ctx, workshopID, id, "mark_issued", func(_ repository.Store, app *models.Application, _ *effects) error {
		if app.Status != models.ApplicationStatusEmitirCRT {
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "certificate is not ready for issuance")
		}
		app.Status = models.ApplicationStatusCompletado
		return nil
	})
}

// Cancel closes a non-terminal application and returns its sticker to the pool.
func (w *ApplicationWorkflow) Cancel(ctx context.Context, workshopID string, id uuid.UUID, reason string) (*models.Application, error) {
	defer metrics.ObserveDuration("application_cancel")()

	return w.transition(ctx, workshopID, id, "cancel", func(tx repository.Store, app *models.Application, out *effects) error {
		if app.Status.IsTerminal() {
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "application is already closed")
		}
		if _, err := w.releaseSticker(ctx, tx, app, false, out); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		app.Status = models.ApplicationStatusCancelado
		app.CancelReason = strings.TrimSpace(reason)
		return nil
	})
}

// AssignSticker binds a sticker to the application's vehicle, picked
// automatically or typed by the operator. The application must be open and
// its plate must not hold a sticker yet; both are checked under the
// application lock before the registry is touched.
func (w *ApplicationWorkflow) AssignSticker(ctx context.Context, workshopID string, id uuid.UUID, in AssignStickerInput) (*models.Sticker, error) {
	defer metrics.ObserveDuration("application_assign_sticker")()

	current, err := w.Get(ctx, workshopID, id)
	if err != nil {
		return nil, err
	}
	if _, err := w.vehicles.ValidatePlate(ctx, current.LicensePlate); err != nil {
		return nil, err
	}

	var (
		sticker *models.Sticker
		out     effects
	)
	err = w.store.WithApplicationLock(ctx, id, func(tx repository.Store, app *models.Application) error {
		if app.Status.IsTerminal() {
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "application is closed")
		}
		if held, err := tx.FindStickerByPlate(ctx, app.LicensePlate); err == nil {
			return apperr.Conflict("license_plate", app.LicensePlate, held.StateString(), "plate already holds sticker %s", held.Number)
		} else if !apperr.Is(err, apperr.KindNotFound) {
			return err
		}

		coordinator := w.coordinator.bind(tx)
		var err error
		if in.Manual != nil {
			sticker, err = coordinator.ManualAssign(ctx, app.WorkshopID, app.LicensePlate, *in.Manual)
		} else {
			sticker, err = coordinator.AutoAssign(ctx, app.WorkshopID, app.LicensePlate)
		}
		if err != nil {
			return err
		}

		before := stickerState(sticker)
		before["status"] = string(models.StickerDisponible)
		delete(before, "license_plate")
		if err := tx.AppendAudit(ctx, auditEntry(models.ResourceSticker, sticker.ID, app.WorkshopID,
			mq.EventStickerAssigned, ActorFrom(ctx), before, stickerState(sticker))); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, auditEntry(models.ResourceApplication, app.ID, app.WorkshopID,
			mq.EventStickerAssigned, ActorFrom(ctx), nil, stickerState(sticker))); err != nil {
			return err
		}
		out.sticker(mq.EventStickerAssigned, sticker, app.LicensePlate, &app.ID, w.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	flush(ctx, w.log, w.publisher, w.statuses, &out)
	return sticker, nil
}

// DiscardSticker retires the sticker bound to an open application (damaged
// or misprinted) so that a new one can be assigned.
func (w *ApplicationWorkflow) DiscardSticker(ctx context.Context, workshopID string, id uuid.UUID) (*models.Sticker, error) {
	var (
		released *models.Sticker
		out      effects
	)
	if _, err := w.Get(ctx, workshopID, id); err != nil {
		return nil, err
	}
	err := w.store.WithApplicationLock(ctx, id, func(tx repository.Store, app *models.Application) error {
		if app.Status.IsTerminal() {
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "application is closed")
		}
		var err error
		released, err = w.releaseSticker(ctx, tx, app, true, &out)
		return err
	})
	if err != nil {
		return nil, err
	}
	flush(ctx, w.log, w.publisher, w.statuses, &out)
	return released, nil
}

// releaseSticker unbinds the sticker held by the application's plate, when it
// belongs to the application's workshop.
func (w *ApplicationWorkflow) releaseSticker(ctx context.Context, tx repository.Store, app *models.Application, keepUnavailable bool, out *effects) (*models.Sticker, error) {
	held, err := tx.FindStickerByPlate(ctx, app.LicensePlate)
	if err != nil {
		return nil, err
	}
	if held.WorkshopID != app.WorkshopID {
		return nil, apperr.NotFound("license_plate", app.LicensePlate, "no sticker of workshop %s bound to plate", app.WorkshopID)
	}
	released, err := w.registry.bind(tx).Release(ctx, app.LicensePlate, keepUnavailable)
	if err != nil {
		return nil, err
	}
	for _, entry := range []*models.AuditEntry{
		auditEntry(models.ResourceSticker, released.ID, app.WorkshopID, mq.EventStickerReleased, ActorFrom(ctx), stickerState(held), stickerState(released)),
		auditEntry(models.ResourceApplication, app.ID, app.WorkshopID, mq.EventStickerReleased, ActorFrom(ctx), stickerState(held), stickerState(released)),
	} {
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return nil, err
		}
	}
	out.sticker(mq.EventStickerReleased, released, app.LicensePlate, &app.ID, w.now())
	w.log.WithFields(logrus.Fields{
		"application_id": app.ID,
		"sticker_id":     released.ID,
		"license_plate":  app.LicensePlate,
		"to":             released.Status,
	}).Info("sticker released")
	return released, nil
}

// transition runs apply on the locked application and, when it changed the
// status, saves the row and appends the audit entry in the same unit.
func (w *ApplicationWorkflow) transition(ctx context.Context, workshopID string, id uuid.UUID, action string, apply func(tx repository.Store, app *models.Application, out *effects) error) (*models.Application, error) {
	var (
		result *models.Application
		out    effects
	)
	err := w.store.WithApplicationLock(ctx, id, func(tx repository.Store, app *models.Application) error {
		if app.WorkshopID != workshopID {
			return apperr.NotFound("application", id.String(), "application not found in workshop %s", workshopID)
		}
		before := *app
		if err := apply(tx, app, &out); err != nil {
			return err
		}
		if err := tx.SaveApplication(ctx, app); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, auditEntry(models.ResourceApplication, app.ID, app.WorkshopID,
			action, ActorFrom(ctx), applicationState(&before), applicationState(app))); err != nil {
			return err
		}
		if app.Status != before.Status {
			out.transition(app, before.Status, w.now())
		}
		result = app
		return nil
	})
	if err != nil {
		w.log.WithError(err).WithFields(logrus.Fields{
			"application_id": id,
			"workshop_id":    workshopID,
			"action":         action,
		}).Debug("transition refused")
		return nil, err
	}
	flush(ctx, w.log, w.publisher, w.statuses, &out)
	if len(out.transitions) > 0 {
		t := out.transitions[len(out.transitions)-1]
		w.log.WithFields(logrus.Fields{
			"application_id": id,
			"workshop_id":    workshopID,
			"from":           t[0],
			"to":             t[1],
		}).Info("application transitioned")
	}
	return result, nil
}

// workshopSteps reads the checklist before any lock is taken.
func (w *ApplicationWorkflow) workshopSteps(ctx context.Context, workshopID string, id uuid.UUID) ([]models.StepDefinition, error) {
	if _, err := w.Get(ctx, workshopID, id); err != nil {
		return nil, err
	}
	return w.catalog.Steps(ctx, workshopID)
}
