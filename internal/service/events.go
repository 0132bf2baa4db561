package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ortsistemas48/svt-backend/internal/cache"
	"github.com/ortsistemas48/svt-backend/internal/metrics"
	"github.com/ortsistemas48/svt-backend/internal/models"
	"github.com/ortsistemas48/svt-backend/internal/mq"
)

// ApplicationEvent is the payload of application.* events.
type ApplicationEvent struct {
	ApplicationID uuid.UUID                `json:"application_id"`
	WorkshopID    string                   `json:"workshop_id"`
	LicensePlate  string                   `json:"license_plate"`
	From          models.ApplicationStatus `json:"from,omitempty"`
	To            models.ApplicationStatus `json:"to"`
	Result        *models.Result           `json:"result"`
	Result2       *models.Result           `json:"result2"`
	OccurredAt    time.Time                `json:"occurred_at"`
}

// StickerEvent is the payload of sticker.* events.
type StickerEvent struct {
	StickerID     uuid.UUID            `json:"sticker_id"`
	WorkshopID    string               `json:"workshop_id"`
	Number        string               `json:"sticker_number"`
	Status        models.StickerStatus `json:"status"`
	LicensePlate  string               `json:"license_plate,omitempty"`
	ApplicationID *uuid.UUID           `json:"application_id,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

type pendingEvent struct {
	routingKey string
	payload    any
}

// effects collects what an operation must announce once its transaction
// has committed: events, status projections and transition counters.
type effects struct {
	events      []pendingEvent
	views       []models.StatusView
	transitions [][2]models.ApplicationStatus
}

func (e *effects) publish(routingKey string, payload any) {
	e.events = append(e.events, pendingEvent{routingKey: routingKey, payload: payload})
}

func (e *effects) transition(app *models.Application, from models.ApplicationStatus, at time.Time) {
	e.transitions = append(e.transitions, [2]models.ApplicationStatus{from, app.Status})
	e.views = append(e.views, app.View())
	event := applicationEvent(app, from, at)
	e.publish(mq.EventApplicationTransitioned, event)
	if app.Status == models.ApplicationStatusEmitirCRT || app.Status == models.ApplicationStatusCompletado {
		e.publish(mq.EventCertificateReady, event)
	}
}

func (e *effects) sticker(routingKey string, s *models.Sticker, plate string, appID *uuid.UUID, at time.Time) {
	e.publish(routingKey, StickerEvent{
		StickerID:     s.ID,
		WorkshopID:    s.WorkshopID,
		Number:        s.Number,
		Status:        s.Status,
		LicensePlate:  plate,
		ApplicationID: appID,
		OccurredAt:    at,
	})
}

func applicationEvent(app *models.Application, from models.ApplicationStatus, at time.Time) ApplicationEvent {
	return ApplicationEvent{
		ApplicationID: app.ID,
		WorkshopID:    app.WorkshopID,
		LicensePlate:  app.LicensePlate,
		From:          from,
		To:            app.Status,
		Result:        app.Result,
		Result2:       app.Result2,
		OccurredAt:    at,
	}
}

// flush runs the collected side effects. Failures are logged; the state
// change they describe has already committed.
func flush(ctx context.Context, log logrus.FieldLogger, publisher mq.Publisher, statuses cache.StatusCache, e *effects) {
	for _, t := range e.transitions {
		metrics.ApplicationTransitions.WithLabelValues(string(t[0]), string(t[1])).Inc()
	}
	for _, view := range e.views {
		project(ctx, log, statuses, view)
	}
	if publisher == nil {
		return
	}
	for _, ev := range e.events {
		if err := publisher.Publish(ctx, ev.routingKey, ev.payload); err != nil {
			log.WithError(err).WithField("routing_key", ev.routingKey).Warn("publish event failed")
		}
	}
}

// project writes view to the status projection. When the write fails the
// entry is dropped so that no reader keeps seeing the previous state.
func project(ctx context.Context, log logrus.FieldLogger, statuses cache.StatusCache, view models.StatusView) {
	if statuses == nil {
		return
	}
	err := statuses.Put(ctx, view)
	if err == nil {
		return
	}
	entry := log.WithError(err).WithField("application_id", view.ApplicationID)
	if delErr := statuses.Delete(ctx, view.ApplicationID); delErr != nil {
		entry.WithField("delete_error", delErr.Error()).Error("status projection is stale")
		return
	}
	entry.Warn("status projection update failed; entry dropped")
}

func auditEntry(resourceType string, resourceID uuid.UUID, workshopID, action, actor string, before, after models.JSONB) *models.AuditEntry {
	return &models.AuditEntry{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		WorkshopID:   workshopID,
		Action:       action,
		OldValues:    before,
		NewValues:    after,
		Actor:        actor,
	}
}

func applicationState(app *models.Application) models.JSONB {
	return models.JSONB{
		"status":  string(app.Status),
		"result":  app.Result.String(),
		"result2": app.Result2.String(),
	}
}

func stickerState(s *models.Sticker) models.JSONB {
	state := models.JSONB{"status": string(s.Status), "sticker_number": s.Number}
	if s.AssignedPlate != nil {
		state["license_plate"] = *s.AssignedPlate
	}
	return state
}
