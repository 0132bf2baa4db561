package service

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
	"github.com/ortsistemas48/svt-backend/internal/metrics"
	"github.com/ortsistemas48/svt-backend/internal/models"
	"github.com/ortsistemas48/svt-backend/internal/repository"
)

// Assignment modes, also used as the metrics label.
const (
	AssignModeAuto   = "auto"
	AssignModeManual = "manual"
)

// StickerNumberParts is a sticker number as typed by an operator.
type StickerNumberParts struct {
	Prefix string `json:"prefix" validate:"max=16"`
	Code   string `json:"code" validate:"max=32"`
	Suffix string `json:"suffix" validate:"max=16"`
}

// Number concatenates and normalizes the parts.
func (p StickerNumberParts) Number() string {
	return NormalizeStickerNumber(p.Prefix + p.Code + p.Suffix)
}

// AllocationCoordinator picks stickers for vehicles. Concurrent callers are
// not coordinated with each other: each candidate is claimed with the
// registry's compare-and-set and a lost race moves on to the next one.
type AllocationCoordinator struct {
	registry    *StickerRegistry
	maxAttempts int
	log         logrus.FieldLogger
}

// NewAllocationCoordinator builds a coordinator. maxAttempts bounds the claim
// attempts of one AutoAssign; 0 tries every candidate once.
func NewAllocationCoordinator(registry *StickerRegistry, maxAttempts int, log logrus.FieldLogger) *AllocationCoordinator {
	return &AllocationCoordinator{registry: registry, maxAttempts: maxAttempts, log: log}
}

func (c *AllocationCoordinator) bind(tx repository.Store) *AllocationCoordinator {
	bound := *c
	bound.registry = c.registry.bind(tx)
	return &bound
}

// AutoAssign claims the oldest available sticker of the workshop for plate.
// It fails NoStickersAvailable once the candidates or the attempt budget run
// out; a plate that already holds a sticker fails Conflict at once.
func (c *AllocationCoordinator) AutoAssign(ctx context.Context, workshopID, plate string) (*models.Sticker, error) {
	defer metrics.ObserveDuration("sticker_auto_assign")()

	log := c.log.WithFields(logrus.Fields{"workshop_id": workshopID, "license_plate": plate})
	tried := 0
	for candidate, err := range c.registry.ListAvailable(ctx, workshopID) {
		if err != nil {
			return nil, err
		}
		if c.maxAttempts > 0 && tried >= c.maxAttempts {
			break
		}
		tried++
		sticker, err := c.registry.Assign(ctx, candidate.ID, plate, workshopID)
		if err == nil {
			metrics.StickerClaims.WithLabelValues(AssignModeAuto).Inc()
			log.WithFields(logrus.Fields{"sticker_id": sticker.ID, "attempts": tried}).Info("sticker auto-assigned")
			return sticker, nil
		}
		if !lostStickerRace(err) {
			return nil, err
		}
		metrics.StickerClaimConflicts.Inc()
		log.WithField("sticker_id", candidate.ID).Debug("sticker claimed concurrently, trying next candidate")
	}
	metrics.StickerPoolExhausted.Inc()
	log.WithField("attempts", tried).Warn("no sticker available")
	return nil, apperr.NoStickersAvailable(workshopID, tried)
}

// ManualAssign claims the sticker the operator typed.
func (c *AllocationCoordinator) ManualAssign(ctx context.Context, workshopID, plate string, parts StickerNumberParts) (*models.Sticker, error) {
	defer metrics.ObserveDuration("sticker_manual_assign")()

	if strings.TrimSpace(parts.Code) == "" {
		return nil, apperr.InvalidFormat("sticker", parts.Prefix+parts.Suffix, "sticker code is required")
	}
	if err := Validate.Struct(parts); err != nil {
		return nil, apperr.InvalidFormat("sticker", parts.Number(), "sticker number parts too long")
	}
	sticker, err := c.registry.AssignByNumber(ctx, parts.Number(), plate, workshopID)
	if err != nil {
		return nil, err
	}
	metrics.StickerClaims.WithLabelValues(AssignModeManual).Inc()
	c.log.WithFields(logrus.Fields{
		"workshop_id":   workshopID,
		"license_plate": plate,
		"sticker_id":    sticker.ID,
	}).Info("sticker manually assigned")
	return sticker, nil
}

// lostStickerRace is true for a Conflict on the sticker itself. A Conflict
// on the plate means the vehicle already holds a sticker and retrying with
// another candidate cannot help.
func lostStickerRace(err error) bool {
	e, ok := apperr.As(err)
	return ok && e.Kind == apperr.KindConflict && e.Entity == "sticker"
}
