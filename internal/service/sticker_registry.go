package service

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
	"github.com/ortsistemas48/svt-backend/internal/metrics"
	"github.com/ortsistemas48/svt-backend/internal/models"
	"github.com/ortsistemas48/svt-backend/internal/mq"
	"github.com/ortsistemas48/svt-backend/internal/repository"
)

const defaultPageSize = 50

// StickerRegistry holds the per-workshop sticker pools and applies single
// record transitions. It never decides which sticker to pick.
type StickerRegistry struct {
	store     repository.Store
	publisher mq.Publisher
	log       logrus.FieldLogger
	pageSize  int
	now       func() time.Time
}

// NewStickerRegistry builds a registry. pageSize bounds each read of the
// available pool; values <= 0 use 50.
func NewStickerRegistry(store repository.Store, publisher mq.Publisher, log logrus.FieldLogger, pageSize int) *StickerRegistry {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &StickerRegistry{
		store:     store,
		publisher: publisher,
		log:       log,
		pageSize:  pageSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// bind returns a registry whose store calls go through tx.
func (r *StickerRegistry) bind(tx repository.Store) *StickerRegistry {
	bound := *r
	bound.store = tx
	return &bound
}

// ListAvailable yields the workshop's Disponible stickers oldest first. Pages
// are read on demand with a keyset on the intake sequence, so every range
// over the result starts a fresh read and ends after the last sticker.
func (r *StickerRegistry) ListAvailable(ctx context.Context, workshopID string) iter.Seq2[models.Sticker, error] {
	return func(yield func(models.Sticker, error) bool) {
		var after int64
		for {
			page, err := r.store.ListAvailableStickers(ctx, workshopID, after, r.pageSize)
			if err != nil {
				yield(models.Sticker{}, err)
				return
			}
			for _, s := range page {
				if !yield(s, nil) {
					return
				}
				after = s.IntakeSeq
			}
			if len(page) < r.pageSize {
				return
			}
		}
	}
}

// Available collects up to limit stickers of ListAvailable.
func (r *StickerRegistry) Available(ctx context.Context, workshopID string, limit int) ([]models.Sticker, error) {
	var out []models.Sticker
	for s, err := range r.ListAvailable(ctx, workshopID) {
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Assign claims a Disponible sticker for plate in one compare-and-set.
func (r *StickerRegistry) Assign(ctx context.Context, stickerID uuid.UUID, plate, workshopID string) (*models.Sticker, error) {
	return r.store.ClaimSticker(ctx, workshopID, stickerID, plate)
}

// AssignByNumber resolves the normalized number within the workshop and claims it.
func (r *StickerRegistry) AssignByNumber(ctx context.Context, number, plate, workshopID string) (*models.Sticker, error) {
	normalized := NormalizeStickerNumber(number)
	if err := Validate.Var(normalized, "sticker_number"); err != nil {
		return nil, apperr.InvalidFormat("sticker", number, "sticker number must be alphanumeric")
	}
	sticker, err := r.store.FindStickerByNumber(ctx, workshopID, normalized)
	if err != nil {
		return nil, err
	}
	return r.Assign(ctx, sticker.ID, plate, workshopID)
}

// Release unbinds the sticker held by plate. It goes back to Disponible
// unless keepUnavailable retires it as NoDisponible.
func (r *StickerRegistry) Release(ctx context.Context, plate string, keepUnavailable bool) (*models.Sticker, error) {
	to := models.StickerDisponible
	if keepUnavailable {
		to = models.StickerNoDisponible
	}
	return r.store.ReleaseSticker(ctx, plate, to)
}

// SetStatus is the administrative override. Only Disponible -> NoDisponible
// is accepted; EnUso is reached through Assign and left through Release.
func (r *StickerRegistry) SetStatus(ctx context.Context, stickerID uuid.UUID, workshopID string, status models.StickerStatus) (*models.Sticker, error) {
	defer metrics.ObserveDuration("sticker_set_status")()

	if !status.Valid() {
		return nil, apperr.InvalidFormat("sticker", stickerID.String(), "unknown sticker status %q", status)
	}
	current, err := r.store.FindSticker(ctx, workshopID, stickerID)
	if err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	switch {
	case status == models.StickerEnUso:
		return nil, apperr.IllegalTransition("sticker", stickerID.String(), current.StateString(), "stickers are put in use by assignment only")
	case current.Status == models.StickerEnUso:
		return nil, apperr.IllegalTransition("sticker", stickerID.String(), current.StateString(), "sticker in use must be released through its application")
	case current.Status == models.StickerNoDisponible:
		return nil, apperr.IllegalTransition("sticker", stickerID.String(), current.StateString(), "retired stickers cannot change status")
	}

	updated, err := r.store.UpdateStickerStatus(ctx, workshopID, stickerID, current.Status, status)
	if err != nil {
		return nil, err
	}
	at := r.now()
	if err := r.store.AppendAudit(ctx, auditEntry(models.ResourceSticker, updated.ID, workshopID,
		mq.EventStickerStatusChanged, ActorFrom(ctx), stickerState(current), stickerState(updated))); err != nil {
		r.log.WithError(err).WithField("sticker_id", updated.ID).Warn("audit append failed")
	}
	r.log.WithFields(logrus.Fields{
		"sticker_id":  updated.ID,
		"workshop_id": workshopID,
		"from":        current.Status,
		"to":          updated.Status,
	}).Info("sticker status changed")

	var out effects
	out.sticker(mq.EventStickerStatusChanged, updated, "", nil, at)
	flush(ctx, r.log, r.publisher, nil, &out)
	return updated, nil
}

// Provision adds numbers to the workshop's pool as Disponible stickers, in
// the given order. The batch is rejected as a whole when any number is
// malformed or already known.
func (r *StickerRegistry) Provision(ctx context.Context, workshopID string, numbers []string) ([]models.Sticker, error) {
	defer metrics.ObserveDuration("sticker_provision")()

	if strings.TrimSpace(workshopID) == "" {
		return nil, apperr.InvalidFormat("workshop", workshopID, "workshop id is required")
	}
	if len(numbers) == 0 {
		return nil, apperr.InvalidFormat("sticker", "", "no sticker numbers given")
	}
	seen := make(map[string]bool, len(numbers))
	batch := make([]*models.Sticker, 0, len(numbers))
	for _, raw := range numbers {
		number := NormalizeStickerNumber(raw)
		if err := Validate.Var(number, "sticker_number"); err != nil {
			return nil, apperr.InvalidFormat("sticker", raw, "sticker number must be alphanumeric")
		}
		if seen[number] {
			return nil, apperr.Conflict("sticker", number, "", "sticker number repeated in batch")
		}
		seen[number] = true
		batch = append(batch, &models.Sticker{
			WorkshopID: workshopID,
			Number:     number,
			Status:     models.StickerDisponible,
		})
	}
	if err := r.store.CreateStickers(ctx, batch); err != nil {
		return nil, err
	}
	out := make([]models.Sticker, 0, len(batch))
	for _, s := range batch {
		out = append(out, *s)
	}
	r.log.WithFields(logrus.Fields{"workshop_id": workshopID, "count": len(out)}).Info("stickers provisioned")
	return out, nil
}

// NormalizeStickerNumber trims, drops inner whitespace and hyphens and
// upper-cases a sticker number.
func NormalizeStickerNumber(number string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '-':
			return -1
		}
		return r
	}, strings.ToUpper(strings.TrimSpace(number)))
}
