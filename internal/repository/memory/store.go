// Package memory is an in-process Store. Every sticker, application and
// inspection carries its own mutex; the store-level lock only guards the
// index maps and is never held while waiting on a record.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
	"github.com/ortsistemas48/svt-backend/internal/models"
	"github.com/ortsistemas48/svt-backend/internal/repository"
)

type stickerEntry struct {
	mu sync.Mutex
	s  models.Sticker
}

type applicationEntry struct {
	lock sync.Mutex // held for the duration of WithApplicationLock
	mu   sync.Mutex // guards a
	a    models.Application
}

type inspectionEntry struct {
	mu sync.Mutex
	i  models.Inspection
}

type attemptKey struct {
	applicationID uuid.UUID
	isSecond      bool
}

// Store keeps all state in memory.
type Store struct {
	mu          sync.RWMutex
	stickers    map[uuid.UUID]*stickerEntry
	numbers     map[string]uuid.UUID
	seq         int64
	apps        map[uuid.UUID]*applicationEntry
	inspections map[uuid.UUID]*inspectionEntry
	attempts    map[attemptKey]uuid.UUID

	plateMu sync.Mutex
	plates  map[string]uuid.UUID

	auditMu sync.Mutex
	audit   []models.AuditEntry

	now func() time.Time
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		stickers:    make(map[uuid.UUID]*stickerEntry),
		numbers:     make(map[string]uuid.UUID),
		apps:        make(map[uuid.UUID]*applicationEntry),
		inspections: make(map[uuid.UUID]*inspectionEntry),
		attempts:    make(map[attemptKey]uuid.UUID),
		plates:      make(map[string]uuid.UUID),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) sticker(id uuid.UUID) *stickerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stickers[id]
}

func (s *Store) app(id uuid.UUID) *applicationEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apps[id]
}

func (s *Store) inspection(id uuid.UUID) *inspectionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inspections[id]
}

// CreateStickers inserts the batch atomically.
func (s *Store) CreateStickers(_ context.Context, stickers []*models.Sticker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(stickers))
	for _, st := range stickers {
		if _, ok := s.numbers[st.Number]; ok || seen[st.Number] {
			return apperr.Conflict("sticker", st.Number, "", "sticker number already provisioned")
		}
		seen[st.Number] = true
	}
	now := s.now()
	for _, st := range stickers {
		if st.ID == uuid.Nil {
			st.ID = uuid.New()
		}
		if st.Status == "" {
			st.Status = models.StickerDisponible
		}
		s.seq++
		st.IntakeSeq = s.seq
		st.CreatedAt, st.UpdatedAt = now, now
		s.stickers[st.ID] = &stickerEntry{s: *st}
		s.numbers[st.Number] = st.ID
	}
	return nil
}

// ListAvailableStickers scans the pool in intake order.
func (s *Store) ListAvailableStickers(_ context.Context, workshopID string, afterSeq int64, limit int) ([]models.Sticker, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	entries := make([]*stickerEntry, 0, len(s.stickers))
	for _, e := range s.stickers {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []models.Sticker
	for _, e := range entries {
		e.mu.Lock()
		st := e.s
		e.mu.Unlock()
		if st.WorkshopID == workshopID && st.Status == models.StickerDisponible && st.IntakeSeq > afterSeq {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IntakeSeq < out[j].IntakeSeq })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FindSticker returns a copy of the sticker when it belongs to workshopID.
func (s *Store) FindSticker(_ context.Context, workshopID string, id uuid.UUID) (*models.Sticker, error) {
	e := s.sticker(id)
	if e == nil {
		return nil, apperr.NotFound("sticker", id.String(), "sticker not found in workshop %s", workshopID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.WorkshopID != workshopID {
		return nil, apperr.NotFound("sticker", id.String(), "sticker not found in workshop %s", workshopID)
	}
	return copySticker(&e.s), nil
}

// FindStickerByNumber resolves a normalized number within the workshop.
func (s *Store) FindStickerByNumber(ctx context.Context, workshopID, number string) (*models.Sticker, error) {
	s.mu.RLock()
	id, ok := s.numbers[number]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("sticker", number, "sticker number not found in workshop %s", workshopID)
	}
	st, err := s.FindSticker(ctx, workshopID, id)
	if err != nil {
		return nil, apperr.NotFound("sticker", number, "sticker number not found in workshop %s", workshopID)
	}
	return st, nil
}

// FindStickerByPlate returns the sticker bound to plate.
func (s *Store) FindStickerByPlate(_ context.Context, plate string) (*models.Sticker, error) {
	s.plateMu.Lock()
	id, ok := s.plates[plate]
	s.plateMu.Unlock()
	if !ok {
		return nil, apperr.NotFound("license_plate", plate, "no sticker bound to plate")
	}
	e := s.sticker(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return copySticker(&e.s), nil
}

// ClaimSticker locks the sticker, then the plate index.
func (s *Store) ClaimSticker(_ context.Context, workshopID string, id uuid.UUID, plate string) (*models.Sticker, error) {
	e := s.sticker(id)
	if e == nil {
		return nil, apperr.NotFound("sticker", id.String(), "sticker not found in workshop %s", workshopID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.WorkshopID != workshopID {
		return nil, apperr.NotFound("sticker", id.String(), "sticker not found in workshop %s", workshopID)
	}
	if e.s.Status != models.StickerDisponible {
		return nil, apperr.Conflict("sticker", id.String(), e.s.StateString(), "sticker is not available")
	}

	s.plateMu.Lock()
	if holder, taken := s.plates[plate]; taken {
		s.plateMu.Unlock()
		return nil, apperr.Conflict("license_plate", plate, "sticker="+holder.String(), "plate already holds an active sticker")
	}
	s.plates[plate] = id
	s.plateMu.Unlock()

	bound := plate
	e.s.Status = models.StickerEnUso
	e.s.AssignedPlate = &bound
	e.s.UpdatedAt = s.now()
	return copySticker(&e.s), nil
}

// ReleaseSticker clears the binding held by plate.
func (s *Store) ReleaseSticker(_ context.Context, plate string, to models.StickerStatus) (*models.Sticker, error) {
	s.plateMu.Lock()
	id, ok := s.plates[plate]
	s.plateMu.Unlock()
	if !ok {
		return nil, apperr.NotFound("license_plate", plate, "no sticker bound to plate")
	}

	e := s.sticker(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.AssignedPlate == nil || *e.s.AssignedPlate != plate {
		return nil, apperr.NotFound("license_plate", plate, "no sticker bound to plate")
	}

	s.plateMu.Lock()
	if s.plates[plate] == id {
		delete(s.plates, plate)
	}
	s.plateMu.Unlock()

	e.s.Status = to
	e.s.AssignedPlate = nil
	e.s.UpdatedAt = s.now()
	return copySticker(&e.s), nil
}

// UpdateStickerStatus applies from -> to when the stored status is still from.
func (s *Store) UpdateStickerStatus(_ context.Context, workshopID string, id uuid.UUID, from, to models.StickerStatus) (*models.Sticker, error) {
	e := s.sticker(id)
	if e == nil {
		return nil, apperr.NotFound("sticker", id.String(), "sticker not found in workshop %s", workshopID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.WorkshopID != workshopID {
		return nil, apperr.NotFound("sticker", id.String(), "sticker not found in workshop %s", workshopID)
	}
	if e.s.Status != from {
		return nil, apperr.Conflict("sticker", id.String(), e.s.StateString(), "sticker status changed concurrently")
	}
	if to != models.StickerEnUso && e.s.AssignedPlate != nil {
		s.plateMu.Lock()
		if s.plates[*e.s.AssignedPlate] == id {
			delete(s.plates, *e.s.AssignedPlate)
		}
		s.plateMu.Unlock()
		e.s.AssignedPlate = nil
	}
	e.s.Status = to
	e.s.UpdatedAt = s.now()
	return copySticker(&e.s), nil
}

// CreateApplication inserts a new application.
func (s *Store) CreateApplication(_ context.Context, app *models.Application) error {
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	if app.Status == "" {
		app.Status = models.ApplicationStatusPendiente
	}
	now := s.now()
	app.CreatedAt, app.UpdatedAt = now, now
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.ID]; ok {
		return apperr.Conflict("application", app.ID.String(), "", "application already exists")
	}
	s.apps[app.ID] = &applicationEntry{a: *copyApplication(app)}
	return nil
}

// FindApplication returns a copy of the application.
func (s *Store) FindApplication(_ context.Context, id uuid.UUID) (*models.Application, error) {
	e := s.app(id)
	if e == nil {
		return nil, apperr.NotFound("application", id.String(), "application not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyApplication(&e.a), nil
}

// ListApplications filters applications newest first.
func (s *Store) ListApplications(_ context.Context, filter models.ApplicationFilter) ([]models.Application, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	entries := make([]*applicationEntry, 0, len(s.apps))
	for _, e := range s.apps {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []models.Application
	for _, e := range entries {
		e.mu.Lock()
		a := *copyApplication(&e.a)
		e.mu.Unlock()
		if a.WorkshopID != filter.WorkshopID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.LicensePlate != "" && a.LicensePlate != filter.LicensePlate {
			continue
		}
		if filter.EligibleForSecond && (!a.EligibleForSecondInspection() || a.Status.IsTerminal()) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveApplication overwrites the stored application.
func (s *Store) SaveApplication(_ context.Context, app *models.Application) error {
	e := s.app(app.ID)
	if e == nil {
		return apperr.NotFound("application", app.ID.String(), "application not found")
	}
	app.UpdatedAt = s.now()
	e.mu.Lock()
	e.a = *copyApplication(app)
	e.mu.Unlock()
	return nil
}

// WithApplicationLock serializes callers per application. Writes made by fn
// are applied immediately; there is no rollback.
func (s *Store) WithApplicationLock(ctx context.Context, id uuid.UUID, fn func(tx repository.Store, app *models.Application) error) error {
	e := s.app(id)
	if e == nil {
		return apperr.NotFound("application", id.String(), "application not found")
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	app, err := s.FindApplication(ctx, id)
	if err != nil {
		return err
	}
	return fn(s, app)
}

// FindInspection returns the attempt of the requested kind.
func (s *Store) FindInspection(ctx context.Context, applicationID uuid.UUID, isSecond bool) (*models.Inspection, error) {
	s.mu.RLock()
	id, ok := s.attempts[attemptKey{applicationID, isSecond}]
	s.mu.RUnlock()
	if !ok {
		name := "first"
		if isSecond {
			name = "second"
		}
		return nil, apperr.NotFound("inspection", applicationID.String(), "no %s attempt for application", name)
	}
	return s.FindInspectionByID(ctx, id)
}

// FindInspectionByID returns a copy of the attempt.
func (s *Store) FindInspectionByID(_ context.Context, id uuid.UUID) (*models.Inspection, error) {
	e := s.inspection(id)
	if e == nil {
		return nil, apperr.NotFound("inspection", id.String(), "inspection not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyInspection(&e.i), nil
}

// CreateInspection inserts the attempt unless one of the same kind exists.
func (s *Store) CreateInspection(_ context.Context, inspection *models.Inspection) error {
	if inspection.ID == uuid.Nil {
		inspection.ID = uuid.New()
	}
	now := s.now()
	inspection.CreatedAt, inspection.UpdatedAt = now, now
	for i := range inspection.Steps {
		if inspection.Steps[i].ID == uuid.Nil {
			inspection.Steps[i].ID = uuid.New()
		}
		inspection.Steps[i].InspectionID = inspection.ID
		inspection.Steps[i].UpdatedAt = now
	}

	key := attemptKey{inspection.ApplicationID, inspection.IsSecond}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[key]; ok {
		return apperr.Conflict("inspection", inspection.ApplicationID.String(), "", "attempt already exists")
	}
	s.attempts[key] = inspection.ID
	s.inspections[inspection.ID] = &inspectionEntry{i: *copyInspection(inspection)}
	return nil
}

// UpdateStep overwrites one step of an open attempt.
func (s *Store) UpdateStep(_ context.Context, inspectionID uuid.UUID, stepID string, status models.StepStatus, observations string) (*models.Inspection, error) {
	e := s.inspection(inspectionID)
	if e == nil {
		return nil, apperr.NotFound("inspection", inspectionID.String(), "inspection not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.i.FinalizedAt != nil {
		return nil, apperr.AlreadyFinalized("inspection", inspectionID.String(), "finalized", "attempt already finalized")
	}
	for i := range e.i.Steps {
		if e.i.Steps[i].StepID == stepID {
			now := s.now()
			e.i.Steps[i].Status = status
			e.i.Steps[i].Observations = observations
			e.i.Steps[i].UpdatedAt = now
			e.i.UpdatedAt = now
			return copyInspection(&e.i), nil
		}
	}
	return nil, apperr.InvalidStep(inspectionID.String(), stepID)
}

// FinalizeInspection stamps a complete attempt once.
func (s *Store) FinalizeInspection(_ context.Context, inspectionID uuid.UUID, at time.Time) (*models.Inspection, error) {
	e := s.inspection(inspectionID)
	if e == nil {
		return nil, apperr.NotFound("inspection", inspectionID.String(), "inspection not found")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.i.FinalizedAt != nil {
		return nil, apperr.AlreadyFinalized("inspection", inspectionID.String(), "finalized", "attempt already finalized")
	}
	if result := models.DeriveAttemptResult(e.i.Steps); result == models.AttemptIncomplete {
		return nil, apperr.IllegalTransition("inspection", inspectionID.String(), "attempt="+string(result), "attempt has unset steps")
	}
	e.i.FinalizedAt = &at
	e.i.UpdatedAt = at
	return copyInspection(&e.i), nil
}

// AppendAudit appends one entry.
func (s *Store) AppendAudit(_ context.Context, entry *models.AuditEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.auditMu.Lock()
	s.audit = append(s.audit, *entry)
	s.auditMu.Unlock()
	return nil
}

// ListAudit returns the trail of one resource in append order.
func (s *Store) ListAudit(_ context.Context, resourceType string, resourceID uuid.UUID) ([]models.AuditEntry, error) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	var out []models.AuditEntry
	for _, e := range s.audit {
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func copySticker(s *models.Sticker) *models.Sticker {
	c := *s
	if s.AssignedPlate != nil {
		plate := *s.AssignedPlate
		c.AssignedPlate = &plate
	}
	return &c
}

func copyApplication(a *models.Application) *models.Application {
	c := *a
	if a.Result != nil {
		c.Result = models.ResultPtr(*a.Result)
	}
	if a.Result2 != nil {
		c.Result2 = models.ResultPtr(*a.Result2)
	}
	return &c
}

func copyInspection(i *models.Inspection) *models.Inspection {
	c := *i
	c.Steps = append([]models.StepResult(nil), i.Steps...)
	if i.FinalizedAt != nil {
		at := *i.FinalizedAt
		c.FinalizedAt = &at
	}
	return &c
}
