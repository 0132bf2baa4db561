package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
	"github.com/ortsistemas48/svt-backend/internal/cache"
	"github.com/ortsistemas48/svt-backend/internal/config"
	"github.com/ortsistemas48/svt-backend/internal/logging"
	"github.com/ortsistemas48/svt-backend/internal/models"
	"github.com/ortsistemas48/svt-backend/internal/repository/memory"
)

const (
	workshopA = "taller-a"
	workshopB = "taller-b"
)

var testSteps = []models.StepDefinition{
	{StepID: "luces", Order: 2},
	{StepID: "frenos", Order: 1},
	{StepID: "emisiones", Order: 3},
}

type recordedEvent struct {
	key     string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{key: routingKey, payload: payload})
	return nil
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.key)
	}
	return out
}

type mapStatusCache struct {
	mu       sync.Mutex
	views    map[uuid.UUID]models.StatusView
	gets     int
	putsFail bool
}

func newMapStatusCache() *mapStatusCache {
	return &mapStatusCache{views: make(map[uuid.UUID]models.StatusView)}
}

func (c *mapStatusCache) Put(_ context.Context, view models.StatusView) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putsFail {
		return errors.New("redis: connection refused")
	}
	c.views[view.ApplicationID] = view
	return nil
}

func (c *mapStatusCache) Delete(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, id)
	return nil
}

func (c *mapStatusCache) failPuts(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putsFail = fail
}

func (c *mapStatusCache) Get(_ context.Context, id uuid.UUID) (*models.StatusView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	view, ok := c.views[id]
	if !ok {
		return nil, cache.ErrMiss
	}
	return &view, nil
}

type fixture struct {
	store     *memory.Store
	svc       *Services
	publisher *recordingPublisher
	statuses  *mapStatusCache
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.New(),
		publisher: &recordingPublisher{},
		statuses:  newMapStatusCache(),
	}
	opts := Options{
		Store: f.store,
		Catalog: NewConfigStepCatalog(config.InspectionConfig{
			Steps: testSteps,
		}),
		Publisher:  f.publisher,
		Statuses:   f.statuses,
		Allocation: config.AllocationConfig{PageSize: 2},
		Log:        logging.Discard(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	f.svc = New(opts)
	return f
}

func (f *fixture) provision(t *testing.T, workshopID string, n int) []models.Sticker {
	t.Helper()
	numbers := make([]string, 0, n)
	for i := 0; i < n; i++ {
		numbers = append(numbers, fmt.Sprintf("%s-%04d", workshopID, i+1))
	}
	stickers, err := f.svc.Registry.Provision(context.Background(), workshopID, numbers)
	require.NoError(t, err)
	return stickers
}

func (f *fixture) createApplication(t *testing.T, workshopID, plate string) *models.Application {
	t.Helper()
	app, err := f.svc.Workflow.Create(context.Background(), CreateApplicationInput{
		WorkshopID:   workshopID,
		LicensePlate: plate,
		OwnerRef:     "owner-1",
	})
	require.NoError(t, err)
	return app
}

// recordAll sets every step of the attempt, in catalog order, to statuses[i].
func (f *fixture) recordAll(t *testing.T, app *models.Application, isSecond bool, statuses ...models.StepStatus) {
	t.Helper()
	ctx := context.Background()
	inspection, err := f.svc.Workflow.Inspection(ctx, app.WorkshopID, app.ID, isSecond)
	require.NoError(t, err)
	require.Len(t, inspection.Steps, len(statuses))
	for i, step := range inspection.Steps {
		_, err := f.svc.Workflow.RecordStep(ctx, app.WorkshopID, app.ID, isSecond, step.StepID, statuses[i], "")
		require.NoError(t, err)
	}
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.KindOf(err), "unexpected error: %v", err)
}

func plateFor(i int) string {
	return fmt.Sprintf("AA%03dBB", i)
}
