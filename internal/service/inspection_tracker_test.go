package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
	"github.com/ortsistemas48/svt-backend/internal/config"
	"github.com/ortsistemas48/svt-backend/internal/models"
)

func TestInspectionTracker_EnsureIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.createApplication(t, workshopA, "ABC123")

	first, err := f.svc.Tracker.Ensure(ctx, app.ID, false)
	require.NoError(t, err)
	require.Len(t, first.Steps, 3)
	assert.Equal(t, []string{"frenos", "luces", "emisiones"}, []string{first.Steps[0].StepID, first.Steps[1].StepID, first.Steps[2].StepID})
	for _, s := range first.Steps {
		assert.Equal(t, models.StepUnset, s.Status)
	}

	_, err = f.svc.Tracker.RecordStep(ctx, first.ID, "luces", models.StepCondicional, "faro trasero")
	require.NoError(t, err)

	again, err := f.svc.Tracker.Ensure(ctx, app.ID, false)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, models.StepCondicional, again.Steps[1].Status)
	assert.Equal(t, "faro trasero", again.Steps[1].Observations)
}

func TestInspectionTracker_EnsureSecondRequiresWorkflow(t *testing.T) {
	f := newFixture(t)
	app := f.createApplication(t, workshopA, "ABC123")

	_, err := f.svc.Tracker.Ensure(context.Background(), app.ID, true)
	requireKind(t, err, apperr.KindIllegalTransition)

	_, err = f.store.FindInspection(context.Background(), app.ID, true)
	requireKind(t, err, apperr.KindNotFound)
}

func TestInspectionTracker_WorkshopStepOverride(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Catalog = NewConfigStepCatalog(config.InspectionConfig{
			Steps: testSteps,
			Workshops: map[string]config.WorkshopInspectionConfig{
				workshopB: {Steps: []models.StepDefinition{{StepID: "gnc", Order: 1}}},
			},
		})
	})
	app := f.createApplication(t, workshopB, "ABC123")

	inspection, err := f.svc.Tracker.Ensure(context.Background(), app.ID, false)
	require.NoError(t, err)
	require.Len(t, inspection.Steps, 1)
	assert.Equal(t, "gnc", inspection.Steps[0].StepID)
}

func TestInspectionTracker_RecordStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.createApplication(t, workshopA, "ABC123")
	inspection, err := f.svc.Tracker.Ensure(ctx, app.ID, false)
	require.NoError(t, err)

	tests := []struct {
		name    string
		stepID  string
		status  models.StepStatus
		wantErr apperr.Kind
	}{
		{name: "unknown step", stepID: "gnc", status: models.StepApto, wantErr: apperr.KindInvalidStep},
		{name: "empty step", stepID: " ", status: models.StepApto, wantErr: apperr.KindInvalidFormat},
		{name: "unknown status", stepID: "frenos", status: models.StepStatus("Bien"), wantErr: apperr.KindInvalidFormat},
		{name: "overwrite", stepID: "frenos", status: models.StepRechazado},
		{name: "clear", stepID: "frenos", status: models.StepUnset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.Tracker.RecordStep(ctx, inspection.ID, tt.stepID, tt.status, "")
			if tt.wantErr != "" {
				requireKind(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.status, got.Steps[0].Status)
		})
	}
}

func TestInspectionTracker_AttemptResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.createApplication(t, workshopA, "ABC123")
	inspection, err := f.svc.Tracker.Ensure(ctx, app.ID, false)
	require.NoError(t, err)

	result, err := f.svc.Tracker.AttemptResult(ctx, inspection.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptIncomplete, result)

	for _, step := range []struct {
		id     string
		status models.StepStatus
	}{
		{"frenos", models.StepApto},
		{"luces", models.StepCondicional},
	} {
		_, err := f.svc.Tracker.RecordStep(ctx, inspection.ID, step.id, step.status, "")
		require.NoError(t, err)
	}
	result, err = f.svc.Tracker.AttemptResult(ctx, inspection.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptIncomplete, result)

	_, err = f.svc.Tracker.RecordStep(ctx, inspection.ID, "emisiones", models.StepApto, "")
	require.NoError(t, err)
	result, err = f.svc.Tracker.AttemptResult(ctx, inspection.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptCondicional, result)
}

func TestConfigStepCatalog_FallsBackToDefaults(t *testing.T) {
	catalog := NewConfigStepCatalog(config.InspectionConfig{})
	steps, err := catalog.Steps(context.Background(), "any")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultSteps, steps)

	steps[0].StepID = "changed"
	again, _ := catalog.Steps(context.Background(), "any")
	assert.Equal(t, "identificacion", again[0].StepID)
}

func TestConfigStepCatalog_WorkshopIDIgnoresCase(t *testing.T) {
	catalog := NewConfigStepCatalog(config.InspectionConfig{
		Workshops: map[string]config.WorkshopInspectionConfig{
			"taller-norte": {Steps: []models.StepDefinition{{StepID: "gnc", Order: 1}}},
			"Taller-Sur":   {Steps: []models.StepDefinition{{StepID: "luces", Order: 1}}},
		},
	})
	ctx := context.Background()

	for _, tt := range []struct {
		workshopID string
		want       string
	}{
		{workshopID: "Taller-Norte", want: "gnc"},
		{workshopID: "TALLER-NORTE", want: "gnc"},
		{workshopID: "taller-sur", want: "luces"},
		{workshopID: "taller-este", want: "identificacion"},
	} {
		t.Run(tt.workshopID, func(t *testing.T) {
			steps, err := catalog.Steps(ctx, tt.workshopID)
			require.NoError(t, err)
			require.NotEmpty(t, steps)
			assert.Equal(t, tt.want, steps[0].StepID)
		})
	}
}
