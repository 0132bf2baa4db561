package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortsistemas48/svt-backend/internal/models"
)

func fromYAML(t *testing.T, doc string) (Config, error) {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(doc)))
	return decode(v)
}

func TestDefaults(t *testing.T) {
	cfg, err := fromYAML(t, "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, FirstAttemptAuto, cfg.Workflow.FirstAttemptTarget)
	assert.Equal(t, 24*time.Hour, cfg.Redis.StatusTTL)
	assert.Equal(t, 50, cfg.Allocation.PageSize)
	assert.Equal(t, DefaultSteps, cfg.Inspection.Steps)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
}

func TestInspectionStepsFromYAML(t *testing.T) {
	cfg, err := fromYAML(t, `
inspection:
  steps:
    - step_id: frenos
      order: 1
    - step_id: luces
      order: 2
  workshops:
    taller-norte:
      steps:
        - step_id: gnc
          order: 1
`)
	require.NoError(t, err)
	assert.Equal(t, []models.StepDefinition{{StepID: "frenos", Order: 1}, {StepID: "luces", Order: 2}}, cfg.Inspection.Steps)
	require.Contains(t, cfg.Inspection.Workshops, "taller-norte")
	assert.Equal(t, "gnc", cfg.Inspection.Workshops["taller-norte"].Steps[0].StepID)
}

func TestWorkshopKeysAreLowercased(t *testing.T) {
	cfg, err := fromYAML(t, `
inspection:
  workshops:
    Taller-Norte:
      steps:
        - step_id: gnc
          order: 1
`)
	require.NoError(t, err)
	require.Contains(t, cfg.Inspection.Workshops, "taller-norte")
	assert.NotContains(t, cfg.Inspection.Workshops, "Taller-Norte")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown driver", doc: "storage:\n  driver: sqlite\n"},
		{name: "unknown target", doc: "workflow:\n  first_attempt_target: later\n"},
		{name: "negative attempts", doc: "allocation:\n  max_attempts: -1\n"},
		{name: "duplicate step", doc: "inspection:\n  steps:\n    - step_id: luces\n    - step_id: luces\n"},
		{name: "empty step id", doc: "inspection:\n  steps:\n    - order: 1\n"},
		{name: "duplicate workshop step", doc: "inspection:\n  workshops:\n    taller-norte:\n      steps:\n        - step_id: gnc\n          order: 1\n        - step_id: gnc\n          order: 2\n"},
		{name: "empty workshop step id", doc: "inspection:\n  workshops:\n    taller-norte:\n      steps:\n        - order: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fromYAML(t, tt.doc)
			assert.Error(t, err)
		})
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", StorageDriverMemory)
	t.Setenv("ALLOCATION_MAX_ATTEMPTS", "3")
	t.Setenv("WORKFLOW_FIRST_ATTEMPT_TARGET", FirstAttemptQueue)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	assert.Equal(t, 3, cfg.Allocation.MaxAttempts)
	assert.Equal(t, FirstAttemptQueue, cfg.Workflow.FirstAttemptTarget)
}
