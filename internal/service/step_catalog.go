package service

import (
	"context"
	"sort"
	"strings"

	"github.com/ortsistemas48/svt-backend/internal/config"
	"github.com/ortsistemas48/svt-backend/internal/models"
)

// StepCatalog supplies the ordered checklist of a workshop.
type StepCatalog interface {
	Steps(ctx context.Context, workshopID string) ([]models.StepDefinition, error)
}

// ConfigStepCatalog serves the checklist from configuration: a workshop
// override when present, the default list otherwise.
type ConfigStepCatalog struct {
	defaults  []models.StepDefinition
	workshops map[string][]models.StepDefinition
}

// NewConfigStepCatalog sorts every configured list by order once.
func NewConfigStepCatalog(cfg config.InspectionConfig) *ConfigStepCatalog {
	c := &ConfigStepCatalog{
		defaults:  sortedSteps(cfg.Steps),
		workshops: make(map[string][]models.StepDefinition, len(cfg.Workshops)),
	}
	if len(c.defaults) == 0 {
		c.defaults = sortedSteps(config.DefaultSteps)
	}
	for id, w := range cfg.Workshops {
		if len(w.Steps) > 0 {
			c.workshops[strings.ToLower(id)] = sortedSteps(w.Steps)
		}
	}
	return c
}

// Steps returns a copy of the workshop's checklist. Workshop ids are
// matched case-insensitively.
func (c *ConfigStepCatalog) Steps(_ context.Context, workshopID string) ([]models.StepDefinition, error) {
	steps, ok := c.workshops[strings.ToLower(workshopID)]
	if !ok {
		steps = c.defaults
	}
	return append([]models.StepDefinition(nil), steps...), nil
}

func sortedSteps(steps []models.StepDefinition) []models.StepDefinition {
	out := append([]models.StepDefinition(nil), steps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
