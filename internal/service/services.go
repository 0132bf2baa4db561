package service

import (
	"github.com/sirupsen/logrus"

	"github.com/ortsistemas48/svt-backend/internal/cache"
	"github.com/ortsistemas48/svt-backend/internal/config"
	"github.com/ortsistemas48/svt-backend/internal/mq"
	"github.com/ortsistemas48/svt-backend/internal/repository"
)

// Services is the wired inspection core.
type Services struct {
	Registry    *StickerRegistry
	Coordinator *AllocationCoordinator
	Tracker     *InspectionTracker
	Workflow    *ApplicationWorkflow
}

// Options configures New. Publisher and Statuses may be nil.
type Options struct {
	Store      repository.Store
	Catalog    StepCatalog
	Vehicles   VehicleDirectory
	Policy     QueuePolicy
	Publisher  mq.Publisher
	Statuses   cache.StatusCache
	Allocation config.AllocationConfig
	Log        logrus.FieldLogger
}

// New wires the four components around one store.
func New(opts Options) *Services {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = NewConfigStepCatalog(config.InspectionConfig{})
	}
	registry := NewStickerRegistry(opts.Store, opts.Publisher, log.WithField("component", "sticker_registry"), opts.Allocation.PageSize)
	coordinator := NewAllocationCoordinator(registry, opts.Allocation.MaxAttempts, log.WithField("component", "allocation"))
	tracker := NewInspectionTracker(opts.Store, catalog, log.WithField("component", "inspection_tracker"))
	workflow := NewApplicationWorkflow(Dependencies{
		Store:       opts.Store,
		Registry:    registry,
		Coordinator: coordinator,
		Tracker:     tracker,
		Catalog:     catalog,
		Vehicles:    opts.Vehicles,
		Policy:      opts.Policy,
		Publisher:   opts.Publisher,
		Statuses:    opts.Statuses,
		Log:         log.WithField("component", "workflow"),
	})
	return &Services{
		Registry:    registry,
		Coordinator: coordinator,
		Tracker:     tracker,
		Workflow:    workflow,
	}
}
