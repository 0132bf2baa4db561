package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ortsistemas48/svt-backend/internal/cache"
	"github.com/ortsistemas48/svt-backend/internal/config"
	"github.com/ortsistemas48/svt-backend/internal/db"
	"github.com/ortsistemas48/svt-backend/internal/logging"
	"github.com/ortsistemas48/svt-backend/internal/mq"
	"github.com/ortsistemas48/svt-backend/internal/repository"
	"github.com/ortsistemas48/svt-backend/internal/repository/memory"
	"github.com/ortsistemas48/svt-backend/internal/service"
)

// app holds the wired core and the resources to release on exit.
type app struct {
	cfg     config.Config
	log     *logrus.Logger
	svc     *service.Services
	closers []func()
}

func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logging.Setup(cfg.Log.Level, cfg.Log.Format), nil
}

func openDatabase(cfg config.Config) (*gorm.DB, error) {
	database, err := db.New(cfg.Database)
	if err != nil {
		return nil, errors.Wrap(err, "connect database")
	}
	return database, nil
}

// bootstrap wires the inspection core. Redis and RabbitMQ are optional: when
// they are unset or unreachable the core runs without the status projection
// or without events.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	var store repository.Store
	switch cfg.Storage.Driver {
	case config.StorageDriverMemory:
		log.Warn("using in-memory storage, data is lost on exit")
		store = memory.New()
	default:
		database, err := openDatabase(cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close(database) })
		store = repository.NewGormStore(database)
	}

	var statuses cache.StatusCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.WithError(err).Warn("redis unavailable, continuing without status projection")
			_ = client.Close()
		} else {
			statuses = cache.NewRedisStatusCache(client, cfg.Redis.StatusTTL)
			a.closers = append(a.closers, func() { _ = client.Close() })
		}
	}

	var publisher mq.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := mq.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			log.WithError(err).Warn("rabbitmq unavailable, continuing without events")
		} else {
			publisher = rabbit
			a.closers = append(a.closers, func() { _ = rabbit.Close() })
		}
	}

	policy, err := service.PolicyFromConfig(cfg.Workflow.FirstAttemptTarget)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.svc = service.New(service.Options{
		Store:      store,
		Catalog:    service.NewConfigStepCatalog(cfg.Inspection),
		Policy:     policy,
		Publisher:  publisher,
		Statuses:   statuses,
		Allocation: cfg.Allocation,
		Log:        log,
	})
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
