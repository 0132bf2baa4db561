package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ortsistemas48/svt-backend/internal/config"
	"github.com/ortsistemas48/svt-backend/internal/db"
	httpserver "github.com/ortsistemas48/svt-backend/internal/http"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		if migrateOnStart {
			if err := runMigrations(); err != nil {
				return err
			}
		}

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		apiServer := httpserver.NewServer(ctx, a.svc, httpserver.Options{
			RateLimit: a.cfg.RateLimit,
			CORS:      a.cfg.CORS,
			Log:       a.log.WithField("component", "http"),
		})
		srv := &http.Server{
			Addr:         a.cfg.Server.Port,
			Handler:      apiServer.Engine,
			ReadTimeout:  a.cfg.Server.ReadTimeout,
			WriteTimeout: a.cfg.Server.WriteTimeout,
		}

		go func() {
			a.log.Infof("HTTP server listening on %s", a.cfg.Server.Port)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.WithError(err).Error("server error")
				cancel()
			}
		}()

		<-ctx.Done()
		a.log.Info("shutdown initiated")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.WithError(err).Warn("server shutdown error")
		}
		a.log.Info("bye")
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrations()
	},
}

func runMigrations() error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.Driver == config.StorageDriverMemory {
		log.Info("in-memory storage, nothing to migrate")
		return nil
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close(database)
	return db.Migrate(database)
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply database migrations before serving")
}
