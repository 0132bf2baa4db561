package db

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ortsistemas48/svt-backend/internal/config"
	"github.com/ortsistemas48/svt-backend/internal/models"
)

// New creates a new GORM database connection using the provided settings.
// Driver errors are translated so unique violations surface as gorm.ErrDuplicatedKey.
func New(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Silent)
	if cfg.LogLevel == "info" {
		gormLogger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	logrus.Info("connected to database")
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		logrus.WithError(err).Warn("get sql.DB for close")
		return
	}
	if err := sqlDB.Close(); err != nil {
		logrus.WithError(err).Warn("close database")
	}
}

var indexes = []string{
	// A plate holds at most one sticker at a time.
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_stickers_assigned_plate ON stickers(assigned_plate) WHERE assigned_plate IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_applications_second_eligible ON applications(workshop_id) WHERE result = 'Condicional' AND result2 IS NULL`,
	`ALTER TABLE applications DROP CONSTRAINT IF EXISTS chk_applications_result2`,
	`ALTER TABLE applications ADD CONSTRAINT chk_applications_result2 CHECK (result2 IS NULL OR result = 'Condicional')`,
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Application{},
		&models.Inspection{},
		&models.StepResult{},
		&models.Sticker{},
		&models.AuditEntry{},
	); err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return errors.Wrapf(err, "migrate: %s", stmt)
		}
	}
	logrus.Info("database migrations completed")
	return nil
}
