package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
	"github.com/ortsistemas48/svt-backend/internal/models"
)

var stickerColumns = []string{"id", "workshop_id", "number", "status", "assigned_plate", "intake_seq", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	return NewGormStore(gdb), mock
}

func TestStickerRepository_ClaimSticker(t *testing.T) {
	id := uuid.New()
	now := time.Now()

	tests := []struct {
		name       string
		affected   int64
		status     models.StickerStatus
		plate      any
		wantKind   apperr.Kind
		wantEntity string
	}{
		{name: "claimed", affected: 1, status: models.StickerEnUso, plate: "ABC123"},
		{name: "lost race", affected: 0, status: models.StickerEnUso, plate: "XYZ789", wantKind: apperr.KindConflict, wantEntity: "sticker"},
		{name: "withdrawn", affected: 0, status: models.StickerNoDisponible, plate: nil, wantKind: apperr.KindConflict, wantEntity: "sticker"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectExec(`UPDATE "stickers" SET .*WHERE \(?id = \$\d+ AND workshop_id = \$\d+ AND status = \$\d+`).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectQuery(`SELECT \* FROM "stickers" WHERE \(?id = \$1 AND workshop_id = \$2`).
				WillReturnRows(sqlmock.NewRows(stickerColumns).
					AddRow(id.String(), "taller-a", "A0001", string(tt.status), tt.plate, 1, now, now))

			sticker, err := store.ClaimSticker(context.Background(), "taller-a", id, "ABC123")
			if tt.wantKind != "" {
				e, ok := apperr.As(err)
				require.True(t, ok, "unexpected error: %v", err)
				assert.Equal(t, tt.wantKind, e.Kind)
				assert.Equal(t, tt.wantEntity, e.Entity)
				assert.Contains(t, e.State, "status="+string(tt.status))
			} else {
				require.NoError(t, err)
				assert.Equal(t, models.StickerEnUso, sticker.Status)
				require.NotNil(t, sticker.AssignedPlate)
				assert.Equal(t, "ABC123", *sticker.AssignedPlate)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStickerRepository_ClaimSticker_DatabaseError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(`UPDATE "stickers"`).WillReturnError(errors.New("connection reset"))

	_, err := store.ClaimSticker(context.Background(), "taller-a", uuid.New(), "ABC123")
	require.Error(t, err)
	assert.Equal(t, apperr.Kind(""), apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStickerRepository_ListAvailableStickers(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT \* FROM "stickers" WHERE workshop_id = \$1 AND status = \$2 AND intake_seq > \$3 ORDER BY intake_seq asc`).
		WillReturnRows(sqlmock.NewRows(stickerColumns).
			AddRow(uuid.NewString(), "taller-a", "A0004", "Disponible", nil, 4, now, now).
			AddRow(uuid.NewString(), "taller-a", "A0005", "Disponible", nil, 5, now, now))

	page, err := store.ListAvailableStickers(context.Background(), "taller-a", 3, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(4), page[0].IntakeSeq)
	assert.Equal(t, "A0005", page[1].Number)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStickerRepository_FindStickerByPlate_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT \* FROM "stickers" WHERE assigned_plate = \$1`).
		WillReturnRows(sqlmock.NewRows(stickerColumns))

	_, err := store.FindStickerByPlate(context.Background(), "ABC123")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_WithApplicationLock(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	appColumns := []string{"id", "workshop_id", "license_plate", "status", "result", "result2", "created_at", "updated_at"}
	lockQuery := `SELECT \* FROM "applications" WHERE id = \$1 .*FOR UPDATE`

	t.Run("commits", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WillReturnRows(sqlmock.NewRows(appColumns).AddRow(id.String(), "taller-a", "ABC123", "EnCurso", nil, nil, now, now))
		mock.ExpectCommit()

		var seen models.ApplicationStatus
		err := store.WithApplicationLock(context.Background(), id, func(tx Store, app *models.Application) error {
			seen = app.Status
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, models.ApplicationStatusEnCurso, seen)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).
			WillReturnRows(sqlmock.NewRows(appColumns).AddRow(id.String(), "taller-a", "ABC123", "Completado", "Apto", nil, now, now))
		mock.ExpectRollback()

		err := store.WithApplicationLock(context.Background(), id, func(tx Store, app *models.Application) error {
			return apperr.IllegalTransition("application", app.ID.String(), app.StateString(), "terminal")
		})
		assert.Equal(t, apperr.KindIllegalTransition, apperr.KindOf(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing application", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WillReturnRows(sqlmock.NewRows(appColumns))
		mock.ExpectRollback()

		called := false
		err := store.WithApplicationLock(context.Background(), id, func(Store, *models.Application) error {
			called = true
			return nil
		})
		assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
		assert.False(t, called)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
