package service

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortsistemas48/svt-backend/internal/apperr"
	"github.com/ortsistemas48/svt-backend/internal/config"
	"github.com/ortsistemas48/svt-backend/internal/logging"
	"github.com/ortsistemas48/svt-backend/internal/models"
	"github.com/ortsistemas48/svt-backend/internal/repository/memory"
)

// staleStore serves the available list from a snapshot, the way a reader
// racing other claimants sees it.
type staleStore struct {
	*memory.Store
	snapshot []models.Sticker
}

func (s *staleStore) ListAvailableStickers(_ context.Context, workshopID string, afterSeq int64, limit int) ([]models.Sticker, error) {
	var out []models.Sticker
	for _, st := range s.snapshot {
		if st.WorkshopID == workshopID && st.IntakeSeq > afterSeq && len(out) < limit {
			out = append(out, st)
		}
	}
	return out, nil
}

func TestAllocationCoordinator_ConcurrentAutoAssignDrainsPool(t *testing.T) {
	const n = 24
	f := newFixture(t)
	f.provision(t, workshopA, n)
	f.provision(t, workshopB, 3)

	results := make([]*models.Sticker, n)
	errs := make([]error, n)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.svc.Coordinator.AutoAssign(context.Background(), workshopA, plateFor(i))
		}(i)
	}
	close(start)
	wg.Wait()

	seen := make(map[uuid.UUID]string, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, workshopA, results[i].WorkshopID)
		prev, dup := seen[results[i].ID]
		assert.False(t, dup, "sticker %s handed to %s and %s", results[i].Number, prev, plateFor(i))
		seen[results[i].ID] = plateFor(i)
	}
	assert.Len(t, seen, n)

	left, err := f.svc.Registry.Available(context.Background(), workshopA, 0)
	require.NoError(t, err)
	assert.Empty(t, left)

	other, err := f.svc.Registry.Available(context.Background(), workshopB, 0)
	require.NoError(t, err)
	assert.Len(t, other, 3)

	_, err = f.svc.Coordinator.AutoAssign(context.Background(), workshopA, "ZZZ999")
	requireKind(t, err, apperr.KindNoStickersAvailable)
}

func TestAllocationCoordinator_AutoAssignPicksOldest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stickers := f.provision(t, workshopA, 3)
	_, err := f.svc.Registry.Assign(ctx, stickers[0].ID, "ABC123", workshopA)
	require.NoError(t, err)

	got, err := f.svc.Coordinator.AutoAssign(ctx, workshopA, "XYZ789")
	require.NoError(t, err)
	assert.Equal(t, stickers[1].ID, got.ID)
}

func TestAllocationCoordinator_RetriesPastStaleCandidates(t *testing.T) {
	tests := []struct {
		name        string
		maxAttempts int
		wantErr     apperr.Kind
		wantIndex   int
	}{
		{name: "unbounded tries every candidate", maxAttempts: 0, wantIndex: 2},
		{name: "bounded budget runs out", maxAttempts: 2, wantErr: apperr.KindNoStickersAvailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			base := memory.New()
			registry := NewStickerRegistry(base, nil, logging.Discard(), 10)
			stickers, err := registry.Provision(ctx, workshopA, []string{"S1", "S2", "S3"})
			require.NoError(t, err)

			store := &staleStore{Store: base, snapshot: stickers}
			coordinator := NewAllocationCoordinator(registry.bind(store), tt.maxAttempts, logging.Discard())
			_, err = registry.Assign(ctx, stickers[0].ID, "ABC123", workshopA)
			require.NoError(t, err)
			_, err = registry.Assign(ctx, stickers[1].ID, "ABD123", workshopA)
			require.NoError(t, err)

			got, err := coordinator.AutoAssign(ctx, workshopA, "XYZ789")
			if tt.wantErr != "" {
				requireKind(t, err, tt.wantErr)
				e, _ := apperr.As(err)
				assert.Equal(t, "candidates_tried=2", e.State)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, stickers[tt.wantIndex].ID, got.ID)
		})
	}
}

func TestAllocationCoordinator_PlateConflictStopsRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provision(t, workshopA, 3)

	_, err := f.svc.Coordinator.AutoAssign(ctx, workshopA, "ABC123")
	require.NoError(t, err)

	_, err = f.svc.Coordinator.AutoAssign(ctx, workshopA, "ABC123")
	requireKind(t, err, apperr.KindConflict)
	e, _ := apperr.As(err)
	assert.Equal(t, "license_plate", e.Entity)

	left, err := f.svc.Registry.Available(ctx, workshopA, 0)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}

func TestAllocationCoordinator_ManualAssign(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Allocation = config.AllocationConfig{} })
	ctx := context.Background()
	_, err := f.svc.Registry.Provision(ctx, workshopA, []string{"SVT-000123-B"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		parts   StickerNumberParts
		wantErr apperr.Kind
	}{
		{name: "empty code", parts: StickerNumberParts{Prefix: "SVT", Suffix: "B"}, wantErr: apperr.KindInvalidFormat},
		{name: "blank code", parts: StickerNumberParts{Prefix: "SVT", Code: "  ", Suffix: "B"}, wantErr: apperr.KindInvalidFormat},
		{name: "unknown number", parts: StickerNumberParts{Prefix: "SVT", Code: "999", Suffix: "B"}, wantErr: apperr.KindNotFound},
		{name: "normalized parts", parts: StickerNumberParts{Prefix: "svt-", Code: " 000123", Suffix: "-b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.Coordinator.ManualAssign(ctx, workshopA, "ABC123", tt.parts)
			if tt.wantErr != "" {
				requireKind(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "SVT000123B", got.Number)
			assert.Equal(t, models.StickerEnUso, got.Status)
		})
	}
}
