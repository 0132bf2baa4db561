package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ortsistemas48/svt-backend/internal/models"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisStatusCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStatusCache(client, ttl), mr
}

func TestRedisStatusCache_PutGet(t *testing.T) {
	c, _ := newTestCache(t, 0)
	ctx := context.Background()
	view := models.StatusView{
		ApplicationID: uuid.New(),
		WorkshopID:    "taller-a",
		Status:        models.ApplicationStatusAInspeccionar,
		Result:        models.ResultPtr(models.ResultCondicional),
		UpdatedAt:     time.Now().UTC().Truncate(time.Second),
	}

	require.NoError(t, c.Put(ctx, view))
	got, err := c.Get(ctx, view.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, view, *got)

	view.Status = models.ApplicationStatusSegundaInspeccion
	require.NoError(t, c.Put(ctx, view))
	got, err = c.Get(ctx, view.ApplicationID)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusSegundaInspeccion, got.Status)
}

func TestRedisStatusCache_Miss(t *testing.T) {
	c, _ := newTestCache(t, 0)
	_, err := c.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStatusCache_Expires(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, c.Put(ctx, models.StatusView{ApplicationID: id, Status: models.ApplicationStatusPendiente}))

	mr.FastForward(2 * time.Minute)
	_, err := c.Get(ctx, id)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStatusCache_CorruptEntry(t *testing.T) {
	c, mr := newTestCache(t, 0)
	id := uuid.New()
	require.NoError(t, mr.Set(key(id), "not json"))

	_, err := c.Get(context.Background(), id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}

func TestRedisStatusCache_OlderViewDoesNotOverwrite(t *testing.T) {
	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()
	id := uuid.New()
	at := time.Now().UTC()

	newer := models.StatusView{ApplicationID: id, Status: models.ApplicationStatusEnCurso, UpdatedAt: at}
	older := models.StatusView{ApplicationID: id, Status: models.ApplicationStatusPendiente, UpdatedAt: at.Add(-time.Second)}
	require.NoError(t, c.Put(ctx, newer))
	require.NoError(t, c.Put(ctx, older))

	got, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusEnCurso, got.Status)

	latest := models.StatusView{ApplicationID: id, Status: models.ApplicationStatusAInspeccionar, UpdatedAt: at.Add(time.Second)}
	require.NoError(t, c.Put(ctx, latest))
	got, err = c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusAInspeccionar, got.Status)
}

func TestRedisStatusCache_Delete(t *testing.T) {
	c, mr := newTestCache(t, 0)
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, c.Put(ctx, models.StatusView{ApplicationID: id, Status: models.ApplicationStatusEnCurso, UpdatedAt: time.Now()}))

	require.NoError(t, c.Delete(ctx, id))
	_, err := c.Get(ctx, id)
	assert.ErrorIs(t, err, ErrMiss)
	assert.False(t, mr.Exists(versionKey(id)))

	// an older view may land again once the entry is gone
	require.NoError(t, c.Put(ctx, models.StatusView{ApplicationID: id, Status: models.ApplicationStatusPendiente}))
	got, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusPendiente, got.Status)
}
