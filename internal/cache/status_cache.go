// Package cache keeps a Redis read projection of application status for
// collaborators that poll it (certificate issuance, dashboards).
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/ortsistemas48/svt-backend/internal/models"
)

// ErrMiss is returned when the projection holds no entry.
var ErrMiss = errors.New("status cache miss")

// StatusCache stores models.StatusView values keyed by application id.
type StatusCache interface {
	Put(ctx context.Context, view models.StatusView) error
	Get(ctx context.Context, id uuid.UUID) (*models.StatusView, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// RedisStatusCache implements StatusCache on Redis.
type RedisStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatusCache wraps client; ttl <= 0 keeps entries forever.
func NewRedisStatusCache(client *redis.Client, ttl time.Duration) *RedisStatusCache {
	return &RedisStatusCache{client: client, ttl: ttl}
}

func key(id uuid.UUID) string {
	return "svt:application:" + id.String() + ":status"
}

func versionKey(id uuid.UUID) string {
	return key(id) + ":version"
}

// putIfNewer writes KEYS[1] and its version KEYS[2] unless the stored version
// is newer than ARGV[2]. Versions are UpdatedAt in microseconds so they stay
// exact as Lua numbers.
var putIfNewer = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if current and tonumber(current) > tonumber(ARGV[2]) then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1])
  redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

// Put stores the projection of one application unless a view with a later
// UpdatedAt is already there.
func (c *RedisStatusCache) Put(ctx context.Context, view models.StatusView) error {
	body, err := json.Marshal(view)
	if err != nil {
		return errors.WithStack(err)
	}
	ttl := c.ttl.Milliseconds()
	if ttl < 0 {
		ttl = 0
	}
	id := view.ApplicationID
	err = putIfNewer.Run(ctx, c.client, []string{key(id), versionKey(id)},
		string(body), view.UpdatedAt.UnixMicro(), ttl).Err()
	return errors.WithStack(err)
}

// Get returns the projection or ErrMiss.
func (c *RedisStatusCache) Get(ctx context.Context, id uuid.UUID) (*models.StatusView, error) {
	body, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var view models.StatusView
	if err := json.Unmarshal(body, &view); err != nil {
		return nil, errors.WithStack(err)
	}
	return &view, nil
}

// Delete drops the projection so that readers fall back to the store.
func (c *RedisStatusCache) Delete(ctx context.Context, id uuid.UUID) error {
	return errors.WithStack(c.client.Del(ctx, key(id), versionKey(id)).Err())
}
