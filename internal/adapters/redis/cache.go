package redis

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func fieldVersionKey(fieldID uuid.UUID) string {
	return "slots:v:" + fieldID.String()
}

// SlotsKey names a cached calendar page. The key embeds the field's version so a
// bump makes every older page unreachable until it expires.
func (c *Cache) SlotsKey(ctx context.Context, fieldID uuid.UUID, from, to string) (string, error) {
	v, err := c.client.Get(ctx, fieldVersionKey(fieldID)).Int64()
	if err != nil && err != redis.Nil {
		return "", err
	}
	return "slots:" + fieldID.String() + ":" + strconv.FormatInt(v, 10) + ":" + from + ":" + to, nil
}

func (c *Cache) InvalidateField(ctx context.Context, fieldID uuid.UUID) error {
	return c.client.Incr(ctx, fieldVersionKey(fieldID)).Err()
}

func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(val, dst)
}

func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, ttl).Err()
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLock takes a named lock for owner unless someone else holds it.
func (c *Cache) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, "lock:"+name, owner, ttl).Result()
}

// ReleaseLock drops the lock only if owner still holds it.
func (c *Cache) ReleaseLock(ctx context.Context, name, owner string) error {
	return releaseScript.Run(ctx, c.client, []string{"lock:" + name}, owner).Err()
}
