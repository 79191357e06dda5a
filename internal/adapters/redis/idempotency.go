package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

// IdempResponse is a recorded response. A zero Status marks a request still in flight.
type IdempResponse struct {
	Status      int    `json:"status"`
	Result      []byte `json:"result,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

func (i *Idempotency) Get(ctx context.Context, key string) (*IdempResponse, error) {
	val, err := i.client.Get(ctx, "idemp:"+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp IdempResponse
	err = json.Unmarshal(val, &resp)
	return &resp, err
}

// Lock records an in-flight marker unless the key is already known.
func (i *Idempotency) Lock(ctx context.Context, key, fingerprint string, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(IdempResponse{Fingerprint: fingerprint})
	if err != nil {
		return false, err
	}
	return i.client.SetNX(ctx, "idemp:"+key, data, ttl).Result()
}

func (i *Idempotency) Set(ctx context.Context, key string, resp IdempResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return i.client.Set(ctx, "idemp:"+key, data, ttl).Err()
}

func (i *Idempotency) Delete(ctx context.Context, key string) error {
	return i.client.Del(ctx, "idemp:"+key).Err()
}
