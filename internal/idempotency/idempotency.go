// Package idempotency replays the recorded response of a request whose
// Idempotency-Key has been seen before.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/field-booking/internal/adapters/redis"
)

var (
	ErrInProgress  = errors.New("a request with this idempotency key is still in progress")
	ErrKeyMismatch = errors.New("idempotency key was used for a different request")
)

type backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Lock(ctx context.Context, key, fingerprint string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Idempotency struct {
	redis   backend
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotency(redis backend, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl, lockTTL: 30 * time.Second}
}

type Response struct {
	Status int
	Result []byte
}

// Fingerprint identifies the request a key was first used with.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method + " " + path + "\n"))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin claims key for a new request. It returns the recorded response when the
// request was already served, ErrInProgress while the first attempt is running and
// ErrKeyMismatch when the key was used with another request.
func (i *Idempotency) Begin(ctx context.Context, key, fingerprint string) (*Response, error) {
	ok, err := i.redis.Lock(ctx, key, fingerprint, i.lockTTL)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}
	prev, err := i.redis.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		// expired between the two calls
		return i.Begin(ctx, key, fingerprint)
	}
	if prev.Fingerprint != fingerprint {
		return nil, ErrKeyMismatch
	}
	if prev.Status == 0 {
		return nil, ErrInProgress
	}
	return &Response{Status: prev.Status, Result: prev.Result}, nil
}

// Set records the final response for key.
func (i *Idempotency) Set(ctx context.Context, key, fingerprint string, resp Response) error {
	return i.redis.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		Result:      resp.Result,
		Fingerprint: fingerprint,
	}, i.ttl)
}

// Abandon forgets key so the client may retry, used when the request failed in a
// way that is safe to repeat.
func (i *Idempotency) Abandon(ctx context.Context, key string) error {
	return i.redis.Delete(ctx, key)
}
