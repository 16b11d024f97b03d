package refstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Jrooker06/ORB-Scanner-Sockets-live/pkg/models"
)

const keyPrefix = "ref:"

// ErrMiss is returned when the store has no entry for a symbol.
var ErrMiss = errors.New("refstore: miss")

// Compile-time check to ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)

// RedisStore keeps reference data in Redis with a TTL, so multiple relay
// instances share one set of upstream lookups.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Get(ctx context.Context, symbol string) (*models.Reference, error) {
	payload, err := r.client.Get(ctx, keyPrefix+symbol).Result()
	if err == redis.Nil {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}

	var ref models.Reference
	if err := json.Unmarshal([]byte(payload), &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *RedisStore) Set(ctx context.Context, symbol string, ref *models.Reference) error {
	payload, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, keyPrefix+symbol, payload, r.ttl).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
