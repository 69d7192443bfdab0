package oauthflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "vai-voice:oauth-state:"

// RedisStore shares pending authorizations across instances. Entries expire
// through the Redis TTL and are consumed with GETDEL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore connects to the Redis server described by url.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: redisKeyPrefix}
}

func (s *RedisStore) Put(ctx context.Context, state string, p Pending, ttl time.Duration) error {
	if state == "" {
		return errors.New("oauthflow: empty state")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.prefix+state, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("store oauth state: %w", err)
	}
	if !ok {
		return errors.New("oauthflow: state already issued")
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, state string) (Pending, error) {
	if state == "" {
		return Pending{}, ErrInvalidState
	}
	data, err := s.client.GetDel(ctx, s.prefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Pending{}, ErrInvalidState
		}
		return Pending{}, fmt.Errorf("consume oauth state: %w", err)
	}
	var p Pending
	if err := json.Unmarshal(data, &p); err != nil {
		return Pending{}, fmt.Errorf("%w: corrupt entry", ErrInvalidState)
	}
	return p, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
