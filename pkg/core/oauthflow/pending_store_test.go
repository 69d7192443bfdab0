package oauthflow

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s PendingStore) {
	t.Helper()
	ctx := context.Background()
	want := Pending{SessionID: "7f1c2a9e-4b5d-4e6f-8a7b-9c0d1e2f3a4b", Verifier: "v"}

	require.NoError(t, s.Put(ctx, "state-1", want, time.Minute))
	assert.Error(t, s.Put(ctx, "state-1", Pending{SessionID: "other"}, time.Minute))
	assert.Error(t, s.Put(ctx, "", want, time.Minute))

	got, err := s.Consume(ctx, "state-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.Consume(ctx, "state-1")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = s.Consume(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, s.Put(ctx, "state-2", want, time.Minute))
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Consume(ctx, "state-2"); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryStore_Contract(t *testing.T) {
	s := NewMemoryStore(time.Hour)
	defer s.Close()
	exerciseStore(t, s)
}

func TestRedisStore_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer s.Close()
	exerciseStore(t, s)
}

func TestRedisStore_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "short", Pending{SessionID: "s"}, time.Minute))
	assert.True(t, mr.Exists(redisKeyPrefix+"short"))

	mr.FastForward(2 * time.Minute)
	_, err := s.Consume(ctx, "short")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn, nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.pool.Exec(ctx, `DELETE FROM oauth_states`)
	require.NoError(t, err)
	exerciseStore(t, s)

	require.NoError(t, s.Put(ctx, "stale", Pending{SessionID: "s"}, -time.Second))
	n, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
