package handoff

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	id, err := s.Create(ctx, []byte(`{"access_token":"a"}`), time.Minute)
	require.NoError(t, err)
	assert.Len(t, id, 48)

	got, err := s.Redeem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `{"access_token":"a"}`, string(got))

	_, err = s.Redeem(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Redeem(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	// racing redeemers: exactly one wins
	id, err = s.Create(ctx, []byte("once"), time.Minute)
	require.NoError(t, err)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Redeem(ctx, id); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	expired, err := s.Create(context.Background(), []byte("x"), time.Second)
	require.NoError(t, err)
	live, err := s.Create(context.Background(), []byte("y"), time.Hour)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = s.Redeem(context.Background(), expired)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Create(context.Background(), []byte("z"), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	got, err := s.Redeem(context.Background(), live)
	require.NoError(t, err)
	assert.Equal(t, "y", string(got))
}

func TestMemoryStoreCopiesPayload(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte("abc")
	id, err := s.Create(context.Background(), buf, time.Minute)
	require.NoError(t, err)
	buf[0] = 'X'
	got, err := s.Redeem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

// TestRedisStore runs against a live server when REDIS_TEST_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())

	exerciseStore(t, NewRedisStore(rdb, "handoff-test"))
}
