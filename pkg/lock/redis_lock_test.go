package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLock_AcquireRelease(t *testing.T) {
	_, client := newClient(t)
	l := NewRedisLock(client, "jobs:test")
	ctx := context.Background()

	ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, l.IsHeld())

	require.NoError(t, l.Unlock(ctx))
	assert.False(t, l.IsHeld())
}

func TestRedisLock_MutualExclusion(t *testing.T) {
	_, client := newClient(t)
	l1 := NewRedisLock(client, "jobs:multi")
	l2 := NewRedisLock(client, "jobs:multi")
	ctx := context.Background()

	ok, err := l1.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l2.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second instance must not acquire a held lock")

	// releasing with the wrong token leaves the lock in place
	require.NoError(t, l2.Unlock(ctx))
	ok, err = l2.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l1.Unlock(ctx))
	ok, err = l2.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l2.Unlock(ctx))
}

func TestRedisLock_ExpiresWithoutRenewal(t *testing.T) {
	mr, client := newClient(t)
	l1 := NewRedisLock(client, "jobs:expire").WithTTL(time.Second)
	l2 := NewRedisLock(client, "jobs:expire")
	ctx, cancel := context.WithCancel(context.Background())

	ok, err := l1.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	cancel() // stops renewal

	mr.FastForward(2 * time.Second)

	ok, err = l2.TryLock(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_SingleInstanceMode(t *testing.T) {
	l := NewRedisLock(nil, "jobs:none")
	ok, err := l.TryLock(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Unlock(context.Background()))
	assert.False(t, l.IsHeld())
}

func TestWithLock(t *testing.T) {
	_, client := newClient(t)
	ctx := context.Background()
	holder := NewRedisLock(client, "jobs:with")

	ran := false
	ok, err := WithLock(ctx, NewRedisLock(client, "jobs:with"), func(ctx context.Context) error {
		ran = true
		// held for the duration of fn
		got, err := holder.TryLock(ctx)
		assert.NoError(t, err)
		assert.False(t, got)
		return errors.New("job failed")
	})
	assert.True(t, ok)
	assert.True(t, ran)
	assert.EqualError(t, err, "job failed")

	// released afterwards
	got, err := holder.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, got)

	ok, err = WithLock(ctx, NewRedisLock(client, "jobs:with"), func(ctx context.Context) error {
		t.Fatal("must not run while another instance holds the lock")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, ok)
}
