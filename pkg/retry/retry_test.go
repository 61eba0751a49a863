package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), Policy{InitialInterval: time.Millisecond, Multiplier: 2, MaxTries: 5}, "op",
		func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("not yet")
			}
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{InitialInterval: time.Millisecond, Multiplier: 2, MaxTries: 4}, "op",
		func() (struct{}, error) {
			calls++
			return struct{}{}, errors.New("down")
		})
	require.Error(t, err)
	assert.Equal(t, "down", err.Error())
	assert.Equal(t, 4, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad input")
	calls := 0
	_, err := Do(context.Background(), Policy{InitialInterval: time.Millisecond, Multiplier: 2, MaxTries: 5}, "op",
		func() (int, error) {
			calls++
			return 0, Permanent(sentinel)
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestPoll_TerminatesWithinBound(t *testing.T) {
	calls := 0
	start := time.Now()
	_, err := Poll(context.Background(), 5, 2*time.Millisecond, "poll", func() (int, error) {
		calls++
		return 0, errors.New("never ready")
	})
	require.Error(t, err)
	assert.Equal(t, 5, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPoll_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Poll(ctx, 100, 50*time.Millisecond, "poll", func() (int, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return 0, errors.New("never ready")
	})
	require.Error(t, err)
	assert.Less(t, calls, 100)
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}
