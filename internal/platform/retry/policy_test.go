package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicyDefaults(t *testing.T) {
	p := NewPolicy(0, 0)
	assert.Equal(t, 3, p.Attempts)
	assert.Equal(t, 2*time.Second, p.Backoff)

	p = NewPolicy(5, time.Millisecond)
	assert.Equal(t, 5, p.Attempts)
	assert.Equal(t, time.Millisecond, p.Backoff)
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	p := NewPolicy(3, time.Millisecond)
	calls := 0
	var retried []int

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, func(attempt int, _ error) { retried = append(retried, attempt) })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	p := NewPolicy(2, time.Millisecond)
	cause := errors.New("no reachable servers")
	calls := 0

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return cause
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 2, calls)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	p := NewPolicy(5, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("dial tcp: timeout")
	}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
