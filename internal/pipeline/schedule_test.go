package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery_RunOnceWithoutInterval(t *testing.T) {
	calls := 0
	want := errors.New("boom")
	err := Every(context.Background(), 0, nil, func(context.Context) error {
		calls++
		return want
	})
	assert.ErrorIs(t, err, want)
	assert.Equal(t, 1, calls)
}

func TestEvery_RepeatsUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := Every(ctx, 5*time.Millisecond, nil, func(context.Context) error {
		calls++
		if calls == 3 {
			cancel()
		}
		if calls == 2 {
			return errors.New("transient round failure")
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
}

func TestEvery_StopsOnFatal(t *testing.T) {
	calls := 0
	err := Every(context.Background(), time.Millisecond, nil, func(context.Context) error {
		calls++
		return fmt.Errorf("%w: state not writable", ErrFatal)
	})
	assert.ErrorIs(t, err, ErrFatal)
	assert.Equal(t, 1, calls)
}
