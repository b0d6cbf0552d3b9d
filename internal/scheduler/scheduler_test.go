package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunImmediatelyThenInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	s := New(Options{Interval: 20 * time.Millisecond, RunImmediately: true}, zerolog.Nop())

	err := s.Run(ctx, func(context.Context, time.Time) error {
		if calls.Add(1) == 3 {
			cancel()
		}
		return errors.New("tick failures do not stop the loop")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRunStopsDuringStartupDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	s := New(Options{Interval: time.Second, StartupDelay: time.Hour, RunImmediately: true}, zerolog.Nop())
	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick must not run before the startup delay")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextTickAlignment(t *testing.T) {
	s := New(Options{Interval: 5 * time.Minute, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2024, 1, 15, 20, 2, 30, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 1, 15, 20, 5, 0, 0, time.UTC), s.nextTick(now))
	assert.Equal(t, time.Date(2024, 1, 15, 20, 10, 0, 0, time.UTC), s.nextTick(time.Date(2024, 1, 15, 20, 5, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2024, 1, 15, 20, 5, 0, 0, time.UTC), s.tickTime(time.Date(2024, 1, 15, 20, 5, 0, 1, time.UTC)))

	free := New(Options{Interval: time.Minute}, zerolog.Nop())
	assert.Equal(t, now.Add(time.Minute), free.nextTick(now))
}

func TestNewRejectsNonPositiveInterval(t *testing.T) {
	require.Panics(t, func() { New(Options{}, zerolog.Nop()) })
}
