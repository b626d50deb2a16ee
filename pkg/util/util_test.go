package util

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestParallelRunsAll(t *testing.T) {
	var sum, inFlight, peak atomic.Int64
	inputs := []int64{1, 2, 3, 4, 5, 6, 7, 8}

	err := Parallel(context.Background(), inputs, 3, func(_ context.Context, n int64) error {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		sum.Add(n)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(36), sum.Load())
	assert.LessOrEqual(t, peak.Load(), int64(3))
}

func TestParallelStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int64
	inputs := make([]int, 100)

	err := Parallel(context.Background(), inputs, 1, func(context.Context, int) error {
		if calls.Add(1) == 2 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Less(t, calls.Load(), int64(100))
}

func TestParallelEmptyAndZeroLimit(t *testing.T) {
	require.NoError(t, Parallel[int](context.Background(), nil, 4, nil))

	var calls atomic.Int64
	require.NoError(t, Parallel(context.Background(), []int{1, 2}, 0, func(context.Context, int) error {
		calls.Add(1)
		return nil
	}))
	assert.Equal(t, int64(2), calls.Load())
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2023, 11, 10, 7, 5, 9, 0, time.UTC)
	assert.Equal(t, "2023.11.10", FormatDate(ts, "YYYY.MM.DD"))
	assert.Equal(t, "10/11/23 07:05:09", FormatDate(ts, "DD/MM/YY hh:mm:ss"))
	assert.Empty(t, FormatDate(time.Time{}, "YYYY"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "7m", FormatDuration(7*time.Minute))
	assert.Equal(t, "5h12m", FormatDuration(5*time.Hour+12*time.Minute))
	assert.Equal(t, "3d4h", FormatDuration(-(76*time.Hour + 20*time.Minute)))
}
