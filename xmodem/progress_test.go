package xmodem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProgressTrackerThrottles(t *testing.T) {
	var calls []int64
	pt := NewProgressTracker(func(done, total int64, rate float64) {
		require.Equal(t, int64(1000), total)
		calls = append(calls, done)
	}, time.Hour)

	pt.Start(1000)
	pt.Update(128)
	pt.Update(256)
	require.Empty(t, calls)

	pt.Complete()
	require.Equal(t, []int64{256}, calls)

	st := pt.Stats()
	require.Equal(t, int64(256), st.Transferred)
	require.Equal(t, int64(1000), st.Total)
}

func TestProgressTrackerReportsRate(t *testing.T) {
	var rates []float64
	pt := NewProgressTracker(func(done, total int64, rate float64) {
		rates = append(rates, rate)
	}, time.Millisecond)

	pt.Start(4096)
	time.Sleep(5 * time.Millisecond)
	pt.Update(1024)
	require.Len(t, rates, 1)
	require.Greater(t, rates[0], 0.0)

	// Unchanged position still reports, pulling the smoothed rate down.
	time.Sleep(5 * time.Millisecond)
	pt.Update(1024)
	require.Len(t, rates, 2)
	require.Less(t, rates[1], rates[0])
}
