package perfstats

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMovingAverage(t *testing.T) {
	var v atomic.Int64
	UpdateMovingAverage(&v, 6400)
	require.Equal(t, int64(6400), v.Load())
	UpdateMovingAverage(&v, 6400+64)
	require.Equal(t, int64(6401), v.Load())
	for i := 0; i < 1000; i++ {
		UpdateMovingAverage(&v, 100)
	}
	require.InDelta(t, 100, v.Load(), 2)
}

func TestSnapshot(t *testing.T) {
	s := &PipelineStats{}
	s.AddPrep(2 * time.Millisecond)
	s.AddInference(30 * time.Millisecond)
	s.Frames.Add(3)
	s.Detected.Add(1)
	s.Empty.Add(1)
	s.Failed.Add(1)
	snap := s.Snapshot()
	require.Equal(t, 2.0, snap.AvgPrepMS)
	require.Equal(t, 30.0, snap.AvgInferenceMS)
	require.Equal(t, int64(3), snap.Frames)
	require.Contains(t, snap.String(), "frames: 3 (detected 1, empty 1, failed 1)")
}
