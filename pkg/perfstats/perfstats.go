// Package perfstats records how long the stages of the detection pipeline take,
// so that it's easy to compare models and hardware.
package perfstats

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// UpdateMovingAverage folds 'value' into an exponential moving average with a window of roughly 64 samples.
// The first sample initializes the average.
func UpdateMovingAverage(stat *atomic.Int64, value int64) {
	// We don't bother about strict correctness here, with CompareAndSwap,
	// because this is just sampled stats, and it's OK to miss one or two samples.
	if stat.Load() == 0 {
		stat.Store(value)
	} else {
		stat.Store((stat.Load()*63 + value) >> 6)
	}
}

// Stage timing and outcome counts of a detection session.
// All fields may be updated and read concurrently.
type PipelineStats struct {
	AvgPrepNS      atomic.Int64 // Scaling + conversion
	AvgInferenceNS atomic.Int64 // Backend invoke
	Frames         atomic.Int64 // Frames submitted
	Detected       atomic.Int64 // Frames that produced a result
	Empty          atomic.Int64 // Frames where the model reported zero detections
	Failed         atomic.Int64 // Frames that failed to prepare or invoke
}

// Snapshot is a plain copy of PipelineStats, suitable for JSON
type Snapshot struct {
	AvgPrepMS      float64 `json:"avgPrepMS"`
	AvgInferenceMS float64 `json:"avgInferenceMS"`
	Frames         int64   `json:"frames"`
	Detected       int64   `json:"detected"`
	Empty          int64   `json:"empty"`
	Failed         int64   `json:"failed"`
}

func (s *PipelineStats) AddPrep(d time.Duration) {
	UpdateMovingAverage(&s.AvgPrepNS, d.Nanoseconds())
}

func (s *PipelineStats) AddInference(d time.Duration) {
	UpdateMovingAverage(&s.AvgInferenceNS, d.Nanoseconds())
}

func (s *PipelineStats) Snapshot() Snapshot {
	return Snapshot{
		AvgPrepMS:      float64(s.AvgPrepNS.Load()) / 1e6,
		AvgInferenceMS: float64(s.AvgInferenceNS.Load()) / 1e6,
		Frames:         s.Frames.Load(),
		Detected:       s.Detected.Load(),
		Empty:          s.Empty.Load(),
		Failed:         s.Failed.Load(),
	}
}

func (s Snapshot) String() string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "prep: %0.2f ms, inference: %0.2f ms, ", s.AvgPrepMS, s.AvgInferenceMS)
	fmt.Fprintf(b, "frames: %v (detected %v, empty %v, failed %v)", s.Frames, s.Detected, s.Empty, s.Failed)
	return b.String()
}
