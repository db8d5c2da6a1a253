package nn

import (
	"sort"

	"github.com/chewxy/math32"
)

// RawDetectionTensors are the four outputs of an SSD detection head, copied out of the backend
type RawDetectionTensors struct {
	Boxes   []float32 // N x 4, normalized [top, left, bottom, right]
	Classes []float32 // N
	Scores  []float32 // N
	Count   []float32 // 1
}

// Read the four detection tensors from a backend that has just been invoked
func ReadDetectionTensors(b Backend) (RawDetectionTensors, error) {
	var t RawDetectionTensors
	var err error
	if t.Boxes, err = b.Output(OutputSlotBoxes); err != nil {
		return t, err
	}
	if t.Classes, err = b.Output(OutputSlotClasses); err != nil {
		return t, err
	}
	if t.Scores, err = b.Output(OutputSlotScores); err != nil {
		return t, err
	}
	if t.Count, err = b.Output(OutputSlotCount); err != nil {
		return t, err
	}
	return t, nil
}

// CountFromTensor truncates the count tensor to an integer.
// A missing, NaN, or negative count is zero.
func CountFromTensor(count []float32) int {
	if len(count) == 0 || math32.IsNaN(count[0]) || count[0] < 0 {
		return 0
	}
	if count[0] > float32(1<<30) {
		return 1 << 30
	}
	return int(count[0])
}

// Slots returns the number of detection slots that are fully present in all three per-slot tensors
func (t *RawDetectionTensors) Slots() int {
	return min(len(t.Scores), len(t.Classes), len(t.Boxes)/4)
}

// DecodeDetections turns the first n slots of the raw tensors into detections.
// Slots with a score below minConfidence are dropped, and the result is sorted by
// descending confidence. Slots at or beyond n are never read. If n exceeds the
// number of slots that the tensors actually hold, it is reduced to that.
func DecodeDetections(t RawDetectionTensors, n int, labels LabelTable, minConfidence float32) []Detection {
	n = max(0, min(n, t.Slots()))
	results := []Detection{}
	for i := 0; i < n; i++ {
		score := t.Scores[i]
		if !(score >= minConfidence) {
			continue
		}
		box := t.Boxes[4*i : 4*i+4]
		results = append(results, Detection{
			Confidence: score,
			ClassName:  labels.Label(int(t.Classes[i])),
			Box:        RectFromTLBR(box[0], box[1], box[2], box[3]),
			Color:      DefaultColor,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})

	return results
}
