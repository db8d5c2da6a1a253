package nn

import (
	flatbush "github.com/bmharper/flatbush-go"
)

// Normalized coordinates are stored in the spatial index as fixed point
const mergeIndexScale = 1 << 16

func toIndexCoord(v float32) int32 {
	return int32(v * mergeIndexScale)
}

// MergeOverlapping suppresses detections that overlap a more confident detection of the
// same class by at least minIoU. The input must be sorted by descending confidence, and
// the output retains that order. If minIoU is zero or less, the input is returned unchanged.
func MergeOverlapping(dets []Detection, minIoU float32) []Detection {
	if minIoU <= 0 || len(dets) < 2 {
		return dets
	}

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(dets))
	for _, d := range dets {
		fb.Add(toIndexCoord(d.Box.X), toIndexCoord(d.Box.Y), toIndexCoord(d.Box.X2()), toIndexCoord(d.Box.Y2()))
	}
	fb.Finish()

	deleted := make([]bool, len(dets))
	for i := range dets {
		if deleted[i] {
			continue
		}
		b := dets[i].Box
		for _, j := range fb.Search(toIndexCoord(b.X), toIndexCoord(b.Y), toIndexCoord(b.X2()), toIndexCoord(b.Y2())) {
			// Only look forward, so that the more confident detection always survives
			if j <= i || deleted[j] {
				continue
			}
			if dets[j].ClassName != dets[i].ClassName {
				continue
			}
			if b.IOU(dets[j].Box) >= minIoU {
				deleted[j] = true
			}
		}
	}

	retain := make([]Detection, 0, len(dets))
	for i, d := range dets {
		if !deleted[i] {
			retain = append(retain, d)
		}
	}
	return retain
}
