package nn

import (
	"github.com/chewxy/math32"
)

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Rect is a box in normalized [0,1] model input coordinates, unless stated otherwise
type Rect struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// RectFromTLBR builds a rect from the (top, left, bottom, right) order that SSD heads emit.
// Inverted edges are tolerated, so width and height are never negative.
func RectFromTLBR(top, left, bottom, right float32) Rect {
	return Rect{
		X:      min(left, right),
		Y:      min(top, bottom),
		Width:  math32.Abs(right - left),
		Height: math32.Abs(bottom - top),
	}
}

func (r Rect) X2() float32 {
	return r.X + r.Width
}

func (r Rect) Y2() float32 {
	return r.Y + r.Height
}

func (r Rect) Area() float32 {
	return r.Width * r.Height
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X2(), b.X2())
	y2 := min(r.Y2(), b.Y2())
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// Intersection over Union
func (r Rect) IOU(b Rect) float32 {
	union := r.Area() + b.Area() - r.Intersection(b).Area()
	if union <= 0 {
		return 0
	}
	return r.Intersection(b).Area() / union
}

func (r Rect) Center() Point {
	return Point{
		X: r.X + r.Width/2,
		Y: r.Y + r.Height/2,
	}
}

// Scale maps a normalized rect into a width x height pixel space
func (r Rect) Scale(width, height float32) Rect {
	return Rect{
		X:      r.X * width,
		Y:      r.Y * height,
		Width:  r.Width * width,
		Height: r.Height * height,
	}
}

// Clip clamps the rect to the unit square
func (r Rect) Clip() Rect {
	return r.Intersection(Rect{X: 0, Y: 0, Width: 1, Height: 1})
}
