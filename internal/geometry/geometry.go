// Package geometry provides the axis-aligned box representation shared
// by the annotation store, the merge resolver and the exporter.
package geometry

import (
	"errors"
	"fmt"
)

// ErrInvalidGeometry is returned for malformed boxes (negative width or
// height).
var ErrInvalidGeometry = errors.New("invalid geometry")

// Box is an axis-aligned rectangle: top-left corner plus size. The
// coordinate space (normalized or pixel) is up to the caller, as long as
// both operands of a comparison share it.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Validate rejects negative dimensions. Zero-area boxes are accepted.
func (b Box) Validate() error {
	if b.Width < 0 || b.Height < 0 {
		return fmt.Errorf("%w: negative size %vx%v", ErrInvalidGeometry, b.Width, b.Height)
	}
	return nil
}

// Area returns the box area.
func (b Box) Area() float64 {
	return b.Width * b.Height
}

// ClampUnit clips a normalized box into the unit square so that
// x+width <= 1 and y+height <= 1.
func (b Box) ClampUnit() Box {
	c := b
	if c.X < 0 {
		c.X = 0
	}
	if c.Y < 0 {
		c.Y = 0
	}
	if c.X > 1 {
		c.X = 1
	}
	if c.Y > 1 {
		c.Y = 1
	}
	if c.Width < 0 {
		c.Width = 0
	}
	if c.Height < 0 {
		c.Height = 0
	}
	if c.X+c.Width > 1 {
		c.Width = 1 - c.X
	}
	if c.Y+c.Height > 1 {
		c.Height = 1 - c.Y
	}
	return c
}

// Intersect returns the overlap area of two boxes, 0 when disjoint.
func Intersect(a, b Box) float64 {
	x1 := max(a.X, b.X)
	y1 := max(a.Y, b.Y)
	x2 := min(a.X+a.Width, b.X+b.Width)
	y2 := min(a.Y+a.Height, b.Y+b.Height)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	return (x2 - x1) * (y2 - y1)
}

// IoU computes intersection-over-union of two boxes in [0,1]. It is
// symmetric and returns 0 for disjoint or degenerate zero-area boxes.
func IoU(a, b Box) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	inter := Intersect(a, b)
	if inter == 0 {
		return 0, nil
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0, nil
	}
	return inter / union, nil
}
