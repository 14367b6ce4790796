// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package geom

import (
	"fmt"
	"image"
	"math"
)

// Viewport is a normalized sub-region of a window or display wall.
// Coordinates are in [0,1] with the origin at the lower left.
type Viewport struct {
	XMin, YMin, XMax, YMax float64
}

// FullViewport covers the whole window.
var FullViewport = Viewport{0, 0, 1, 1}

// IsEmpty reports whether the viewport has no area.
func (v Viewport) IsEmpty() bool {
	return v.XMax <= v.XMin || v.YMax <= v.YMin
}

// Intersect returns the overlap of two viewports. The result may be empty.
func (v Viewport) Intersect(o Viewport) Viewport {
	return Viewport{
		XMin: math.Max(v.XMin, o.XMin),
		YMin: math.Max(v.YMin, o.YMin),
		XMax: math.Min(v.XMax, o.XMax),
		YMax: math.Min(v.YMax, o.YMax),
	}
}

// Within maps v, expressed relative to parent, into parent's coordinate frame.
// A view occupying the left half of a tile that covers the right half of a
// wall occupies [0.5,0.75] of the wall.
func (v Viewport) Within(parent Viewport) Viewport {
	w := parent.XMax - parent.XMin
	h := parent.YMax - parent.YMin
	return Viewport{
		XMin: parent.XMin + v.XMin*w,
		YMin: parent.YMin + v.YMin*h,
		XMax: parent.XMin + v.XMax*w,
		YMax: parent.YMin + v.YMax*h,
	}
}

// Relative expresses v in the coordinate frame of parent.
// It is the inverse of Within.
func (v Viewport) Relative(parent Viewport) Viewport {
	w := parent.XMax - parent.XMin
	h := parent.YMax - parent.YMin
	if w <= 0 || h <= 0 {
		return Viewport{}
	}
	return Viewport{
		XMin: (v.XMin - parent.XMin) / w,
		YMin: (v.YMin - parent.YMin) / h,
		XMax: (v.XMax - parent.XMin) / w,
		YMax: (v.YMax - parent.YMin) / h,
	}
}

// Pixels converts the viewport to a pixel rectangle of a size.x by size.y
// area, rounding each edge to the nearest pixel. The rectangle uses the same
// lower-left origin as the viewport.
func (v Viewport) Pixels(size image.Point) image.Rectangle {
	return image.Rect(
		round(v.XMin*float64(size.X)),
		round(v.YMin*float64(size.Y)),
		round(v.XMax*float64(size.X)),
		round(v.YMax*float64(size.Y)),
	)
}

// ViewportFromPixels normalizes a pixel rectangle against an area of size.
func ViewportFromPixels(r image.Rectangle, size image.Point) Viewport {
	if size.X <= 0 || size.Y <= 0 {
		return Viewport{}
	}
	return Viewport{
		XMin: float64(r.Min.X) / float64(size.X),
		YMin: float64(r.Min.Y) / float64(size.Y),
		XMax: float64(r.Max.X) / float64(size.X),
		YMax: float64(r.Max.Y) / float64(size.Y),
	}
}

// FlipY converts a lower-left origin rectangle inside an area of height h to
// the upper-left origin used by image buffers.
func FlipY(r image.Rectangle, h int) image.Rectangle {
	return image.Rect(r.Min.X, h-r.Max.Y, r.Max.X, h-r.Min.Y)
}

// String implements fmt.Stringer.
func (v Viewport) String() string {
	return fmt.Sprintf("(%g,%g)-(%g,%g)", v.XMin, v.YMin, v.XMax, v.YMax)
}

func round(f float64) int {
	return int(math.Floor(f + 0.5))
}
