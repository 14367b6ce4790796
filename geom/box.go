// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package geom

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// BoundingBox is an axis-aligned box stored as
// {xmin, xmax, ymin, ymax, zmin, zmax}.
//
// The layout matches the six doubles exchanged between ranks, so a box can
// be sent through a collective without conversion.
type BoundingBox [6]float64

// InvalidBox returns an empty box. Adding anything to it yields that thing.
func InvalidBox() BoundingBox {
	inf := math.Inf(1)
	return BoundingBox{inf, -inf, inf, -inf, inf, -inf}
}

// NewBox creates a box from its extents.
func NewBox(xmin, xmax, ymin, ymax, zmin, zmax float64) BoundingBox {
	return BoundingBox{xmin, xmax, ymin, ymax, zmin, zmax}
}

// BoxFromPoints returns the smallest box containing all points.
// Returns an invalid box when no points are given.
func BoxFromPoints(points ...mgl64.Vec3) BoundingBox {
	b := InvalidBox()
	for _, p := range points {
		b.AddPoint(p)
	}
	return b
}

// IsValid reports whether min <= max on every axis.
// NaN extents are never valid.
func (b BoundingBox) IsValid() bool {
	return b[0] <= b[1] && b[2] <= b[3] && b[4] <= b[5]
}

// Min returns the minimum corner.
func (b BoundingBox) Min() mgl64.Vec3 {
	return mgl64.Vec3{b[0], b[2], b[4]}
}

// Max returns the maximum corner.
func (b BoundingBox) Max() mgl64.Vec3 {
	return mgl64.Vec3{b[1], b[3], b[5]}
}

// Center returns the box center. The result is meaningless for invalid boxes.
func (b BoundingBox) Center() mgl64.Vec3 {
	return mgl64.Vec3{(b[0] + b[1]) / 2, (b[2] + b[3]) / 2, (b[4] + b[5]) / 2}
}

// Length returns the extent along axis (0, 1 or 2).
func (b BoundingBox) Length(axis int) float64 {
	return b[2*axis+1] - b[2*axis]
}

// DiagonalLength returns the length of the box diagonal, or 0 when invalid.
func (b BoundingBox) DiagonalLength() float64 {
	if !b.IsValid() {
		return 0
	}
	return b.Max().Sub(b.Min()).Len()
}

// AddPoint grows the box to include p.
func (b *BoundingBox) AddPoint(p mgl64.Vec3) {
	for axis := range 3 {
		b[2*axis] = math.Min(b[2*axis], p[axis])
		b[2*axis+1] = math.Max(b[2*axis+1], p[axis])
	}
}

// AddBox grows the box to include o. Invalid boxes are ignored.
func (b *BoundingBox) AddBox(o BoundingBox) {
	if !o.IsValid() {
		return
	}
	if !b.IsValid() {
		*b = o
		return
	}
	for axis := range 3 {
		b[2*axis] = math.Min(b[2*axis], o[2*axis])
		b[2*axis+1] = math.Max(b[2*axis+1], o[2*axis+1])
	}
}

// Union returns the union of boxes, skipping invalid ones.
func Union(boxes ...BoundingBox) BoundingBox {
	u := InvalidBox()
	for _, b := range boxes {
		u.AddBox(b)
	}
	return u
}

// Intersects reports whether two valid boxes overlap (touching counts).
func (b BoundingBox) Intersects(o BoundingBox) bool {
	if !b.IsValid() || !o.IsValid() {
		return false
	}
	for axis := range 3 {
		if b[2*axis] > o[2*axis+1] || o[2*axis] > b[2*axis+1] {
			return false
		}
	}
	return true
}

// ContainsPoint reports whether p lies inside or on the box.
func (b BoundingBox) ContainsPoint(p mgl64.Vec3) bool {
	for axis := range 3 {
		if p[axis] < b[2*axis] || p[axis] > b[2*axis+1] {
			return false
		}
	}
	return true
}

// ClosestPoint returns the point of the box nearest to p.
// For an invalid box the result is p itself clamped against nothing,
// so callers must check IsValid first.
func (b BoundingBox) ClosestPoint(p mgl64.Vec3) mgl64.Vec3 {
	var q mgl64.Vec3
	for axis := range 3 {
		q[axis] = mgl64.Clamp(p[axis], b[2*axis], b[2*axis+1])
	}
	return q
}

// Distance2 returns the squared distance from p to the nearest point of the
// box. Points inside the box have distance 0. Invalid boxes are infinitely
// far away.
func (b BoundingBox) Distance2(p mgl64.Vec3) float64 {
	if !b.IsValid() {
		return math.Inf(1)
	}
	d := b.ClosestPoint(p).Sub(p)
	return d.Dot(d)
}

// Corners returns the eight corners of the box.
func (b BoundingBox) Corners() [8]mgl64.Vec3 {
	var c [8]mgl64.Vec3
	for i := range 8 {
		c[i] = mgl64.Vec3{b[i&1], b[2+(i>>1&1)], b[4+(i>>2&1)]}
	}
	return c
}

// Inflate returns the box grown by pad on every side.
func (b BoundingBox) Inflate(pad float64) BoundingBox {
	if !b.IsValid() {
		return b
	}
	return BoundingBox{b[0] - pad, b[1] + pad, b[2] - pad, b[3] + pad, b[4] - pad, b[5] + pad}
}

// ScaleAboutCenter returns the box scaled by s around its center.
func (b BoundingBox) ScaleAboutCenter(s float64) BoundingBox {
	if !b.IsValid() {
		return b
	}
	c := b.Center()
	var out BoundingBox
	for axis := range 3 {
		half := b.Length(axis) * s / 2
		out[2*axis] = c[axis] - half
		out[2*axis+1] = c[axis] + half
	}
	return out
}

// String implements fmt.Stringer.
func (b BoundingBox) String() string {
	if !b.IsValid() {
		return "(invalid)"
	}
	return fmt.Sprintf("[%g,%g]x[%g,%g]x[%g,%g]", b[0], b[1], b[2], b[3], b[4], b[5])
}
