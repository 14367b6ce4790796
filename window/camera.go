// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package window

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gogpu/sortlast/geom"
)

// Camera is a look-at camera with perspective or parallel projection.
type Camera struct {
	Position   mgl64.Vec3
	FocalPoint mgl64.Vec3
	ViewUp     mgl64.Vec3

	// ViewAngle is the vertical field of view in degrees.
	ViewAngle float64

	// Parallel selects an orthographic projection of half-height
	// ParallelScale.
	Parallel      bool
	ParallelScale float64

	Near, Far float64

	explicit    mgl64.Mat4
	hasExplicit bool
}

// NewCamera returns a camera at (0,0,1) looking at the origin.
func NewCamera() *Camera {
	return &Camera{
		Position:      mgl64.Vec3{0, 0, 1},
		ViewUp:        mgl64.Vec3{0, 1, 0},
		ViewAngle:     30,
		ParallelScale: 1,
		Near:          0.01,
		Far:           1000,
	}
}

// Direction returns the unit direction of projection.
func (c *Camera) Direction() mgl64.Vec3 {
	d := c.FocalPoint.Sub(c.Position)
	if d.Len() == 0 {
		return mgl64.Vec3{0, 0, -1}
	}
	return d.Normalize()
}

// ModelView returns the world-to-eye transform.
func (c *Camera) ModelView() mgl64.Mat4 {
	return mgl64.LookAtV(c.Position, c.FocalPoint, c.ViewUp)
}

// Projection returns the eye-to-clip transform for a viewport aspect ratio.
// An explicit projection, when set, is returned as is.
func (c *Camera) Projection(aspect float64) mgl64.Mat4 {
	if c.hasExplicit {
		return c.explicit
	}
	if aspect <= 0 {
		aspect = 1
	}
	if c.Parallel {
		s := c.ParallelScale
		return mgl64.Ortho(-s*aspect, s*aspect, -s, s, c.Near, c.Far)
	}
	return mgl64.Perspective(mgl64.DegToRad(c.ViewAngle), aspect, c.Near, c.Far)
}

// SetExplicitProjection makes Projection return m regardless of the
// camera parameters.
func (c *Camera) SetExplicitProjection(m mgl64.Mat4) {
	c.explicit, c.hasExplicit = m, true
}

// ClearExplicitProjection restores the computed projection.
func (c *Camera) ClearExplicitProjection() {
	c.hasExplicit = false
}

// ExplicitProjection returns the explicit projection, if any.
func (c *Camera) ExplicitProjection() (mgl64.Mat4, bool) {
	return c.explicit, c.hasExplicit
}

// ResetClippingRange fits the near and far planes around b.
func (c *Camera) ResetClippingRange(b geom.BoundingBox) {
	if !b.IsValid() {
		return
	}
	dir := c.Direction()
	near, far := math.Inf(1), math.Inf(-1)
	for _, p := range b.Corners() {
		d := p.Sub(c.Position).Dot(dir)
		near, far = min(near, d), max(far, d)
	}
	if far <= 0 {
		// Everything is behind the camera.
		return
	}
	pad := 0.01 * (far - near)
	far += pad
	near = max(near-pad, far*1e-3)
	c.Near, c.Far = near, far
}

// Clone returns a copy of the camera.
func (c *Camera) Clone() *Camera {
	cc := *c
	return &cc
}
