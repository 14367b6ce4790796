// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package window

import (
	"errors"
	"fmt"
	"image"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/sortlast/geom"
)

// ErrSizeMismatch is returned when a pasted buffer does not match the
// window size.
var ErrSizeMismatch = errors.New("window: buffer size does not match window")

// StereoType is the stereo mode a window renders with.
type StereoType int

// Stereo modes.
const (
	StereoNone StereoType = iota
	// StereoCrystalEyes is active (quad-buffered) stereo: separate left
	// and right framebuffers presented by the display hardware.
	StereoCrystalEyes
	StereoRedBlue
	StereoInterlaced
	StereoLeft
	StereoRight
	StereoSplitViewportHorizontal
	StereoAnaglyph
)

var stereoNames = [...]string{
	StereoNone:                    "None",
	StereoCrystalEyes:             "Crystal Eyes",
	StereoRedBlue:                 "Red-Blue",
	StereoInterlaced:              "Interlaced",
	StereoLeft:                    "Left",
	StereoRight:                   "Right",
	StereoSplitViewportHorizontal: "Split Viewport Horizontal",
	StereoAnaglyph:                "Anaglyph",
}

// String implements fmt.Stringer.
func (s StereoType) String() string {
	if s >= 0 && int(s) < len(stereoNames) {
		return stereoNames[s]
	}
	return fmt.Sprintf("StereoType(%d)", int(s))
}

// ParseStereoType maps a stereo name, as written in display
// configuration files, to a StereoType.
func ParseStereoType(name string) (StereoType, bool) {
	for i, n := range stereoNames {
		if n == name {
			return StereoType(i), true
		}
	}
	return StereoNone, false
}

// Eye selects a stereo framebuffer.
type Eye int

const (
	EyeLeft Eye = iota
	EyeRight
)

// ViewWindow is what the layout needs from a view's render target.
type ViewWindow interface {
	Size() image.Point
	SetSize(image.Point)
	SetTileScale(image.Point)
	TileViewport() geom.Viewport
	SetTileViewport(geom.Viewport)
	StereoType() StereoType
	StereoRender() bool
	Framebuffer(eye Eye) *image.RGBA
}

// Offscreen is a CPU-backed view window.
type Offscreen struct {
	size         image.Point
	tileScale    image.Point
	tileViewport geom.Viewport
	stereoType   StereoType
	stereoRender bool
	colorFormat  gputypes.TextureFormat
	background   gputypes.Color
	swapBuffers  bool

	left, right *image.RGBA
	depth       []float32
	camera      *Camera
}

var _ ViewWindow = (*Offscreen)(nil)

// NewOffscreen creates a window of the given size with a default camera.
func NewOffscreen(size image.Point) *Offscreen {
	w := &Offscreen{
		tileScale:    image.Pt(1, 1),
		tileViewport: geom.FullViewport,
		colorFormat:  gputypes.TextureFormatRGBA8Unorm,
		swapBuffers:  true,
		camera:       NewCamera(),
	}
	w.SetSize(size)
	return w
}

// Size returns the window size in pixels.
func (w *Offscreen) Size() image.Point { return w.size }

// SetSize resizes the window. Buffers are reallocated and cleared when the
// size changes.
func (w *Offscreen) SetSize(size image.Point) {
	size = image.Pt(max(size.X, 0), max(size.Y, 0))
	if size == w.size && w.left != nil {
		return
	}
	w.size = size
	r := image.Rectangle{Max: size}
	w.left = image.NewRGBA(r)
	if w.right != nil || w.stereoRender {
		w.right = image.NewRGBA(r)
	}
	w.depth = make([]float32, size.X*size.Y)
	w.clearDepth()
}

// TileScale returns how many tiles the window's frame spans.
func (w *Offscreen) TileScale() image.Point { return w.tileScale }

// SetTileScale sets how many tiles the window's frame spans.
func (w *Offscreen) SetTileScale(s image.Point) { w.tileScale = s }

// TileViewport returns the part of the full frame this window renders.
func (w *Offscreen) TileViewport() geom.Viewport { return w.tileViewport }

// SetTileViewport sets the part of the full frame this window renders.
func (w *Offscreen) SetTileViewport(v geom.Viewport) { w.tileViewport = v }

// StereoType returns the stereo mode.
func (w *Offscreen) StereoType() StereoType { return w.stereoType }

// SetStereoType sets the stereo mode.
func (w *Offscreen) SetStereoType(s StereoType) { w.stereoType = s }

// StereoRender reports whether stereo rendering is on.
func (w *Offscreen) StereoRender() bool { return w.stereoRender }

// SetStereoRender turns stereo rendering on or off. The right framebuffer
// exists while it is on.
func (w *Offscreen) SetStereoRender(on bool) {
	w.stereoRender = on
	if on && w.right == nil {
		w.right = image.NewRGBA(image.Rectangle{Max: w.size})
	}
}

// ColorFormat returns the color buffer format.
func (w *Offscreen) ColorFormat() gputypes.TextureFormat { return w.colorFormat }

// SetColorFormat selects RGBA8Unorm or RGBA32Float rendering. The
// framebuffer is always stored as RGBA8; the format tells the compositor
// which value layout the renderer produces.
func (w *Offscreen) SetColorFormat(f gputypes.TextureFormat) { w.colorFormat = f }

// Background returns the clear color.
func (w *Offscreen) Background() gputypes.Color { return w.background }

// SetBackground sets the clear color.
func (w *Offscreen) SetBackground(c gputypes.Color) { w.background = c }

// SwapBuffers reports whether finished frames become visible.
func (w *Offscreen) SwapBuffers() bool { return w.swapBuffers }

// SetSwapBuffers controls whether finished frames become visible.
func (w *Offscreen) SetSwapBuffers(on bool) { w.swapBuffers = on }

// Camera returns the active camera.
func (w *Offscreen) Camera() *Camera { return w.camera }

// Framebuffer returns the color buffer of eye. Without stereo the left
// buffer serves both eyes.
func (w *Offscreen) Framebuffer(eye Eye) *image.RGBA {
	if eye == EyeRight && w.right != nil && w.stereoRender {
		return w.right
	}
	return w.left
}

// Depth returns the depth buffer, one value per pixel, rows top to bottom.
func (w *Offscreen) Depth() []float32 { return w.depth }

// Aspect returns the aspect ratio of the full frame the window is part of.
func (w *Offscreen) Aspect() float64 {
	if w.size.Y == 0 {
		return 1
	}
	return float64(w.size.X*max(w.tileScale.X, 1)) / float64(w.size.Y*max(w.tileScale.Y, 1))
}

// Clear fills every eye with the background and resets depth.
func (w *Offscreen) Clear() {
	c := w.background
	px := [4]byte{unorm8(c.R * c.A), unorm8(c.G * c.A), unorm8(c.B * c.A), unorm8(c.A)}
	for _, fb := range []*image.RGBA{w.left, w.right} {
		if fb == nil {
			continue
		}
		for i := 0; i < len(fb.Pix); i += 4 {
			copy(fb.Pix[i:i+4], px[:])
		}
	}
	w.clearDepth()
}

func (w *Offscreen) clearDepth() {
	for i := range w.depth {
		w.depth[i] = 1
	}
}

// PasteDepth replaces the depth buffer. The buffer must match the window.
func (w *Offscreen) PasteDepth(depth []float32, size image.Point) error {
	if size != w.size || len(depth) != len(w.depth) {
		return fmt.Errorf("%w: depth %v, window %v", ErrSizeMismatch, size, w.size)
	}
	copy(w.depth, depth)
	return nil
}

func unorm8(v float64) byte {
	v = min(max(v, 0), 1)
	return byte(v*255 + 0.5)
}
