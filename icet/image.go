// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package icet

import (
	"image"
	"math"
	"sync"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/sortlast/internal/blend"
)

// Image is a partial or composited tile image.
//
// Color holds premultiplied RGBA8 pixels when ColorFormat is RGBA8Unorm;
// ColorF holds premultiplied RGBA32F pixels when it is RGBA32Float. Depth
// holds one float32 per pixel in [0, 1] when DepthFormat is Depth32Float;
// 1 means no fragment. Rows run top to bottom.
type Image struct {
	Width, Height int
	ColorFormat   gputypes.TextureFormat
	DepthFormat   gputypes.TextureFormat

	Color  []byte
	ColorF []float32
	Depth  []float32
}

// NewImage allocates a cleared image.
func NewImage(width, height int, colorFormat, depthFormat gputypes.TextureFormat) *Image {
	img := &Image{ColorFormat: colorFormat, DepthFormat: depthFormat}
	img.Resize(width, height)
	return img
}

// Resize changes the image size, reusing storage when possible, and clears it.
func (img *Image) Resize(width, height int) {
	width, height = max(width, 0), max(height, 0)
	img.Width, img.Height = width, height
	n := width * height

	img.Color, img.ColorF, img.Depth = img.Color[:0], img.ColorF[:0], img.Depth[:0]
	switch img.ColorFormat {
	case gputypes.TextureFormatRGBA8Unorm:
		img.Color = grow(img.Color, 4*n)
	case gputypes.TextureFormatRGBA32Float:
		img.ColorF = grow(img.ColorF, 4*n)
	}
	if img.DepthFormat == gputypes.TextureFormatDepth32Float {
		img.Depth = grow(img.Depth, n)
	}
	img.Clear()
}

func grow[T any](s []T, n int) []T {
	if cap(s) >= n {
		return s[:n]
	}
	return make([]T, n)
}

// Clear sets color to transparent black and depth to the far plane.
func (img *Image) Clear() {
	clear(img.Color)
	clear(img.ColorF)
	for i := range img.Depth {
		img.Depth[i] = 1
	}
}

// IsEmpty reports whether the image has no pixels.
func (img *Image) IsEmpty() bool {
	return img == nil || img.Width == 0 || img.Height == 0
}

// HasColor reports whether the image carries color.
func (img *Image) HasColor() bool {
	return img.Color != nil && img.ColorFormat == gputypes.TextureFormatRGBA8Unorm ||
		img.ColorF != nil && img.ColorFormat == gputypes.TextureFormatRGBA32Float
}

// HasDepth reports whether the image carries depth.
func (img *Image) HasDepth() bool {
	return img.DepthFormat == gputypes.TextureFormatDepth32Float
}

// Size returns the image size.
func (img *Image) Size() image.Point {
	return image.Pt(img.Width, img.Height)
}

// RGBA converts the color to an *image.RGBA, which is also premultiplied.
// Float color is clamped to [0, 1]. Returns nil without color.
func (img *Image) RGBA() *image.RGBA {
	if !img.HasColor() {
		return nil
	}
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	if img.ColorFormat == gputypes.TextureFormatRGBA8Unorm {
		copy(out.Pix, img.Color)
		return out
	}
	for i, v := range img.ColorF {
		out.Pix[i] = uint8(math.Round(float64(min(max(v, 0), 1)) * 255))
	}
	return out
}

// Clone returns a deep copy.
func (img *Image) Clone() *Image {
	c := *img
	if img.Color != nil {
		c.Color = append([]byte(nil), img.Color...)
	}
	if img.ColorF != nil {
		c.ColorF = append([]float32(nil), img.ColorF...)
	}
	if img.Depth != nil {
		c.Depth = append([]float32(nil), img.Depth...)
	}
	return &c
}

// ApplyBackground composites the image over bg.
func (img *Image) ApplyBackground(bg gputypes.Color) {
	switch img.ColorFormat {
	case gputypes.TextureFormatRGBA8Unorm:
		blend.Background(img.Color, [4]byte{unorm8(bg.R), unorm8(bg.G), unorm8(bg.B), unorm8(bg.A)})
	case gputypes.TextureFormatRGBA32Float:
		blend.BackgroundFloat(img.ColorF, [4]float32{float32(bg.R), float32(bg.G), float32(bg.B), float32(bg.A)})
	}
}

func unorm8(v float64) byte {
	return byte(math.Round(min(max(v, 0), 1) * 255))
}

// imagePool recycles images by format and size between frames.
type imagePool struct {
	pools sync.Map // poolKey -> *sync.Pool
}

type poolKey struct {
	width, height int
	color, depth  gputypes.TextureFormat
}

func (p *imagePool) get(width, height int, colorFormat, depthFormat gputypes.TextureFormat) *Image {
	key := poolKey{width, height, colorFormat, depthFormat}
	if v, ok := p.pools.Load(key); ok {
		if img, ok := v.(*sync.Pool).Get().(*Image); ok && img != nil {
			img.Clear()
			return img
		}
	}
	return NewImage(width, height, colorFormat, depthFormat)
}

func (p *imagePool) put(img *Image) {
	if img.IsEmpty() {
		return
	}
	key := poolKey{img.Width, img.Height, img.ColorFormat, img.DepthFormat}
	v, _ := p.pools.LoadOrStore(key, &sync.Pool{})
	v.(*sync.Pool).Put(img)
}
