// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package window

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/gogpu/sortlast/geom"
)

// PasteColor copies img into the framebuffer of eye. An image smaller than
// the window, as produced with an image reduction factor, is scaled up.
func (w *Offscreen) PasteColor(img *image.RGBA, eye Eye) {
	if img == nil {
		return
	}
	dst := w.Framebuffer(eye)
	if img.Bounds().Size() == w.size {
		draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
}

// Blit copies the part of src inside srcRect into dstRect of dst, scaling
// when the sizes differ. Both rectangles use a lower-left origin relative to
// their image; nothing outside dstRect is touched.
func Blit(dst *image.RGBA, dstRect image.Rectangle, src *image.RGBA, srcRect image.Rectangle) {
	if dst == nil || src == nil {
		return
	}
	dr := geom.FlipY(dstRect, dst.Bounds().Dy()).Intersect(dst.Bounds())
	sr := geom.FlipY(srcRect, src.Bounds().Dy()).Intersect(src.Bounds())
	if dr.Empty() || sr.Empty() {
		return
	}
	if dr.Size() == sr.Size() {
		draw.Draw(dst, dr, src, sr.Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(dst, dr, src, sr, draw.Src, nil)
}
