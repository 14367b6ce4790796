// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package window

import (
	"image"
	"log/slog"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/sortlast"
)

// Shared is the single physical window of a process. Views are pasted into
// it by the layout; it is painted serially, never concurrently.
type Shared struct {
	provider gpucontext.DeviceProvider
	format   gputypes.TextureFormat

	size         image.Point
	left, right  *image.RGBA
	activeStereo bool
	stereoType   StereoType
	frames       int
}

// NewShared creates the process window. provider, when non-nil, is the
// host's GPU device; its surface format decides the pixel layout Pixels
// reports. A nil provider gives an RGBA8 headless window.
func NewShared(size image.Point, provider gpucontext.DeviceProvider) *Shared {
	s := &Shared{provider: provider, format: gputypes.TextureFormatRGBA8Unorm}
	if provider != nil {
		switch f := provider.SurfaceFormat(); f {
		case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatRGBA8Unorm:
			s.format = f
		case gputypes.TextureFormatUndefined:
		default:
			sortlast.Logger().Warn("window: unsupported surface format, using RGBA8", "format", f)
		}
		info := provider.AdapterInfo()
		sortlast.Logger().Info("window: shared window on device",
			slog.String("adapter", info.Name), slog.String("format", s.format.String()))
	}
	s.SetSize(size)
	return s
}

// Provider returns the device provider, or nil when headless.
func (s *Shared) Provider() gpucontext.DeviceProvider { return s.provider }

// Format returns the surface format.
func (s *Shared) Format() gputypes.TextureFormat { return s.format }

// Size returns the window size.
func (s *Shared) Size() image.Point { return s.size }

// SetSize resizes the window, clearing it when the size changes.
func (s *Shared) SetSize(size image.Point) {
	size = image.Pt(max(size.X, 0), max(size.Y, 0))
	if size == s.size && s.left != nil {
		return
	}
	s.size = size
	s.left = image.NewRGBA(image.Rectangle{Max: size})
	s.right = nil
	if s.activeStereo {
		s.right = image.NewRGBA(image.Rectangle{Max: size})
	}
}

// SetActiveStereo enables quad-buffered stereo with the given type.
func (s *Shared) SetActiveStereo(on bool, t StereoType) {
	s.activeStereo, s.stereoType = on, t
	if on && s.right == nil {
		s.right = image.NewRGBA(image.Rectangle{Max: s.size})
	}
}

// ActiveStereo reports whether quad-buffered stereo is on.
func (s *Shared) ActiveStereo() bool { return s.activeStereo }

// Eyes returns the framebuffers painted per frame.
func (s *Shared) Eyes() []Eye {
	if s.activeStereo {
		return []Eye{EyeLeft, EyeRight}
	}
	return []Eye{EyeLeft}
}

// Framebuffer returns the buffer of eye.
func (s *Shared) Framebuffer(eye Eye) *image.RGBA {
	if eye == EyeRight && s.activeStereo {
		return s.right
	}
	return s.left
}

// Render clears every eye and runs paint once per eye.
func (s *Shared) Render(paint func(dst *image.RGBA, eye Eye)) {
	for _, eye := range s.Eyes() {
		fb := s.Framebuffer(eye)
		clear(fb.Pix)
		paint(fb, eye)
	}
	s.frames++
}

// Frames returns the number of completed Render calls.
func (s *Shared) Frames() int { return s.frames }

// Pixels returns a copy of the left framebuffer in the surface format.
func (s *Shared) Pixels() []byte {
	out := append([]byte(nil), s.left.Pix...)
	if s.format == gputypes.TextureFormatBGRA8Unorm {
		for i := 0; i+3 < len(out); i += 4 {
			out[i], out[i+2] = out[i+2], out[i]
		}
	}
	return out
}

// Capture returns a copy of the left framebuffer.
func (s *Shared) Capture() *image.RGBA {
	out := image.NewRGBA(s.left.Bounds())
	copy(out.Pix, s.left.Pix)
	return out
}
