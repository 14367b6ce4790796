package layout

import (
	"errors"
	"image"
	"image/color"
	"math"
	"strings"
	"testing"

	"github.com/gogpu/sortlast/cave"
	"github.com/gogpu/sortlast/geom"
	"github.com/gogpu/sortlast/window"
)

var (
	red  = color.RGBA{255, 0, 0, 255}
	blue = color.RGBA{0, 0, 255, 255}
)

func paintWindow(w *window.Offscreen, eye window.Eye, c color.RGBA) {
	fb := w.Framebuffer(eye)
	for i := 0; i < len(fb.Pix); i += 4 {
		copy(fb.Pix[i:], []byte{c.R, c.G, c.B, c.A})
	}
}

func newLayout(cfg Config, size image.Point) *Layout {
	cfg.DisplayResults = true
	return New(cfg, window.NewShared(size, nil))
}

// =============================================================================
// View Registry Tests
// =============================================================================

func TestLayout_HeadlessAddIsNoop(t *testing.T) {
	l := New(Config{}, window.NewShared(image.Pt(4, 4), nil))
	if err := l.AddView(1, window.NewOffscreen(image.Pt(4, 4)), geom.FullViewport); err != nil {
		t.Fatalf("AddView() error = %v", err)
	}
	if len(l.Views()) != 0 {
		t.Errorf("Views() = %v, want none", l.Views())
	}
	if err := l.RequestUpdateLayout(1); err != nil {
		t.Errorf("RequestUpdateLayout() error = %v", err)
	}
	if err := l.RequestUpdateDisplay(1); err != nil {
		t.Errorf("RequestUpdateDisplay() error = %v", err)
	}
}

func TestLayout_Registry(t *testing.T) {
	l := newLayout(Config{}, image.Pt(4, 4))
	w := window.NewOffscreen(image.Pt(1, 1))

	if err := l.AddView(1, w, geom.FullViewport); err != nil {
		t.Fatal(err)
	}
	if err := l.AddView(1, w, geom.FullViewport); !errors.Is(err, ErrDuplicateView) {
		t.Errorf("duplicate AddView() error = %v, want ErrDuplicateView", err)
	}
	if err := l.AddView(2, nil, geom.FullViewport); !errors.Is(err, ErrNoWindow) {
		t.Errorf("AddView(nil) error = %v, want ErrNoWindow", err)
	}
	if err := l.SetActiveView(9); !errors.Is(err, ErrUnknownView) {
		t.Errorf("SetActiveView(9) error = %v, want ErrUnknownView", err)
	}
	if err := l.RequestUpdateLayout(9); !errors.Is(err, ErrUnknownView) {
		t.Errorf("RequestUpdateLayout(9) error = %v, want ErrUnknownView", err)
	}

	if id, ok := l.ActiveView(); !ok || id != 1 {
		t.Errorf("ActiveView() = %v, %v, want first view", id, ok)
	}
	_ = l.AddView(2, window.NewOffscreen(image.Pt(1, 1)), geom.FullViewport)
	l.RemoveView(1)
	if id, _ := l.ActiveView(); id != 2 {
		t.Errorf("ActiveView() after removal = %v, want 2", id)
	}
	l.RemoveAllViews()
	if _, ok := l.ActiveView(); ok || len(l.Views()) != 0 {
		t.Error("RemoveAllViews() left views behind")
	}
}

// =============================================================================
// Default Mode Tests
// =============================================================================

func TestLayout_DefaultPastesActiveView(t *testing.T) {
	l := newLayout(Config{}, image.Pt(8, 4))
	left := window.NewOffscreen(image.Pt(1, 1))
	right := window.NewOffscreen(image.Pt(1, 1))
	_ = l.AddView(1, left, geom.Viewport{XMin: 0, YMin: 0, XMax: 0.5, YMax: 1})
	_ = l.AddView(2, right, geom.Viewport{XMin: 0.5, YMin: 0, XMax: 1, YMax: 1})

	for _, id := range []ViewID{1, 2} {
		if err := l.RequestUpdateLayout(id); err != nil {
			t.Fatal(err)
		}
	}
	if left.Size() != image.Pt(4, 4) {
		t.Errorf("left window size = %v, want (4,4)", left.Size())
	}
	if r, _ := l.Rect(2); r != image.Rect(4, 0, 8, 4) {
		t.Errorf("Rect(2) = %v, want (4,0)-(8,4)", r)
	}

	paintWindow(left, window.EyeLeft, red)
	paintWindow(right, window.EyeLeft, blue)
	if err := l.RequestUpdateDisplay(1); err != nil {
		t.Fatal(err)
	}
	img := l.Capture()
	if got := img.RGBAAt(1, 1); got != red {
		t.Errorf("left half = %v, want red", got)
	}
	if got := img.RGBAAt(6, 1); got.A != 0 {
		t.Errorf("inactive view painted: %v", got)
	}
}

func TestLayout_Memoized(t *testing.T) {
	l := newLayout(Config{}, image.Pt(4, 4))
	_ = l.AddView(1, window.NewOffscreen(image.Pt(1, 1)), geom.FullViewport)

	for range 3 {
		_ = l.RequestUpdateLayout(1)
	}
	it := l.find(1)
	if it.updates != 1 {
		t.Errorf("updates = %d, want 1", it.updates)
	}

	_ = l.SetViewport(1, geom.Viewport{XMax: 0.5, YMax: 0.5})
	_ = l.RequestUpdateLayout(1)
	l.SetSize(image.Pt(8, 8))
	_ = l.RequestUpdateLayout(1)
	_ = l.RequestUpdateLayout(1)
	if it.updates != 3 {
		t.Errorf("updates = %d, want 3", it.updates)
	}
	if r, _ := l.Rect(1); r != image.Rect(0, 0, 4, 4) {
		t.Errorf("Rect(1) = %v, want (0,0)-(4,4)", r)
	}
}

func TestLayout_EmptyViewportSkipped(t *testing.T) {
	l := newLayout(Config{}, image.Pt(4, 4))
	w := window.NewOffscreen(image.Pt(2, 2))
	_ = l.AddView(1, w, geom.Viewport{})
	_ = l.RequestUpdateLayout(1)
	paintWindow(w, window.EyeLeft, red)
	_ = l.RequestUpdateDisplay(1)

	if got := l.Capture().RGBAAt(0, 3); got.A != 0 {
		t.Errorf("zero-size view painted: %v", got)
	}
	if w.Size() != image.Pt(2, 2) {
		t.Errorf("window resized to %v for an empty viewport", w.Size())
	}
}

// =============================================================================
// Tile Display Tests
// =============================================================================

func TestLayout_TileDisplay(t *testing.T) {
	vp := geom.Viewport{XMin: 0.25, YMin: 0, XMax: 1, YMax: 1}
	tests := []struct {
		rank     int
		wantRect image.Rectangle
		wantTile geom.Viewport
	}{
		{0, image.Rect(2, 0, 4, 4), geom.Viewport{XMin: 0, YMin: 0, XMax: 1.0 / 3, YMax: 1}},
		{1, image.Rect(0, 0, 4, 4), geom.Viewport{XMin: 1.0 / 3, YMin: 0, XMax: 1, YMax: 1}},
	}
	for _, tt := range tests {
		l := newLayout(Config{Mode: ModeTileDisplay, Rank: tt.rank, TileDimensions: image.Pt(2, 1)}, image.Pt(4, 4))
		w := window.NewOffscreen(image.Pt(1, 1))
		_ = l.AddView(1, w, vp)
		_ = l.RequestUpdateLayout(1)

		if r, _ := l.Rect(1); r != tt.wantRect {
			t.Errorf("rank %d: Rect() = %v, want %v", tt.rank, r, tt.wantRect)
		}
		if w.Size() != tt.wantRect.Size() {
			t.Errorf("rank %d: window size = %v, want %v", tt.rank, w.Size(), tt.wantRect.Size())
		}
		if w.TileScale() != image.Pt(2, 1) {
			t.Errorf("rank %d: TileScale() = %v", tt.rank, w.TileScale())
		}
		got := w.TileViewport()
		if math.Abs(got.XMin-tt.wantTile.XMin) > 1e-12 || math.Abs(got.XMax-tt.wantTile.XMax) > 1e-12 {
			t.Errorf("rank %d: TileViewport() = %v, want %v", tt.rank, got, tt.wantTile)
		}
	}
}

func TestLayout_TileDisplayViewMissesTile(t *testing.T) {
	l := newLayout(Config{Mode: ModeTileDisplay, Rank: 1, TileDimensions: image.Pt(2, 1)}, image.Pt(4, 4))
	w := window.NewOffscreen(image.Pt(3, 3))
	_ = l.AddView(1, w, geom.Viewport{XMax: 0.4, YMax: 1})
	_ = l.RequestUpdateLayout(1)

	if r, _ := l.Rect(1); !r.Empty() {
		t.Errorf("Rect() = %v, want empty", r)
	}
	if w.TileScale() != image.Pt(2, 1) {
		t.Errorf("TileScale() = %v, want (2,1)", w.TileScale())
	}
	if vp := w.TileViewport(); !vp.IsEmpty() {
		t.Errorf("TileViewport() = %v, want empty", vp)
	}
}

func TestLayout_TileDisplayShowsAllViews(t *testing.T) {
	l := newLayout(Config{Mode: ModeTileDisplay, Rank: 0, TileDimensions: image.Pt(1, 1)}, image.Pt(4, 2))
	a := window.NewOffscreen(image.Pt(1, 1))
	b := window.NewOffscreen(image.Pt(1, 1))
	_ = l.AddView(1, a, geom.Viewport{XMax: 0.5, YMax: 1})
	_ = l.AddView(2, b, geom.Viewport{XMin: 0.5, XMax: 1, YMax: 1})
	_ = l.RequestUpdateLayout(1)
	_ = l.RequestUpdateLayout(2)
	paintWindow(a, window.EyeLeft, red)
	paintWindow(b, window.EyeLeft, blue)
	_ = l.RequestUpdateDisplay(2)

	img := l.Capture()
	if img.RGBAAt(0, 0) != red || img.RGBAAt(3, 1) != blue {
		t.Errorf("pixels = %v %v, want red and blue", img.RGBAAt(0, 0), img.RGBAAt(3, 1))
	}
}

func TestLayout_ExtraRanks(t *testing.T) {
	for _, show := range []bool{false, true} {
		l := newLayout(Config{Mode: ModeTileDisplay, Rank: 5, TileDimensions: image.Pt(2, 1), ShowExtraRanks: show}, image.Pt(4, 4))
		w := window.NewOffscreen(image.Pt(1, 1))
		_ = l.AddView(1, w, geom.FullViewport)
		_ = l.RequestUpdateLayout(1)
		paintWindow(w, window.EyeLeft, red)
		_ = l.RequestUpdateDisplay(1)

		painted := l.Capture().RGBAAt(2, 2) == red
		if painted != show {
			t.Errorf("ShowExtraRanks=%v: painted = %v", show, painted)
		}
	}
}

// =============================================================================
// CAVE Tests
// =============================================================================

func TestLayout_CAVE(t *testing.T) {
	cfg, err := cave.Parse(strings.NewReader(`<pvx><Process Type="server">
		<Machine Name="a" Geometry="6x3"/><Machine Name="b" Geometry="10x10"/>
	</Process></pvx>`))
	if err != nil {
		t.Fatal(err)
	}
	l := newLayout(Config{Mode: ModeCAVE, Rank: 0, Cave: cfg}, image.Pt(1, 1))
	if l.Shared().Size() != image.Pt(6, 3) {
		t.Fatalf("shared size = %v, want (6,3)", l.Shared().Size())
	}
	w := window.NewOffscreen(image.Pt(1, 1))
	_ = l.AddView(1, w, geom.Viewport{XMax: 0.5, YMax: 0.5})
	_ = l.RequestUpdateLayout(1)

	if w.Size() != image.Pt(6, 3) {
		t.Errorf("window size = %v, want full display", w.Size())
	}
	if r, _ := l.Rect(1); r != image.Rect(0, 0, 6, 3) {
		t.Errorf("Rect() = %v, want full display", r)
	}
}

// =============================================================================
// Stereo Tests
// =============================================================================

func stereoWindow() *window.Offscreen {
	w := window.NewOffscreen(image.Pt(2, 2))
	w.SetStereoType(window.StereoCrystalEyes)
	w.SetStereoRender(true)
	return w
}

func TestLayout_ActiveStereo(t *testing.T) {
	tests := []struct {
		name   string
		mode   Mode
		active ViewID
		want   bool
	}{
		{"tile any view", ModeTileDisplay, 1, true},
		{"default active mono", ModeDefault, 1, false},
		{"default active stereo", ModeDefault, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLayout(Config{Mode: tt.mode, TileDimensions: image.Pt(1, 1)}, image.Pt(2, 2))
			_ = l.AddView(1, window.NewOffscreen(image.Pt(2, 2)), geom.FullViewport)
			_ = l.AddView(2, stereoWindow(), geom.FullViewport)
			_ = l.SetActiveView(tt.active)
			if got := l.ActiveStereo(); got != tt.want {
				t.Errorf("ActiveStereo() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLayout_StereoPaint(t *testing.T) {
	l := newLayout(Config{}, image.Pt(2, 2))
	w := stereoWindow()
	_ = l.AddView(1, w, geom.FullViewport)
	_ = l.RequestUpdateLayout(1)
	paintWindow(w, window.EyeLeft, red)
	paintWindow(w, window.EyeRight, blue)
	_ = l.RequestUpdateDisplay(1)

	s := l.Shared()
	if !s.ActiveStereo() {
		t.Fatal("shared window not in active stereo")
	}
	if got := s.Framebuffer(window.EyeLeft).RGBAAt(0, 0); got != red {
		t.Errorf("left eye = %v, want red", got)
	}
	if got := s.Framebuffer(window.EyeRight).RGBAAt(0, 0); got != blue {
		t.Errorf("right eye = %v, want blue", got)
	}
}

func TestMode_String(t *testing.T) {
	if ModeCAVE.String() != "cave" || Mode(7).String() != "Mode(7)" {
		t.Errorf("String() = %q, %q", ModeCAVE.String(), Mode(7).String())
	}
}
