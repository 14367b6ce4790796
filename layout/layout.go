// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package layout multiplexes the views of a process onto its one shared
// window.
//
// Every frame a view first calls RequestUpdateLayout, which resolves the
// view's pixel rectangle in the shared window for the current display mode,
// and then RequestUpdateDisplay, which paints the shared window by pasting
// each visible view's framebuffer into its rectangle. Layout geometry is
// recomputed only after something changed.
package layout

import (
	"errors"
	"fmt"
	"image"
	"slices"

	"github.com/gogpu/sortlast"
	"github.com/gogpu/sortlast/cave"
	"github.com/gogpu/sortlast/geom"
	"github.com/gogpu/sortlast/tiles"
	"github.com/gogpu/sortlast/window"
)

// Errors returned by Layout.
var (
	ErrUnknownView   = errors.New("layout: unknown view")
	ErrDuplicateView = errors.New("layout: view already added")
	ErrNoWindow      = errors.New("layout: view has no window")
)

// Mode is the display mode of the process.
type Mode int

const (
	// ModeDefault shows the active view in its viewport of the window.
	ModeDefault Mode = iota

	// ModeTileDisplay shows this rank's part of every view on a tiled wall.
	ModeTileDisplay

	// ModeCAVE shows the active view over the whole display.
	ModeCAVE
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeTileDisplay:
		return "tile-display"
	case ModeCAVE:
		return "cave"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ViewID is an opaque view handle.
type ViewID int

// Config configures a Layout.
type Config struct {
	Mode Mode

	// Rank is the rank of this process, used to find its tile.
	Rank int

	TileDimensions image.Point
	TileMullions   image.Point

	// ShowExtraRanks pastes the whole view on ranks that drive no tile.
	ShowExtraRanks bool

	// DisplayResults is false for processes without a visible window;
	// views are then never added.
	DisplayResults bool

	// Cave sizes the shared window to this rank's display in ModeCAVE.
	Cave *cave.Configuration
}

type item struct {
	id       ViewID
	win      window.ViewWindow
	viewport geom.Viewport

	// Resolved rectangle in the shared window, lower-left origin.
	size, origin image.Point

	layoutTime   uint64
	cavePrepared bool
	updates      int
}

// Layout owns the view placement of one process.
type Layout struct {
	cfg    Config
	shared *window.Shared
	items  []*item
	active ViewID

	// modified advances on every change that invalidates layout.
	modified uint64
}

// New creates a layout painting into shared.
func New(cfg Config, shared *window.Shared) *Layout {
	l := &Layout{cfg: cfg, shared: shared, active: -1, modified: 1}
	if cfg.Mode == ModeCAVE && cfg.Cave != nil {
		if d, ok := cfg.Cave.Display(cfg.Rank); ok && !d.Geometry.Empty() {
			shared.SetSize(d.Geometry.Size())
		} else if !ok {
			sortlast.Logger().Warn("layout: rank has no CAVE display", "rank", cfg.Rank,
				"displays", cfg.Cave.NumberOfDisplays())
		}
	}
	return l
}

// Config returns the layout configuration.
func (l *Layout) Config() Config { return l.cfg }

// Shared returns the shared window.
func (l *Layout) Shared() *window.Shared { return l.shared }

// SetShowExtraRanks sets whether ranks without a tile show the whole view.
func (l *Layout) SetShowExtraRanks(on bool) {
	if on != l.cfg.ShowExtraRanks {
		l.cfg.ShowExtraRanks = on
		l.modified++
	}
}

// SetSize resizes the shared window.
func (l *Layout) SetSize(size image.Point) {
	if size != l.shared.Size() {
		l.shared.SetSize(size)
		l.modified++
	}
}

// AddView registers a view shown in viewport of the window. It does nothing
// when the process displays no results.
func (l *Layout) AddView(id ViewID, win window.ViewWindow, viewport geom.Viewport) error {
	if !l.cfg.DisplayResults {
		return nil
	}
	if win == nil {
		return ErrNoWindow
	}
	if l.find(id) != nil {
		return fmt.Errorf("%w: %d", ErrDuplicateView, id)
	}
	l.items = append(l.items, &item{id: id, win: win, viewport: viewport})
	if l.active < 0 {
		l.active = id
	}
	l.modified++
	return nil
}

// SetViewport moves a view.
func (l *Layout) SetViewport(id ViewID, viewport geom.Viewport) error {
	it := l.find(id)
	if it == nil {
		return fmt.Errorf("%w: %d", ErrUnknownView, id)
	}
	if it.viewport != viewport {
		it.viewport = viewport
		l.modified++
	}
	return nil
}

// RemoveView unregisters a view. Unknown ids are ignored.
func (l *Layout) RemoveView(id ViewID) {
	l.items = slices.DeleteFunc(l.items, func(it *item) bool { return it.id == id })
	if l.active == id {
		l.active = -1
		if len(l.items) > 0 {
			l.active = l.items[0].id
		}
	}
	l.modified++
}

// RemoveAllViews unregisters every view.
func (l *Layout) RemoveAllViews() {
	l.items = nil
	l.active = -1
	l.modified++
}

// Views returns the registered view ids in insertion order.
func (l *Layout) Views() []ViewID {
	ids := make([]ViewID, len(l.items))
	for i, it := range l.items {
		ids[i] = it.id
	}
	return ids
}

// SetActiveView selects the view shown outside tile display mode.
func (l *Layout) SetActiveView(id ViewID) error {
	if l.find(id) == nil {
		return fmt.Errorf("%w: %d", ErrUnknownView, id)
	}
	if l.active != id {
		l.active = id
		l.modified++
	}
	return nil
}

// ActiveView returns the active view, false when there is none.
func (l *Layout) ActiveView() (ViewID, bool) {
	return l.active, l.active >= 0
}

// Rect returns the resolved rectangle of a view in the shared window,
// lower-left origin.
func (l *Layout) Rect(id ViewID) (image.Rectangle, bool) {
	it := l.find(id)
	if it == nil {
		return image.Rectangle{}, false
	}
	return image.Rectangle{Min: it.origin, Max: it.origin.Add(it.size)}, true
}

func (l *Layout) find(id ViewID) *item {
	for _, it := range l.items {
		if it.id == id {
			return it
		}
	}
	return nil
}

func (l *Layout) tileHelper() tiles.Helper {
	return tiles.Helper{
		Dimensions: l.cfg.TileDimensions,
		Mullions:   l.cfg.TileMullions,
		WindowSize: l.shared.Size(),
	}
}

// RequestUpdateLayout resolves the geometry of view id when anything
// changed since its last layout.
func (l *Layout) RequestUpdateLayout(id ViewID) error {
	it := l.find(id)
	if it == nil {
		if !l.cfg.DisplayResults {
			return nil
		}
		return fmt.Errorf("%w: %d", ErrUnknownView, id)
	}
	if it.layoutTime >= l.modified {
		return nil
	}

	switch l.cfg.Mode {
	case ModeCAVE:
		l.layoutCAVE(it)
	case ModeTileDisplay:
		l.layoutTiles(it)
	default:
		r := it.viewport.Pixels(l.shared.Size())
		it.origin, it.size = r.Min, r.Size()
		if !r.Empty() {
			it.win.SetSize(it.size)
		}
		it.win.SetTileScale(image.Pt(1, 1))
		it.win.SetTileViewport(geom.FullViewport)
	}
	it.layoutTime = l.modified
	it.updates++
	return nil
}

func (l *Layout) layoutCAVE(it *item) {
	size := l.shared.Size()
	if !it.cavePrepared || it.win.Size() != size {
		it.win.SetSize(size)
		it.cavePrepared = true
	}
	it.viewport = geom.FullViewport
	it.origin, it.size = image.Point{}, size
	it.win.SetTileScale(image.Pt(1, 1))
	it.win.SetTileViewport(geom.FullViewport)
}

func (l *Layout) layoutTiles(it *item) {
	h := l.tileHelper()
	size, origin, ok := h.TiledSizeAndOriginInViewport(l.cfg.Rank, it.viewport)
	if !ok {
		it.origin, it.size = image.Point{}, image.Point{}
		if l.cfg.ShowExtraRanks {
			it.size = l.shared.Size()
			it.win.SetSize(it.size)
			it.win.SetTileScale(image.Pt(1, 1))
			it.win.SetTileViewport(geom.FullViewport)
		}
		return
	}

	tile, _ := h.TileRect(l.cfg.Rank)
	it.origin, it.size = origin.Sub(tile.Min), size
	if size.X <= 0 || size.Y <= 0 {
		// The view misses this tile.
		it.win.SetTileScale(h.Dimensions)
		it.win.SetTileViewport(geom.Viewport{})
		return
	}
	it.win.SetSize(size)
	it.win.SetTileScale(h.Dimensions)

	// The part of the view this tile shows, relative to the view.
	tvp, _ := h.TileViewport(l.cfg.Rank)
	it.win.SetTileViewport(it.viewport.Intersect(tvp).Relative(it.viewport))
}

// ActiveStereo reports whether the shared window needs quad-buffered
// stereo: in tile display mode when any view renders crystal-eyes stereo,
// otherwise when the active view does.
func (l *Layout) ActiveStereo() bool {
	wants := func(it *item) bool {
		return it.win.StereoRender() && it.win.StereoType() == window.StereoCrystalEyes
	}
	if l.cfg.Mode == ModeTileDisplay {
		return slices.ContainsFunc(l.items, wants)
	}
	if it := l.find(l.active); it != nil {
		return wants(it)
	}
	return false
}

// visible reports whether it is pasted on this rank.
func (l *Layout) visible(it *item) bool {
	if it.size.X <= 0 || it.size.Y <= 0 {
		return false
	}
	if l.cfg.Mode == ModeTileDisplay {
		return true
	}
	return it.id == l.active
}

// RequestUpdateDisplay paints the shared window with every visible view.
func (l *Layout) RequestUpdateDisplay(id ViewID) error {
	if !l.cfg.DisplayResults {
		return nil
	}
	if l.find(id) == nil {
		return fmt.Errorf("%w: %d", ErrUnknownView, id)
	}
	l.shared.SetActiveStereo(l.ActiveStereo(), window.StereoCrystalEyes)
	l.shared.Render(l.paint)
	return nil
}

func (l *Layout) paint(dst *image.RGBA, eye window.Eye) {
	for _, it := range l.items {
		if !l.visible(it) {
			continue
		}
		src := it.win.Framebuffer(eyeFor(it.win, eye))
		if src == nil {
			continue
		}
		dr := image.Rectangle{Min: it.origin, Max: it.origin.Add(it.size)}
		window.Blit(dst, dr, src, src.Bounds())
	}
}

func eyeFor(win window.ViewWindow, eye window.Eye) window.Eye {
	if win.StereoRender() {
		return eye
	}
	return window.EyeLeft
}

// Capture returns a snapshot of the shared window.
func (l *Layout) Capture() *image.RGBA {
	return l.shared.Capture()
}
