// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package composite implements the sort-last compositing render pass.
//
// A Pass wraps a delegate render pass. Every Render call runs one full
// frame: it lays out the display tiles, configures the compositor for depth
// or ordered blend compositing, has the compositor call the delegate once
// per contributing tile, and keeps the composited result for display.
//
// Render is a collective: every rank of the communicator must call it for
// every frame, in the same order, or the frame blocks.
package composite

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/sortlast"
	"github.com/gogpu/sortlast/comm"
	"github.com/gogpu/sortlast/geom"
	"github.com/gogpu/sortlast/icet"
	"github.com/gogpu/sortlast/partition"
	"github.com/gogpu/sortlast/tiles"
	"github.com/gogpu/sortlast/window"
)

// Errors returned by Pass.
var (
	// ErrNoDelegate is returned by Render when no delegate pass is set.
	ErrNoDelegate = errors.New("composite: delegate not set")

	// ErrNoWindow is returned by Render when the state has no window.
	ErrNoWindow = errors.New("composite: render state has no window")
)

// axesPadding is the fraction of an axes prop's diagonal added on every
// side of its bounds. Axes labels render outside the reported bounds.
const axesPadding = 0.1

// Delegate is the render pass wrapped by Pass. Render draws the local
// geometry into state.Target using the window camera, whose projection is
// set to the tile projection for the duration of the call.
type Delegate interface {
	Render(state *RenderState) error
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(state *RenderState) error

// Render calls f(state).
func (f DelegateFunc) Render(state *RenderState) error { return f(state) }

// Prop is a visible scene item as seen by the compositor.
type Prop struct {
	Bounds  geom.BoundingBox
	Visible bool

	// Axes marks axis or cube-axes props, whose labels extend past
	// Bounds.
	Axes bool
}

// RenderState carries one frame through the pass.
type RenderState struct {
	Window *window.Offscreen
	Eye    window.Eye
	Props  []Prop

	// LOD asks the delegate for level-of-detail geometry.
	LOD bool

	// Set by the pass while the delegate runs.
	Target     *icet.Image
	Tile       image.Rectangle
	ModelView  mgl64.Mat4
	Background gputypes.Color
}

// Config holds the pass settings.
type Config struct {
	// TileDimensions is the tile grid of the display. Zero means 1x1.
	TileDimensions image.Point
	TileMullions   image.Point

	// ImageReductionFactor renders and composites images this many times
	// smaller than the window. Values below 1 mean 1.
	ImageReductionFactor int

	UseOrderedCompositing        bool
	DataReplicatedOnAllProcesses bool

	DisplayRGBAResults  bool
	DisplayDepthResults bool

	// EnableFloatValuePass composites RGBA32Float color. The result is
	// available from LastRenderedRGBA32F only.
	EnableFloatValuePass bool

	// RenderEmptyImages makes every rank render every tile, even with no
	// visible geometry.
	RenderEmptyImages bool
}

// Pass is the compositing render pass.
type Pass struct {
	Config

	// PartitionHelper supplies the back-to-front order for ordered
	// compositing.
	PartitionHelper *partition.Helper

	// Delegate renders the local geometry.
	Delegate Delegate

	ctx   *icet.Context
	tiles *tiles.Helper
	view  image.Point

	lastRGBA    *image.RGBA
	lastRGBA32F []float32
	lastDepth   []float32
	lastSize    image.Point
	lastMode    icet.CompositeMode
}

// NewPass creates a pass composited over c. A nil c leaves the pass without
// a valid context until SetCommunicator is called.
func NewPass(c comm.Communicator) *Pass {
	p := &Pass{ctx: icet.NewContext()}
	p.ctx.SetCommunicator(c)
	return p
}

// SetCommunicator rebinds the compositing context, keeping its tuning.
func (p *Pass) SetCommunicator(c comm.Communicator) { p.ctx.SetCommunicator(c) }

// Context returns the compositing context.
func (p *Pass) Context() *icet.Context { return p.ctx }

// Close destroys the compositing context.
func (p *Pass) Close() { p.ctx.Close() }

// LastRenderedRGBA returns the composited color of the last frame, or nil
// when this rank displays no tile or the float value pass was active.
func (p *Pass) LastRenderedRGBA() *image.RGBA { return p.lastRGBA }

// LastRenderedRGBA32F returns the composited float color of the last frame
// rendered with the float value pass, 4 floats per pixel.
func (p *Pass) LastRenderedRGBA32F() []float32 { return p.lastRGBA32F }

// LastRenderedDepth returns the composited depth of the last Z-buffer frame.
func (p *Pass) LastRenderedDepth() []float32 { return p.lastDepth }

// LastRenderedSize returns the size of the last composited image.
func (p *Pass) LastRenderedSize() image.Point { return p.lastSize }

// LastCompositeMode returns the composite mode the last frame used.
func (p *Pass) LastCompositeMode() icet.CompositeMode { return p.lastMode }

// TileHelper returns the tile grid of the local window in the last frame,
// or nil before the first frame.
func (p *Pass) TileHelper() *tiles.Helper { return p.tiles }

// ViewSize returns the pixel size of the whole composited view in the last
// frame. Every rank reports the same size.
func (p *Pass) ViewSize() image.Point { return p.view }

func (p *Pass) logger() *slog.Logger {
	if c := p.ctx.Communicator(); c != nil {
		return sortlast.RankLogger(c.Rank()).With("component", "composite")
	}
	return sortlast.Logger().With("component", "composite")
}

// Render composites one frame of state. Collective.
func (p *Pass) Render(state *RenderState) error {
	if err := p.ctx.MakeCurrent(); err != nil {
		return err
	}
	if p.Delegate == nil {
		return ErrNoDelegate
	}
	if state == nil || state.Window == nil {
		return ErrNoWindow
	}
	e := p.ctx.Engine()
	c := e.Communicator()
	log := p.logger()

	p.lastRGBA, p.lastRGBA32F, p.lastDepth = nil, nil, nil
	p.lastSize = image.Point{}

	if err := p.updateTileInformation(e, state.Window); err != nil {
		return err
	}

	if len(e.Tiles()) <= 1 {
		e.SetStrategy(icet.StrategySequential)
	} else {
		e.SetStrategy(icet.StrategyReduce)
	}

	cam := state.Window.Camera()
	ordered := p.UseOrderedCompositing
	if ordered {
		if n := p.regions(); n != c.Size() {
			log.Error("partition does not match communicator, falling back to depth compositing",
				"ranks", c.Size(), "boxes", n)
			ordered = false
		}
	}
	if err := p.configureFormats(e, ordered); err != nil {
		return err
	}
	if ordered {
		order := p.PartitionHelper.SortOrder(cam.Parallel, cam.Position, cam.Direction())
		if err := e.SetCompositeOrder(order); err != nil {
			return fmt.Errorf("composite: %w", err)
		}
		log.Debug("ordered compositing", "order", order)
	}

	if p.RenderEmptyImages {
		e.ClearBoundingBox()
	} else {
		e.SetBoundingBox(visibleBounds(state.Props))
	}

	if p.DataReplicatedOnAllProcesses {
		all := make([]int, c.Size())
		for i := range all {
			all[i] = i
		}
		e.SetReplicationGroup(all)
	} else {
		e.SetReplicationGroup(nil)
	}

	e.SetDrawCallback(func(proj, mv mgl64.Mat4, bg gputypes.Color, tile image.Rectangle, img *icet.Image) error {
		return p.draw(state, proj, mv, bg, tile, img)
	})

	proj := cam.Projection(float64(p.view.X) / float64(max(p.view.Y, 1)))
	res, err := e.DrawFrame(proj, cam.ModelView(), state.Window.Background())
	p.lastMode = e.CompositeMode()
	if res != nil {
		p.extract(res)
	}
	if err != nil {
		return fmt.Errorf("composite: %w", err)
	}
	return nil
}

// updateTileInformation registers the tile of every rank with the engine.
// Collective.
//
// Every rank shares its reduced window size and the part of the view its
// window shows. The view size is derived from those, so all ranks build
// the same tile table even when the layout clipped their windows to
// different sizes. A window laid out for the tile grid keeps the viewport
// the layout gave it; a plain window gets its tile of the grid. Ranks
// beyond the grid display nothing.
func (p *Pass) updateTileInformation(e *icet.Engine, win *window.Offscreen) error {
	dims := p.TileDimensions
	if dims.X <= 0 || dims.Y <= 0 {
		dims = image.Pt(1, 1)
	}
	f := max(p.ImageReductionFactor, 1)
	size := win.Size()
	size = image.Pt(max(size.X/f, 1), max(size.Y/f, 1))
	p.tiles = &tiles.Helper{Dimensions: dims, Mullions: p.TileMullions.Div(f), WindowSize: size}

	c := e.Communicator()
	vp := win.TileViewport()
	if win.TileScale() != dims {
		gvp, ok := p.tiles.TileViewport(c.Rank())
		if !ok {
			gvp = geom.Viewport{}
		}
		vp = gvp
		win.SetTileScale(dims)
		win.SetTileViewport(vp)
	}
	// Only the ranks driving a tile of the grid display one.
	if c.Rank() >= p.tiles.TileCount() || vp.IsEmpty() || win.Size().X <= 0 || win.Size().Y <= 0 {
		size = image.Point{}
	}

	local := []float64{float64(size.X), float64(size.Y), vp.XMin, vp.YMin, vp.XMax, vp.YMax}
	all, err := c.AllGather(local)
	if err != nil {
		return fmt.Errorf("composite: gather tiles: %w", err)
	}
	shares := make([]tileShare, len(all)/len(local))
	for r := range shares {
		v := all[r*len(local):]
		shares[r] = tileShare{
			size:     image.Pt(int(v[0]), int(v[1])),
			viewport: geom.Viewport{XMin: v[2], YMin: v[3], XMax: v[4], YMax: v[5]},
		}
	}
	p.view = viewSize(shares)
	if p.view.X <= 0 || p.view.Y <= 0 {
		p.view = p.tiles.WallSize()
	}

	e.ResetTiles()
	e.SetWall(image.Rectangle{Max: p.view})
	for rank, sh := range shares {
		r, ok := sh.rect(p.view)
		if !ok {
			continue
		}
		if _, err := e.AddTile(r, rank); err != nil {
			return fmt.Errorf("composite: %w", err)
		}
	}
	if len(e.Tiles()) == 0 {
		p.logger().Warn("no rank displays a tile", "ranks", c.Size())
	}
	return nil
}

// tileShare is one rank's part of the view.
type tileShare struct {
	size     image.Point
	viewport geom.Viewport
}

func (s tileShare) valid() bool {
	return s.size.X > 0 && s.size.Y > 0 && !s.viewport.IsEmpty()
}

// rect places the share in a view of the given size. The rectangle keeps
// the window size so the composited tile pastes back unscaled.
func (s tileShare) rect(view image.Point) (image.Rectangle, bool) {
	if !s.valid() {
		return image.Rectangle{}, false
	}
	at := s.viewport.Pixels(view).Min
	return image.Rectangle{Min: at, Max: at.Add(s.size)}, true
}

// viewSize returns the pixel size of the whole view: the largest size any
// rank's window implies.
func viewSize(shares []tileShare) image.Point {
	var v image.Point
	for _, s := range shares {
		if !s.valid() {
			continue
		}
		w := s.viewport.XMax - s.viewport.XMin
		h := s.viewport.YMax - s.viewport.YMin
		v.X = max(v.X, int(math.Round(float64(s.size.X)/w)))
		v.Y = max(v.Y, int(math.Round(float64(s.size.Y)/h)))
	}
	return v
}

func (p *Pass) regions() int {
	if p.PartitionHelper == nil {
		return 0
	}
	return p.PartitionHelper.NumberOfRegions()
}

func (p *Pass) configureFormats(e *icet.Engine, ordered bool) error {
	cf := gputypes.TextureFormatRGBA8Unorm
	if p.EnableFloatValuePass {
		cf = gputypes.TextureFormatRGBA32Float
	}
	if err := e.SetColorFormat(cf); err != nil {
		return err
	}
	if ordered {
		e.SetCompositeMode(icet.CompositeBlend)
		return e.SetDepthFormat(gputypes.TextureFormatUndefined)
	}
	e.SetCompositeMode(icet.CompositeZBuffer)
	return e.SetDepthFormat(gputypes.TextureFormatDepth32Float)
}

// draw is the compositor draw callback. The tile projection replaces the
// camera projection while the delegate runs.
func (p *Pass) draw(state *RenderState, proj, mv mgl64.Mat4, bg gputypes.Color, tile image.Rectangle, img *icet.Image) error {
	cam := state.Window.Camera()
	saved, hadExplicit := cam.ExplicitProjection()
	cam.SetExplicitProjection(proj)
	defer func() {
		if hadExplicit {
			cam.SetExplicitProjection(saved)
		} else {
			cam.ClearExplicitProjection()
		}
		state.Target = nil
	}()

	state.Target, state.Tile, state.ModelView, state.Background = img, tile, mv, bg
	return p.Delegate.Render(state)
}

// extract copies the composited image out of the engine, which reuses it
// on the next frame.
func (p *Pass) extract(res *icet.Image) {
	if res.IsEmpty() {
		return
	}
	p.lastSize = res.Size()
	switch res.ColorFormat {
	case gputypes.TextureFormatRGBA32Float:
		p.lastRGBA32F = slices.Clone(res.ColorF)
	case gputypes.TextureFormatRGBA8Unorm:
		p.lastRGBA = res.RGBA()
	}
	if res.HasDepth() {
		p.lastDepth = slices.Clone(res.Depth)
	}
}

// DisplayResultsIfNeeded pastes the last composited frame into win when
// DisplayRGBAResults or DisplayDepthResults is set. A depth buffer that does
// not match the window is logged and skipped.
func (p *Pass) DisplayResultsIfNeeded(win *window.Offscreen, eye window.Eye) {
	if p.DisplayRGBAResults && p.lastRGBA != nil {
		win.PasteColor(p.lastRGBA, eye)
	}
	if p.DisplayDepthResults && p.lastDepth != nil {
		if err := win.PasteDepth(p.lastDepth, p.lastSize); err != nil {
			p.logger().Error("depth not displayed", "size", p.lastSize, "window", win.Size(), "err", err)
		}
	}
}

// visibleBounds unites the bounds of the visible props. Axes props are
// padded so their labels are not culled.
func visibleBounds(props []Prop) geom.BoundingBox {
	b := geom.InvalidBox()
	for _, pr := range props {
		if !pr.Visible || !pr.Bounds.IsValid() {
			continue
		}
		pb := pr.Bounds
		if pr.Axes {
			pb = pb.Inflate(axesPadding * pb.DiagonalLength())
		}
		b.AddBox(pb)
	}
	return b
}
