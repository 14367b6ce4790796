// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package icet

import (
	"fmt"
	"image"
	"log/slog"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/sortlast"
	"github.com/gogpu/sortlast/comm"
	"github.com/gogpu/sortlast/geom"
	"github.com/gogpu/sortlast/internal/parallel"
)

// Tile is one display tile of the wall. Rect is in wall pixels with the
// origin at the lower left.
type Tile struct {
	Rect        image.Rectangle
	DisplayRank int
}

// DrawFunc renders the local geometry for one tile.
//
// proj is the frame projection cropped to the tile, so rendering the whole
// scene with it fills exactly the tile. The callback draws into img, which
// is sized to the tile and cleared. It must not retain img.
type DrawFunc func(proj, modelview mgl64.Mat4, bg gputypes.Color, tile image.Rectangle, img *Image) error

// Engine composites partial images across the ranks of a communicator.
//
// An Engine is owned by one compositing pass and is not safe for concurrent
// use.
type Engine struct {
	comm  comm.Communicator
	state State

	tiles       []Tile
	wall        image.Rectangle
	mode        CompositeMode
	colorFormat gputypes.TextureFormat
	depthFormat gputypes.TextureFormat
	order       []int
	bounds      geom.BoundingBox
	boundsSet   bool
	replication []int
	draw        DrawFunc

	workers *parallel.WorkerPool
	images  imagePool
	results map[int]*Image
	log     *slog.Logger
}

// NewEngine creates an engine bound to c with DefaultState.
func NewEngine(c comm.Communicator) *Engine {
	return &Engine{
		comm:        c,
		state:       DefaultState(),
		colorFormat: gputypes.TextureFormatRGBA8Unorm,
		depthFormat: gputypes.TextureFormatDepth32Float,
		results:     make(map[int]*Image),
		log:         sortlast.RankLogger(c.Rank()).With("component", "icet"),
	}
}

// Close releases worker goroutines. The engine must not be used afterwards.
func (e *Engine) Close() {
	if e.workers != nil {
		e.workers.Close()
		e.workers = nil
	}
}

// Communicator returns the communicator the engine is bound to.
func (e *Engine) Communicator() comm.Communicator { return e.comm }

// State returns the tunable state.
func (e *Engine) State() State { return e.state }

// SetState replaces the tunable state.
func (e *Engine) SetState(s State) {
	if s.MaxImageSplit != e.state.MaxImageSplit && e.workers != nil {
		e.workers.Close()
		e.workers = nil
	}
	e.state = s
}

// SetStrategy sets the multi-tile strategy.
func (e *Engine) SetStrategy(s Strategy) { e.state.Strategy = s }

// SetSingleImageStrategy sets how a tile is merged under StrategySequential.
func (e *Engine) SetSingleImageStrategy(s SingleImageStrategy) { e.state.SingleImageStrategy = s }

// ResetTiles removes all tiles and the wall set by SetWall.
func (e *Engine) ResetTiles() {
	e.tiles = e.tiles[:0]
	e.wall = image.Rectangle{}
}

// SetWall sets the full frame the projection covers. Tiles need not cover
// all of it. An empty rectangle means the union of the tiles.
func (e *Engine) SetWall(r image.Rectangle) { e.wall = r }

// AddTile registers a tile displayed by displayRank and returns its index.
func (e *Engine) AddTile(rect image.Rectangle, displayRank int) (int, error) {
	if rect.Empty() {
		return -1, fmt.Errorf("%w: empty rectangle %v", ErrBadTile, rect)
	}
	if displayRank < 0 || displayRank >= e.comm.Size() {
		return -1, fmt.Errorf("%w: display rank %d of %d", ErrBadTile, displayRank, e.comm.Size())
	}
	e.tiles = append(e.tiles, Tile{Rect: rect, DisplayRank: displayRank})
	return len(e.tiles) - 1, nil
}

// Tiles returns the registered tiles.
func (e *Engine) Tiles() []Tile { return slices.Clone(e.tiles) }

// SetCompositeMode selects depth or ordered blend compositing.
func (e *Engine) SetCompositeMode(m CompositeMode) { e.mode = m }

// CompositeMode returns the composite mode.
func (e *Engine) CompositeMode() CompositeMode { return e.mode }

// SetColorFormat selects RGBA8Unorm, RGBA32Float, or Undefined (no color).
func (e *Engine) SetColorFormat(f gputypes.TextureFormat) error {
	switch f {
	case gputypes.TextureFormatUndefined, gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA32Float:
		e.colorFormat = f
		return nil
	}
	return fmt.Errorf("%w: color %v", ErrFormat, f)
}

// SetDepthFormat selects Depth32Float or Undefined (no depth).
func (e *Engine) SetDepthFormat(f gputypes.TextureFormat) error {
	switch f {
	case gputypes.TextureFormatUndefined, gputypes.TextureFormatDepth32Float:
		e.depthFormat = f
		return nil
	}
	return fmt.Errorf("%w: depth %v", ErrFormat, f)
}

// ColorFormat returns the color format.
func (e *Engine) ColorFormat() gputypes.TextureFormat { return e.colorFormat }

// DepthFormat returns the depth format.
func (e *Engine) DepthFormat() gputypes.TextureFormat { return e.depthFormat }

// SetCompositeOrder sets the back-to-front rank order used by
// CompositeBlend. order must be a permutation of the ranks.
func (e *Engine) SetCompositeOrder(order []int) error {
	n := e.comm.Size()
	if len(order) != n {
		return fmt.Errorf("%w: %d entries for %d ranks", ErrBadOrder, len(order), n)
	}
	seen := make([]bool, n)
	for _, r := range order {
		if r < 0 || r >= n || seen[r] {
			return fmt.Errorf("%w: %v", ErrBadOrder, order)
		}
		seen[r] = true
	}
	e.order = slices.Clone(order)
	return nil
}

// CompositeOrder returns the composite order; rank order when unset.
func (e *Engine) CompositeOrder() []int {
	if e.order == nil {
		order := make([]int, e.comm.Size())
		for i := range order {
			order[i] = i
		}
		return order
	}
	return slices.Clone(e.order)
}

// SetBoundingBox hints the world bounds of the local geometry. The rank
// only contributes to tiles its projected bounds touch; an invalid box
// means nothing to contribute.
func (e *Engine) SetBoundingBox(b geom.BoundingBox) {
	e.bounds = b
	e.boundsSet = true
}

// ClearBoundingBox removes the hint: the rank contributes to every tile.
func (e *Engine) ClearBoundingBox() {
	e.boundsSet = false
}

// SetReplicationGroup declares ranks holding identical geometry. Each tile
// is then rendered by one member only, preferring its display rank.
// A nil or single-rank group disables the hint.
func (e *Engine) SetReplicationGroup(ranks []int) {
	e.replication = slices.Clone(ranks)
	slices.Sort(e.replication)
}

// ReplicationGroup returns the replication group.
func (e *Engine) ReplicationGroup() []int { return slices.Clone(e.replication) }

// SetDrawCallback sets the local render callback.
func (e *Engine) SetDrawCallback(fn DrawFunc) { e.draw = fn }

// Result returns the composited image of tile if this rank displays it,
// from the last DrawFrame.
func (e *Engine) Result(tile int) (*Image, bool) {
	img, ok := e.results[tile]
	return img, ok
}

func (e *Engine) pool() *parallel.WorkerPool {
	if e.workers == nil {
		e.workers = parallel.NewWorkerPool(e.state.MaxImageSplit)
	}
	return e.workers
}
