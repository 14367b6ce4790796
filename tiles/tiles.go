// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package tiles maps ranks onto the tiles of a tiled display wall.
//
// A wall is a grid of Dimensions.X by Dimensions.Y tiles. Each tile is
// driven by one rank and shows WindowSize pixels; adjacent tiles are
// separated by Mullions pixels of bezel that belong to no tile. The wall is
// addressed with a lower-left origin, like the rest of the compositing code,
// but ranks are laid out row-major from the top-left tile so that rank 0
// drives the upper-left display.
//
// Helper has no state beyond its configuration and performs no I/O. A rank
// that is not part of the wall is expected, not an error: every query
// reports it with ok == false and the caller renders nothing for tiling.
package tiles

import (
	"image"

	"github.com/gogpu/sortlast/geom"
)

// Helper computes tile geometry for a display wall.
type Helper struct {
	// Dimensions is the number of tiles horizontally and vertically.
	Dimensions image.Point

	// Mullions is the gap in pixels between adjacent tiles.
	Mullions image.Point

	// WindowSize is the size in pixels of one tile.
	WindowSize image.Point
}

// NewHelper creates a helper for a dims wall of tileSize tiles.
func NewHelper(dims, mullions, tileSize image.Point) *Helper {
	return &Helper{Dimensions: dims, Mullions: mullions, WindowSize: tileSize}
}

// TileCount returns the number of tiles in the wall.
func (h *Helper) TileCount() int {
	if h.Dimensions.X <= 0 || h.Dimensions.Y <= 0 {
		return 0
	}
	return h.Dimensions.X * h.Dimensions.Y
}

// IsSingleTile reports whether the wall is a single display.
func (h *Helper) IsSingleTile() bool {
	return h.Dimensions.X == 1 && h.Dimensions.Y == 1
}

// WallSize returns the size of the whole wall including mullions:
// Dimensions*(WindowSize+Mullions) - Mullions.
func (h *Helper) WallSize() image.Point {
	if h.TileCount() == 0 {
		return image.Point{}
	}
	return image.Pt(
		h.Dimensions.X*(h.WindowSize.X+h.Mullions.X)-h.Mullions.X,
		h.Dimensions.Y*(h.WindowSize.Y+h.Mullions.Y)-h.Mullions.Y,
	)
}

// TileIndex returns the (x, y) grid position of the tile driven by rank.
// The y index is inverted so rank 0 is the top-left tile of a lower-left
// origin wall. Returns false when rank drives no tile.
func (h *Helper) TileIndex(rank int) (image.Point, bool) {
	if rank < 0 || h.TileCount() == 0 {
		return image.Point{}, false
	}
	x := rank % h.Dimensions.X
	y := rank / h.Dimensions.X
	if y >= h.Dimensions.Y {
		return image.Point{}, false
	}
	return image.Pt(x, h.Dimensions.Y-1-y), true
}

// RankAt returns the rank driving the tile at grid position idx.
// It is the inverse of TileIndex.
func (h *Helper) RankAt(idx image.Point) (int, bool) {
	if idx.X < 0 || idx.Y < 0 || idx.X >= h.Dimensions.X || idx.Y >= h.Dimensions.Y {
		return 0, false
	}
	return (h.Dimensions.Y-1-idx.Y)*h.Dimensions.X + idx.X, true
}

// TiledSizeAndOrigin returns the pixel size and wall origin of rank's tile.
func (h *Helper) TiledSizeAndOrigin(rank int) (size, origin image.Point, ok bool) {
	idx, ok := h.TileIndex(rank)
	if !ok {
		return image.Point{}, image.Point{}, false
	}
	size = h.WindowSize
	origin = image.Pt(
		idx.X*(h.WindowSize.X+h.Mullions.X),
		idx.Y*(h.WindowSize.Y+h.Mullions.Y),
	)
	return size, origin, true
}

// TileRect returns rank's tile as a wall rectangle.
func (h *Helper) TileRect(rank int) (image.Rectangle, bool) {
	size, origin, ok := h.TiledSizeAndOrigin(rank)
	if !ok {
		return image.Rectangle{}, false
	}
	return image.Rectangle{Min: origin, Max: origin.Add(size)}, true
}

// TiledSizeAndOriginInViewport clips rank's tile against a normalized wall
// viewport and returns the part of the tile the viewport covers, in wall
// pixels. When the viewport misses the tile the size is zero and the origin
// is the tile origin; ok is false only when rank drives no tile.
//
// The result is always contained in the full tile rectangle.
func (h *Helper) TiledSizeAndOriginInViewport(rank int, vp geom.Viewport) (size, origin image.Point, ok bool) {
	tile, ok := h.TileRect(rank)
	if !ok {
		return image.Point{}, image.Point{}, false
	}
	clip := vp.Pixels(h.WallSize()).Intersect(tile)
	if clip.Empty() {
		return image.Point{}, tile.Min, true
	}
	return clip.Size(), clip.Min, true
}

// TileViewport returns rank's tile normalized against the whole wall.
// Render windows use it to crop the camera frustum to their share of the
// wall.
func (h *Helper) TileViewport(rank int) (geom.Viewport, bool) {
	tile, ok := h.TileRect(rank)
	if !ok {
		return geom.Viewport{}, false
	}
	return geom.ViewportFromPixels(tile, h.WallSize()), true
}

// NormalizedTileViewport returns the part of vp that lies on rank's tile,
// expressed relative to the tile itself. Returns false when rank drives no
// tile or vp misses it.
func (h *Helper) NormalizedTileViewport(rank int, vp geom.Viewport) (geom.Viewport, bool) {
	tvp, ok := h.TileViewport(rank)
	if !ok {
		return geom.Viewport{}, false
	}
	clip := vp.Intersect(tvp)
	if clip.IsEmpty() {
		return geom.Viewport{}, false
	}
	return clip.Relative(tvp), true
}

// Rects returns every tile rectangle of the wall indexed by rank.
func (h *Helper) Rects() []image.Rectangle {
	n := h.TileCount()
	rects := make([]image.Rectangle, n)
	for rank := range n {
		rects[rank], _ = h.TileRect(rank)
	}
	return rects
}
