// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package tiles

import (
	"image"
	"math/rand/v2"
	"testing"

	"github.com/gogpu/sortlast/geom"
)

func wall2x2() *Helper {
	return NewHelper(image.Pt(2, 2), image.Pt(0, 0), image.Pt(800, 600))
}

func TestTiledSizeAndOrigin_Wall2x2(t *testing.T) {
	h := wall2x2()
	tests := []struct {
		rank   int
		index  image.Point
		origin image.Point
	}{
		{0, image.Pt(0, 1), image.Pt(0, 600)},
		{1, image.Pt(1, 1), image.Pt(800, 600)},
		{2, image.Pt(0, 0), image.Pt(0, 0)},
		{3, image.Pt(1, 0), image.Pt(800, 0)},
	}
	for _, tt := range tests {
		idx, ok := h.TileIndex(tt.rank)
		if !ok || idx != tt.index {
			t.Errorf("TileIndex(%d) = %v, %v; want %v, true", tt.rank, idx, ok, tt.index)
		}
		size, origin, ok := h.TiledSizeAndOrigin(tt.rank)
		if !ok {
			t.Fatalf("TiledSizeAndOrigin(%d) not ok", tt.rank)
		}
		if size != image.Pt(800, 600) {
			t.Errorf("rank %d size = %v, want (800,600)", tt.rank, size)
		}
		if origin != tt.origin {
			t.Errorf("rank %d origin = %v, want %v", tt.rank, origin, tt.origin)
		}
	}
}

func TestTileIndex_OutsideWall(t *testing.T) {
	h := wall2x2()
	for _, rank := range []int{-1, 4, 5, 100} {
		if _, ok := h.TileIndex(rank); ok {
			t.Errorf("TileIndex(%d) ok, want false", rank)
		}
		if _, _, ok := h.TiledSizeAndOrigin(rank); ok {
			t.Errorf("TiledSizeAndOrigin(%d) ok, want false", rank)
		}
		if _, ok := h.TileViewport(rank); ok {
			t.Errorf("TileViewport(%d) ok, want false", rank)
		}
	}

	var zero Helper
	if _, ok := zero.TileIndex(0); ok {
		t.Error("zero helper should have no tiles")
	}
}

func TestTileIndex_RoundTrip(t *testing.T) {
	for _, dims := range []image.Point{{1, 1}, {3, 2}, {4, 4}, {1, 5}, {7, 3}} {
		h := NewHelper(dims, image.Pt(10, 20), image.Pt(100, 50))
		n := dims.X * dims.Y
		for rank := range n + 3 {
			idx, ok := h.TileIndex(rank)
			if rank >= n {
				if ok {
					t.Errorf("dims %v: rank %d should map to no tile", dims, rank)
				}
				continue
			}
			if !ok {
				t.Fatalf("dims %v: rank %d has no tile", dims, rank)
			}
			// Undo the inversion to recover row-major order.
			if got := (dims.Y-1-idx.Y)*dims.X + idx.X; got != rank {
				t.Errorf("dims %v: reconstructed rank = %d, want %d", dims, got, rank)
			}
			if got, ok := h.RankAt(idx); !ok || got != rank {
				t.Errorf("dims %v: RankAt(%v) = %d, %v; want %d", dims, idx, got, ok, rank)
			}
		}
	}
}

func TestWallSize(t *testing.T) {
	h := NewHelper(image.Pt(3, 2), image.Pt(10, 20), image.Pt(100, 50))
	if got, want := h.WallSize(), image.Pt(3*110-10, 2*70-20); got != want {
		t.Errorf("WallSize() = %v, want %v", got, want)
	}
	if got := (&Helper{}).WallSize(); got != (image.Point{}) {
		t.Errorf("empty WallSize() = %v", got)
	}
}

func TestTiledSizeAndOriginInViewport(t *testing.T) {
	h := wall2x2()
	vp := geom.Viewport{XMin: 0.25, YMin: 0, XMax: 0.75, YMax: 1}

	size, origin, ok := h.TiledSizeAndOriginInViewport(0, vp)
	if !ok {
		t.Fatal("rank 0 not ok")
	}
	if size != image.Pt(400, 600) || origin != image.Pt(400, 600) {
		t.Errorf("rank 0 = size %v origin %v, want (400,600) (400,600)", size, origin)
	}

	// A viewport on the left half misses rank 3's tile entirely.
	size, origin, ok = h.TiledSizeAndOriginInViewport(3, geom.Viewport{XMin: 0, YMin: 0, XMax: 0.5, YMax: 1})
	if !ok {
		t.Fatal("rank 3 not ok")
	}
	if size != (image.Point{}) {
		t.Errorf("rank 3 size = %v, want empty", size)
	}
	if origin != image.Pt(800, 0) {
		t.Errorf("rank 3 origin = %v, want tile origin (800,0)", origin)
	}

	if _, _, ok := h.TiledSizeAndOriginInViewport(9, vp); ok {
		t.Error("rank 9 should have no tile")
	}
}

func TestTiledSizeAndOriginInViewport_Containment(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	h := NewHelper(image.Pt(3, 2), image.Pt(7, 5), image.Pt(320, 240))

	for range 500 {
		x0, x1 := rng.Float64(), rng.Float64()
		y0, y1 := rng.Float64(), rng.Float64()
		vp := geom.Viewport{XMin: min(x0, x1), YMin: min(y0, y1), XMax: max(x0, x1), YMax: max(y0, y1)}

		for rank := range h.TileCount() {
			full, _ := h.TileRect(rank)
			size, origin, ok := h.TiledSizeAndOriginInViewport(rank, vp)
			if !ok {
				t.Fatalf("rank %d not ok", rank)
			}
			clip := image.Rectangle{Min: origin, Max: origin.Add(size)}
			if !clip.In(full) {
				t.Fatalf("viewport %v rank %d: %v not inside %v", vp, rank, clip, full)
			}
		}
	}
}

func TestTileViewport(t *testing.T) {
	h := wall2x2()
	vp, ok := h.TileViewport(0)
	if !ok {
		t.Fatal("TileViewport(0) not ok")
	}
	if want := (geom.Viewport{XMin: 0, YMin: 0.5, XMax: 0.5, YMax: 1}); vp != want {
		t.Errorf("TileViewport(0) = %v, want %v", vp, want)
	}

	rel, ok := h.NormalizedTileViewport(0, geom.Viewport{XMin: 0.25, YMin: 0, XMax: 1, YMax: 1})
	if !ok {
		t.Fatal("NormalizedTileViewport not ok")
	}
	if want := (geom.Viewport{XMin: 0.5, YMin: 0, XMax: 1, YMax: 1}); rel != want {
		t.Errorf("NormalizedTileViewport = %v, want %v", rel, want)
	}
}

func TestRects(t *testing.T) {
	h := wall2x2()
	rects := h.Rects()
	if len(rects) != 4 {
		t.Fatalf("len(Rects()) = %d, want 4", len(rects))
	}
	union := image.Rectangle{}
	for _, r := range rects {
		union = union.Union(r)
	}
	if union != image.Rect(0, 0, 1600, 1200) {
		t.Errorf("union of tiles = %v, want wall", union)
	}
}
