// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package icet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/sortlast/comm"
	"github.com/gogpu/sortlast/internal/blend"
)

// DrawFrame renders and composites one frame. It is a collective over the
// engine's communicator.
//
// The returned image is the composited tile this rank displays, with the
// background applied; ranks that display no tile get an empty image. When a
// rank displays several tiles the others are available from Result.
// Returned images stay valid until the next DrawFrame.
//
// A failing draw callback does not abort the collective: the rank
// contributes a cleared image and the error is returned after the frame.
//
// Before any image moves, the ranks compare their tiles, composite mode,
// formats, order and strategy. When they differ, or a rank cannot draw,
// every rank returns an error instead of waiting for images that never
// come.
func (e *Engine) DrawFrame(proj, modelview mgl64.Mat4, bg gputypes.Color) (*Image, error) {
	cf, df, err := e.frameFormats()
	if e.draw == nil {
		err = ErrNoDrawCallback
	}
	if err := e.agree(err); err != nil {
		return nil, err
	}

	for _, img := range e.results {
		e.images.put(img)
	}
	clear(e.results)

	rank := e.comm.Rank()
	wall := e.WallRect()
	local := e.contributions(proj.Mul4(modelview), wall)

	table, err := e.comm.AllGather(local)
	if err != nil {
		return nil, fmt.Errorf("icet: gather contributions: %w", err)
	}

	var drawErr error
	rendered := make(map[int]*Image)
	for t, tile := range e.tiles {
		if local[t] == 0 {
			continue
		}
		img := e.images.get(tile.Rect.Dx(), tile.Rect.Dy(), cf, df)
		if err := e.draw(CropProjection(proj, tile.Rect, wall), modelview, bg, tile.Rect, img); err != nil {
			e.log.Error("draw callback failed", "tile", t, "err", err)
			drawErr = errors.Join(drawErr, err)
			img.Clear()
		}
		rendered[t] = img
	}

	var frameErr error
	for t, tile := range e.tiles {
		contributors := e.contributors(t, table)
		res, err := e.mergeTile(t, tile, contributors, rendered[t])
		if err != nil {
			frameErr = errors.Join(frameErr, fmt.Errorf("icet: tile %d: %w", t, err))
		}
		if mine := rendered[t]; mine != nil && mine != res {
			e.images.put(mine)
		}
		if tile.DisplayRank != rank {
			continue
		}
		if res == nil {
			res = e.images.get(tile.Rect.Dx(), tile.Rect.Dy(), cf, df)
		}
		res.ApplyBackground(bg)
		e.results[t] = res
	}

	e.log.Debug("frame composited",
		"mode", e.mode, "strategy", e.state.Strategy, "tiles", len(e.tiles), "rendered", len(rendered))

	if err := errors.Join(drawErr, frameErr); err != nil {
		return e.firstResult(), err
	}
	return e.firstResult(), nil
}

func (e *Engine) firstResult() *Image {
	for t := range e.tiles {
		if img, ok := e.results[t]; ok {
			return img
		}
	}
	return &Image{}
}

// agree all-gathers a fingerprint of the frame setup. Every rank sees the
// same table and reaches the same verdict. A rank with a local error
// returns it; the others report ErrSetupMismatch.
func (e *Engine) agree(local error) error {
	mine := []float64{0, float64(e.fingerprint())}
	if local != nil {
		mine[0] = 1
	}
	all, err := e.comm.AllGather(mine)
	if err != nil {
		return fmt.Errorf("icet: gather frame setup: %w", err)
	}
	if local != nil {
		return local
	}
	for r := range len(all) / 2 {
		switch {
		case all[2*r] != 0:
			return fmt.Errorf("%w: rank %d cannot draw", ErrSetupMismatch, r)
		case all[2*r+1] != mine[1]:
			return fmt.Errorf("%w: rank %d differs from rank %d", ErrSetupMismatch, r, e.comm.Rank())
		}
	}
	return nil
}

// fingerprint hashes everything the ranks must agree on for a frame.
func (e *Engine) fingerprint() uint32 {
	h := fnv.New32a()
	var buf [4]byte
	put := func(v int) {
		binary.BigEndian.PutUint32(buf[:], uint32(int32(v)))
		h.Write(buf[:])
	}
	put(int(e.mode))
	put(int(e.colorFormat))
	put(int(e.depthFormat))
	put(int(e.state.Strategy))
	put(int(e.state.SingleImageStrategy))
	if e.state.Interlace {
		put(1)
	} else {
		put(0)
	}
	wall := e.WallRect()
	put(wall.Min.X)
	put(wall.Min.Y)
	put(wall.Max.X)
	put(wall.Max.Y)
	put(len(e.tiles))
	for _, t := range e.tiles {
		put(t.Rect.Min.X)
		put(t.Rect.Min.Y)
		put(t.Rect.Max.X)
		put(t.Rect.Max.Y)
		put(t.DisplayRank)
	}
	if e.mode == CompositeBlend {
		for _, r := range e.CompositeOrder() {
			put(r)
		}
	}
	return h.Sum32()
}

// frameFormats resolves the formats for the current composite mode.
func (e *Engine) frameFormats() (colorFormat, depthFormat gputypes.TextureFormat, err error) {
	colorFormat, depthFormat = e.colorFormat, e.depthFormat
	switch e.mode {
	case CompositeBlend:
		depthFormat = gputypes.TextureFormatUndefined
		if colorFormat == gputypes.TextureFormatUndefined {
			return 0, 0, fmt.Errorf("%w: blend compositing needs color", ErrFormat)
		}
	default:
		if depthFormat == gputypes.TextureFormatUndefined {
			return 0, 0, fmt.Errorf("%w: depth compositing needs depth", ErrFormat)
		}
	}
	return colorFormat, depthFormat, nil
}

// WallRect returns the wall set by SetWall, or else the union of all tile
// rectangles.
func (e *Engine) WallRect() image.Rectangle {
	if !e.wall.Empty() {
		return e.wall
	}
	var wall image.Rectangle
	for _, t := range e.tiles {
		wall = wall.Union(t.Rect)
	}
	return wall
}

// CropProjection returns proj restricted to tile: geometry that proj maps
// onto tile's part of wall fills the whole clip space.
func CropProjection(proj mgl64.Mat4, tile, wall image.Rectangle) mgl64.Mat4 {
	if tile.Empty() || wall.Empty() || tile == wall {
		return proj
	}
	ndc := func(v, lo, size int) float64 { return 2*float64(v-lo)/float64(size) - 1 }
	x0, x1 := ndc(tile.Min.X, wall.Min.X, wall.Dx()), ndc(tile.Max.X, wall.Min.X, wall.Dx())
	y0, y1 := ndc(tile.Min.Y, wall.Min.Y, wall.Dy()), ndc(tile.Max.Y, wall.Min.Y, wall.Dy())

	sx, sy := 2/(x1-x0), 2/(y1-y0)
	crop := mgl64.Mat4{
		sx, 0, 0, 0,
		0, sy, 0, 0,
		0, 0, 1, 0,
		-(x0 + x1) / 2 * sx, -(y0 + y1) / 2 * sy, 0, 1,
	}
	return crop.Mul4(proj)
}

// contributions returns 1 for every tile this rank renders, else 0.
func (e *Engine) contributions(mvp mgl64.Mat4, wall image.Rectangle) []float64 {
	out := make([]float64, len(e.tiles))
	rank := e.comm.Rank()

	var screen image.Rectangle
	everywhere := !e.boundsSet
	if e.boundsSet && e.bounds.IsValid() {
		screen, everywhere = e.projectBounds(mvp, wall)
	}

	for t, tile := range e.tiles {
		if !e.replicaRenders(t, tile, rank) {
			continue
		}
		if everywhere || screen.Overlaps(tile.Rect) {
			out[t] = 1
		}
	}
	return out
}

// projectBounds returns the wall rectangle covered by the local bounds.
// everywhere is true when a corner lies behind the eye.
func (e *Engine) projectBounds(mvp mgl64.Mat4, wall image.Rectangle) (r image.Rectangle, everywhere bool) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	nearOut, farOut := true, true
	for _, c := range e.bounds.Corners() {
		clip := mvp.Mul4x1(c.Vec4(1))
		if clip.W() <= 1e-12 {
			return wall, true
		}
		n := clip.Vec3().Mul(1 / clip.W())
		minX, maxX = min(minX, n.X()), max(maxX, n.X())
		minY, maxY = min(minY, n.Y()), max(maxY, n.Y())
		nearOut = nearOut && n.Z() < -1
		farOut = farOut && n.Z() > 1
	}
	if nearOut || farOut {
		return image.Rectangle{}, false
	}
	px := func(v float64, lo, size int) int { return lo + int(math.Floor((v+1)/2*float64(size))) }
	pxc := func(v float64, lo, size int) int { return lo + int(math.Ceil((v+1)/2*float64(size))) }
	r = image.Rect(
		px(minX, wall.Min.X, wall.Dx()), px(minY, wall.Min.Y, wall.Dy()),
		pxc(maxX, wall.Min.X, wall.Dx()), pxc(maxY, wall.Min.Y, wall.Dy()),
	)
	return r.Intersect(wall), false
}

// replicaRenders reports whether rank renders tile t given the replication
// group. The tile's display rank renders it when it holds the data.
func (e *Engine) replicaRenders(t int, tile Tile, rank int) bool {
	g := e.replication
	if len(g) < 2 || !slices.Contains(g, rank) {
		return true
	}
	owner := g[t%len(g)]
	if slices.Contains(g, tile.DisplayRank) {
		owner = tile.DisplayRank
	}
	return owner == rank
}

// contributors lists the ranks rendering tile t, in merge order.
func (e *Engine) contributors(t int, table []float64) []int {
	n := len(e.tiles)
	has := func(r int) bool { return table[r*n+t] != 0 }

	var out []int
	if e.mode == CompositeBlend {
		for _, r := range e.CompositeOrder() {
			if has(r) {
				out = append(out, r)
			}
		}
		return out
	}
	for r := range e.comm.Size() {
		if has(r) {
			out = append(out, r)
		}
	}
	if e.state.Interlace {
		out = interlace(out)
	}
	return out
}

// interlace reorders 0,1,2,3,4,5 as 0,3,1,4,2,5.
func interlace(ranks []int) []int {
	half := (len(ranks) + 1) / 2
	out := make([]int, 0, len(ranks))
	for i := range half {
		out = append(out, ranks[i])
		if i+half < len(ranks) {
			out = append(out, ranks[i+half])
		}
	}
	return out
}

// mergeTile runs this rank's part of compositing tile t. It returns the
// merged image on the display rank, nil elsewhere. mine is this rank's
// rendering of the tile, nil if it does not contribute.
func (e *Engine) mergeTile(t int, tile Tile, contributors []int, mine *Image) (*Image, error) {
	if len(contributors) == 0 {
		return nil, nil
	}
	if e.state.Strategy == StrategySequential && e.state.SingleImageStrategy == SingleImageDirect {
		return e.mergeDirect(t, tile, contributors, mine)
	}
	return e.mergeTree(t, tile, contributors, mine)
}

func (e *Engine) mergeDirect(t int, tile Tile, contributors []int, mine *Image) (*Image, error) {
	rank := e.comm.Rank()
	if rank != tile.DisplayRank {
		if mine != nil {
			return nil, e.send(tile.DisplayRank, t, mine)
		}
		return nil, nil
	}

	var acc *Image
	for _, r := range contributors {
		img := mine
		if r != rank {
			var err error
			if img, err = e.recv(r, t); err != nil {
				return acc, err
			}
		}
		if acc == nil {
			acc = img
			continue
		}
		e.merge(acc, img)
		if img != mine {
			e.images.put(img)
		}
	}
	return acc, nil
}

func (e *Engine) mergeTree(t int, tile Tile, contributors []int, mine *Image) (*Image, error) {
	rank := e.comm.Rank()
	pos := slices.Index(contributors, rank)
	n := len(contributors)

	if pos < 0 {
		if rank == tile.DisplayRank {
			return e.recv(contributors[0], t)
		}
		return nil, nil
	}

	acc := mine
	for s := 1; s < n; s *= 2 {
		switch pos % (2 * s) {
		case 0:
			if pos+s >= n {
				continue
			}
			front, err := e.recv(contributors[pos+s], t)
			if err != nil {
				return nil, err
			}
			e.merge(acc, front)
			e.images.put(front)
		case s:
			if err := e.send(contributors[pos-s], t, acc); err != nil {
				return nil, err
			}
			if rank == tile.DisplayRank {
				return e.recv(contributors[0], t)
			}
			return nil, nil
		}
	}

	if contributors[0] != tile.DisplayRank {
		return nil, e.send(tile.DisplayRank, t, acc)
	}
	return acc, nil
}

// merge composites front into back in place.
func (e *Engine) merge(back, front *Image) {
	w := back.Width
	e.pool().ForBands(back.Height, func(y0, y1 int) {
		p0, p1 := y0*w, y1*w
		switch {
		case e.mode == CompositeBlend && back.ColorFormat == gputypes.TextureFormatRGBA32Float:
			blend.OverRowFloat(back.ColorF[4*p0:4*p1], front.ColorF[4*p0:4*p1])
		case e.mode == CompositeBlend:
			blend.OverRow(back.Color[4*p0:4*p1], front.Color[4*p0:4*p1])
		case back.ColorFormat == gputypes.TextureFormatRGBA32Float:
			blend.DepthRowFloat(back.ColorF[4*p0:4*p1], back.Depth[p0:p1], front.ColorF[4*p0:4*p1], front.Depth[p0:p1])
		case back.ColorFormat == gputypes.TextureFormatRGBA8Unorm:
			blend.DepthRow(back.Color[4*p0:4*p1], back.Depth[p0:p1], front.Color[4*p0:4*p1], front.Depth[p0:p1])
		default:
			blend.DepthRow(nil, back.Depth[p0:p1], nil, front.Depth[p0:p1])
		}
	})
}

func (e *Engine) send(to, t int, img *Image) error {
	level := 0
	if e.state.Compression {
		level = max(e.state.CompressionLevel, 1)
	}
	msg, err := encodeImage(img, level)
	if err != nil {
		return err
	}
	return e.comm.Send(to, comm.TagImage+comm.Tag(t), msg)
}

func (e *Engine) recv(from, t int) (*Image, error) {
	msg, err := e.comm.Recv(from, comm.TagImage+comm.Tag(t))
	if err != nil {
		return nil, err
	}
	tile := e.tiles[t].Rect
	img := e.images.get(tile.Dx(), tile.Dy(), e.colorFormat, e.depthFormat)
	if err := decodeImage(msg, img); err != nil {
		return nil, err
	}
	if img.Width != tile.Dx() || img.Height != tile.Dy() {
		return nil, fmt.Errorf("%w: got %dx%d for %v", ErrCorruptImage, img.Width, img.Height, tile)
	}
	return img, nil
}
