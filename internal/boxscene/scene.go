// Package boxscene renders solid axis-aligned boxes into compositor images.
//
// It is the reference geometry of the sortlast tools and tests: every rank
// owns a few boxes, rasterizes them into its tile with gg, and hands the
// partial image to the compositor.
package boxscene

import (
	"cmp"
	"image"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gogpu/gg"

	"github.com/gogpu/sortlast/composite"
	"github.com/gogpu/sortlast/geom"
	"github.com/gogpu/sortlast/internal/blend"
	"github.com/gogpu/sortlast/view"
	"github.com/gogpu/sortlast/window"
)

// Geometry sizes of one box: 12 triangles at full resolution, 8 points at
// level of detail, three float32 per vertex.
const (
	BoxBytes    = 36 * 3 * 4
	BoxLODBytes = 8 * 3 * 4
)

// Box is a solid box with a straight-alpha color.
type Box struct {
	Bounds geom.BoundingBox
	Color  gg.RGBA
}

// Scene is the boxes owned by one rank. It is both the composite delegate
// and the view representation of that geometry.
type Scene struct {
	Boxes []Box

	Hidden      bool
	ShowAxes    bool
	EmptyImages bool
	Distributed view.Preference
}

var (
	_ composite.Delegate      = (*Scene)(nil)
	_ view.Representation     = (*Scene)(nil)
	_ view.AxesRepresentation = (*Scene)(nil)
)

// GeometrySize implements view.Representation.
func (s *Scene) GeometrySize(lod bool) int64 {
	if lod {
		return int64(len(s.Boxes)) * BoxLODBytes
	}
	return int64(len(s.Boxes)) * BoxBytes
}

// RequiresOrderedCompositing reports whether any box is translucent.
func (s *Scene) RequiresOrderedCompositing() bool {
	for _, b := range s.Boxes {
		if b.Color.A < 1 {
			return true
		}
	}
	return false
}

func (s *Scene) RenderEmptyImages() bool               { return s.EmptyImages }
func (s *Scene) DistributedRendering() view.Preference { return s.Distributed }
func (s *Scene) Visible() bool                         { return !s.Hidden }
func (s *Scene) Axes() bool                            { return s.ShowAxes }

// Bounds returns the union of the box bounds.
func (s *Scene) Bounds() geom.BoundingBox {
	b := geom.InvalidBox()
	for _, box := range s.Boxes {
		b.AddBox(box.Bounds)
	}
	return b
}

// Render draws the boxes into state.Target with the window camera.
// Boxes are drawn back to front; with a depth buffer each fragment is also
// depth tested. A box is drawn at the depth of its nearest corner.
func (s *Scene) Render(state *composite.RenderState) error {
	img := state.Target
	if s.Hidden || img == nil || img.Width == 0 || img.Height == 0 {
		return nil
	}
	cam := state.Window.Camera()
	mvp := cam.Projection(state.Window.Aspect()).Mul4(state.ModelView)

	dc := gg.NewContext(img.Width, img.Height)
	defer dc.Close()

	for _, b := range backToFront(s.Boxes, cam) {
		hull, depth, ok := project(b.Bounds, mvp, img.Width, img.Height)
		if !ok {
			continue
		}
		dc.Clear()
		dc.SetRGBA(1, 1, 1, 1)
		dc.MoveTo(hull[0][0], hull[0][1])
		for _, p := range hull[1:] {
			dc.LineTo(p[0], p[1])
		}
		dc.ClosePath()
		if err := dc.Fill(); err != nil {
			return err
		}
		cov, ok := dc.Image().(*image.RGBA)
		if !ok {
			continue
		}
		paint(state, cov, b.Color, float32(depth))
	}
	return nil
}

// paint blends one box, with coverage taken from the alpha of cov.
func paint(state *composite.RenderState, cov *image.RGBA, c gg.RGBA, depth float32) {
	img := state.Target
	pc := c.Premultiply()
	for i := range img.Width * img.Height {
		a := float64(cov.Pix[4*i+3]) / 255
		if a == 0 {
			continue
		}
		if img.Depth != nil {
			if depth >= img.Depth[i] {
				continue
			}
			img.Depth[i] = depth
		}
		switch {
		case img.ColorF != nil:
			frag := []float32{float32(pc.R * a), float32(pc.G * a), float32(pc.B * a), float32(pc.A * a)}
			blend.OverRowFloat(img.ColorF[4*i:4*i+4], frag)
		case img.Color != nil:
			frag := []byte{unorm8(pc.R * a), unorm8(pc.G * a), unorm8(pc.B * a), unorm8(pc.A * a)}
			blend.OverRow(img.Color[4*i:4*i+4], frag)
		}
	}
}

func unorm8(v float64) byte {
	return byte(math.Round(min(max(v, 0), 1) * 255))
}

// backToFront orders boxes farthest first.
func backToFront(boxes []Box, cam *window.Camera) []Box {
	dir := cam.Direction()
	key := func(b Box) float64 {
		if cam.Parallel {
			return b.Bounds.Center().Dot(dir)
		}
		return b.Bounds.Center().Sub(cam.Position).Len()
	}
	sorted := slices.Clone(boxes)
	slices.SortStableFunc(sorted, func(a, b Box) int {
		return cmp.Compare(key(b), key(a))
	})
	return sorted
}

// project returns the convex hull of the projected box corners in image
// coordinates, rows top to bottom, and the nearest corner depth in [0, 1].
// Boxes reaching behind the eye are not drawn.
func project(b geom.BoundingBox, mvp mgl64.Mat4, w, h int) (hull [][2]float64, depth float64, ok bool) {
	if !b.IsValid() {
		return nil, 0, false
	}
	pts := make([][2]float64, 0, 8)
	depth = math.Inf(1)
	for _, c := range b.Corners() {
		p := mvp.Mul4x1(c.Vec4(1))
		if p[3] <= 0 {
			return nil, 0, false
		}
		x, y, z := p[0]/p[3], p[1]/p[3], p[2]/p[3]
		pts = append(pts, [2]float64{(x + 1) / 2 * float64(w), (1 - y) / 2 * float64(h)})
		depth = min(depth, (z+1)/2)
	}
	if depth > 1 {
		return nil, 0, false
	}
	hull = convexHull(pts)
	if len(hull) < 3 {
		return nil, 0, false
	}
	return hull, max(depth, 0), true
}

// convexHull is Andrew's monotone chain.
func convexHull(pts [][2]float64) [][2]float64 {
	pts = slices.Clone(pts)
	slices.SortFunc(pts, func(a, b [2]float64) int {
		if c := cmp.Compare(a[0], b[0]); c != 0 {
			return c
		}
		return cmp.Compare(a[1], b[1])
	})
	cross := func(o, a, b [2]float64) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}
	hull := make([][2]float64, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// Slab returns the scene of rank out of n: one box of the unit-height slab
// [rank, rank+1] along x, with a hue per rank. Translucent boxes have alpha
// 0.5.
func Slab(rank, n int, translucent bool) *Scene {
	c := gg.HSL(360*float64(rank)/float64(max(n, 1)), 0.8, 0.5)
	if translucent {
		c.A = 0.5
	}
	x := float64(rank) - float64(n)/2
	return &Scene{Boxes: []Box{{
		Bounds: geom.NewBox(x, x+1, -0.5, 0.5, -0.5, 0.5),
		Color:  c,
	}}}
}
