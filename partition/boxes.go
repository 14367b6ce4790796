package partition

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/gogpu/sortlast/comm"
	"github.com/gogpu/sortlast/geom"
)

// BoxOrderer orders ranks by the distance of their boxes to the camera.
// It is exact for non-overlapping convex partitions seen in perspective.
type BoxOrderer struct {
	regions
}

var _ Orderer = (*BoxOrderer)(nil)

// NewBoxOrderer returns an empty orderer.
func NewBoxOrderer() *BoxOrderer {
	return &BoxOrderer{}
}

// Construct implements Orderer.
func (o *BoxOrderer) Construct(c comm.Communicator, local geom.BoundingBox) error {
	return o.construct(c, local)
}

// SetBoxes implements Orderer.
func (o *BoxOrderer) SetBoxes(boxes []geom.BoundingBox) { o.setBoxes(boxes) }

// SortOrderFromPosition sorts by squared distance from pos to the nearest
// point of each box, farthest first.
func (o *BoxOrderer) SortOrderFromPosition(pos mgl64.Vec3) []int {
	keys := make([]float64, len(o.boxes))
	for i, b := range o.boxes {
		keys[i] = positionKey(b, pos)
	}
	return orderByKey(keys)
}

// SortOrderInViewDirection sorts by the signed depth along dir of each
// box's nearest point, farthest first.
func (o *BoxOrderer) SortOrderInViewDirection(dir mgl64.Vec3) []int {
	keys := make([]float64, len(o.boxes))
	for i, b := range o.boxes {
		keys[i] = directionKey(b, dir)
	}
	return orderByKey(keys)
}
