// Package partition computes back-to-front compositing orders over the
// spatial partitions held by each rank.
//
// Every rank contributes one bounding box. Given a camera, an Orderer
// returns a permutation of ranks, farthest first, that the compositor
// follows when blending translucent partial images.
//
// Ranks whose box is invalid (they hold no geometry) still get a slot in
// every order. They are treated as infinitely far and therefore come first,
// in rank order, so they can never be blended over real geometry.
package partition

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gogpu/sortlast/comm"
	"github.com/gogpu/sortlast/geom"
)

// ErrNoCommunicator is returned by Construct when no communicator is set.
var ErrNoCommunicator = errors.New("partition: nil communicator")

// Orderer computes compositing orders from per-rank boxes.
//
// The set of orderers is closed: *BoxOrderer, the default, and *KdOrderer.
type Orderer interface {
	// Construct gathers every rank's local box. It is a collective over c.
	// Calling it again with identical input yields identical state.
	Construct(c comm.Communicator, local geom.BoundingBox) error

	// SetBoxes installs already gathered boxes, one per rank.
	SetBoxes(boxes []geom.BoundingBox)

	// NumberOfRegions returns the number of boxes, one per rank.
	NumberOfRegions() int

	// Boxes returns the per-rank boxes.
	Boxes() []geom.BoundingBox

	// GlobalBounds returns the union of all valid boxes.
	GlobalBounds() geom.BoundingBox

	// SortOrderFromPosition orders ranks back to front as seen from a
	// perspective camera at pos. *BoxOrderer sorts by squared distance to
	// the nearest box point, farthest first. *KdOrderer returns the
	// visibility order of its split planes instead, which can differ from
	// the distance order when boxes are unequal or overlap.
	SortOrderFromPosition(pos mgl64.Vec3) []int

	// SortOrderInViewDirection orders ranks back to front for a parallel
	// projection looking along dir.
	SortOrderInViewDirection(dir mgl64.Vec3) []int

	sealed()
}

// regions holds the gathered boxes shared by both orderers.
type regions struct {
	boxes  []geom.BoundingBox
	global geom.BoundingBox
}

func (r *regions) construct(c comm.Communicator, local geom.BoundingBox) error {
	if c == nil {
		return ErrNoCommunicator
	}
	all, err := c.AllGather(local[:])
	if err != nil {
		return fmt.Errorf("partition: gather bounds: %w", err)
	}
	boxes := make([]geom.BoundingBox, len(all)/6)
	for i := range boxes {
		copy(boxes[i][:], all[6*i:6*i+6])
	}
	r.setBoxes(boxes)
	return nil
}

func (r *regions) setBoxes(boxes []geom.BoundingBox) {
	r.boxes = slices.Clone(boxes)
	r.global = geom.Union(r.boxes...)
}

// NumberOfRegions returns the number of gathered boxes.
func (r *regions) NumberOfRegions() int { return len(r.boxes) }

// Boxes returns a copy of the gathered boxes.
func (r *regions) Boxes() []geom.BoundingBox { return slices.Clone(r.boxes) }

// GlobalBounds returns the union of all valid boxes.
func (r *regions) GlobalBounds() geom.BoundingBox { return r.global }

func (r *regions) sealed() {}

// nearestAlong returns the point of b that a viewer looking along dir sees
// first: per axis, the low face when dir is positive, the high face otherwise.
func nearestAlong(b geom.BoundingBox, dir mgl64.Vec3) mgl64.Vec3 {
	var p mgl64.Vec3
	for axis := range 3 {
		if dir[axis] >= 0 {
			p[axis] = b[2*axis]
		} else {
			p[axis] = b[2*axis+1]
		}
	}
	return p
}

// orderByKey returns ranks sorted by descending key. Ties keep rank order.
func orderByKey(keys []float64) []int {
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(keys[b], keys[a])
	})
	return order
}

// positionKey is the squared distance from pos to b, +Inf when invalid.
func positionKey(b geom.BoundingBox, pos mgl64.Vec3) float64 {
	if !b.IsValid() {
		return math.Inf(1)
	}
	return b.Distance2(pos)
}

// directionKey is the signed depth of b's nearest point along dir,
// +Inf when invalid.
func directionKey(b geom.BoundingBox, dir mgl64.Vec3) float64 {
	if !b.IsValid() {
		return math.Inf(1)
	}
	return nearestAlong(b, dir).Dot(dir)
}

