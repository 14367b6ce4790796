package partition

import (
	"cmp"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/gogpu/sortlast/comm"
	"github.com/gogpu/sortlast/geom"
)

// KdOrderer orders ranks by walking a k-d tree built over their boxes.
//
// Each inner node splits its ranks at the median box center along the
// longest axis of their union. Traversal visits the half farther from the
// viewer first, which gives a correct visibility order for partitions that
// the split planes separate, even when the boxes have very different sizes.
type KdOrderer struct {
	regions
	root    *kdNode
	invalid []int
}

var _ Orderer = (*KdOrderer)(nil)

type kdNode struct {
	axis      int
	split     float64
	low, high *kdNode
	rank      int // leaf only
	leaf      bool
}

// NewKdOrderer returns an empty orderer.
func NewKdOrderer() *KdOrderer {
	return &KdOrderer{}
}

// Construct implements Orderer.
func (o *KdOrderer) Construct(c comm.Communicator, local geom.BoundingBox) error {
	if err := o.construct(c, local); err != nil {
		return err
	}
	o.build()
	return nil
}

// SetBoxes implements Orderer.
func (o *KdOrderer) SetBoxes(boxes []geom.BoundingBox) {
	o.setBoxes(boxes)
	o.build()
}

func (o *KdOrderer) build() {
	o.invalid = o.invalid[:0]
	var valid []int
	for rank, b := range o.boxes {
		if b.IsValid() {
			valid = append(valid, rank)
		} else {
			o.invalid = append(o.invalid, rank)
		}
	}
	o.root = o.split(valid)
}

func (o *KdOrderer) split(ranks []int) *kdNode {
	switch len(ranks) {
	case 0:
		return nil
	case 1:
		return &kdNode{leaf: true, rank: ranks[0]}
	}

	u := geom.InvalidBox()
	for _, r := range ranks {
		u.AddBox(o.boxes[r])
	}
	axis := 0
	for a := 1; a < 3; a++ {
		if u.Length(a) > u.Length(axis) {
			axis = a
		}
	}

	sorted := slices.Clone(ranks)
	slices.SortStableFunc(sorted, func(a, b int) int {
		return cmp.Compare(o.boxes[a].Center()[axis], o.boxes[b].Center()[axis])
	})
	mid := len(sorted) / 2
	split := (o.boxes[sorted[mid-1]].Center()[axis] + o.boxes[sorted[mid]].Center()[axis]) / 2

	return &kdNode{
		axis:  axis,
		split: split,
		low:   o.split(sorted[:mid]),
		high:  o.split(sorted[mid:]),
	}
}

// SortOrderFromPosition walks the tree visiting, at each split, the side
// not containing pos first.
func (o *KdOrderer) SortOrderFromPosition(pos mgl64.Vec3) []int {
	return o.walk(func(n *kdNode) bool {
		return pos[n.axis] < n.split
	})
}

// SortOrderInViewDirection walks the tree visiting, at each split, the side
// dir points into first.
func (o *KdOrderer) SortOrderInViewDirection(dir mgl64.Vec3) []int {
	return o.walk(func(n *kdNode) bool {
		return dir[n.axis] > 0
	})
}

// walk returns invalid ranks followed by a traversal of the tree.
// highFirst reports whether the high half of a node is the farther one.
func (o *KdOrderer) walk(highFirst func(n *kdNode) bool) []int {
	order := make([]int, 0, len(o.boxes))
	order = append(order, o.invalid...)

	var visit func(n *kdNode)
	visit = func(n *kdNode) {
		if n == nil {
			return
		}
		if n.leaf {
			order = append(order, n.rank)
			return
		}
		if highFirst(n) {
			visit(n.high)
			visit(n.low)
		} else {
			visit(n.low)
			visit(n.high)
		}
	}
	visit(o.root)
	return order
}
