package partition

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/gogpu/sortlast/comm"
	"github.com/gogpu/sortlast/geom"
)

// Kind selects an Orderer implementation.
type Kind int

const (
	// KindBoxes orders by per-rank box distance.
	KindBoxes Kind = iota

	// KindKdTree orders by k-d tree traversal.
	KindKdTree
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindBoxes:
		return "boxes"
	case KindKdTree:
		return "kdtree"
	}
	return "unknown"
}

// New returns an empty orderer of the given kind.
func New(kind Kind) Orderer {
	if kind == KindKdTree {
		return NewKdOrderer()
	}
	return NewBoxOrderer()
}

// Helper owns the orderer used for ordered compositing and picks the sort
// mode that matches the camera projection.
type Helper struct {
	orderer Orderer
}

// NewHelper returns a helper backed by an orderer of the given kind.
func NewHelper(kind Kind) *Helper {
	return &Helper{orderer: New(kind)}
}

// Orderer returns the underlying orderer.
func (h *Helper) Orderer() Orderer { return h.orderer }

// Construct gathers the local bounds of every rank. Collective over c.
func (h *Helper) Construct(c comm.Communicator, local geom.BoundingBox) error {
	return h.orderer.Construct(c, local)
}

// NumberOfRegions returns the number of per-rank boxes known.
func (h *Helper) NumberOfRegions() int { return h.orderer.NumberOfRegions() }

// SortOrder returns the back-to-front rank order for a camera at position
// looking along direction. Parallel projections order by direction only.
func (h *Helper) SortOrder(parallel bool, position, direction mgl64.Vec3) []int {
	if parallel {
		return h.orderer.SortOrderInViewDirection(direction)
	}
	return h.orderer.SortOrderFromPosition(position)
}
