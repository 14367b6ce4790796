// Package comm defines how ranks of a parallel session talk to each other.
//
// Two kinds of channels exist:
//
//   - A Communicator connects the ranks of one parallel job. Its collective
//     methods (Barrier, AllGather, AllReduce, Broadcast) block until every
//     rank of the communicator has made the same call. Point-to-point Send
//     and Recv carry tagged messages between two ranks of the job.
//   - A Stream connects two processes of different jobs, typically the
//     client and the root of the render server, and carries tagged
//     messages only.
//
// There is no timeout or cancellation. A rank that never reaches a
// collective stalls the whole group; callers prevent that by agreeing on
// what to call before calling it.
package comm

import (
	"errors"
	"fmt"
)

// Common errors for communicator operations.
var (
	// ErrClosed is returned by operations on a closed communicator or stream.
	ErrClosed = errors.New("comm: closed")

	// ErrRankOutOfRange is returned when a peer rank is not in the group.
	ErrRankOutOfRange = errors.New("comm: rank out of range")

	// ErrCollectiveMismatch is returned when ranks issue different
	// collectives at the same point in their call sequence.
	ErrCollectiveMismatch = errors.New("comm: collective mismatch")

	// ErrSizeMismatch is returned when ranks contribute buffers of
	// different lengths to a reduction.
	ErrSizeMismatch = errors.New("comm: buffer size mismatch")
)

// Tag identifies a point-to-point message kind.
//
// Tag values are part of the wire protocol between client and server and
// must stay stable across releases.
type Tag int

// Protocol tags.
const (
	// TagRenderModeSync carries the per-frame render decision from the
	// client to the render server root.
	TagRenderModeSync Tag = 41000

	// TagCollaborationCounter carries the client's synchronization counter.
	TagCollaborationCounter Tag = 41001

	// TagCollaborationReply carries the server's verdict on a counter.
	TagCollaborationReply Tag = 42000

	// TagImage is the base tag for compositor image exchange. The image for
	// tile i travels with tag TagImage+i.
	TagImage Tag = 43000
)

// String implements fmt.Stringer.
func (t Tag) String() string {
	switch t {
	case TagRenderModeSync:
		return "render-mode-sync"
	case TagCollaborationCounter:
		return "collaboration-counter"
	case TagCollaborationReply:
		return "collaboration-reply"
	}
	if t >= TagImage {
		return fmt.Sprintf("image(%d)", int(t-TagImage))
	}
	return fmt.Sprintf("tag(%d)", int(t))
}

// Op is a reduction operation.
type Op int

// Reduction operations.
const (
	OpSum Op = iota
	OpMax
	OpMin
	OpProd
	OpLAND // logical AND
	OpLOR  // logical OR
	OpBAND // bitwise AND
	OpBOR  // bitwise OR
)

// Root is the rank that drives a job; it is more semantic to use this.
const Root = 0

// Communicator connects the ranks of one parallel job.
//
// Collective methods must be called by every rank, in the same order.
type Communicator interface {
	// Rank returns this process' rank in [0, Size).
	Rank() int

	// Size returns the number of ranks.
	Size() int

	// Barrier blocks until all ranks reach it.
	Barrier() error

	// AllGather concatenates every rank's local values in rank order.
	// All ranks must contribute the same number of values.
	AllGather(local []float64) ([]float64, error)

	// AllReduce combines local values element-wise across ranks.
	AllReduce(local []float64, op Op) ([]float64, error)

	// Broadcast returns root's data on every rank. Non-root ranks pass nil.
	Broadcast(data []byte, root int) ([]byte, error)

	// Send queues a message for rank to. It does not wait for the receiver.
	Send(to int, tag Tag, data []byte) error

	// Recv blocks until a message with tag arrives from rank from.
	Recv(from int, tag Tag) ([]byte, error)
}

// Collective is an operation that every rank of a communicator must run.
// Functions of this type make the all-ranks contract explicit at the call
// site: they receive the communicator they are collective over.
type Collective func(c Communicator) error

// reduce combines two values with op.
func reduce(op Op, a, b float64) float64 {
	switch op {
	case OpSum:
		return a + b
	case OpMax:
		return max(a, b)
	case OpMin:
		return min(a, b)
	case OpProd:
		return a * b
	case OpLAND:
		return boolValue(a != 0 && b != 0)
	case OpLOR:
		return boolValue(a != 0 || b != 0)
	case OpBAND:
		return float64(int64(a) & int64(b))
	case OpBOR:
		return float64(int64(a) | int64(b))
	}
	return a
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
