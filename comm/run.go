package comm

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/sortlast/geom"
)

// RunAll runs fn on every communicator concurrently, one goroutine per rank,
// and waits for all of them. It returns the first error.
//
// RunAll is how a single process drives a collective over a local group:
// every rank calls fn, so every collective inside fn completes.
func RunAll(comms []Communicator, fn Collective) error {
	var eg errgroup.Group
	for _, c := range comms {
		eg.Go(func() error {
			if err := fn(c); err != nil {
				return fmt.Errorf("rank %d: %w", c.Rank(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// AllReduceInt64 reduces one integer across all ranks. Every rank gathers
// the exact values as two 32-bit halves and reduces them in int64, so
// byte counts beyond 2^53 keep full precision.
func AllReduceInt64(c Communicator, v int64, op Op) (int64, error) {
	u := uint64(v)
	all, err := c.AllGather([]float64{float64(u >> 32), float64(u & math.MaxUint32)})
	if err != nil {
		return 0, err
	}
	if len(all) < 2 {
		return v, nil
	}
	join := func(i int) int64 { return int64(uint64(all[i])<<32 | uint64(all[i+1])) }
	acc := join(0)
	for i := 2; i+1 < len(all); i += 2 {
		acc = reduceInt64(op, acc, join(i))
	}
	return acc, nil
}

// reduceInt64 combines two integers with op. Sums and products wrap.
func reduceInt64(op Op, a, b int64) int64 {
	flag := func(v bool) int64 {
		if v {
			return 1
		}
		return 0
	}
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
		return flag(a != 0 && b != 0)
	case OpLOR:
		return flag(a != 0 || b != 0)
	case OpBAND:
		return a & b
	case OpBOR:
		return a | b
	}
	return a
}

// AllReduceBool reduces one flag across all ranks. Use OpLOR for "any" and
// OpLAND for "all".
func AllReduceBool(c Communicator, v bool, op Op) (bool, error) {
	out, err := c.AllReduce([]float64{boolValue(v)}, op)
	if err != nil {
		return false, err
	}
	return out[0] != 0, nil
}

// AllReduceBounds returns the union of every rank's box. Invalid boxes
// contribute nothing; the result is invalid when all inputs are.
func AllReduceBounds(c Communicator, b geom.BoundingBox) (geom.BoundingBox, error) {
	// Negate minimums so one max-reduction computes the union.
	local := make([]float64, 6)
	for axis := range 3 {
		lo, hi := b[2*axis], b[2*axis+1]
		if !b.IsValid() {
			lo, hi = math.Inf(1), math.Inf(-1)
		}
		local[2*axis] = -lo
		local[2*axis+1] = hi
	}
	out, err := c.AllReduce(local, OpMax)
	if err != nil {
		return geom.InvalidBox(), err
	}
	var u geom.BoundingBox
	for axis := range 3 {
		u[2*axis] = -out[2*axis]
		u[2*axis+1] = out[2*axis+1]
	}
	if !u.IsValid() {
		return geom.InvalidBox(), nil
	}
	return u, nil
}
