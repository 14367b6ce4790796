package comm

import (
	"fmt"
	"sync"
)

// Group is an in-process communicator group: n ranks that live in one
// address space, typically one goroutine per rank.
//
// Group is used by tests, the demo CLI, and single-machine sessions that
// split work across goroutines.
type Group struct {
	mu     sync.Mutex
	cond   *sync.Cond
	size   int
	rounds map[uint64]*round
	mail   map[mailKey][][]byte
	closed bool
	ranks  []*Local
}

// round is one collective call in progress. Every rank's n-th collective
// joins round n.
type round struct {
	kind      string
	parts     []any
	arrived   int
	collected int
	err       error
}

type mailKey struct {
	from, to int
	tag      Tag
}

// NewLocalGroup creates a group of n in-process ranks. n < 1 is treated as 1.
func NewLocalGroup(n int) *Group {
	if n < 1 {
		n = 1
	}
	g := &Group{
		size:   n,
		rounds: make(map[uint64]*round),
		mail:   make(map[mailKey][][]byte),
	}
	g.cond = sync.NewCond(&g.mu)
	g.ranks = make([]*Local, n)
	for i := range g.ranks {
		g.ranks[i] = &Local{g: g, rank: i}
	}
	return g
}

// Size returns the number of ranks in the group.
func (g *Group) Size() int { return g.size }

// Comm returns the communicator endpoint of rank.
func (g *Group) Comm(rank int) *Local { return g.ranks[rank] }

// Comms returns every endpoint in rank order.
func (g *Group) Comms() []Communicator {
	out := make([]Communicator, len(g.ranks))
	for i, l := range g.ranks {
		out[i] = l
	}
	return out
}

// Close wakes every blocked call with ErrClosed. Subsequent calls fail.
func (g *Group) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Local is one rank of a Group. A Local must be used by one goroutine at a
// time, like an MPI communicator handle.
type Local struct {
	g    *Group
	rank int
	seq  uint64
}

var _ Communicator = (*Local)(nil)

// Rank implements Communicator.
func (c *Local) Rank() int { return c.rank }

// Size implements Communicator.
func (c *Local) Size() int { return c.g.size }

// exchange deposits part into the current round and waits until every rank
// has deposited. It returns all parts in rank order.
func (c *Local) exchange(kind string, part any) ([]any, error) {
	g := c.g
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil, ErrClosed
	}

	seq := c.seq
	c.seq++
	r, ok := g.rounds[seq]
	if !ok {
		r = &round{kind: kind, parts: make([]any, g.size)}
		g.rounds[seq] = r
	}
	if r.kind != kind && r.err == nil {
		r.err = fmt.Errorf("%w: rank %d called %s, round %d is %s",
			ErrCollectiveMismatch, c.rank, kind, seq, r.kind)
		g.cond.Broadcast()
	}
	r.parts[c.rank] = part
	r.arrived++
	if r.arrived == g.size {
		g.cond.Broadcast()
	}
	for r.arrived < g.size && r.err == nil && !g.closed {
		g.cond.Wait()
	}

	r.collected++
	if r.collected == g.size {
		delete(g.rounds, seq)
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.arrived < g.size {
		return nil, ErrClosed
	}
	return r.parts, nil
}

// Barrier implements Communicator.
func (c *Local) Barrier() error {
	_, err := c.exchange("barrier", nil)
	return err
}

// AllGather implements Communicator.
func (c *Local) AllGather(local []float64) ([]float64, error) {
	parts, err := c.exchange("allgather", append([]float64(nil), local...))
	if err != nil {
		return nil, err
	}
	n := len(local)
	out := make([]float64, 0, n*len(parts))
	for rank, p := range parts {
		v := p.([]float64)
		if len(v) != n {
			return nil, fmt.Errorf("%w: rank %d gathered %d values, rank %d has %d",
				ErrSizeMismatch, c.rank, n, rank, len(v))
		}
		out = append(out, v...)
	}
	return out, nil
}

// AllReduce implements Communicator.
func (c *Local) AllReduce(local []float64, op Op) ([]float64, error) {
	parts, err := c.exchange("allreduce", append([]float64(nil), local...))
	if err != nil {
		return nil, err
	}
	out := append([]float64(nil), parts[0].([]float64)...)
	for rank := 1; rank < len(parts); rank++ {
		v := parts[rank].([]float64)
		if len(v) != len(out) {
			return nil, fmt.Errorf("%w: rank 0 reduced %d values, rank %d has %d",
				ErrSizeMismatch, len(out), rank, len(v))
		}
		for i := range out {
			out[i] = reduce(op, out[i], v[i])
		}
	}
	return out, nil
}

// Broadcast implements Communicator.
func (c *Local) Broadcast(data []byte, root int) ([]byte, error) {
	if root < 0 || root >= c.g.size {
		return nil, fmt.Errorf("%w: broadcast root %d", ErrRankOutOfRange, root)
	}
	var part []byte
	if c.rank == root {
		part = append([]byte(nil), data...)
	}
	parts, err := c.exchange("broadcast", part)
	if err != nil {
		return nil, err
	}
	src := parts[root].([]byte)
	return append([]byte(nil), src...), nil
}

// Send implements Communicator.
func (c *Local) Send(to int, tag Tag, data []byte) error {
	g := c.g
	if to < 0 || to >= g.size {
		return fmt.Errorf("%w: send to %d", ErrRankOutOfRange, to)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	k := mailKey{from: c.rank, to: to, tag: tag}
	g.mail[k] = append(g.mail[k], append([]byte(nil), data...))
	g.cond.Broadcast()
	return nil
}

// Recv implements Communicator.
func (c *Local) Recv(from int, tag Tag) ([]byte, error) {
	g := c.g
	if from < 0 || from >= g.size {
		return nil, fmt.Errorf("%w: recv from %d", ErrRankOutOfRange, from)
	}
	k := mailKey{from: from, to: c.rank, tag: tag}
	g.mu.Lock()
	defer g.mu.Unlock()
	for len(g.mail[k]) == 0 && !g.closed {
		g.cond.Wait()
	}
	q := g.mail[k]
	if len(q) == 0 {
		return nil, ErrClosed
	}
	msg := q[0]
	if len(q) == 1 {
		delete(g.mail, k)
	} else {
		g.mail[k] = q[1:]
	}
	return msg, nil
}
