package comm

import (
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/sortlast/geom"
)

// =============================================================================
// Collective Tests
// =============================================================================

func TestLocal_AllGather(t *testing.T) {
	g := NewLocalGroup(3)
	defer g.Close()

	results := make([][]float64, g.Size())
	err := RunAll(g.Comms(), func(c Communicator) error {
		r := float64(c.Rank())
		out, err := c.AllGather([]float64{r, r * 10})
		results[c.Rank()] = out
		return err
	})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}

	want := []float64{0, 0, 1, 10, 2, 20}
	for rank, got := range results {
		if len(got) != len(want) {
			t.Fatalf("rank %d: len = %d, want %d", rank, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("rank %d: out[%d] = %v, want %v", rank, i, got[i], want[i])
			}
		}
	}
}

func TestLocal_AllReduce(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		want float64
	}{
		{"sum", OpSum, 0 + 1 + 2 + 3},
		{"max", OpMax, 3},
		{"min", OpMin, 0},
		{"prod", OpProd, 0},
		{"land", OpLAND, 0},
		{"lor", OpLOR, 1},
		{"bor", OpBOR, 3},
		{"band", OpBAND, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewLocalGroup(4)
			defer g.Close()

			var mismatches atomic.Int32
			err := RunAll(g.Comms(), func(c Communicator) error {
				out, err := c.AllReduce([]float64{float64(c.Rank())}, tt.op)
				if err != nil {
					return err
				}
				if out[0] != tt.want {
					mismatches.Add(1)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("RunAll() error = %v", err)
			}
			if mismatches.Load() != 0 {
				t.Errorf("%d ranks disagree with %v", mismatches.Load(), tt.want)
			}
		})
	}
}

func TestLocal_Broadcast(t *testing.T) {
	g := NewLocalGroup(4)
	defer g.Close()

	results := make([]string, g.Size())
	err := RunAll(g.Comms(), func(c Communicator) error {
		var data []byte
		if c.Rank() == 2 {
			data = []byte("decision")
		}
		out, err := c.Broadcast(data, 2)
		results[c.Rank()] = string(out)
		return err
	})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	for rank, got := range results {
		if got != "decision" {
			t.Errorf("rank %d: Broadcast() = %q, want %q", rank, got, "decision")
		}
	}
}

func TestLocal_BroadcastBadRoot(t *testing.T) {
	g := NewLocalGroup(2)
	defer g.Close()

	_, err := g.Comm(0).Broadcast(nil, 5)
	if !errors.Is(err, ErrRankOutOfRange) {
		t.Errorf("Broadcast(root=5) error = %v, want ErrRankOutOfRange", err)
	}
}

func TestLocal_SizeMismatch(t *testing.T) {
	g := NewLocalGroup(2)
	defer g.Close()

	err := RunAll(g.Comms(), func(c Communicator) error {
		_, err := c.AllGather(make([]float64, c.Rank()+1))
		return err
	})
	if !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("RunAll() error = %v, want ErrSizeMismatch", err)
	}
}

func TestLocal_CollectiveMismatch(t *testing.T) {
	g := NewLocalGroup(2)
	defer g.Close()

	err := RunAll(g.Comms(), func(c Communicator) error {
		if c.Rank() == 0 {
			return c.Barrier()
		}
		_, err := c.AllReduce([]float64{1}, OpSum)
		return err
	})
	if !errors.Is(err, ErrCollectiveMismatch) {
		t.Errorf("RunAll() error = %v, want ErrCollectiveMismatch", err)
	}
}

// TestLocal_AllRanksMustCall checks that a collective issued by a subset of
// the ranks does not complete until the last rank joins.
func TestLocal_AllRanksMustCall(t *testing.T) {
	const n = 4
	g := NewLocalGroup(n)
	defer g.Close()

	var done atomic.Int32
	var wg sync.WaitGroup
	for rank := range n - 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Comm(rank).Barrier(); err != nil {
				t.Errorf("rank %d: Barrier() error = %v", rank, err)
			}
			done.Add(1)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	if got := done.Load(); got != 0 {
		t.Fatalf("%d ranks left the barrier before rank %d arrived", got, n-1)
	}

	if err := g.Comm(n - 1).Barrier(); err != nil {
		t.Fatalf("last rank: Barrier() error = %v", err)
	}
	wg.Wait()
	if got := done.Load(); got != n-1 {
		t.Errorf("completed = %d, want %d", got, n-1)
	}
}

func TestLocal_CloseUnblocks(t *testing.T) {
	g := NewLocalGroup(2)

	errc := make(chan error, 1)
	go func() {
		errc <- g.Comm(0).Barrier()
	}()
	time.Sleep(20 * time.Millisecond)
	g.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Barrier() error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Barrier() still blocked after Close")
	}
}

func TestLocal_ManyRounds(t *testing.T) {
	g := NewLocalGroup(3)
	defer g.Close()

	err := RunAll(g.Comms(), func(c Communicator) error {
		for i := range 100 {
			out, err := c.AllReduce([]float64{float64(i)}, OpSum)
			if err != nil {
				return err
			}
			if out[0] != float64(3*i) {
				t.Errorf("round %d: sum = %v, want %v", i, out[0], 3*i)
			}
		}
		return c.Barrier()
	})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
}

// =============================================================================
// Point-to-Point Tests
// =============================================================================

func TestLocal_SendRecv(t *testing.T) {
	g := NewLocalGroup(3)
	defer g.Close()

	err := RunAll(g.Comms(), func(c Communicator) error {
		switch c.Rank() {
		case 0:
			a, err := c.Recv(1, TagImage+1)
			if err != nil {
				return err
			}
			b, err := c.Recv(2, TagImage+2)
			if err != nil {
				return err
			}
			if string(a) != "one" || string(b) != "two" {
				t.Errorf("Recv() = %q, %q, want one, two", a, b)
			}
		case 1:
			return c.Send(0, TagImage+1, []byte("one"))
		case 2:
			return c.Send(0, TagImage+2, []byte("two"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
}

func TestLocal_SendOrderPerTag(t *testing.T) {
	g := NewLocalGroup(2)
	defer g.Close()

	a, b := g.Comm(0), g.Comm(1)
	for i := range 5 {
		if err := a.Send(1, TagRenderModeSync, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Send(1, TagCollaborationCounter, []byte{99}); err != nil {
		t.Fatal(err)
	}

	got, err := b.Recv(0, TagCollaborationCounter)
	if err != nil || got[0] != 99 {
		t.Fatalf("Recv(counter) = %v, %v, want [99]", got, err)
	}
	for i := range 5 {
		got, err := b.Recv(0, TagRenderModeSync)
		if err != nil {
			t.Fatal(err)
		}
		if got[0] != byte(i) {
			t.Errorf("message %d = %d, want %d", i, got[0], i)
		}
	}
}

func TestLocal_SendOutOfRange(t *testing.T) {
	g := NewLocalGroup(2)
	defer g.Close()

	if err := g.Comm(0).Send(2, TagImage, nil); !errors.Is(err, ErrRankOutOfRange) {
		t.Errorf("Send(2) error = %v, want ErrRankOutOfRange", err)
	}
	if _, err := g.Comm(0).Recv(-1, TagImage); !errors.Is(err, ErrRankOutOfRange) {
		t.Errorf("Recv(-1) error = %v, want ErrRankOutOfRange", err)
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestAllReduceBounds(t *testing.T) {
	boxes := []geom.BoundingBox{
		geom.NewBox(0, 1, 0, 1, 0, 1),
		geom.InvalidBox(),
		geom.NewBox(-2, 0.5, 3, 4, -1, 0),
	}
	g := NewLocalGroup(len(boxes))
	defer g.Close()

	results := make([]geom.BoundingBox, len(boxes))
	err := RunAll(g.Comms(), func(c Communicator) error {
		u, err := AllReduceBounds(c, boxes[c.Rank()])
		results[c.Rank()] = u
		return err
	})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}

	want := geom.NewBox(-2, 1, 0, 4, -1, 1)
	for rank, got := range results {
		if got != want {
			t.Errorf("rank %d: union = %v, want %v", rank, got, want)
		}
	}
}

func TestAllReduceBounds_AllInvalid(t *testing.T) {
	g := NewLocalGroup(2)
	defer g.Close()

	err := RunAll(g.Comms(), func(c Communicator) error {
		u, err := AllReduceBounds(c, geom.InvalidBox())
		if err != nil {
			return err
		}
		if u.IsValid() {
			t.Errorf("rank %d: union of invalid boxes is valid: %v", c.Rank(), u)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
}

func TestAllReduceInt64_Exact(t *testing.T) {
	const big = int64(1)<<53 + 1
	tests := []struct {
		name   string
		op     Op
		values []int64
		want   int64
	}{
		{"sum above 2^53", OpSum, []int64{big, 2, 4}, big + 6},
		{"max above 2^53", OpMax, []int64{big, big - 1, 0}, big},
		{"min negative", OpMin, []int64{-big, 5, big}, -big},
		{"product", OpProd, []int64{3, -4, 5}, -60},
		{"bitwise or", OpBOR, []int64{1 << 60, 1, 2}, 1<<60 | 3},
		{"bitwise and", OpBAND, []int64{-1, 1<<62 | 6, 6}, 6},
		{"logical and", OpLAND, []int64{big, 1, 0}, 0},
		{"logical or", OpLOR, []int64{0, 0, big}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewLocalGroup(len(tt.values))
			defer g.Close()
			got := make([]int64, len(tt.values))
			err := RunAll(g.Comms(), func(c Communicator) error {
				v, err := AllReduceInt64(c, tt.values[c.Rank()], tt.op)
				got[c.Rank()] = v
				return err
			})
			if err != nil {
				t.Fatalf("AllReduceInt64() error = %v", err)
			}
			for r, v := range got {
				if v != tt.want {
					t.Errorf("rank %d: AllReduceInt64() = %d, want %d", r, v, tt.want)
				}
			}
		})
	}
}

func TestAllReduceScalars(t *testing.T) {
	g := NewLocalGroup(3)
	defer g.Close()

	err := RunAll(g.Comms(), func(c Communicator) error {
		sum, err := AllReduceInt64(c, int64(1000*(c.Rank()+1)), OpSum)
		if err != nil {
			return err
		}
		if sum != 6000 {
			t.Errorf("rank %d: sum = %d, want 6000", c.Rank(), sum)
		}
		anyRank, err := AllReduceBool(c, c.Rank() == 1, OpLOR)
		if err != nil {
			return err
		}
		all, err := AllReduceBool(c, c.Rank() == 1, OpLAND)
		if err != nil {
			return err
		}
		if !anyRank || all {
			t.Errorf("rank %d: any = %v, all = %v, want true, false", c.Rank(), anyRank, all)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
}

func TestReduce_Logic(t *testing.T) {
	if got := reduce(OpLAND, 2, -1); got != 1 {
		t.Errorf("reduce(LAND, 2, -1) = %v, want 1", got)
	}
	if got := reduce(OpMax, math.Inf(-1), 3); got != 3 {
		t.Errorf("reduce(MAX, -Inf, 3) = %v, want 3", got)
	}
}

func TestTag_String(t *testing.T) {
	tests := []struct {
		tag  Tag
		want string
	}{
		{TagRenderModeSync, "render-mode-sync"},
		{TagCollaborationCounter, "collaboration-counter"},
		{TagCollaborationReply, "collaboration-reply"},
		{TagImage + 3, "image(3)"},
		{7, "tag(7)"},
	}
	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.want {
			t.Errorf("Tag(%d).String() = %q, want %q", int(tt.tag), got, tt.want)
		}
	}
}

// =============================================================================
// Stream Tests
// =============================================================================

func TestPipe_TaggedDelivery(t *testing.T) {
	client, server := Pipe()
	defer client.Close()

	if err := client.Send(TagCollaborationCounter, []byte{7}); err != nil {
		t.Fatal(err)
	}
	if err := client.Send(TagRenderModeSync, []byte{1, 2}); err != nil {
		t.Fatal(err)
	}

	got, err := server.Recv(TagRenderModeSync)
	if err != nil || len(got) != 2 {
		t.Fatalf("Recv(sync) = %v, %v", got, err)
	}
	got, err = server.Recv(TagCollaborationCounter)
	if err != nil || got[0] != 7 {
		t.Fatalf("Recv(counter) = %v, %v", got, err)
	}

	if err := server.Send(TagCollaborationReply, []byte{1}); err != nil {
		t.Fatal(err)
	}
	got, err = client.Recv(TagCollaborationReply)
	if err != nil || got[0] != 1 {
		t.Fatalf("Recv(reply) = %v, %v", got, err)
	}
}

func TestPipe_Close(t *testing.T) {
	client, server := Pipe()

	errc := make(chan error, 1)
	go func() {
		_, err := server.Recv(TagRenderModeSync)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	client.Close()

	if err := <-errc; !IsClosed(err) {
		t.Errorf("Recv() after Close error = %v, want ErrClosed", err)
	}
	if err := server.Send(TagRenderModeSync, nil); !IsClosed(err) {
		t.Errorf("Send() after Close error = %v, want ErrClosed", err)
	}
}

func TestMailbox_DeliversQueuedAfterFail(t *testing.T) {
	m := NewMailbox()
	m.Put(TagImage, []byte("a"))
	m.Fail(nil)

	got, err := m.Get(TagImage)
	if err != nil || string(got) != "a" {
		t.Fatalf("Get() = %q, %v, want a, nil", got, err)
	}
	if _, err := m.Get(TagImage); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() on drained mailbox error = %v, want ErrClosed", err)
	}
}
