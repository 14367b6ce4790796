package comm

import (
	"errors"
	"sync"
)

// Stream is a tagged, ordered, point-to-point link between two processes of
// different jobs, such as the client and the render server root.
type Stream interface {
	// Send delivers data to the peer under tag.
	Send(tag Tag, data []byte) error

	// Recv blocks until a message with tag arrives. Messages with other tags
	// stay queued for their own Recv calls.
	Recv(tag Tag) ([]byte, error)

	// Close releases the link. Blocked Recv calls return ErrClosed.
	Close() error
}

// Mailbox demultiplexes incoming messages by tag. Transports push every
// message they read into a Mailbox and serve Recv from it.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues map[Tag][][]byte
	err    error
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	m := &Mailbox{queues: make(map[Tag][][]byte)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Put queues data under tag. Put after Fail is dropped.
func (m *Mailbox) Put(tag Tag, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return
	}
	m.queues[tag] = append(m.queues[tag], data)
	m.cond.Broadcast()
}

// Get blocks until a message with tag is queued or the mailbox fails.
// Queued messages are still delivered after a failure.
func (m *Mailbox) Get(tag Tag) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queues[tag]) == 0 && m.err == nil {
		m.cond.Wait()
	}
	q := m.queues[tag]
	if len(q) == 0 {
		return nil, m.err
	}
	m.queues[tag] = q[1:]
	if len(m.queues[tag]) == 0 {
		delete(m.queues, tag)
	}
	return q[0], nil
}

// Fail wakes every waiter with err. A nil err means ErrClosed.
// Only the first failure is kept.
func (m *Mailbox) Fail(err error) {
	if err == nil {
		err = ErrClosed
	}
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.mu.Unlock()
	m.cond.Broadcast()
}

// Err returns the failure, if any.
func (m *Mailbox) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// pipeEnd is one side of an in-process Stream pair.
type pipeEnd struct {
	in   *Mailbox
	peer *pipeEnd
}

// Pipe returns two connected in-process streams.
func Pipe() (Stream, Stream) {
	a := &pipeEnd{in: NewMailbox()}
	b := &pipeEnd{in: NewMailbox()}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) Send(tag Tag, data []byte) error {
	if err := p.in.Err(); err != nil {
		return err
	}
	if err := p.peer.in.Err(); err != nil {
		return err
	}
	p.peer.in.Put(tag, append([]byte(nil), data...))
	return nil
}

func (p *pipeEnd) Recv(tag Tag) ([]byte, error) {
	return p.in.Get(tag)
}

// Close closes both directions.
func (p *pipeEnd) Close() error {
	p.in.Fail(ErrClosed)
	p.peer.in.Fail(ErrClosed)
	return nil
}

// IsClosed reports whether err means the link went away normally.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}
