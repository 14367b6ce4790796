// Package wsstream carries a comm.Stream over a websocket connection.
//
// Each message is one binary websocket frame: a 4-byte big-endian tag
// followed by the payload. A reader goroutine demultiplexes frames by tag.
package wsstream

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/gogpu/sortlast"
	"github.com/gogpu/sortlast/comm"
)

// ErrShortFrame is returned for a frame too small to hold a tag.
var ErrShortFrame = errors.New("wsstream: frame shorter than tag header")

const headerSize = 4

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 << 10,
	WriteBufferSize: 64 << 10,
}

// Stream is a comm.Stream over a websocket.
type Stream struct {
	conn *websocket.Conn
	in   *comm.Mailbox

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

var _ comm.Stream = (*Stream)(nil)

// Dial connects to a websocket endpoint served by Upgrade.
func Dial(ctx context.Context, url string) (*Stream, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsstream: dial %s: %w", url, err)
	}
	return newStream(conn), nil
}

// Upgrade turns an HTTP request into a Stream. On failure the upgrader has
// already replied to the client.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Stream, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("wsstream: upgrade: %w", err)
	}
	return newStream(conn), nil
}

func newStream(conn *websocket.Conn) *Stream {
	s := &Stream{
		conn: conn,
		in:   comm.NewMailbox(),
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer close(s.done)
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = comm.ErrClosed
			}
			s.in.Fail(err)
			return
		}
		if typ != websocket.BinaryMessage {
			sortlast.Logger().Warn("wsstream: ignoring non-binary frame", "type", typ)
			continue
		}
		if len(data) < headerSize {
			s.in.Fail(ErrShortFrame)
			return
		}
		tag := comm.Tag(int32(binary.BigEndian.Uint32(data)))
		s.in.Put(tag, data[headerSize:])
	}
}

// Send implements comm.Stream.
func (s *Stream) Send(tag comm.Tag, data []byte) error {
	frame := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint32(frame, uint32(int32(tag)))
	copy(frame[headerSize:], data)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("wsstream: send %v: %w", tag, err)
	}
	return nil
}

// Recv implements comm.Stream.
func (s *Stream) Recv(tag comm.Tag) ([]byte, error) {
	return s.in.Get(tag)
}

// Close sends a close frame and releases the connection.
func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
		<-s.done
		s.in.Fail(comm.ErrClosed)
	})
	return err
}
