package session

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

type fakeFrame struct {
	messageType int
	data        []byte
	err         error
}

// fakeConn is an in-memory Transport. Frames queued with send are returned
// by ReadMessage; text frames passed to WriteMessage are captured in writes.
type fakeConn struct {
	inbound chan fakeFrame
	writes  chan []byte
	closed  chan struct{}

	closeOnce  sync.Once
	closeCalls atomic.Int32

	mu             sync.Mutex
	writeErr       error
	controls       []int
	readDeadlines  []time.Time
	writeDeadlines []time.Time
	pongHandler    func(string) error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan fakeFrame, 32),
		writes:  make(chan []byte, 128),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.inbound:
		if f.err != nil {
			return 0, nil, f.err
		}
		return f.messageType, f.data, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	c.mu.Lock()
	err := c.writeErr
	if messageType != websocket.TextMessage {
		c.controls = append(c.controls, messageType)
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	if messageType == websocket.TextMessage {
		c.writes <- append([]byte(nil), data...)
	}
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadlines = append(c.readDeadlines, t)
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDeadlines = append(c.writeDeadlines, t)
	return nil
}

func (c *fakeConn) SetPongHandler(h func(string) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pongHandler = h
}

func (c *fakeConn) Close() error {
	c.closeCalls.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) send(text string) {
	c.inbound <- fakeFrame{messageType: websocket.TextMessage, data: []byte(text)}
}

func (c *fakeConn) sendFrame(t *testing.T, frame []byte, err error) {
	t.Helper()
	require.NoError(t, err)
	c.inbound <- fakeFrame{messageType: websocket.TextMessage, data: frame}
}

func (c *fakeConn) peerClose() {
	c.inbound <- fakeFrame{err: &websocket.CloseError{Code: websocket.CloseNormalClosure}}
}

func (c *fakeConn) failRead(err error) {
	c.inbound <- fakeFrame{err: err}
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// pong delivers a pong to the registered handler, as the real connection
// does while a read is in progress. It reports whether a handler was set.
func (c *fakeConn) pong() bool {
	c.mu.Lock()
	h := c.pongHandler
	c.mu.Unlock()
	if h == nil {
		return false
	}
	_ = h("")
	return true
}

func (c *fakeConn) deadlines() (read, write []time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.readDeadlines...), append([]time.Time(nil), c.writeDeadlines...)
}

func (c *fakeConn) pings() int {
	n := 0
	for _, kind := range c.controlFrames() {
		if kind == websocket.PingMessage {
			n++
		}
	}
	return n
}

func (c *fakeConn) controlFrames() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.controls...)
}

// next returns the next text frame written to the peer.
func (c *fakeConn) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case frame := <-c.writes:
		env, err := protocol.Decode(frame)
		require.NoError(t, err, "peer received a non-envelope frame: %s", frame)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame to the peer")
		return protocol.Envelope{}
	}
}
