package session

import (
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the message-stream half of an upgraded connection.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Transport = (*websocket.Conn)(nil)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// readEnd is the outcome of a failed ReadMessage: whether the peer simply
// went away, or something went wrong that is worth reporting.
type readEnd struct {
	reason string
	err    error
}

// classifyReadError maps a ReadMessage error to a log reason and, for
// unexpected failures, the error the session should report.
func classifyReadError(err error) readEnd {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		return readEnd{reason: "frame exceeded maximum size", err: err}
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		return readEnd{reason: "peer closed connection"}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isExpectedCloseError(err):
		return readEnd{reason: "connection closed"}
	case websocket.IsUnexpectedCloseError(err):
		return readEnd{reason: "unexpected close", err: err}
	default:
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return readEnd{reason: "keepalive timeout", err: err}
		}
		return readEnd{reason: "read error", err: err}
	}
}
