// Package testhelpers provides common utilities for end-to-end tests of the relay.
//
// It contains reusable helpers for making HTTP requests, dialing websocket
// connections and exchanging protocol envelopes, so the tests of the server
// and client packages stay focused on behavior.
package testhelpers

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

// DefaultOrigin is the origin allowed by the default server configuration.
const DefaultOrigin = "http://localhost:8080"

// ReadTimeout bounds every helper read so a missing frame fails the test
// instead of hanging it.
const ReadTimeout = 2 * time.Second

// WebSocketURL converts an httptest server URL into the websocket endpoint URL.
func WebSocketURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
}

// MakeRequest creates and executes an HTTP request, returning the response
// and its body. It includes a 5-second timeout and fails the test if the
// request cannot be executed successfully.
func MakeRequest(t *testing.T, method, url string) (*http.Response, string) {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "failed to create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "failed to make request")
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "failed to read response body")
	return resp, string(body)
}

// ConnectWebSocket creates a websocket connection to url with the given
// Origin header. An empty origin sends no Origin header at all. The HTTP
// response is returned so rejected handshakes can be inspected.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials url with DefaultOrigin and closes the connection when the
// test ends.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := ConnectWebSocket(url, DefaultOrigin)
	require.NoError(t, err, "failed to connect to websocket")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Register sends a register envelope with name.
func Register(t *testing.T, conn *websocket.Conn, name string) {
	t.Helper()

	frame, err := protocol.RegisterFrame(name)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// Say sends a message envelope with body.
func Say(t *testing.T, conn *websocket.Conn, body string) {
	t.Helper()

	frame, err := protocol.MessageFrame(body)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// SendRaw sends text as a single text frame without any envelope.
func SendRaw(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(text)))
}

// ReadEnvelope reads the next text frame and decodes it as an envelope.
func ReadEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(ReadTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err, "failed to read frame")

	env, err := protocol.Decode(data)
	require.NoError(t, err, "frame is not an envelope: %s", data)
	return env
}

// ReadUsers reads frames until a users envelope arrives and returns its roster.
func ReadUsers(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	return ReadKind(t, conn, protocol.KindUsers).DataArray
}

// ReadChat reads frames until a message envelope arrives and returns its payload.
func ReadChat(t *testing.T, conn *websocket.Conn) protocol.ChatMessage {
	t.Helper()

	msg, err := protocol.DecodeChat(ReadKind(t, conn, protocol.KindMessage))
	require.NoError(t, err)
	return msg
}

// ReadKind reads frames until one of the given kind arrives, skipping others.
func ReadKind(t *testing.T, conn *websocket.Conn, kind protocol.Kind) protocol.Envelope {
	t.Helper()

	for {
		env := ReadEnvelope(t, conn)
		if env.Kind == kind {
			return env
		}
	}
}

// ExpectClosed asserts that the next read fails, which happens once the peer
// has closed the connection.
func ExpectClosed(t *testing.T, conn *websocket.Conn) error {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(ReadTimeout)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
	}
}

// CloseWebSocket gracefully closes a websocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
