// Package client is a line-mode terminal client for the relay. It sends each
// input line to the server and prints every frame it receives.
package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/relaychat/internal/protocol"
)

const closeWait = time.Second

// Options configure Dial.
type Options struct {
	// Origin is sent as the Origin header when non-empty.
	Origin           string
	HandshakeTimeout time.Duration
	// Out receives rendered frames. Defaults to io.Discard.
	Out      io.Writer
	Location *time.Location
	Logger   *zap.Logger
}

// Client is one connection to the relay.
type Client struct {
	conn *websocket.Conn
	out  io.Writer
	loc  *time.Location
	log  *zap.Logger

	outMu      sync.Mutex
	writeMu    sync.Mutex
	registered atomic.Bool
}

// Dial connects to the websocket endpoint at url.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 5 * time.Second
	}

	headers := http.Header{}
	if opts.Origin != "" {
		headers.Set("Origin", opts.Origin)
	}

	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: handshake status %d", url, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", url)
	}

	c := &Client{
		conn: conn,
		out:  opts.Out,
		loc:  opts.Location,
		log:  opts.Logger,
	}
	if c.out == nil {
		c.out = io.Discard
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c, nil
}

// Registered reports whether a register envelope has been sent.
func (c *Client) Registered() bool {
	return c.registered.Load()
}

// Register asks the server to list this connection under name.
func (c *Client) Register(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name must not be empty")
	}
	frame, err := protocol.RegisterFrame(name)
	if err != nil {
		return err
	}
	if err := c.write(websocket.TextMessage, frame); err != nil {
		return err
	}
	c.registered.Store(true)
	return nil
}

// Say sends body as a message envelope once registered, and as raw text
// before that, in which case the server relays it under the connection id.
func (c *Client) Say(body string) error {
	if !c.Registered() {
		return c.write(websocket.TextMessage, []byte(body))
	}
	frame, err := protocol.MessageFrame(body)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, frame)
}

// Close sends a normal close frame and closes the connection.
func (c *Client) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	c.writeMu.Unlock()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.log.Debug("error writing close message", zap.Error(err))
	}
	return c.conn.Close()
}

func (c *Client) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return errors.Wrap(c.conn.WriteMessage(messageType, data), "write frame")
}

// Run relays lines from in to the server and prints received frames until
// the user quits, in ends, the server closes the connection or ctx is done.
func (c *Client) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go scanLines(ctx, in, lines)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return c.sendLoop(gctx, lines)
	})
	g.Go(func() error {
		defer cancel()
		return c.receiveLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = c.Close()
		return nil
	})
	return g.Wait()
}

// scanLines feeds lines from in until it ends. It is not cancellable while
// blocked in a read, so it runs outside the group and exits on the next line.
func scanLines(ctx context.Context, in io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendLoop(ctx context.Context, lines <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := c.handleLine(line)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

func (c *Client) handleLine(line string) (bool, error) {
	cmd := ParseLine(line)
	switch cmd.Kind {
	case CommandQuit:
		return true, nil
	case CommandNick:
		if err := c.Register(cmd.Arg); err != nil {
			c.printLine(fmt.Sprintf("* %v", err))
		}
	case CommandSay:
		if err := c.Say(cmd.Arg); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (c *Client) receiveLoop(ctx context.Context) error {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.printLine("* server closed connection")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "read frame")
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.printLine(Render(data, c.loc))
	}
}

func (c *Client) printLine(line string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintln(c.out, line)
}
