// Package session runs one chat connection: a write pump that forwards hub
// frames to the peer, a read pump that dispatches the peer's envelopes, and
// the cleanup that keeps the roster in step with live connections.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/relaychat/internal/hub"
	"github.com/Tyrowin/relaychat/internal/protocol"
)

// Observer receives per-session events that are worth counting.
type Observer interface {
	RateLimited()
	FallbackUsed()
}

type nopObserver struct{}

func (nopObserver) RateLimited()  {}
func (nopObserver) FallbackUsed() {}

// Options tunes a Session. Zero durations disable the matching deadline or
// keepalive, and a zero RateLimit disables rate limiting.
type Options struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration

	RateLimit rate.Limit
	RateBurst int

	Observer Observer
	Logger   *zap.Logger
	Now      func() time.Time
}

// Session owns one transport and one hub subscription from accept to cleanup.
type Session struct {
	id       string
	conn     Transport
	sub      *hub.Subscription
	pub      Publisher
	roster   *Roster
	opts     Options
	log      *zap.Logger
	limiter  *rate.Limiter
	observer Observer
	now      func() time.Time

	mu       sync.Mutex
	nickname string
}

// New creates a Session for the connection identified by id. The session
// takes ownership of conn and sub; both are released when Run returns.
func New(id string, conn Transport, sub *hub.Subscription, pub Publisher, roster *Roster, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		id:       id,
		conn:     conn,
		sub:      sub,
		pub:      pub,
		roster:   roster,
		opts:     opts,
		log:      log.With(zap.String("conn", id), zap.String("session", uuid.NewString())),
		observer: opts.Observer,
		now:      opts.Now,
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return s
}

// ID returns the connection identity.
func (s *Session) ID() string {
	return s.id
}

// Nickname returns the registered display name, if any.
func (s *Session) Nickname() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nickname, s.nickname != ""
}

// Run drives the session until the peer goes away, the transport fails, the
// subscription ends or ctx is cancelled. When either pump stops the other is
// cancelled, then the subscription is released and the connection is removed
// from the roster. Expected disconnects yield a nil error.
func (s *Session) Run(ctx context.Context) error {
	s.log.Info("session started")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.writePump(gctx)
	})
	g.Go(func() error {
		defer cancel()
		return s.readPump()
	})
	g.Go(func() error {
		<-gctx.Done()
		s.closeTransport()
		return nil
	})
	err := g.Wait()

	s.sub.Close()
	s.leave()

	if err != nil {
		s.log.Warn("session ended with error", zap.Error(err))
	} else {
		s.log.Info("session ended")
	}
	return err
}

// leave removes the connection from the roster. Calling it again is a no-op.
func (s *Session) leave() {
	if s.roster.Leave(s.id) {
		s.log.Debug("roster updated after disconnect")
	}
}

func (s *Session) closeTransport() {
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Warn("error closing connection", zap.Error(err))
	}
}

// displayName is the nickname, or the connection identity before registration.
func (s *Session) displayName() string {
	if name, ok := s.Nickname(); ok {
		return name
	}
	return s.id
}

// readPump reads frames from the peer until the transport fails or closes.
func (s *Session) readPump() error {
	s.setupReadConnection()

	for {
		messageType, raw, err := s.conn.ReadMessage()
		if err != nil {
			end := classifyReadError(err)
			if end.err != nil {
				s.log.Warn("read pump stopped", zap.String("reason", end.reason), zap.Error(err))
			} else {
				s.log.Info("read pump stopped", zap.String("reason", end.reason))
			}
			return end.err
		}

		if messageType != websocket.TextMessage {
			s.log.Debug("ignoring non-text frame", zap.Int("type", messageType))
			continue
		}

		if !s.checkRateLimit() {
			continue
		}

		s.dispatch(raw)
	}
}

// setupReadConnection configures the read deadline and pong handler used for keepalive.
func (s *Session) setupReadConnection() {
	if s.opts.PongWait <= 0 {
		return
	}
	if err := s.conn.SetReadDeadline(s.now().Add(s.opts.PongWait)); err != nil {
		s.log.Warn("error setting initial read deadline", zap.Error(err))
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(s.now().Add(s.opts.PongWait)); err != nil {
			s.log.Warn("error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (s *Session) checkRateLimit() bool {
	if s.limiter == nil || s.limiter.Allow() {
		return true
	}
	s.observer.RateLimited()
	s.log.Warn("rate limit exceeded, discarding frame",
		zap.Float64("limit_per_second", float64(s.opts.RateLimit)),
		zap.Int("burst", s.limiter.Burst()))
	return false
}

// dispatch handles one inbound frame. It never ends the session.
func (s *Session) dispatch(raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		s.log.Debug("relaying non-envelope frame as text", zap.Error(err))
		s.observer.FallbackUsed()
		s.publishChat(s.displayName(), string(raw))
		return
	}

	switch env.Kind {
	case protocol.KindRegister:
		s.handleRegister(env.Data)
	case protocol.KindMessage:
		s.handleMessage(env.Data)
	case protocol.KindUsers:
		s.log.Debug("ignoring users envelope from client")
	}
}

func (s *Session) handleRegister(requested string) {
	name := strings.TrimSpace(requested)
	if name == "" {
		s.log.Warn("ignoring register with empty name")
		return
	}

	// The registry entry exists even if the broadcast failed, so the session
	// adopts the name either way.
	_, err := s.roster.Join(s.id, name)
	s.mu.Lock()
	s.nickname = name
	s.mu.Unlock()
	if err != nil {
		s.log.Error("failed to broadcast roster", zap.Error(err))
	}
}

func (s *Session) handleMessage(body string) {
	name, ok := s.Nickname()
	if !ok {
		s.log.Debug("discarding message from unregistered connection")
		return
	}
	s.publishChat(name, body)
}

func (s *Session) publishChat(from, body string) {
	frame, err := protocol.ChatFrame(protocol.ChatMessage{
		From:    from,
		Message: body,
		Time:    protocol.Millis(s.now()),
	})
	if err != nil {
		s.log.Error("failed to encode chat message", zap.Error(err))
		return
	}
	n := s.pub.Publish(frame)
	s.log.Debug("chat message published", zap.String("from", from), zap.Int("subscribers", n))
}

// writePump forwards hub frames to the peer and keeps the connection alive
// with pings.
func (s *Session) writePump(ctx context.Context) error {
	var ping <-chan time.Time
	if s.opts.PingPeriod > 0 {
		ticker := time.NewTicker(s.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case frame, ok := <-s.sub.Frames():
			if !ok {
				s.writeCloseMessage()
				s.log.Info("write pump stopped", zap.String("reason", "subscription closed"))
				return nil
			}
			if err := s.writeFrame(websocket.TextMessage, frame); err != nil {
				return s.writeFailed("error writing frame", err)
			}

		case <-ping:
			if err := s.writeFrame(websocket.PingMessage, nil); err != nil {
				return s.writeFailed("error writing ping", err)
			}
		}
	}
}

func (s *Session) writeFrame(messageType int, data []byte) error {
	if s.opts.WriteWait > 0 {
		if err := s.conn.SetWriteDeadline(s.now().Add(s.opts.WriteWait)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(messageType, data)
}

// writeFailed logs a write error. Errors caused by the connection already
// being closed are expected and end the pump quietly.
func (s *Session) writeFailed(msg string, err error) error {
	if isExpectedCloseError(err) {
		s.log.Info("write pump stopped", zap.String("reason", "connection closed"))
		return nil
	}
	s.log.Warn(msg, zap.Error(err))
	return err
}

// writeCloseMessage tells the peer the server is going away.
func (s *Session) writeCloseMessage() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	if err := s.writeFrame(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		s.log.Debug("error writing close message", zap.Error(err))
	}
}
