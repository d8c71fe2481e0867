package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/relaychat/internal/hub"
	"github.com/Tyrowin/relaychat/internal/registry"
	"github.com/Tyrowin/relaychat/internal/session"
)

// Server is the accept side of the relay. Each upgraded connection gets its
// own hub subscription and session; all sessions share one roster.
type Server struct {
	cfg      Config
	log      *zap.Logger
	hub      *hub.Hub
	registry *registry.Registry
	roster   *session.Roster
	metrics  *Metrics
	origins  *originPolicy
	upgrader websocket.Upgrader
	engine   *gin.Engine

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// New creates a Server from cfg. A nil cfg uses defaults and a nil logger
// discards output.
func New(cfg *Config, log *zap.Logger) *Server {
	if cfg == nil {
		cfg = NewConfig()
	}
	if log == nil {
		log = zap.NewNop()
	}
	sanitized := sanitize(*cfg)

	h := hub.New(hub.WithBuffer(sanitized.SubscriberBuffer), hub.WithLogger(log.Named("hub")))
	reg := registry.New()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:      sanitized,
		log:      log,
		hub:      h,
		registry: reg,
		roster:   session.NewRoster(reg, h, log.Named("roster")),
		metrics:  NewMetrics(h, reg),
		origins:  newOriginPolicy(sanitized.AllowedOrigins, log),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	s.engine = s.SetupRoutes()
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Hub returns the broadcast hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Registry returns the user registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Metrics returns the relay metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) sessionOptions() session.Options {
	return session.Options{
		WriteWait:  s.cfg.WriteWait,
		PongWait:   s.cfg.PongWait,
		PingPeriod: s.cfg.PingPeriod,
		RateLimit:  s.cfg.RateLimit.Limit(),
		RateBurst:  s.cfg.RateLimit.Burst,
		Observer:   s.metrics,
		Logger:     s.log.Named("session"),
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// serve hands conn to a new session running on its own goroutine. The
// subscription is taken before the session reads anything, so the client
// sees the roster broadcast caused by its own registration.
func (s *Server) serve(conn session.Transport, id string) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		if err := conn.Close(); err != nil {
			s.log.Debug("error closing connection refused during shutdown", zap.Error(err))
		}
		return
	}
	s.sessions.Add(1)
	s.mu.Unlock()

	sess := session.New(id, conn, s.hub.Subscribe(), s.hub, s.roster, s.sessionOptions())
	go func() {
		defer s.sessions.Done()
		// Run logs its own outcome; the error stays contained in this connection.
		_ = sess.Run(s.ctx)
	}()
}

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it exits.
// http.ErrServerClosed is reported as a nil error.
func (s *Server) StartServer(httpServer *http.Server) error {
	s.log.Info("server listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ShutdownServer stops the HTTP listener, then the sessions. Established
// websocket connections are hijacked, so the HTTP shutdown does not wait for
// them; Shutdown handles those.
func (s *Server) ShutdownServer(httpServer *http.Server, timeout time.Duration) error {
	s.log.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		s.log.Warn("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.log.Info("HTTP server shutdown completed")
	return s.Shutdown(timeout)
}

// Shutdown closes the hub, which ends every session's write pump with a
// close frame, and waits for the sessions to finish. Sessions still running
// when the timeout passes are cancelled.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()
	defer s.cancel()

	s.log.Info("initiating relay shutdown", zap.Int("connections", s.hub.Len()))
	s.hub.Close()

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("relay shutdown completed")
		return nil
	case <-time.After(timeout):
		s.log.Warn("relay shutdown timeout reached, cancelling remaining sessions")
		return context.DeadlineExceeded
	}
}
