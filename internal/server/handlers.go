package server

import (
	_ "embed"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

//go:embed testpage.html
var testPage []byte

const healthBody = "relaychat server is running!"

// WebSocketHandler upgrades the request and hands the connection to a new
// session. The connection identity is the peer address.
func (s *Server) WebSocketHandler(c *gin.Context) {
	if s.isClosing() {
		c.String(http.StatusServiceUnavailable, "server is shutting down")
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written an error response.
		s.log.Warn("websocket upgrade failed", zap.String("remote", c.Request.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	s.serve(conn, c.Request.RemoteAddr)
}

// UsersHandler returns the current roster as JSON.
func (s *Server) UsersHandler(c *gin.Context) {
	users := s.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"users": users,
		"count": len(users),
	})
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(c *gin.Context) {
	c.String(http.StatusOK, healthBody)
}

// TestPageHandler serves a browser page for trying the relay by hand.
func TestPageHandler(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", testPage)
}

// requestLogger logs every HTTP request once the handler has finished.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("remote", c.Request.RemoteAddr))
	}
}
