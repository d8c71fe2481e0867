package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns the gin engine with all application routes:
// health check, websocket endpoint, roster, metrics and the test page.
func (s *Server) SetupRoutes() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), requestLogger(s.log.Named("http")))

	r.GET("/", HealthHandler)
	r.HEAD("/", HealthHandler)
	r.GET("/ws", s.WebSocketHandler)
	r.GET("/users", s.UsersHandler)
	r.GET("/test", TestPageHandler)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	return r
}
