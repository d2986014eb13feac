// Package server exposes the operational HTTP API: flow control, ticket
// and topology views, metrics, and the WebSocket event stream
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	glog "github.com/gin-contrib/slog"
	"github.com/gin-gonic/gin"
	"github.com/kode4food/timebox"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coastline-io/flotilla/internal/engine"
	"github.com/coastline-io/flotilla/internal/watcher"
	"github.com/coastline-io/flotilla/pkg/api"
)

// Server implements the HTTP API server for the orchestrator
type Server struct {
	engine   *engine.Engine
	watcher  *watcher.Watcher
	eventHub *timebox.EventHub
	sockets  map[*Client]struct{}
	mu       sync.Mutex
}

const (
	serviceName    = "flotilla"
	serviceVersion = "1.0.0"
)

var (
	// ErrGetEngineState is returned when the engine state cannot be
	// retrieved
	ErrGetEngineState = errors.New("failed to get engine state")

	// ErrWatcherDisabled is returned when the watch endpoints are queried
	// on a runtime started without a watcher
	ErrWatcherDisabled = errors.New("watcher not enabled")
)

// NewServer creates a new HTTP API server. The watcher may be nil when the
// runtime was started without remediation
func NewServer(
	eng *engine.Engine, w *watcher.Watcher, hub *timebox.EventHub,
) *Server {
	return &Server{
		engine:   eng,
		watcher:  w,
		eventHub: hub,
		sockets:  map[*Client]struct{}{},
	}
}

// SetupRoutes configures and returns the HTTP router with all API endpoints
func (s *Server) SetupRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(glog.SetLogger(
		glog.WithLogger(func(c *gin.Context, l *slog.Logger) *slog.Logger {
			return slog.Default()
		}),
	))

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set(
			"Access-Control-Allow-Methods",
			"GET, POST, PUT, DELETE, OPTIONS",
		)
		c.Writer.Header().Set(
			"Access-Control-Allow-Headers",
			"Content-Type, Authorization",
		)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	})

	// Health and metrics
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Engine endpoints
	eng := router.Group("/engine")
	{
		eng.GET("", s.handleEngine)
		eng.GET("/", s.handleEngine)

		// Flow endpoints
		eng.GET("/flow", s.listFlows)
		eng.POST("/flow", s.startFlow)
		eng.GET("/flow/:flowID", s.getFlow)
		eng.POST("/flow/:flowID/cancel", s.cancelFlow)
		eng.POST("/flow/:flowID/node/:nodeID/retry", s.retryNode)
		eng.POST("/flow/:flowID/gate/:nodeID/resume", s.resumeGate)

		// Ticket endpoints
		eng.GET("/ticket", s.listTickets)
		eng.POST("/ticket", s.createTicket)
		eng.GET("/ticket/:ticketID", s.getTicket)

		// Topology endpoints
		eng.GET("/topology", s.getTopology)
		eng.GET("/topology/history", s.topologyHistory)

		// Watcher endpoint
		eng.GET("/watch", s.getWatch)

		// WebSocket
		eng.GET("/ws", s.handleWebSocket)
	}

	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Service: serviceName,
		Version: serviceVersion,
		Status:  "healthy",
	})
}

func (s *Server) handleEngine(c *gin.Context) {
	engState, err := s.engine.GetEngineState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrGetEngineState, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, engState)
}

func (s *Server) getWatch(c *gin.Context) {
	if s.watcher == nil {
		c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{
			Error:  ErrWatcherDisabled.Error(),
			Status: http.StatusServiceUnavailable,
		})
		return
	}

	st, err := s.watcher.GetState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, st)
}

func (s *Server) registerWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sockets[c] = struct{}{}
}

func (s *Server) unregisterWebSocket(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sockets, c)
}

// CloseWebSockets closes all active WebSocket connections
func (s *Server) CloseWebSockets() {
	s.mu.Lock()
	conns := make([]*Client, 0, len(s.sockets))
	for c := range s.sockets {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
