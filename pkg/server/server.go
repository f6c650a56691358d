// Package server exposes a conversational agent over HTTP. Every session id
// maps to its own agent instance sharing one model, so concurrent
// conversations train and rank against the same embedding space.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/starspace"
	"github.com/soundprediction/starspace/pkg/config"
	"github.com/soundprediction/starspace/pkg/server/handlers"
	"github.com/soundprediction/starspace/pkg/session"
	"github.com/soundprediction/starspace/pkg/telemetry"
)

// Server represents the HTTP server
type Server struct {
	config *config.Config
	logger *slog.Logger
	router *gin.Engine
	agents *handlers.Agents
	server *http.Server
}

// New creates a new server instance. store may be nil to disable session
// persistence.
func New(cfg *config.Config, agent *starspace.Agent, store *session.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: cfg,
		logger: logger,
		agents: handlers.NewAgents(agent, store, logger),
	}
}

// Setup sets up the server routes and middleware
func (s *Server) Setup() {
	gin.SetMode(s.config.Server.Mode)

	s.router = gin.New()
	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())
	s.router.Use(contextMiddleware())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

// setupRoutes sets up all the routes
func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.agents)
	agentHandler := handlers.NewAgentHandler(s.agents)
	modelHandler := handlers.NewModelHandler(s.agents)
	sessionHandler := handlers.NewSessionHandler(s.agents)

	// Health endpoints
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/ready", healthHandler.ReadinessCheck)
	s.router.GET("/live", healthHandler.LivenessCheck)
	s.router.GET("/health/detailed", healthHandler.DetailedHealthCheck)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/act", agentHandler.Act)
		v1.POST("/rank", agentHandler.Rank)

		v1.GET("/agent", modelHandler.AgentInfo)
		v1.GET("/model", modelHandler.Info)
		v1.POST("/model/save", modelHandler.Save)
		v1.GET("/neighbors/:token", modelHandler.Neighbors)

		sessions := v1.Group("/sessions")
		{
			sessions.GET("", sessionHandler.List)
			sessions.GET("/:id", sessionHandler.Info)
			sessions.DELETE("/:id", sessionHandler.Delete)
		}
	}
}

// Router returns the configured handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the server
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// contextMiddleware threads request identifiers into the context so error
// telemetry can attribute records to a conversation.
func contextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if sessionID := c.GetHeader("X-Session-ID"); sessionID != "" {
			ctx = context.WithValue(ctx, telemetry.ContextKeySessionID, sessionID)
		}
		ctx = context.WithValue(ctx, telemetry.ContextKeyRequestSource, "server")

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
