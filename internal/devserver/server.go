// Package devserver is a small reference implementation of the chat
// backend, good enough to exercise the client end to end: REST API,
// websocket push, sqlite persistence, and a canned streaming bot.
package devserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/coopchat/coopchat-client/internal/auth"
	"github.com/coopchat/coopchat-client/internal/config"
	"github.com/coopchat/coopchat-client/internal/store"
	"github.com/coopchat/coopchat-client/internal/store/sqlite"
)

// Server hosts the REST API and the websocket endpoint.
type Server struct {
	cfg   config.DevServer
	log   *zerolog.Logger
	store store.Store
	auth  *auth.Service
	hub   *hub

	httpServer *http.Server
}

// New builds the server with a sqlite store at the configured path.
func New(cfg config.DevServer, logger *zerolog.Logger) (*Server, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret: []byte(cfg.JWTSecret),
		Issuer: "coopchat-devserver",
		TTL:    24 * time.Hour,
	}

	s := &Server{
		cfg:   cfg,
		log:   logger,
		store: st,
		auth:  auth.NewService(st, jwtConfig),
		hub:   newHub(logger),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s, nil
}

// Handler exposes the HTTP handler, used by tests with httptest.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/ws", s.handleWS)

	api := r.Group("/api")
	api.POST("/register", s.handleRegister)
	api.POST("/login", s.handleLogin)

	authed := api.Group("", s.authMiddleware())
	authed.GET("/me", s.handleMe)
	authed.GET("/users/search", s.handleSearchUsers)
	authed.GET("/chats", s.handleListChats)
	authed.POST("/chats", s.handleCreateChat)
	authed.GET("/chats/:id", s.handleGetChat)
	authed.POST("/chats/:id/invite", s.handleInvite)
	authed.GET("/chats/:id/messages", s.handleListMessages)
	authed.GET("/chats/:id/participants", s.handleListParticipants)
	authed.POST("/chats/:id/mark-read", s.handleMarkRead)
	authed.GET("/chats/:id/read-receipts", s.handleReadReceipts)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()
	s.log.Info().Str("addr", s.cfg.Addr).Msg("dev server listening")

	select {
	case err := <-serverErr:
		s.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		s.log.Info().Msg("shutting down dev server")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.cleanup()
			return err
		}
		s.cleanup()
		return <-serverErr
	}
}

func (s *Server) cleanup() {
	if err := s.store.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to close store")
	}
}
