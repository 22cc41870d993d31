package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NatureBlueee/Towow-sub000/api/handlers"
	"github.com/NatureBlueee/Towow-sub000/logging"
)

// ServerConfig holds the listener and rate limit settings.
type ServerConfig struct {
	Port      int
	RateLimit int // requests per minute per client, 0 disables
	RateBurst int
	Debug     bool
}

// Server is the REST and websocket front of a node.
type Server struct {
	router *gin.Engine
	http   *http.Server
}

// NewServer builds the router and registers every route.
func NewServer(cfg ServerConfig, h *handlers.Handler) (*Server, error) {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())

	var limit gin.HandlerFunc
	if cfg.RateLimit > 0 {
		l, err := RateLimit(cfg.RateLimit, cfg.RateBurst)
		if err != nil {
			return nil, err
		}
		limit = l
	}
	SetupRoutes(router, h, limit)

	return &Server{
		router: router,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logging.For("api").WithField("addr", s.http.Addr).Info("Starting API server")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
