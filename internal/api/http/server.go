package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sitedock/sitedock/internal/api/middleware"
	"github.com/sitedock/sitedock/internal/infrastructure/config"
	"github.com/sitedock/sitedock/internal/infrastructure/logging"
	"github.com/sitedock/sitedock/internal/ws"
)

// Server is the loopback control API server.
type Server struct {
	router *gin.Engine
	srv    *http.Server
	log    *logging.Logger
}

// NewServer builds the router and registers all routes.
func NewServer(
	cfg *config.Config,
	handlers *Handlers,
	hub *ws.Hub,
	registry *prometheus.Registry,
	log *logging.Logger,
) *Server {
	if log == nil {
		log = logging.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.RateLimit(cfg.RateLimit))

	router.GET("/health", handlers.Health)

	router.GET("/sites", handlers.ListSites)
	router.POST("/sites", handlers.AddSite)
	router.DELETE("/sites/:id", handlers.RemoveSite)
	router.POST("/sites/:id/reorder", handlers.ReorderSite)
	router.POST("/sites/:id/focus", handlers.FocusSite)

	router.GET("/sessions", handlers.ListSessions)
	router.GET("/sessions/:id", handlers.GetSession)

	router.GET("/window", handlers.GetWindow)
	router.PUT("/window", handlers.PutWindow)

	router.POST("/navigation/decide", handlers.Decide)

	router.GET("/filter/status", handlers.FilterStatus)
	router.POST("/filter/refresh", handlers.RefreshFilter)

	router.GET("/stream", hub.HandleConnection)

	if registry != nil {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	return &Server{
		router: router,
		srv: &http.Server{
			Addr:              net.JoinHostPort(cfg.API.Host, cfg.API.Port),
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("control api listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control api failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Router exposes the underlying router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
