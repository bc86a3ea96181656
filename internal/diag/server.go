package diag

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/weakreg/internal/collector"
	"github.com/danmuck/weakreg/internal/logging"
	"github.com/danmuck/weakreg/internal/observability"
	"github.com/danmuck/weakreg/internal/weakref"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const shutdownGrace = 5 * time.Second

// Config configures the diagnostics server.
type Config struct {
	Name        string
	CorsOrigins []string
}

// Server exposes one registry and its collector over HTTP.
type Server struct {
	name     string
	reg      *weakref.Registry
	col      *collector.Collector
	router   *gin.Engine
	appeared time.Time
	log      zerolog.Logger
}

func NewServer(cfg Config, reg *weakref.Registry, col *collector.Collector) *Server {
	if cfg.Name == "" {
		cfg.Name = "weakrefctl"
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		name:     cfg.Name,
		reg:      reg,
		col:      col,
		router:   gin.New(),
		appeared: time.Now(),
		log:      logging.For("diag"),
	}
	s.router.Use(gin.Recovery())
	s.router.Use(observability.RequestLogger(s.log, "/health", "/ready", "/metrics"))
	s.router.Use(observability.RequestMetricsMiddleware(s.name))
	if len(cfg.CorsOrigins) > 0 {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CorsOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("diagnostics listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info().Msg("diagnostics stopped")
		return nil
	}
}
