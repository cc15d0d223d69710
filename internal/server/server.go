package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spigell/intern-allocator/internal/cycle"
	"github.com/spigell/intern-allocator/internal/internship"
	"go.uber.org/zap"
)

const (
	DefaultListen        = ":8080"
	DefaultManualTimeout = 2 * time.Minute

	shutdownTimeout = 10 * time.Second
)

var releaseMode sync.Once

type cycleRunner interface {
	RunCycle(ctx context.Context, trigger cycle.Trigger, includeExpiry bool) (*cycle.Report, error)
}

type applications interface {
	Submit(ctx context.Context, applicantID, postingID int64) (*internship.Application, error)
	Score(ctx context.Context, applicantID, postingID int64) (int, error)
	Confirm(ctx context.Context, applicationID int64) (*internship.Application, error)
}

type Config struct {
	Listen        string
	AdminToken    string
	ManualTimeout time.Duration
}

type Deps struct {
	Cycles       cycleRunner
	Applications applications
	Gatherer     prometheus.Gatherer
	Logger       *zap.Logger
}

// Server exposes the allocator over HTTP.
type Server struct {
	cfg    Config
	deps   Deps
	engine *gin.Engine
	logger *zap.Logger
}

func New(cfg Config, deps Deps) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	if cfg.ManualTimeout <= 0 {
		cfg.ManualTimeout = DefaultManualTimeout
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	releaseMode.Do(func() { gin.SetMode(gin.ReleaseMode) })
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(deps.Logger))

	s := &Server{cfg: cfg, deps: deps, engine: engine, logger: deps.Logger}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/api")
	api.POST("/applications", s.submit)
	api.GET("/score", s.score)

	admin := api.Group("/admin", s.requireAdmin)
	admin.POST("/trigger-allocation", s.triggerAllocation)
	admin.POST("/applications/:id/confirm", s.confirm)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("listen", s.cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}
