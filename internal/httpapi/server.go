// Package httpapi exposes collection control, status polling and live
// progress over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ArticlesRanker/internal/domain"
	"ArticlesRanker/internal/ports"
	"ArticlesRanker/internal/status"
)

// Enqueuer accepts collection jobs.
type Enqueuer interface {
	Enqueue(job domain.CollectionJob) (domain.CollectionStatus, error)
}

// Subscriber streams live progress events.
type Subscriber interface {
	Subscribe(ctx context.Context, keywordID int64) (<-chan domain.Event, func())
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Queue     Enqueuer
	Statuses  *status.Store
	Keywords  ports.KeywordRepository
	Articles  ports.ArticleRepository
	Events    Subscriber
	Metrics   http.Handler
	Logger    *slog.Logger
	Heartbeat time.Duration
}

// Server wraps the gin engine in an http.Server.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the router and binds it to addr.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	engine := NewRouter(deps)
	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: deps.Logger,
	}
}

// NewRouter registers every route on a fresh engine.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = defaultHeartbeat
	}
	h := &handler{deps: deps}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(deps.Logger))

	engine.GET("/health", h.health)
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := engine.Group("/api/v1")
	v1.GET("/statuses", h.listStatuses)
	v1.GET("/events", h.events)

	kw := v1.Group("/keywords/:id")
	kw.POST("/collect", h.collect)
	kw.GET("/status", h.getStatus)
	kw.DELETE("/status", h.clearStatus)
	kw.GET("/articles", h.listArticles)

	return engine
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully within timeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.http.Shutdown(shutdownCtx)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
