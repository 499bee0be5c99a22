package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vorpalengineering/x402-agent/catalog"
	"github.com/vorpalengineering/x402-agent/logger"
	"github.com/vorpalengineering/x402-agent/metrics"
	"github.com/vorpalengineering/x402-agent/resource/middleware"
	"github.com/vorpalengineering/x402-agent/settlement"
	"github.com/vorpalengineering/x402-agent/types"
)

// Server sells catalog products under /resources/:id
type Server struct {
	config   *Config
	catalog  *catalog.Catalog
	engine   *settlement.Engine
	router   *gin.Engine
	log      logger.Logger
	observer types.Observer
	registry *prometheus.Registry
}

type Option func(*Server)

// WithObserver receives every engine event alongside the phase counters
func WithObserver(o types.Observer) Option {
	return func(s *Server) {
		s.observer = o
	}
}

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.log = logger.OrNoop(l)
	}
}

// NewServer wires the catalog and ledger into a settlement engine behind the
// payment middleware.
func NewServer(cfg *Config, cat *catalog.Catalog, ledger settlement.Ledger, opts ...Option) *Server {
	s := &Server{
		config:   cfg,
		catalog:  cat,
		log:      logger.NoopLogger{},
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	recorder := metrics.NewPrometheusRecorder(s.registry)
	s.engine = settlement.NewEngine(cat, ledger,
		settlement.WithLogger(s.log),
		settlement.WithMetrics(recorder),
		settlement.WithObserver(types.Observers(metrics.EventObserver(recorder), s.observer)),
	)

	s.router = gin.New()
	s.router.Use(gin.Recovery(), logger.GinMiddleware(s.log))

	paywall := middleware.NewX402Middleware(&middleware.MiddlewareConfig{
		ProtectedPaths:   []string{"/resources/*"},
		PublicURL:        cfg.PublicURL,
		DiscoveryEnabled: cfg.Discovery,
	}, s.engine)
	s.router.Use(paywall.Handler())

	s.router.GET("/catalog", cat.Handler())
	s.router.GET("/resources/:id", s.handleResource)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler(s.registry)))

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("resource server listening", map[string]any{"addr": server.Addr})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("resource server shutting down", nil)
		return server.Shutdown(shutdownCtx)
	}
}

// handleResource runs only after the middleware settled the payment
func (s *Server) handleResource(ctx *gin.Context) {
	product, ok := s.catalog.Product(ctx.Param("id"))
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"success": false, "error": "unknown resource"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success":          true,
		"resourceId":       product.ID,
		"paymentReference": middleware.PaymentReference(ctx),
		"data":             product.Content,
	})
}
