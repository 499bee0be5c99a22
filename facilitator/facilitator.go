package facilitator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/vorpalengineering/x402-agent/logger"
	"github.com/vorpalengineering/x402-agent/metrics"
	"github.com/vorpalengineering/x402-agent/types"
)

type Facilitator struct {
	config      *FacilitatorConfig
	router      *gin.Engine
	chain       Chain
	nonces      *NonceStore
	settlements *SettlementStore
	log         logger.Logger
	metrics     metrics.Recorder
	registry    *prometheus.Registry
	now         func() time.Time
}

type Option func(*Facilitator)

// WithChain replaces the JSON-RPC chain, mainly for tests
func WithChain(chain Chain) Option {
	return func(f *Facilitator) {
		f.chain = chain
	}
}

func WithLogger(l logger.Logger) Option {
	return func(f *Facilitator) {
		f.log = logger.OrNoop(l)
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Facilitator) {
		f.now = now
	}
}

func NewFacilitator(cfg *FacilitatorConfig, opts ...Option) *Facilitator {
	f := &Facilitator{
		config:      cfg,
		nonces:      NewNonceStore(),
		settlements: NewSettlementStore(),
		log:         logger.NoopLogger{},
		registry:    prometheus.NewRegistry(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.chain == nil {
		f.chain = NewEthChain(cfg)
	}
	f.nonces.now = f.now
	f.metrics = metrics.NewPrometheusRecorder(f.registry)

	f.router = gin.New()
	f.router.Use(gin.Recovery(), logger.GinMiddleware(f.log))
	f.registerRoutes()

	return f
}

func (f *Facilitator) registerRoutes() {
	f.router.POST("/verify", f.handleVerify)
	f.router.POST("/settle", f.handleSettle)
	f.router.GET("/supported", f.handleSupported)
	f.router.GET("/settlements/:reference", f.handleSettlementStatus)
	f.router.GET("/metrics", gin.WrapH(metrics.Handler(f.registry)))
}

func (f *Facilitator) Handler() http.Handler {
	return f.router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (f *Facilitator) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              f.config.Addr(),
		Handler:           f.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		f.log.Info("facilitator listening", map[string]any{"addr": server.Addr})
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
		f.log.Info("facilitator shutting down", nil)
		return server.Shutdown(shutdownCtx)
	}
}

func (f *Facilitator) Close() error {
	if closer, ok := f.chain.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (f *Facilitator) handleVerify(ctx *gin.Context) {
	start := f.now()

	// Decode request
	var req types.VerifyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	network := req.PaymentRequirements.Network
	defer func() {
		f.metrics.ObserveLatency("verify", f.now().Sub(start), map[string]string{"network": network})
	}()

	verified, reason, err := f.verifyPayment(ctx.Request.Context(), req.PaymentHeader, &req.PaymentRequirements)
	if err != nil {
		f.log.Error("verification unavailable", map[string]any{"network": network, "error": err})
		ctx.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
		})
		return
	}

	if reason != "" {
		f.metrics.IncCounter("verify_invalid", map[string]string{"network": network})
		f.log.Debug("payment invalid", map[string]any{"network": network, "reason": reason})
		ctx.JSON(http.StatusOK, types.VerifyResponse{
			IsValid:       false,
			InvalidReason: reason,
		})
		return
	}

	f.metrics.IncCounter("verify_valid", map[string]string{"network": network})
	ctx.JSON(http.StatusOK, types.VerifyResponse{
		IsValid: true,
		Payer:   verified.payer.Hex(),
	})
}

func (f *Facilitator) handleSettle(ctx *gin.Context) {
	start := f.now()

	// Decode request
	var req types.SettleRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	network := req.PaymentRequirements.Network
	defer func() {
		f.metrics.ObserveLatency("settle", f.now().Sub(start), map[string]string{"network": network})
	}()

	res, err := f.settlePayment(ctx.Request.Context(), &req)
	if err != nil {
		f.log.Error("settlement unavailable", map[string]any{"network": network, "error": err})
		ctx.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
		})
		return
	}

	if res.Success {
		f.metrics.IncCounter("settle_success", map[string]string{"network": network})
	} else {
		f.metrics.IncCounter("settle_failed", map[string]string{"network": network})
	}
	ctx.JSON(http.StatusOK, res)
}

func (f *Facilitator) handleSupported(ctx *gin.Context) {
	kinds := make([]types.SchemeNetworkPair, len(f.config.Supported))
	copy(kinds, f.config.Supported)

	ctx.JSON(http.StatusOK, types.SupportedResponse{
		Kinds: kinds,
	})
}

func (f *Facilitator) handleSettlementStatus(ctx *gin.Context) {
	reference := ctx.Param("reference")

	status, err := f.settlementStatus(ctx.Request.Context(), reference)
	if err != nil {
		ctx.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
		})
		return
	}
	if status == nil {
		ctx.JSON(http.StatusNotFound, gin.H{
			"error": "unknown settlement reference: " + reference,
		})
		return
	}

	ctx.JSON(http.StatusOK, status)
}
