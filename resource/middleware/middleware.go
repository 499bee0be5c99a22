package middleware

import (
	"context"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/vorpalengineering/x402-agent/settlement"
)

// Context keys set for downstream handlers after settlement
const (
	ContextKeyResourceID       = "x402_resource_id"
	ContextKeyPaymentReference = "x402_payment_reference"
	ContextKeyPayer            = "x402_payer"
	ContextKeyRequirements     = "x402_payment_requirements"
)

// Decider is satisfied by *settlement.Engine
type Decider interface {
	Decide(ctx context.Context, in settlement.Input) *settlement.Result
}

type X402Middleware struct {
	config *MiddlewareConfig
	engine Decider
}

func NewX402Middleware(cfg *MiddlewareConfig, engine Decider) *X402Middleware {
	return &X402Middleware{
		config: cfg,
		engine: engine,
	}
}

// Handler settles payment before the protected handler runs; the handler
// only executes once the ledger has settled the proof.
func (m *X402Middleware) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		// Serve discovery endpoint if enabled
		if m.config.DiscoveryEnabled && ctx.Request.URL.Path == "/.well-known/x402" {
			m.serveDiscovery(ctx)
			return
		}

		// Check if the current path requires payment
		if !m.isProtectedPath(ctx.Request.URL.Path) {
			ctx.Next()
			return
		}

		resourceID := m.resourceID(ctx)
		result := m.engine.Decide(ctx.Request.Context(), settlement.Input{
			ResourceID:    resourceID,
			ResourceURL:   m.resourceURL(ctx),
			PaymentHeader: ctx.GetHeader(m.config.GetPaymentHeaderName()),
		})

		for k, v := range result.Headers {
			ctx.Header(k, v)
		}

		if result.State != settlement.StateSettled {
			ctx.AbortWithStatusJSON(result.StatusCode, result.Body)
			return
		}

		// Payment is settled, store payment info in context for downstream handlers
		ctx.Set(ContextKeyResourceID, resourceID)
		ctx.Set(ContextKeyPaymentReference, result.PaymentReference)
		ctx.Set(ContextKeyPayer, result.Payer)
		ctx.Set(ContextKeyRequirements, result.Requirements)
		ctx.Next()
	}
}

// PaymentReference returns the provisional reference of the settled payment
func PaymentReference(ctx *gin.Context) string {
	return ctx.GetString(ContextKeyPaymentReference)
}

func (m *X402Middleware) resourceID(ctx *gin.Context) string {
	if id := ctx.Param(m.config.GetResourceIDParam()); id != "" {
		return id
	}
	return path.Base(ctx.Request.URL.Path)
}

func (m *X402Middleware) resourceURL(ctx *gin.Context) string {
	base := m.config.PublicURL
	if base == "" {
		scheme := "http"
		if ctx.Request.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + ctx.Request.Host
	}
	return strings.TrimSuffix(base, "/") + ctx.Request.URL.Path
}

func (m *X402Middleware) isProtectedPath(path string) bool {
	for _, pattern := range m.config.ProtectedPaths {
		matched, err := filepath.Match(pattern, path)
		if err != nil {
			// Invalid pattern, skip
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

func (m *X402Middleware) serveDiscovery(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"version":   1,
		"resources": m.config.ProtectedPaths,
	})
	ctx.Abort()
}
