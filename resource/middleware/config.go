package middleware

import (
	"errors"
	"path/filepath"

	"github.com/vorpalengineering/x402-agent/types"
)

type MiddlewareConfig struct {
	// ProtectedPaths is a list of path patterns that require payment
	// Supports glob patterns like "/resources/*" or exact paths like "/data"
	ProtectedPaths []string

	// ResourceIDParam names the gin route parameter holding the resource id.
	// Defaults to "id"; when the route has no such parameter the last path
	// segment is used.
	ResourceIDParam string

	// PublicURL prefixes the request path in the advertised resource URL,
	// e.g. "https://api.example.com". Defaults to the request's own host.
	PublicURL string

	// PaymentHeaderName is the name of the HTTP header carrying the payment proof
	// Defaults to "X-PAYMENT" if not specified
	PaymentHeaderName string

	// DiscoveryEnabled serves the protected path list at /.well-known/x402
	DiscoveryEnabled bool
}

func (c *MiddlewareConfig) Validate() error {
	if len(c.ProtectedPaths) == 0 {
		return errors.New("at least one protected path must be specified")
	}
	for _, pattern := range c.ProtectedPaths {
		if _, err := filepath.Match(pattern, "/"); err != nil {
			return errors.New("invalid protected path pattern " + pattern + ": " + err.Error())
		}
	}
	return nil
}

func (c *MiddlewareConfig) GetPaymentHeaderName() string {
	if c.PaymentHeaderName == "" {
		return types.PaymentHeader
	}
	return c.PaymentHeaderName
}

func (c *MiddlewareConfig) GetResourceIDParam() string {
	if c.ResourceIDParam == "" {
		return "id"
	}
	return c.ResourceIDParam
}
