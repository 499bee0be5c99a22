package purchase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/vorpalengineering/x402-agent/logger"
	"github.com/vorpalengineering/x402-agent/resource/client"
	"github.com/vorpalengineering/x402-agent/types"
)

// Resolver maps a human reference (id, name or alias) to a resource id.
// An unknown reference is reported with an error matching types.ErrUnknownResource.
type Resolver interface {
	Resolve(ctx context.Context, reference string) (string, error)
}

// Fetcher is satisfied by *client.Client
type Fetcher interface {
	Fetch(ctx context.Context, req client.Request) (*client.Result, error)
}

type Orchestrator struct {
	resolver        Resolver
	fetcher         Fetcher
	resourceBaseURL string
	observer        types.Observer
	log             logger.Logger
}

type Option func(*Orchestrator)

func WithObserver(o types.Observer) Option {
	return func(p *Orchestrator) {
		p.observer = o
	}
}

func WithLogger(l logger.Logger) Option {
	return func(p *Orchestrator) {
		p.log = logger.OrNoop(l)
	}
}

// NewOrchestrator buys resources served under resourceBaseURL/resources/{id}
func NewOrchestrator(resolver Resolver, fetcher Fetcher, resourceBaseURL string, opts ...Option) *Orchestrator {
	p := &Orchestrator{
		resolver:        resolver,
		fetcher:         fetcher,
		resourceBaseURL: strings.TrimRight(resourceBaseURL, "/"),
		log:             logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Outcome is what a purchase reports back to the user. PaymentReference is
// provisional until AwaitFinalization confirms it.
type Outcome struct {
	Success          bool            `json:"success"`
	ResourceID       string          `json:"resourceId,omitempty"`
	PaymentReference string          `json:"paymentReference,omitempty"`
	Transaction      string          `json:"transaction,omitempty"`
	ProofNonce       string          `json:"proofNonce,omitempty"`
	Paid             bool            `json:"paid"`
	Body             []byte          `json:"-"`
	Code             types.ErrorCode `json:"code,omitempty"`
	Error            string          `json:"error,omitempty"`
}

// Purchase buys the resource named by reference. Nothing is resolved or
// fetched unless confirmed is true.
func (p *Orchestrator) Purchase(ctx context.Context, reference string, confirmed bool) (*Outcome, error) {
	if !confirmed {
		return failed("", types.NewPaymentError(types.CodeConfirmationRequired,
			fmt.Sprintf("purchase of %q was not confirmed", reference), nil))
	}

	resourceID, err := p.resolver.Resolve(ctx, reference)
	if err != nil {
		if !errors.Is(err, types.ErrUnknownResource) {
			err = types.NewPaymentError(types.CodeTransportError, "catalog lookup failed", err)
		}
		return failed("", err)
	}

	p.observer.Emit(types.Event{Phase: types.PhasePurchaseStarted, ResourceID: resourceID})
	p.log.Info("purchase started", map[string]any{"reference": reference, "resource": resourceID})

	result, err := p.fetcher.Fetch(ctx, client.Request{
		Method:     http.MethodGet,
		URL:        p.resourceURL(resourceID),
		ResourceID: resourceID,
	})

	outcome := &Outcome{ResourceID: resourceID}
	if result != nil {
		outcome.Body = result.Body
		outcome.Paid = result.Proof != nil
		outcome.PaymentReference = result.PaymentReference
		if result.Proof != nil {
			outcome.ProofNonce = result.Proof.Authorization.Nonce
		}
		if result.Settlement != nil {
			outcome.Transaction = result.Settlement.Transaction
		}
	}

	if err != nil {
		outcome.Code = types.CodeOf(err)
		outcome.Error = err.Error()
		p.observer.Emit(types.Event{Phase: types.PhasePurchaseCompleted, ResourceID: resourceID, Err: err})
		p.log.Warn("purchase failed", map[string]any{"resource": resourceID, "error": err})
		return outcome, err
	}

	outcome.Success = true
	p.observer.Emit(types.Event{Phase: types.PhasePurchaseCompleted, ResourceID: resourceID, Reference: outcome.PaymentReference})
	p.log.Info("purchase completed", map[string]any{
		"resource":  resourceID,
		"reference": outcome.PaymentReference,
		"paid":      outcome.Paid,
	})
	return outcome, nil
}

func (p *Orchestrator) resourceURL(resourceID string) string {
	return p.resourceBaseURL + "/resources/" + url.PathEscape(resourceID)
}

func failed(resourceID string, err error) (*Outcome, error) {
	return &Outcome{
		ResourceID: resourceID,
		Code:       types.CodeOf(err),
		Error:      err.Error(),
	}, err
}
