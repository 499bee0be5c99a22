package settlement

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vorpalengineering/x402-agent/logger"
	"github.com/vorpalengineering/x402-agent/metrics"
	"github.com/vorpalengineering/x402-agent/types"
	"github.com/vorpalengineering/x402-agent/utils"
)

const defaultMaxTimeoutSeconds = 300

// Pricer is the catalog collaborator. An unknown resource is reported with an
// error matching types.ErrUnknownResource.
type Pricer interface {
	Price(ctx context.Context, resourceID string) (*types.PriceDescriptor, error)
}

// Ledger verifies and settles a payment. Uniqueness of the authorization
// nonce is enforced by the ledger, so the raw header must reach it unmodified.
type Ledger interface {
	VerifySettlement(ctx context.Context, req *types.SettleRequest) (*types.Verdict, error)
}

type State string

const (
	StateReceivedRequest  State = "received_request"
	StateNoProofResolving State = "no_proof_resolving"
	StateProofResolving   State = "proof_resolving"
	StateSettled          State = "settled"
	StateRequiresPayment  State = "requires_payment"
	StateRejected         State = "rejected"
)

type Input struct {
	ResourceID string
	// ResourceURL is advertised in the requirements' resource field
	ResourceURL   string
	PaymentHeader string
}

// Result is produced once per request and never mutated afterwards
type Result struct {
	State            State
	StatusCode       int
	Headers          map[string]string
	Body             any
	Requirements     *types.PaymentRequirements
	Verdict          *types.Verdict
	PaymentReference string
	Payer            string
}

type Engine struct {
	pricer   Pricer
	ledger   Ledger
	now      func() time.Time
	log      logger.Logger
	metrics  metrics.Recorder
	observer types.Observer
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.log = logger.OrNoop(l)
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = metrics.OrNoop(r)
	}
}

func WithObserver(o types.Observer) Option {
	return func(e *Engine) {
		e.observer = o
	}
}

func NewEngine(pricer Pricer, ledger Ledger, opts ...Option) *Engine {
	e := &Engine{
		pricer:  pricer,
		ledger:  ledger,
		now:     time.Now,
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide resolves one incoming request to release, demand payment or reject
func (e *Engine) Decide(ctx context.Context, in Input) *Result {
	start := e.now()
	result := e.decide(ctx, in)

	network := ""
	if result.Requirements != nil {
		network = result.Requirements.Network
	}
	e.metrics.IncCounter(string(result.State), map[string]string{"network": network})
	e.metrics.ObserveLatency("decide", e.now().Sub(start), map[string]string{"network": network})
	return result
}

func (e *Engine) decide(ctx context.Context, in Input) *Result {
	price, err := e.pricer.Price(ctx, in.ResourceID)
	if err != nil {
		if errors.Is(err, types.ErrUnknownResource) {
			return e.reject(in, nil, http.StatusNotFound, fmt.Sprintf("unknown resource: %s", in.ResourceID), nil)
		}
		e.log.Error("price lookup failed", map[string]any{"resource": in.ResourceID, "error": err})
		return e.reject(in, nil, http.StatusInternalServerError, "price lookup failed", err)
	}

	requirements := BuildRequirements(price, in.ResourceURL)
	if err := utils.ValidateRequirements(requirements); err != nil {
		e.log.Error("invalid price descriptor", map[string]any{"resource": in.ResourceID, "error": err})
		return e.reject(in, nil, http.StatusInternalServerError, "resource is misconfigured", err)
	}

	if in.PaymentHeader == "" {
		return e.requirePayment(in, requirements, types.PaymentHeaderRequired)
	}

	payload, err := utils.DecodePaymentHeader(in.PaymentHeader)
	if err != nil {
		return e.reject(in, requirements, http.StatusBadRequest, "invalid payment header: "+err.Error(), err)
	}
	if payload.X402Version != types.X402Version {
		return e.reject(in, requirements, http.StatusBadRequest,
			fmt.Sprintf("unsupported x402Version: %d", payload.X402Version), nil)
	}
	if payload.Scheme != requirements.Scheme || payload.Network != requirements.Network {
		return e.reject(in, requirements, http.StatusBadRequest,
			fmt.Sprintf("payment is for %s/%s, resource requires %s/%s",
				payload.Scheme, payload.Network, requirements.Scheme, requirements.Network), nil)
	}
	exact, err := utils.ExtractExactPayload(payload)
	if err != nil {
		return e.reject(in, requirements, http.StatusBadRequest, "invalid payment payload: "+err.Error(), err)
	}

	e.observer.Emit(types.Event{
		Phase:      types.PhaseProofReceived,
		ResourceID: in.ResourceID,
		Network:    payload.Network,
		Amount:     exact.Authorization.Value,
		Payer:      exact.Authorization.From,
	})

	if exact.Authorization.ValidBefore <= e.now().Unix() {
		return e.reject(in, requirements, http.StatusForbidden,
			types.Reason(types.ReasonPaymentExpired, fmt.Sprintf("validBefore %d has passed", exact.Authorization.ValidBefore)), nil)
	}

	verdict, err := e.ledger.VerifySettlement(ctx, &types.SettleRequest{
		X402Version:         types.X402Version,
		PaymentHeader:       in.PaymentHeader,
		PaymentRequirements: *requirements,
	})
	if err == nil && verdict == nil {
		err = errors.New("ledger returned no verdict")
	}
	if err != nil {
		e.log.Error("ledger unreachable", map[string]any{"resource": in.ResourceID, "error": err})
		return e.reject(in, requirements, http.StatusBadGateway, "settlement unavailable: "+err.Error(), err)
	}

	switch verdict.Status {
	case types.VerdictSettled:
		return e.settle(in, requirements, verdict)
	case types.VerdictAmountMismatch:
		r := e.requirePayment(in, requirements, verdict.Reason)
		r.Verdict = verdict
		return r
	case types.VerdictInsufficientFunds:
		reason := verdict.Reason
		if types.ReasonCode(reason) != types.ReasonInsufficientFunds {
			reason = types.Reason(types.ReasonInsufficientFunds, reason)
		}
		r := e.requirePayment(in, requirements, reason)
		r.Verdict = verdict
		return r
	default:
		r := e.reject(in, requirements, http.StatusForbidden, verdict.Reason, nil)
		r.Verdict = verdict
		return r
	}
}

func (e *Engine) settle(in Input, requirements *types.PaymentRequirements, verdict *types.Verdict) *Result {
	headers := map[string]string{}
	header, err := utils.EncodeSettleResponseHeader(&types.SettleResponse{
		Success:     true,
		Reference:   verdict.Reference,
		Transaction: verdict.Transaction,
		Network:     verdict.Network,
		Payer:       verdict.Payer,
	})
	if err != nil {
		e.log.Warn("failed to encode payment response header", map[string]any{"error": err})
	} else {
		headers[types.PaymentResponseHeader] = header
	}

	e.log.Info("payment settled", map[string]any{
		"resource":  in.ResourceID,
		"reference": verdict.Reference,
		"payer":     verdict.Payer,
		"network":   requirements.Network,
	})
	e.observer.Emit(types.Event{
		Phase:      types.PhaseSettled,
		ResourceID: in.ResourceID,
		Network:    requirements.Network,
		Asset:      requirements.Asset,
		Amount:     requirements.MaxAmountRequired,
		Payer:      verdict.Payer,
		Reference:  verdict.Reference,
	})

	return &Result{
		State:      StateSettled,
		StatusCode: http.StatusOK,
		Headers:    headers,
		Body: map[string]any{
			"success":          true,
			"resourceId":       in.ResourceID,
			"paymentReference": verdict.Reference,
		},
		Requirements:     requirements,
		Verdict:          verdict,
		PaymentReference: verdict.Reference,
		Payer:            verdict.Payer,
	}
}

func (e *Engine) requirePayment(in Input, requirements *types.PaymentRequirements, reason string) *Result {
	e.observer.Emit(types.Event{
		Phase:      types.PhaseRequiresPayment,
		ResourceID: in.ResourceID,
		StatusCode: http.StatusPaymentRequired,
		Scheme:     requirements.Scheme,
		Network:    requirements.Network,
		Asset:      requirements.Asset,
		Amount:     requirements.MaxAmountRequired,
	})

	return &Result{
		State:      StateRequiresPayment,
		StatusCode: http.StatusPaymentRequired,
		Body: types.PaymentRequiredResponse{
			X402Version: types.X402Version,
			Error:       reason,
			Accepts:     []types.PaymentRequirements{*requirements},
		},
		Requirements: requirements,
	}
}

func (e *Engine) reject(in Input, requirements *types.PaymentRequirements, status int, message string, cause error) *Result {
	fields := map[string]any{"resource": in.ResourceID, "status": status, "reason": message}
	if cause != nil {
		fields["error"] = cause
	}
	e.log.Warn("payment rejected", fields)

	event := types.Event{
		Phase:      types.PhaseRejected,
		ResourceID: in.ResourceID,
		StatusCode: status,
		Err:        errors.New(message),
	}
	if requirements != nil {
		event.Network = requirements.Network
	}
	e.observer.Emit(event)

	return &Result{
		State:        StateRejected,
		StatusCode:   status,
		Body:         types.SettlementRejectedResponse{Success: false, Error: message},
		Requirements: requirements,
	}
}

// BuildRequirements turns a catalog price into the single accepts entry
// offered for a resource
func BuildRequirements(price *types.PriceDescriptor, resourceURL string) *types.PaymentRequirements {
	timeout := price.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = defaultMaxTimeoutSeconds
	}
	resource := resourceURL
	if resource == "" {
		resource = price.ResourceID
	}
	mimeType := price.MimeType
	if mimeType == "" {
		mimeType = "application/json"
	}

	return &types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           price.Network,
		MaxAmountRequired: price.Amount,
		Resource:          resource,
		Description:       price.Description,
		MimeType:          mimeType,
		PayTo:             price.PayTo,
		MaxTimeoutSeconds: timeout,
		Asset:             price.Asset,
		Extra:             price.Extra,
	}
}
