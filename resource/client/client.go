package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vorpalengineering/x402-agent/logger"
	"github.com/vorpalengineering/x402-agent/proof"
	"github.com/vorpalengineering/x402-agent/types"
	"github.com/vorpalengineering/x402-agent/utils"
)

const defaultMaxBodyBytes = 10 << 20

type State string

const (
	StateInitial               State = "initial"
	StateAwaitingFirstResponse State = "awaiting_first_response"
	StatePaymentRequired       State = "payment_required"
	StateAwaitingRetryResponse State = "awaiting_retry_response"
	StateSuccess               State = "success"
	StateFailed                State = "failed"
)

// Doer is satisfied by *http.Client
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Preparer is satisfied by *proof.Preparer
type Preparer interface {
	Prepare(ctx context.Context, payer string, requirements *types.PaymentRequirements) (*proof.Proof, error)
}

type Client struct {
	httpClient   Doer
	preparer     Preparer
	payer        string
	observer     types.Observer
	log          logger.Logger
	maxBodyBytes int64
}

type Option func(*Client)

func WithHTTPClient(d Doer) Option {
	return func(c *Client) {
		c.httpClient = d
	}
}

func WithObserver(o types.Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.log = logger.OrNoop(l)
	}
}

func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) {
		c.maxBodyBytes = n
	}
}

// NewClient builds a client paying as payer through preparer
func NewClient(preparer Preparer, payer string, opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{},
		preparer:     preparer,
		payer:        payer,
		log:          logger.NoopLogger{},
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// ResourceID only labels events
	ResourceID string
}

// Result is the terminal state of one Fetch. StatusCode, Header and Body
// belong to the last response received, if any.
type Result struct {
	State            State
	StatusCode       int
	Header           http.Header
	Body             []byte
	Calls            int
	Requirements     *types.PaymentRequirements
	Proof            *proof.Proof
	Settlement       *types.SettleResponse
	PaymentReference string
}

// Fetch runs the payment-required retry protocol for one request. It issues
// at most two HTTP calls and retries only after a decodable 402.
func (c *Client) Fetch(ctx context.Context, req Request) (*Result, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	result := &Result{State: StateInitial}

	result.State = StateAwaitingFirstResponse
	c.emit(types.Event{Phase: types.PhaseRequestSent, ResourceID: req.ResourceID, URL: req.URL})
	resp, err := c.send(ctx, req, "")
	result.Calls++
	if err != nil {
		return c.fail(req, result, sendError("request failed", err))
	}
	result.StatusCode, result.Header, result.Body = resp.status, resp.header, resp.body

	switch {
	case resp.status >= 200 && resp.status < 300:
		result.State = StateSuccess
		c.emit(types.Event{Phase: types.PhaseSucceeded, ResourceID: req.ResourceID, URL: req.URL, StatusCode: resp.status})
		return result, nil
	case resp.status != http.StatusPaymentRequired:
		return c.fail(req, result, types.NewPaymentError(types.CodeResourceError,
			fmt.Sprintf("unexpected status %d: %s", resp.status, errorMessage(resp.body)), nil))
	}

	envelope, err := utils.DecodeEnvelope(resp.body)
	if err != nil {
		return c.fail(req, result, err)
	}
	requirements := envelope.Accepts[0]
	result.Requirements = &requirements
	result.State = StatePaymentRequired
	c.emit(types.Event{
		Phase:      types.PhasePaymentRequired,
		ResourceID: req.ResourceID,
		URL:        req.URL,
		StatusCode: resp.status,
		Scheme:     requirements.Scheme,
		Network:    requirements.Network,
		Asset:      requirements.Asset,
		Amount:     requirements.MaxAmountRequired,
	})

	if c.preparer == nil {
		return c.fail(req, result, types.NewPaymentError(types.CodeSigningUnavailable, "no proof preparer configured", nil))
	}
	p, err := c.preparer.Prepare(ctx, c.payer, &requirements)
	if err != nil {
		return c.fail(req, result, err)
	}
	result.Proof = p
	c.emit(types.Event{
		Phase:      types.PhaseProofPrepared,
		ResourceID: req.ResourceID,
		URL:        req.URL,
		Network:    requirements.Network,
		Amount:     p.Authorization.Value,
		Payer:      p.Authorization.From,
	})

	result.State = StateAwaitingRetryResponse
	result.StatusCode, result.Header, result.Body = 0, nil, nil
	c.emit(types.Event{Phase: types.PhaseRetrySent, ResourceID: req.ResourceID, URL: req.URL, Network: requirements.Network})
	resp, err = c.send(ctx, req, p.Header)
	result.Calls++
	if err != nil {
		return c.fail(req, result, sendError("retry with payment failed", err))
	}
	result.StatusCode, result.Header, result.Body = resp.status, resp.header, resp.body

	if resp.status >= 200 && resp.status < 300 {
		if header := resp.header.Get(types.PaymentResponseHeader); header != "" {
			settlement, err := utils.DecodeSettleResponseHeader(header)
			if err != nil {
				c.log.Warn("ignoring undecodable payment response header", map[string]any{"error": err})
			} else {
				result.Settlement = settlement
				result.PaymentReference = settlement.Reference
			}
		}
		result.State = StateSuccess
		c.emit(types.Event{
			Phase:      types.PhaseSucceeded,
			ResourceID: req.ResourceID,
			URL:        req.URL,
			StatusCode: resp.status,
			Network:    requirements.Network,
			Amount:     p.Authorization.Value,
			Payer:      p.Authorization.From,
			Reference:  result.PaymentReference,
		})
		return result, nil
	}

	return c.fail(req, result, retryError(resp))
}

// retryError classifies a non-2xx response to the paid retry
func retryError(resp *response) error {
	message := errorMessage(resp.body)
	switch {
	case resp.status == http.StatusPaymentRequired:
		if types.ReasonCode(message) == types.ReasonInsufficientFunds {
			return types.NewPaymentError(types.CodeFundingRequired, message, nil)
		}
		return types.NewPaymentError(types.CodeSecondPaymentRequired, message, nil)
	case resp.status >= 500:
		return types.NewPaymentError(types.CodeTransportError, fmt.Sprintf("server error %d: %s", resp.status, message), nil)
	default:
		return types.NewPaymentError(types.CodeSettlementRejected, message, nil)
	}
}

// errorMessage pulls the "error" field out of a JSON body, falling back to the raw text
func errorMessage(body []byte) string {
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return string(bytes.TrimSpace(body))
}

func (c *Client) fail(req Request, result *Result, err error) (*Result, error) {
	result.State = StateFailed
	c.log.Warn("payment flow failed", map[string]any{
		"url":   req.URL,
		"calls": result.Calls,
		"error": err,
	})
	c.emit(types.Event{
		Phase:      types.PhaseFailed,
		ResourceID: req.ResourceID,
		URL:        req.URL,
		StatusCode: result.StatusCode,
		Err:        err,
	})
	return result, err
}

func (c *Client) emit(e types.Event) {
	c.observer.Emit(e)
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (c *Client) send(ctx context.Context, r Request, paymentHeader string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, bytes.NewReader(r.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, values := range r.Header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if paymentHeader != "" {
		req.Header.Set(types.PaymentHeader, paymentHeader)
	} else {
		req.Header.Del(types.PaymentHeader)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, types.NewPaymentError(types.CodeResourceError,
			fmt.Sprintf("response body exceeds %d bytes (status %d)", c.maxBodyBytes, resp.StatusCode), nil)
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

// sendError keeps classified failures from send and reports the rest as transport errors
func sendError(message string, err error) error {
	var pe *types.PaymentError
	if errors.As(err, &pe) {
		return err
	}
	return types.NewPaymentError(types.CodeTransportError, message, err)
}
