package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vorpalengineering/x402-agent/types"
)

// ErrSettlementNotFound is returned by Status for an unknown reference
var ErrSettlementNotFound = errors.New("settlement not found")

type FacilitatorClient struct {
	facilitatorURL string
	httpClient     *http.Client
}

func NewFacilitatorClient(facilitatorURL string) *FacilitatorClient {
	return &FacilitatorClient{
		facilitatorURL: strings.TrimRight(facilitatorURL, "/"),
		httpClient:     &http.Client{},
	}
}

func (fc *FacilitatorClient) WithHTTPClient(httpClient *http.Client) *FacilitatorClient {
	fc.httpClient = httpClient
	return fc
}

func (fc *FacilitatorClient) Verify(ctx context.Context, req *types.VerifyRequest) (*types.VerifyResponse, error) {
	var verifyResp types.VerifyResponse
	if err := fc.do(ctx, http.MethodPost, "/verify", req, &verifyResp); err != nil {
		return nil, err
	}
	return &verifyResp, nil
}

// Settle submits the payment. A refused payment is a successful call with
// Success=false; err is only set when the facilitator could not be reached.
func (fc *FacilitatorClient) Settle(ctx context.Context, req *types.SettleRequest) (*types.SettleResponse, error) {
	var settleResp types.SettleResponse
	if err := fc.do(ctx, http.MethodPost, "/settle", req, &settleResp); err != nil {
		return nil, err
	}
	return &settleResp, nil
}

func (fc *FacilitatorClient) Supported(ctx context.Context) (*types.SupportedResponse, error) {
	var supportedResp types.SupportedResponse
	if err := fc.do(ctx, http.MethodGet, "/supported", nil, &supportedResp); err != nil {
		return nil, err
	}
	return &supportedResp, nil
}

// Status resolves a provisional payment reference
func (fc *FacilitatorClient) Status(ctx context.Context, reference string) (*types.SettlementStatus, error) {
	var status types.SettlementStatus
	err := fc.do(ctx, http.MethodGet, "/settlements/"+url.PathEscape(reference), nil, &status)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// VerifySettlement settles the payment and maps the facilitator's answer to a
// verdict for the settlement engine.
func (fc *FacilitatorClient) VerifySettlement(ctx context.Context, req *types.SettleRequest) (*types.Verdict, error) {
	res, err := fc.Settle(ctx, req)
	if err != nil {
		return nil, err
	}
	return ToVerdict(res), nil
}

func ToVerdict(res *types.SettleResponse) *types.Verdict {
	verdict := &types.Verdict{
		Reason:      res.ErrorReason,
		Reference:   res.Reference,
		Transaction: res.Transaction,
		Network:     res.Network,
		Payer:       res.Payer,
	}

	switch {
	case res.Success:
		verdict.Status = types.VerdictSettled
	case types.ReasonCode(res.ErrorReason) == types.ReasonInsufficientFunds:
		verdict.Status = types.VerdictInsufficientFunds
	case types.ReasonCode(res.ErrorReason) == types.ReasonAmountMismatch:
		verdict.Status = types.VerdictAmountMismatch
	default:
		verdict.Status = types.VerdictRejected
	}
	return verdict
}

func (fc *FacilitatorClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, fc.facilitatorURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Make request to facilitator
	resp, err := fc.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	// Check response
	switch {
	case resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/settlements/"):
		return ErrSettlementNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// Decode response
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
