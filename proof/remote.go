package proof

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vorpalengineering/x402-agent/types"
)

// SignRequest is the body of POST /sign on a wallet service
type SignRequest struct {
	Payer               string                    `json:"payer"`
	PaymentRequirements types.PaymentRequirements `json:"paymentRequirements"`
}

// RemoteSigner delegates signing to a wallet service over HTTP
type RemoteSigner struct {
	baseURL    string
	httpClient *http.Client
}

func NewRemoteSigner(baseURL string) *RemoteSigner {
	return &RemoteSigner{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *RemoteSigner) WithHTTPClient(httpClient *http.Client) *RemoteSigner {
	s.httpClient = httpClient
	return s
}

func (s *RemoteSigner) Sign(ctx context.Context, payer string, requirements *types.PaymentRequirements) (*types.PaymentPayload, error) {
	body, err := json.Marshal(SignRequest{Payer: payer, PaymentRequirements: *requirements})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, types.NewPaymentError(types.CodeSigningUnavailable, "wallet service unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.NewPaymentError(types.CodeSigningUnavailable, "failed to read sign response", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, types.NewPaymentError(types.CodeSigningUnavailable,
			fmt.Sprintf("wallet service returned status %d", resp.StatusCode), fmt.Errorf("%s", respBody))
	case resp.StatusCode != http.StatusOK:
		return nil, types.NewPaymentError(types.CodeInvalidRequirements,
			fmt.Sprintf("wallet service refused to sign (status %d)", resp.StatusCode), fmt.Errorf("%s", respBody))
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return nil, types.NewPaymentError(types.CodeInvalidProof, "failed to parse sign response", err)
	}
	return &payload, nil
}
