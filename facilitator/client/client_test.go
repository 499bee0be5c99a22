package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vorpalengineering/x402-agent/types"
)

func testRequirements() types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            "exact",
		Network:           "base-sepolia",
		MaxAmountRequired: "1000000",
		Resource:          "weather",
		PayTo:             "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		MaxTimeoutSeconds: 300,
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
}

func TestVerify(t *testing.T) {
	t.Run("successful verification", func(t *testing.T) {
		// Create mock server
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Verify request method and path
			if r.Method != http.MethodPost {
				t.Errorf("Expected POST request, got %s", r.Method)
			}
			if r.URL.Path != "/verify" {
				t.Errorf("Expected /verify path, got %s", r.URL.Path)
			}

			// Decode request body
			var req types.VerifyRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("Failed to decode request: %v", err)
			}
			if req.PaymentHeader != "header" {
				t.Errorf("Expected payment header to be forwarded, got %q", req.PaymentHeader)
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(types.VerifyResponse{IsValid: true, Payer: "0xabc"})
		}))
		defer server.Close()

		fc := NewFacilitatorClient(server.URL)

		resp, err := fc.Verify(context.Background(), &types.VerifyRequest{
			X402Version:         1,
			PaymentHeader:       "header",
			PaymentRequirements: testRequirements(),
		})
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if !resp.IsValid || resp.Payer != "0xabc" {
			t.Errorf("Expected valid payment from 0xabc, got %+v", resp)
		}
	})

	t.Run("invalid payment", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(types.VerifyResponse{
				IsValid:       false,
				InvalidReason: "invalid_signature",
			})
		}))
		defer server.Close()

		resp, err := NewFacilitatorClient(server.URL).Verify(context.Background(), &types.VerifyRequest{})
		if err != nil {
			t.Fatalf("Verify failed: %v", err)
		}
		if resp.IsValid {
			t.Errorf("Expected IsValid=false, got true")
		}
		if resp.InvalidReason != "invalid_signature" {
			t.Errorf("Expected reason 'invalid_signature', got %q", resp.InvalidReason)
		}
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := NewFacilitatorClient(server.URL).Verify(context.Background(), &types.VerifyRequest{})
		if err == nil {
			t.Error("Expected error for server error response")
		}
	})
}

func TestSettle(t *testing.T) {
	t.Run("successful settlement", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/settle" {
				t.Errorf("Expected /settle path, got %s", r.URL.Path)
			}
			json.NewEncoder(w).Encode(types.SettleResponse{
				Success:     true,
				Reference:   "ref-1",
				Transaction: "0x123",
				Network:     "base-sepolia",
			})
		}))
		defer server.Close()

		resp, err := NewFacilitatorClient(server.URL+"/").Settle(context.Background(), &types.SettleRequest{})
		if err != nil {
			t.Fatalf("Settle failed: %v", err)
		}
		if !resp.Success || resp.Reference != "ref-1" || resp.Transaction != "0x123" {
			t.Errorf("Unexpected settle response %+v", resp)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(types.SettleResponse{Success: true})
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := NewFacilitatorClient(server.URL).Settle(ctx, &types.SettleRequest{}); err == nil {
			t.Error("Expected error for cancelled context")
		}
	})
}

func TestVerifySettlement(t *testing.T) {
	cases := []struct {
		name     string
		response types.SettleResponse
		want     types.VerdictStatus
	}{
		{name: "settled", response: types.SettleResponse{Success: true, Reference: "ref-1"}, want: types.VerdictSettled},
		{name: "low balance", response: types.SettleResponse{ErrorReason: "insufficient_funds: balance 10, needs 100"}, want: types.VerdictInsufficientFunds},
		{name: "wrong amount", response: types.SettleResponse{ErrorReason: "amount_mismatch"}, want: types.VerdictAmountMismatch},
		{name: "replay", response: types.SettleResponse{ErrorReason: "nonce_already_used: 0x01"}, want: types.VerdictRejected},
		{name: "bad signature", response: types.SettleResponse{ErrorReason: "invalid_signature"}, want: types.VerdictRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tc.response)
			}))
			defer server.Close()

			verdict, err := NewFacilitatorClient(server.URL).VerifySettlement(context.Background(), &types.SettleRequest{})
			if err != nil {
				t.Fatalf("VerifySettlement failed: %v", err)
			}
			if verdict.Status != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, verdict.Status)
			}
			if verdict.Reason != tc.response.ErrorReason || verdict.Reference != tc.response.Reference {
				t.Errorf("Expected reason and reference to be carried over, got %+v", verdict)
			}
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		if _, err := NewFacilitatorClient(server.URL).VerifySettlement(context.Background(), &types.SettleRequest{}); err == nil {
			t.Error("Expected error for unreachable facilitator")
		}
	})
}

func TestSupported(t *testing.T) {
	t.Run("returns supported schemes", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				t.Errorf("Expected GET request, got %s", r.Method)
			}
			if r.URL.Path != "/supported" {
				t.Errorf("Expected /supported path, got %s", r.URL.Path)
			}
			json.NewEncoder(w).Encode(types.SupportedResponse{
				Kinds: []types.SchemeNetworkPair{
					{Scheme: "exact", Network: "base"},
					{Scheme: "exact", Network: "base-sepolia"},
				},
			})
		}))
		defer server.Close()

		resp, err := NewFacilitatorClient(server.URL).Supported(context.Background())
		if err != nil {
			t.Fatalf("Supported failed: %v", err)
		}
		if len(resp.Kinds) != 2 {
			t.Fatalf("Expected 2 kinds, got %d", len(resp.Kinds))
		}
		if resp.Kinds[1].Network != "base-sepolia" {
			t.Errorf("Expected second network 'base-sepolia', got %s", resp.Kinds[1].Network)
		}
	})

	t.Run("empty supported list", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(types.SupportedResponse{Kinds: []types.SchemeNetworkPair{}})
		}))
		defer server.Close()

		resp, err := NewFacilitatorClient(server.URL).Supported(context.Background())
		if err != nil {
			t.Fatalf("Supported failed: %v", err)
		}
		if len(resp.Kinds) != 0 {
			t.Errorf("Expected 0 kinds, got %d", len(resp.Kinds))
		}
	})
}

func TestStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/settlements/ref-1" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(types.SettlementStatus{
			Reference:   "ref-1",
			Status:      types.FinalizationConfirmed,
			Transaction: "0x123",
		})
	}))
	defer server.Close()

	fc := NewFacilitatorClient(server.URL)

	status, err := fc.Status(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.Status != types.FinalizationConfirmed || status.Transaction != "0x123" {
		t.Errorf("Unexpected status %+v", status)
	}

	if _, err := fc.Status(context.Background(), "missing"); !errors.Is(err, ErrSettlementNotFound) {
		t.Errorf("Expected ErrSettlementNotFound, got %v", err)
	}
}
