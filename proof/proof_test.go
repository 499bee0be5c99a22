package proof

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vorpalengineering/x402-agent/types"
	"github.com/vorpalengineering/x402-agent/utils"
)

const (
	testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testPayer      = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func testRequirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:            "exact",
		Network:           "base-sepolia",
		MaxAmountRequired: "1000000",
		Resource:          "http://localhost:3000/resources/weather",
		PayTo:             "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		MaxTimeoutSeconds: 300,
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Extra:             map[string]any{"name": "USDC", "version": "2"},
	}
}

type countingSigner struct {
	calls   int
	payload *types.PaymentPayload
	err     error
}

func (s *countingSigner) Sign(context.Context, string, *types.PaymentRequirements) (*types.PaymentPayload, error) {
	s.calls++
	return s.payload, s.err
}

func signedPayload(t *testing.T, mutate func(*types.ExactSchemeAuthorization)) *types.PaymentPayload {
	t.Helper()
	auth := types.ExactSchemeAuthorization{
		From:        testPayer,
		To:          "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Value:       "1000000",
		ValidAfter:  time.Now().Add(-time.Minute).Unix(),
		ValidBefore: time.Now().Add(5 * time.Minute).Unix(),
		Nonce:       "0x01",
	}
	if mutate != nil {
		mutate(&auth)
	}
	m, err := utils.ExactPayloadMap(&types.ExactSchemePayload{Signature: "0xabcd", Authorization: auth})
	require.NoError(t, err)
	return &types.PaymentPayload{X402Version: 1, Scheme: "exact", Network: "base-sepolia", Payload: m}
}

func TestPrepareWithLocalSigner(t *testing.T) {
	signer, err := NewLocalSignerFromHex("0x" + testPrivateKey)
	require.NoError(t, err)
	require.Equal(t, testPayer, signer.Address())

	req := testRequirements()
	p, err := NewPreparer(signer).Prepare(context.Background(), testPayer, req)
	require.NoError(t, err)

	assert.Equal(t, "1000000", p.Authorization.Value)
	assert.Equal(t, testPayer, p.Authorization.From)
	assert.NotEmpty(t, p.Header)

	decoded, err := utils.DecodePaymentHeader(p.Header)
	require.NoError(t, err)
	assert.Equal(t, "exact", decoded.Scheme)
	assert.Equal(t, "base-sepolia", decoded.Network)

	recovered, err := utils.RecoverEIP3009Signer(&p.Authorization, req, p.Signature)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(testPayer), recovered)
}

func TestPrepareProducesFreshNonces(t *testing.T) {
	signer, err := NewLocalSignerFromHex(testPrivateKey)
	require.NoError(t, err)
	preparer := NewPreparer(signer)

	first, err := preparer.Prepare(context.Background(), testPayer, testRequirements())
	require.NoError(t, err)
	second, err := preparer.Prepare(context.Background(), testPayer, testRequirements())
	require.NoError(t, err)

	assert.NotEqual(t, first.Authorization.Nonce, second.Authorization.Nonce)
	assert.NotEqual(t, first.Header, second.Header)
}

func TestPrepareRejectsInvalidInput(t *testing.T) {
	signer := &countingSigner{}
	preparer := NewPreparer(signer)

	req := testRequirements()
	req.MaxAmountRequired = "1.5"
	_, err := preparer.Prepare(context.Background(), testPayer, req)
	assert.ErrorIs(t, err, types.ErrInvalidRequirements)

	_, err = preparer.Prepare(context.Background(), "alice", testRequirements())
	assert.ErrorIs(t, err, types.ErrInvalidRequirements)

	assert.Equal(t, 0, signer.calls)
}

func TestPrepareSignerUnavailable(t *testing.T) {
	signer := &countingSigner{err: errors.New("connection refused")}
	_, err := NewPreparer(signer).Prepare(context.Background(), testPayer, testRequirements())
	assert.ErrorIs(t, err, types.ErrSigningUnavailable)
	assert.Equal(t, 1, signer.calls)

	_, err = NewPreparer(nil).Prepare(context.Background(), testPayer, testRequirements())
	assert.ErrorIs(t, err, types.ErrSigningUnavailable)
}

func TestPrepareChecksSignedAuthorization(t *testing.T) {
	cases := map[string]func(*types.ExactSchemeAuthorization){
		"value above max":   func(a *types.ExactSchemeAuthorization) { a.Value = "1000001" },
		"already expired":   func(a *types.ExactSchemeAuthorization) { a.ValidBefore = time.Now().Add(-time.Second).Unix() },
		"empty nonce":       func(a *types.ExactSchemeAuthorization) { a.Nonce = "0x" },
		"different payer":   func(a *types.ExactSchemeAuthorization) { a.From = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8" },
		"non-integer value": func(a *types.ExactSchemeAuthorization) { a.Value = "-1" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			signer := &countingSigner{payload: signedPayload(t, mutate)}
			_, err := NewPreparer(signer).Prepare(context.Background(), testPayer, testRequirements())
			assert.ErrorIs(t, err, types.ErrInvalidProof)
		})
	}
}

func TestPrepareAcceptsValueBelowMax(t *testing.T) {
	signer := &countingSigner{payload: signedPayload(t, func(a *types.ExactSchemeAuthorization) { a.Value = "500000" })}
	p, err := NewPreparer(signer).Prepare(context.Background(), testPayer, testRequirements())
	require.NoError(t, err)
	assert.Equal(t, "500000", p.Authorization.Value)
}

func TestPrepareUsesClock(t *testing.T) {
	signer := &countingSigner{payload: signedPayload(t, nil)}
	later := func() time.Time { return time.Now().Add(time.Hour) }

	_, err := NewPreparer(signer, WithClock(later)).Prepare(context.Background(), testPayer, testRequirements())
	assert.ErrorIs(t, err, types.ErrInvalidProof)
}

func TestRemoteSigner(t *testing.T) {
	gin.SetMode(gin.TestMode)
	local, err := NewLocalSignerFromHex(testPrivateKey)
	require.NoError(t, err)

	router := gin.New()
	router.POST("/sign", SignHandler(local))
	server := httptest.NewServer(router)
	defer server.Close()

	remote := NewRemoteSigner(server.URL + "/")
	p, err := NewPreparer(remote).Prepare(context.Background(), testPayer, testRequirements())
	require.NoError(t, err)
	assert.Equal(t, testPayer, p.Authorization.From)

	// The wallet only holds one key
	_, err = NewPreparer(remote).Prepare(context.Background(), "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", testRequirements())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidRequirements)
	assert.NotErrorIs(t, err, types.ErrSigningUnavailable)
}

func TestPrepareUnsignableRequirements(t *testing.T) {
	local, err := NewLocalSignerFromHex(testPrivateKey)
	require.NoError(t, err)

	cases := []struct {
		name   string
		payer  string
		mutate func(*types.PaymentRequirements)
	}{
		{"missing domain", testPayer, func(r *types.PaymentRequirements) { r.Extra = nil }},
		{"unknown network", testPayer, func(r *types.PaymentRequirements) { r.Network = "solana" }},
		{"key not held", "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", nil},
		{"unsupported scheme", testPayer, func(r *types.PaymentRequirements) { r.Scheme = "upto" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := testRequirements()
			if tc.mutate != nil {
				tc.mutate(req)
			}
			_, err := NewPreparer(local).Prepare(context.Background(), tc.payer, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrInvalidRequirements)
			assert.NotErrorIs(t, err, types.ErrSigningUnavailable)
		})
	}
}

func TestPrepareRemoteServerError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/sign", func(ctx *gin.Context) {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "hsm offline"})
	})
	server := httptest.NewServer(router)
	defer server.Close()

	_, err := NewPreparer(NewRemoteSigner(server.URL)).Prepare(context.Background(), testPayer, testRequirements())
	assert.ErrorIs(t, err, types.ErrSigningUnavailable)
}

func TestRemoteSignerUnreachable(t *testing.T) {
	server := httptest.NewServer(nil)
	url := server.URL
	server.Close()

	_, err := NewPreparer(NewRemoteSigner(url)).Prepare(context.Background(), testPayer, testRequirements())
	assert.ErrorIs(t, err, types.ErrSigningUnavailable)
}
