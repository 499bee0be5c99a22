package purchase_test

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vorpalengineering/x402-agent/catalog"
	"github.com/vorpalengineering/x402-agent/facilitator"
	facilitatorclient "github.com/vorpalengineering/x402-agent/facilitator/client"
	"github.com/vorpalengineering/x402-agent/proof"
	"github.com/vorpalengineering/x402-agent/purchase"
	"github.com/vorpalengineering/x402-agent/resource/client"
	"github.com/vorpalengineering/x402-agent/resource/server"
	"github.com/vorpalengineering/x402-agent/types"
	"github.com/vorpalengineering/x402-agent/utils"
)

const (
	payerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	payer    = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

// memoryChain accepts every transfer and confirms it on the second receipt lookup
type memoryChain struct {
	mu        sync.Mutex
	submitted int
	lookups   int
}

func (c *memoryChain) BalanceOf(context.Context, string, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(100_000_000), nil
}

func (c *memoryChain) SubmitTransfer(context.Context, string, *facilitator.TransferCall) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted++
	return "0x" + common.Bytes2Hex(big.NewInt(int64(c.submitted)).Bytes()), nil
}

func (c *memoryChain) ReceiptStatus(context.Context, string, string) (types.FinalizationStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lookups++
	if c.lookups < 2 {
		return types.FinalizationPending, nil
	}
	return types.FinalizationConfirmed, nil
}

type countingLedger struct {
	calls atomic.Int32
	next  *facilitatorclient.FacilitatorClient
}

func (l *countingLedger) VerifySettlement(ctx context.Context, req *types.SettleRequest) (*types.Verdict, error) {
	l.calls.Add(1)
	return l.next.VerifySettlement(ctx, req)
}

type countingDoer struct {
	calls atomic.Int32
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	return http.DefaultClient.Do(req)
}

// underpayingSigner authorizes less than the price
type underpayingSigner struct {
	next   proof.Signer
	amount string
}

func (s underpayingSigner) Sign(ctx context.Context, payer string, requirements *types.PaymentRequirements) (*types.PaymentPayload, error) {
	r := *requirements
	r.MaxAmountRequired = s.amount
	return s.next.Sign(ctx, payer, &r)
}

// staleSigner backdates validBefore past the current time
type staleSigner struct {
	next proof.Signer
}

func (s staleSigner) Sign(ctx context.Context, payer string, requirements *types.PaymentRequirements) (*types.PaymentPayload, error) {
	payload, err := s.next.Sign(ctx, payer, requirements)
	if err != nil {
		return nil, err
	}
	exact, err := utils.ExtractExactPayload(payload)
	if err != nil {
		return nil, err
	}
	exact.Authorization.ValidBefore = time.Now().Add(-time.Minute).Unix()
	payload.Payload, err = utils.ExactPayloadMap(exact)
	return payload, err
}

type countingSigner struct {
	calls atomic.Int32
	next  proof.Signer
}

func (s *countingSigner) Sign(ctx context.Context, payer string, requirements *types.PaymentRequirements) (*types.PaymentPayload, error) {
	s.calls.Add(1)
	return s.next.Sign(ctx, payer, requirements)
}

type harness struct {
	chain        *memoryChain
	ledger       *countingLedger
	facilitator  *facilitatorclient.FacilitatorClient
	catalog      *catalog.Catalog
	resourceURL  string
	doer         *countingDoer
	resource     *client.Client
	orchestrator *purchase.Orchestrator
}

func localSigner(t *testing.T) *proof.LocalSigner {
	t.Helper()
	signer, err := proof.NewLocalSignerFromHex(payerKey)
	require.NoError(t, err)
	return signer
}

func newHarness(t *testing.T, signer proof.Signer, preparerOpts ...proof.Option) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := &harness{chain: &memoryChain{}, doer: &countingDoer{}}

	f := facilitator.NewFacilitator(&facilitator.FacilitatorConfig{
		Supported:   []types.SchemeNetworkPair{{Scheme: "exact", Network: "base-sepolia"}},
		Transaction: facilitator.TransactionConfig{TimeoutSeconds: 30, MaxGasPrice: "100000000000"},
	}, facilitator.WithChain(h.chain))
	facilitatorServer := httptest.NewServer(f.Handler())
	t.Cleanup(facilitatorServer.Close)

	h.facilitator = facilitatorclient.NewFacilitatorClient(facilitatorServer.URL)
	h.ledger = &countingLedger{next: h.facilitator}

	cat, err := catalog.New(catalog.Config{
		Network:       "base-sepolia",
		Asset:         "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		AssetDecimals: 6,
		AssetName:     "USDC",
		AssetVersion:  "2",
		PayTo:         "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		Products: []catalog.Product{
			{ID: "weather", Name: "Weather Report", Aliases: []string{"forecast"}, Price: "1.00", Content: map[string]any{"temp": 21}},
		},
	})
	require.NoError(t, err)
	h.catalog = cat

	resourceServer := httptest.NewServer(server.NewServer(&server.Config{}, cat, h.ledger).Handler())
	t.Cleanup(resourceServer.Close)
	h.resourceURL = resourceServer.URL

	h.resource = client.NewClient(proof.NewPreparer(signer, preparerOpts...), payer, client.WithHTTPClient(h.doer))
	h.orchestrator = purchase.NewOrchestrator(cat, h.resource, resourceServer.URL)
	return h
}

func TestScenarioPaidPurchase(t *testing.T) {
	h := newHarness(t, localSigner(t))

	// The unpaid request advertises the price
	resp, err := http.Get(h.resourceURL + "/resources/weather")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	var envelope types.PaymentRequiredResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	require.Len(t, envelope.Accepts, 1)
	assert.Equal(t, "1000000", envelope.Accepts[0].MaxAmountRequired)

	outcome, err := h.orchestrator.Purchase(context.Background(), "forecast", true)
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.True(t, outcome.Paid)
	assert.Equal(t, "weather", outcome.ResourceID)
	assert.NotEmpty(t, outcome.PaymentReference)
	assert.NotEmpty(t, outcome.ProofNonce)
	assert.JSONEq(t, `{"success":true,"resourceId":"weather","paymentReference":"`+outcome.PaymentReference+`","data":{"temp":21}}`, string(outcome.Body))
	assert.EqualValues(t, 2, h.doer.calls.Load())
	assert.Equal(t, 1, h.chain.submitted)

	// The reference is provisional until the facilitator sees the receipt
	status, err := purchase.AwaitFinalization(context.Background(), h.facilitator, outcome.PaymentReference, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.FinalizationConfirmed, status.Status)
	assert.Equal(t, outcome.Transaction, status.Transaction)
}

func TestScenarioReplayedProofSettlesOnce(t *testing.T) {
	h := newHarness(t, localSigner(t))

	result, err := h.resource.Fetch(context.Background(), client.Request{URL: h.resourceURL + "/resources/weather"})
	require.NoError(t, err)
	require.NotEmpty(t, result.PaymentReference)

	req, err := http.NewRequest(http.MethodGet, h.resourceURL+"/resources/weather", nil)
	require.NoError(t, err)
	req.Header.Set(types.PaymentHeader, result.Proof.Header)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	var rejected types.SettlementRejectedResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rejected))
	assert.False(t, rejected.Success)
	assert.Equal(t, types.ReasonNonceAlreadyUsed, types.ReasonCode(rejected.Error))
	assert.Equal(t, 1, h.chain.submitted)
}

func TestScenarioUnderpaymentNeedsFunding(t *testing.T) {
	h := newHarness(t, underpayingSigner{next: localSigner(t), amount: "500000"})

	outcome, err := h.orchestrator.Purchase(context.Background(), "weather", true)
	require.ErrorIs(t, err, types.ErrFundingRequired)
	assert.False(t, outcome.Success)
	assert.Equal(t, types.CodeFundingRequired, outcome.Code)
	assert.EqualValues(t, 1, h.ledger.calls.Load())
	assert.Zero(t, h.chain.submitted)
}

func TestScenarioExpiredProofNeverReachesLedger(t *testing.T) {
	// The preparer runs on a slow clock so the backdated proof leaves the client
	h := newHarness(t, staleSigner{next: localSigner(t)},
		proof.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))

	outcome, err := h.orchestrator.Purchase(context.Background(), "weather", true)
	require.ErrorIs(t, err, types.ErrSettlementRejected)
	assert.Contains(t, outcome.Error, types.ReasonPaymentExpired)
	assert.Zero(t, h.ledger.calls.Load())
	assert.EqualValues(t, 2, h.doer.calls.Load())
}

func TestScenarioMalformedEnvelopeFailsFast(t *testing.T) {
	var hits atomic.Int32
	shop := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		w.Write([]byte(`{"x402Version":1,"error":"X-PAYMENT header is required","accepts":[]}`))
	}))
	defer shop.Close()

	signer := &countingSigner{next: localSigner(t)}
	h := newHarness(t, signer)
	o := purchase.NewOrchestrator(h.catalog, h.resource, shop.URL)

	outcome, err := o.Purchase(context.Background(), "weather", true)
	require.ErrorIs(t, err, types.ErrMalformedEnvelope)
	assert.Equal(t, types.CodeMalformedEnvelope, outcome.Code)
	assert.EqualValues(t, 1, hits.Load())
	assert.Zero(t, signer.calls.Load())
}

func TestUnconfirmedPurchaseMakesNoCalls(t *testing.T) {
	signer := &countingSigner{next: localSigner(t)}
	h := newHarness(t, signer)

	_, err := h.orchestrator.Purchase(context.Background(), "weather", false)
	require.ErrorIs(t, err, types.ErrConfirmationRequired)

	_, err = h.orchestrator.Purchase(context.Background(), "umbrella", true)
	require.ErrorIs(t, err, types.ErrUnknownResource)

	assert.Zero(t, h.doer.calls.Load())
	assert.Zero(t, signer.calls.Load())
	assert.Zero(t, h.ledger.calls.Load())
}
