package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vorpalengineering/x402-agent/settlement"
	"github.com/vorpalengineering/x402-agent/types"
)

type stubDecider struct {
	result *settlement.Result
	inputs []settlement.Input
}

func (s *stubDecider) Decide(_ context.Context, in settlement.Input) *settlement.Result {
	s.inputs = append(s.inputs, in)
	return s.result
}

func setupRouter(cfg *MiddlewareConfig, engine Decider, handlerCalls *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(NewX402Middleware(cfg, engine).Handler())
	router.GET("/resources/:id", func(ctx *gin.Context) {
		*handlerCalls++
		ctx.JSON(http.StatusOK, gin.H{
			"success":          true,
			"resourceId":       ctx.Param("id"),
			"paymentReference": PaymentReference(ctx),
		})
	})
	router.GET("/health", func(ctx *gin.Context) {
		*handlerCalls++
		ctx.Status(http.StatusOK)
	})
	return router
}

func TestMiddlewareUnprotectedPath(t *testing.T) {
	engine := &stubDecider{}
	var calls int
	router := setupRouter(&MiddlewareConfig{ProtectedPaths: []string{"/resources/*"}}, engine, &calls)

	recorder := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1, calls)
	assert.Empty(t, engine.inputs)
}

func TestMiddlewareRequiresPayment(t *testing.T) {
	engine := &stubDecider{result: &settlement.Result{
		State:      settlement.StateRequiresPayment,
		StatusCode: http.StatusPaymentRequired,
		Body: types.PaymentRequiredResponse{
			X402Version: 1,
			Error:       types.PaymentHeaderRequired,
			Accepts:     []types.PaymentRequirements{{Scheme: "exact", MaxAmountRequired: "1000000"}},
		},
	}}
	var calls int
	router := setupRouter(&MiddlewareConfig{
		ProtectedPaths: []string{"/resources/*"},
		PublicURL:      "https://api.example.com/",
	}, engine, &calls)

	recorder := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/resources/weather", nil)
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusPaymentRequired, recorder.Code)
	assert.Equal(t, 0, calls)

	var envelope types.PaymentRequiredResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	assert.Equal(t, "1000000", envelope.Accepts[0].MaxAmountRequired)

	require.Len(t, engine.inputs, 1)
	assert.Equal(t, "weather", engine.inputs[0].ResourceID)
	assert.Equal(t, "https://api.example.com/resources/weather", engine.inputs[0].ResourceURL)
	assert.Empty(t, engine.inputs[0].PaymentHeader)
}

func TestMiddlewareSettledRunsHandler(t *testing.T) {
	engine := &stubDecider{result: &settlement.Result{
		State:            settlement.StateSettled,
		StatusCode:       http.StatusOK,
		Headers:          map[string]string{types.PaymentResponseHeader: "encoded"},
		PaymentReference: "ref-42",
	}}
	var calls int
	router := setupRouter(&MiddlewareConfig{ProtectedPaths: []string{"/resources/*"}}, engine, &calls)

	recorder := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/resources/weather", nil)
	req.Header.Set("X-Payment", "proof")
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "encoded", recorder.Header().Get(types.PaymentResponseHeader))
	assert.Equal(t, "proof", engine.inputs[0].PaymentHeader)

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "ref-42", body["paymentReference"])
	assert.Equal(t, "weather", body["resourceId"])
}

func TestMiddlewareRejectedSkipsHandler(t *testing.T) {
	engine := &stubDecider{result: &settlement.Result{
		State:      settlement.StateRejected,
		StatusCode: http.StatusForbidden,
		Body:       types.SettlementRejectedResponse{Error: "payment_expired"},
	}}
	var calls int
	router := setupRouter(&MiddlewareConfig{ProtectedPaths: []string{"/resources/*"}}, engine, &calls)

	recorder := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/resources/weather", nil)
	req.Header.Set(types.PaymentHeader, "proof")
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusForbidden, recorder.Code)
	assert.Equal(t, 0, calls)
	assert.JSONEq(t, `{"success":false,"error":"payment_expired"}`, recorder.Body.String())
}

func TestMiddlewareDiscovery(t *testing.T) {
	var calls int
	router := setupRouter(&MiddlewareConfig{
		ProtectedPaths:   []string{"/resources/*"},
		DiscoveryEnabled: true,
	}, &stubDecider{}, &calls)
	router.GET("/.well-known/x402", func(ctx *gin.Context) {})

	recorder := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/.well-known/x402", nil)
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"version":1,"resources":["/resources/*"]}`, recorder.Body.String())
}

func TestMiddlewareConfig(t *testing.T) {
	cfg := &MiddlewareConfig{}
	assert.Error(t, cfg.Validate())
	assert.Equal(t, types.PaymentHeader, cfg.GetPaymentHeaderName())
	assert.Equal(t, "id", cfg.GetResourceIDParam())

	cfg.ProtectedPaths = []string{"/resources/["}
	assert.Error(t, cfg.Validate())

	cfg.ProtectedPaths = []string{"/resources/*"}
	assert.NoError(t, cfg.Validate())
}
