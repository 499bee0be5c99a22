package utils

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/go-playground/validator/v10"
	"github.com/vorpalengineering/x402-agent/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("uintstr", validateUintString); err != nil {
		panic(fmt.Sprintf("failed to register uintstr validation: %v", err))
	}
}

// validateUintString accepts base-10 non-negative integers of any size
func validateUintString(fl validator.FieldLevel) bool {
	_, err := ParseAmount(fl.Field().String())
	return err == nil
}

// ParseAmount parses an atomic amount string
func ParseAmount(amount string) (*big.Int, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}
	for _, c := range amount {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("invalid amount: %q", amount)
		}
	}
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", amount)
	}
	return value, nil
}

// ValidateRequirements checks the field rules of a single requirements entry
func ValidateRequirements(req *types.PaymentRequirements) error {
	if req == nil {
		return types.NewPaymentError(types.CodeInvalidRequirements, "requirements are nil", nil)
	}
	if err := validate.Struct(req); err != nil {
		return types.NewPaymentError(types.CodeInvalidRequirements, "validation failed", err)
	}
	return nil
}

// DecodeEnvelope parses a 402 body. The first accepts entry must be complete.
func DecodeEnvelope(data []byte) (*types.PaymentRequiredResponse, error) {
	var envelope types.PaymentRequiredResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, types.NewPaymentError(types.CodeMalformedEnvelope, "failed to parse payment requirements", err)
	}

	if len(envelope.Accepts) == 0 {
		return nil, types.NewPaymentError(types.CodeMalformedEnvelope, "accepts is missing or empty", nil)
	}

	if err := validate.Struct(&envelope.Accepts[0]); err != nil {
		return nil, types.NewPaymentError(types.CodeMalformedEnvelope, "invalid accepts[0]", err)
	}

	return &envelope, nil
}

func EncodeEnvelope(envelope *types.PaymentRequiredResponse) ([]byte, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment requirements: %w", err)
	}
	return data, nil
}

func EncodePaymentHeader(payload *types.PaymentPayload) (string, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(payloadJSON), nil
}

func DecodePaymentHeader(header string) (*types.PaymentPayload, error) {
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	if payload.Scheme == "" || payload.Network == "" {
		return nil, fmt.Errorf("missing scheme or network")
	}

	return &payload, nil
}

// EncodeSettleResponseHeader builds the X-PAYMENT-RESPONSE header value
func EncodeSettleResponseHeader(response *types.SettleResponse) (string, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settle response: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func DecodeSettleResponseHeader(header string) (*types.SettleResponse, error) {
	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	var response types.SettleResponse
	if err := json.Unmarshal(decoded, &response); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return &response, nil
}
