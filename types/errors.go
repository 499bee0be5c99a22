package types

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorCode string

// Error codes surfaced to callers of the purchase flow
const (
	CodeMalformedEnvelope     ErrorCode = "malformed_envelope"
	CodeInvalidRequirements   ErrorCode = "invalid_requirements"
	CodeInvalidProof          ErrorCode = "invalid_proof"
	CodeSigningUnavailable    ErrorCode = "signing_unavailable"
	CodeTransportError        ErrorCode = "transport_error"
	CodeResourceError         ErrorCode = "resource_error"
	CodeConfirmationRequired  ErrorCode = "confirmation_required"
	CodeUnknownResource       ErrorCode = "unknown_resource"
	CodeSettlementRejected    ErrorCode = "settlement_rejected"
	CodeFundingRequired       ErrorCode = "funding_required"
	CodeSecondPaymentRequired ErrorCode = "second_payment_required"
)

// Sentinels for errors.Is; any *PaymentError with the same code matches
var (
	ErrMalformedEnvelope     = &PaymentError{Code: CodeMalformedEnvelope}
	ErrInvalidRequirements   = &PaymentError{Code: CodeInvalidRequirements}
	ErrInvalidProof          = &PaymentError{Code: CodeInvalidProof}
	ErrSigningUnavailable    = &PaymentError{Code: CodeSigningUnavailable}
	ErrTransportError        = &PaymentError{Code: CodeTransportError}
	ErrResourceError         = &PaymentError{Code: CodeResourceError}
	ErrConfirmationRequired  = &PaymentError{Code: CodeConfirmationRequired}
	ErrUnknownResource       = &PaymentError{Code: CodeUnknownResource}
	ErrSettlementRejected    = &PaymentError{Code: CodeSettlementRejected}
	ErrFundingRequired       = &PaymentError{Code: CodeFundingRequired}
	ErrSecondPaymentRequired = &PaymentError{Code: CodeSecondPaymentRequired}
)

// PaymentError is a terminal failure of one purchase attempt
type PaymentError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func (e *PaymentError) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Code)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

func (e *PaymentError) Is(target error) bool {
	t, ok := target.(*PaymentError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf returns the code of the first PaymentError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Reason codes reported by the facilitator in invalidReason/errorReason.
// A reason is "<code>" or "<code>: <detail>".
const (
	ReasonInsufficientFunds  = "insufficient_funds"
	ReasonAmountMismatch     = "amount_mismatch"
	ReasonInvalidSignature   = "invalid_signature"
	ReasonInvalidPayload     = "invalid_payload"
	ReasonPaymentExpired     = "payment_expired"
	ReasonPaymentNotYetValid = "payment_not_yet_valid"
	ReasonNonceAlreadyUsed   = "nonce_already_used"
	ReasonRecipientMismatch  = "recipient_mismatch"
	ReasonUnsupportedScheme  = "unsupported_scheme"
	ReasonUnsupportedNetwork = "unsupported_network"
	ReasonSettlementFailed   = "settlement_failed"
)

func Reason(code, detail string) string {
	if detail == "" {
		return code
	}
	return code + ": " + detail
}

// ReasonCode strips the detail from a facilitator reason
func ReasonCode(reason string) string {
	code, _, _ := strings.Cut(reason, ":")
	return strings.TrimSpace(code)
}
