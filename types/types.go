package types

const (
	// X402Version is the protocol version spoken on the wire
	X402Version = 1

	// SchemeExact pays exactly maxAmountRequired via an EIP-3009 authorization
	SchemeExact = "exact"

	// PaymentHeader carries the base64 encoded PaymentPayload on the retry request
	PaymentHeader = "X-PAYMENT"

	// PaymentResponseHeader carries the base64 encoded SettleResponse on success
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"

	// PaymentHeaderRequired is the envelope error for a request without proof
	PaymentHeaderRequired = "X-PAYMENT header is required"
)

// Client/Facilitator types

type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentHeader       string              `json:"paymentHeader"` // Raw base64 encoded header
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

type SettleRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentHeader       string              `json:"paymentHeader"` // Raw base64 encoded header
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`
}

type SchemeNetworkPair struct {
	Scheme  string `json:"scheme" yaml:"scheme"`
	Network string `json:"network" yaml:"network"`
}

type SupportedResponse struct {
	Kinds []SchemeNetworkPair `json:"kinds"`
}

// Payment types

// PaymentRequiredResponse is the body of a 402 response
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Error       string                `json:"error"`
	Accepts     []PaymentRequirements `json:"accepts"`
}

// PaymentRequirements describes one acceptable way to pay for one resource fetch.
// MaxAmountRequired is in the asset's smallest unit, encoded as a decimal string.
type PaymentRequirements struct {
	Scheme            string         `json:"scheme" validate:"required"`
	Network           string         `json:"network" validate:"required"`
	MaxAmountRequired string         `json:"maxAmountRequired" validate:"required,uintstr"`
	Resource          string         `json:"resource" validate:"required"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	OutputSchema      map[string]any `json:"outputSchema,omitempty"`
	PayTo             string         `json:"payTo" validate:"required"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds" validate:"gt=0"`
	Asset             string         `json:"asset" validate:"required"`
	Extra             map[string]any `json:"extra,omitempty"`
}

type PaymentPayload struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Payload     map[string]any `json:"payload"`
}

type ExactSchemePayload struct {
	Signature     string                   `json:"signature"`
	Authorization ExactSchemeAuthorization `json:"authorization"`
}

type ExactSchemeAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// Settlement types

// PriceDescriptor is what the catalog knows about the price of one resource
type PriceDescriptor struct {
	ResourceID        string         `json:"resourceId" yaml:"resource_id"`
	Amount            string         `json:"amount" yaml:"amount"`
	Asset             string         `json:"asset" yaml:"asset"`
	Network           string         `json:"network" yaml:"network"`
	PayTo             string         `json:"payTo" yaml:"pay_to"`
	Description       string         `json:"description" yaml:"description"`
	MimeType          string         `json:"mimeType" yaml:"mime_type"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds" yaml:"max_timeout_seconds"`
	Extra             map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

type VerdictStatus string

const (
	VerdictSettled           VerdictStatus = "settled"
	VerdictAmountMismatch    VerdictStatus = "amount_mismatch"
	VerdictInsufficientFunds VerdictStatus = "insufficient_funds"
	VerdictRejected          VerdictStatus = "rejected"
)

// Verdict is the ledger's decision on one submitted proof
type Verdict struct {
	Status      VerdictStatus `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	Reference   string        `json:"reference,omitempty"`
	Transaction string        `json:"transaction,omitempty"`
	Network     string        `json:"network,omitempty"`
	Payer       string        `json:"payer,omitempty"`
}

type FinalizationStatus string

const (
	FinalizationPending   FinalizationStatus = "pending"
	FinalizationConfirmed FinalizationStatus = "confirmed"
	FinalizationFailed    FinalizationStatus = "failed"
)

// SettlementStatus resolves a provisional payment reference to its transaction
type SettlementStatus struct {
	Reference   string             `json:"reference"`
	Status      FinalizationStatus `json:"status"`
	Transaction string             `json:"transaction,omitempty"`
	Network     string             `json:"network,omitempty"`
	Payer       string             `json:"payer,omitempty"`
}

// SettlementRejectedResponse is the body of a 4xx settlement response
type SettlementRejectedResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
