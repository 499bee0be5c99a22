package facilitator

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vorpalengineering/x402-agent/types"
	"github.com/vorpalengineering/x402-agent/utils"
)

// verifiedPayment is an exact payment that passed every verification step
type verifiedPayment struct {
	payload *types.PaymentPayload
	exact   *types.ExactSchemePayload
	payer   common.Address
}

func (v *verifiedPayment) nonceKey(requirements *types.PaymentRequirements) string {
	return NonceKey(requirements.Network, requirements.Asset, v.payer.Hex(), v.exact.Authorization.Nonce)
}

// verifyPayment returns the verified payment, or the reason it is invalid.
// err is reserved for failures to reach the chain.
func (f *Facilitator) verifyPayment(ctx context.Context, paymentHeader string, requirements *types.PaymentRequirements) (*verifiedPayment, string, error) {
	// Decode the payment header from base64
	payload, err := utils.DecodePaymentHeader(paymentHeader)
	if err != nil {
		return nil, types.Reason(types.ReasonInvalidPayload, err.Error()), nil
	}
	if payload.X402Version != types.X402Version {
		return nil, types.Reason(types.ReasonInvalidPayload, fmt.Sprintf("unsupported x402Version %d", payload.X402Version)), nil
	}

	if !f.config.IsSupported(payload.Scheme, payload.Network) {
		if !f.config.supportsScheme(payload.Scheme) {
			return nil, types.Reason(types.ReasonUnsupportedScheme, payload.Scheme), nil
		}
		return nil, types.Reason(types.ReasonUnsupportedNetwork, payload.Network), nil
	}
	if payload.Scheme != requirements.Scheme || payload.Network != requirements.Network {
		return nil, types.Reason(types.ReasonInvalidPayload, "payload does not match requirements"), nil
	}

	exact, err := utils.ExtractExactPayload(payload)
	if err != nil {
		return nil, types.Reason(types.ReasonInvalidPayload, err.Error()), nil
	}
	auth := &exact.Authorization

	// Step 1: Signature Validation
	if reason := verifySignature(exact, requirements); reason != "" {
		return nil, reason, nil
	}

	// Step 2: Parameter Matching
	if reason := verifyParameters(auth, requirements); reason != "" {
		return nil, reason, nil
	}

	// Step 3: Amount Validation
	if reason := verifyAmount(auth, requirements); reason != "" {
		return nil, reason, nil
	}

	// Step 4: Time Window Check
	if reason := f.verifyTimeWindow(auth); reason != "" {
		return nil, reason, nil
	}

	verified := &verifiedPayment{
		payload: payload,
		exact:   exact,
		payer:   common.HexToAddress(auth.From),
	}

	// Step 5: Replay Check
	if f.nonces.Seen(verified.nonceKey(requirements)) {
		return nil, types.Reason(types.ReasonNonceAlreadyUsed, auth.Nonce), nil
	}

	// Step 6: Balance Verification
	if reason, err := f.verifyBalance(ctx, auth, requirements); err != nil || reason != "" {
		return nil, reason, err
	}

	return verified, "", nil
}

func verifySignature(exact *types.ExactSchemePayload, requirements *types.PaymentRequirements) string {
	if !common.IsHexAddress(exact.Authorization.From) {
		return types.Reason(types.ReasonInvalidPayload, "invalid from address")
	}

	recovered, err := utils.RecoverEIP3009Signer(&exact.Authorization, requirements, exact.Signature)
	if err != nil {
		return types.Reason(types.ReasonInvalidSignature, err.Error())
	}

	expected := common.HexToAddress(exact.Authorization.From)
	if recovered != expected {
		return types.Reason(types.ReasonInvalidSignature,
			fmt.Sprintf("recovered %s, expected %s", recovered.Hex(), expected.Hex()))
	}
	return ""
}

func verifyParameters(auth *types.ExactSchemeAuthorization, requirements *types.PaymentRequirements) string {
	// Addresses compare case-insensitively
	if !common.IsHexAddress(auth.To) || common.HexToAddress(auth.To) != common.HexToAddress(requirements.PayTo) {
		return types.Reason(types.ReasonRecipientMismatch,
			fmt.Sprintf("got %s, expected %s", auth.To, requirements.PayTo))
	}
	return ""
}

// verifyAmount requires the exact price. A short authorization is reported
// as insufficient funds so the payer is told to fund rather than re-sign the
// same amount.
func verifyAmount(auth *types.ExactSchemeAuthorization, requirements *types.PaymentRequirements) string {
	paymentAmount, err := utils.ParseAmount(auth.Value)
	if err != nil {
		return types.Reason(types.ReasonInvalidPayload, "invalid payment amount format")
	}
	requiredAmount, err := utils.ParseAmount(requirements.MaxAmountRequired)
	if err != nil {
		return types.Reason(types.ReasonInvalidPayload, "invalid required amount format")
	}

	switch paymentAmount.Cmp(requiredAmount) {
	case -1:
		return types.Reason(types.ReasonInsufficientFunds,
			fmt.Sprintf("authorized %s, required %s", auth.Value, requirements.MaxAmountRequired))
	case 1:
		return types.Reason(types.ReasonAmountMismatch,
			fmt.Sprintf("authorized %s, required %s", auth.Value, requirements.MaxAmountRequired))
	}
	return ""
}

func (f *Facilitator) verifyTimeWindow(auth *types.ExactSchemeAuthorization) string {
	now := f.now().Unix()

	if now < auth.ValidAfter {
		return types.Reason(types.ReasonPaymentNotYetValid, fmt.Sprintf("valid after %d", auth.ValidAfter))
	}
	if now >= auth.ValidBefore {
		return types.Reason(types.ReasonPaymentExpired, fmt.Sprintf("valid before %d", auth.ValidBefore))
	}
	return ""
}

func (f *Facilitator) verifyBalance(ctx context.Context, auth *types.ExactSchemeAuthorization, requirements *types.PaymentRequirements) (string, error) {
	paymentAmount, err := utils.ParseAmount(auth.Value)
	if err != nil {
		return types.Reason(types.ReasonInvalidPayload, "invalid payment amount format"), nil
	}

	balance, err := f.chain.BalanceOf(ctx, requirements.Network, common.HexToAddress(requirements.Asset), common.HexToAddress(auth.From))
	if err != nil {
		return "", fmt.Errorf("balance check failed: %w", err)
	}

	if balance.Cmp(paymentAmount) < 0 {
		return types.Reason(types.ReasonInsufficientFunds,
			fmt.Sprintf("balance %s, needs %s", balance.String(), paymentAmount.String())), nil
	}
	return "", nil
}
