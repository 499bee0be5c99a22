package facilitator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vorpalengineering/x402-agent/types"
)

func (f *Facilitator) settlePayment(ctx context.Context, req *types.SettleRequest) (*types.SettleResponse, error) {
	requirements := &req.PaymentRequirements

	verified, reason, err := f.verifyPayment(ctx, req.PaymentHeader, requirements)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return &types.SettleResponse{
			Success:     false,
			ErrorReason: reason,
			Network:     requirements.Network,
		}, nil
	}

	auth := verified.exact.Authorization
	payer := verified.payer.Hex()

	// Claim the nonce; a concurrent duplicate loses here
	key := verified.nonceKey(requirements)
	if !f.nonces.CheckAndMark(key, time.Unix(auth.ValidBefore, 0)) {
		return &types.SettleResponse{
			Success:     false,
			ErrorReason: types.Reason(types.ReasonNonceAlreadyUsed, auth.Nonce),
			Network:     requirements.Network,
			Payer:       payer,
		}, nil
	}

	call, err := NewTransferCall(verified.exact, requirements.Asset)
	if err != nil {
		f.nonces.Fail(key)
		return &types.SettleResponse{
			Success:     false,
			ErrorReason: types.Reason(types.ReasonInvalidPayload, err.Error()),
			Network:     requirements.Network,
			Payer:       payer,
		}, nil
	}

	submitCtx, cancel := context.WithTimeout(ctx, time.Duration(f.config.Transaction.TimeoutSeconds)*time.Second)
	defer cancel()

	txHash, err := f.chain.SubmitTransfer(submitCtx, requirements.Network, call)
	if err != nil {
		f.nonces.Fail(key)
		f.log.Error("settlement failed", map[string]any{
			"network": requirements.Network,
			"payer":   payer,
			"error":   err,
		})
		return &types.SettleResponse{
			Success:     false,
			ErrorReason: types.Reason(types.ReasonSettlementFailed, err.Error()),
			Network:     requirements.Network,
			Payer:       payer,
		}, nil
	}
	f.nonces.Complete(key)

	// The transaction is submitted but not yet mined; the reference
	// resolves to its receipt later.
	reference := uuid.NewString()
	f.settlements.Put(types.SettlementStatus{
		Reference:   reference,
		Status:      types.FinalizationPending,
		Transaction: txHash,
		Network:     requirements.Network,
		Payer:       payer,
	})

	f.log.Info("payment settled", map[string]any{
		"reference":   reference,
		"transaction": txHash,
		"network":     requirements.Network,
		"payer":       payer,
		"value":       auth.Value,
	})

	return &types.SettleResponse{
		Success:     true,
		Reference:   reference,
		Transaction: txHash,
		Network:     requirements.Network,
		Payer:       payer,
	}, nil
}

// settlementStatus resolves a reference, refreshing pending records from the chain
func (f *Facilitator) settlementStatus(ctx context.Context, reference string) (*types.SettlementStatus, error) {
	status, ok := f.settlements.Get(reference)
	if !ok {
		return nil, nil
	}
	if status.Status != types.FinalizationPending {
		return &status, nil
	}

	finalization, err := f.chain.ReceiptStatus(ctx, status.Network, status.Transaction)
	if err != nil {
		return nil, err
	}
	if finalization != status.Status {
		status.Status = finalization
		f.settlements.Put(status)
	}
	return &status, nil
}
