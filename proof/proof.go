package proof

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vorpalengineering/x402-agent/logger"
	"github.com/vorpalengineering/x402-agent/types"
	"github.com/vorpalengineering/x402-agent/utils"
)

// Signer is the signing collaborator. Implementations own the payer's keys;
// the preparer never sees them.
type Signer interface {
	Sign(ctx context.Context, payer string, requirements *types.PaymentRequirements) (*types.PaymentPayload, error)
}

// Proof is a signed payment plus its X-PAYMENT encoding. It is single use:
// the nonce ties it to one settlement.
type Proof struct {
	Payload       *types.PaymentPayload
	Authorization types.ExactSchemeAuthorization
	Signature     string
	Header        string
}

type Preparer struct {
	signer Signer
	now    func() time.Time
	log    logger.Logger
}

type Option func(*Preparer)

func WithClock(now func() time.Time) Option {
	return func(p *Preparer) {
		p.now = now
	}
}

func WithLogger(l logger.Logger) Option {
	return func(p *Preparer) {
		p.log = logger.OrNoop(l)
	}
}

func NewPreparer(signer Signer, opts ...Option) *Preparer {
	p := &Preparer{
		signer: signer,
		now:    time.Now,
		log:    logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Prepare obtains a signed proof for requirements from the signer and checks
// that what came back actually pays for them.
func (p *Preparer) Prepare(ctx context.Context, payer string, requirements *types.PaymentRequirements) (*Proof, error) {
	if err := utils.ValidateRequirements(requirements); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(payer) {
		return nil, types.NewPaymentError(types.CodeInvalidRequirements, fmt.Sprintf("invalid payer address: %q", payer), nil)
	}
	if p.signer == nil {
		return nil, types.NewPaymentError(types.CodeSigningUnavailable, "no signer configured", nil)
	}

	payload, err := p.signer.Sign(ctx, payer, requirements)
	if err != nil {
		var pe *types.PaymentError
		if errors.As(err, &pe) {
			return nil, err
		}
		return nil, types.NewPaymentError(types.CodeSigningUnavailable, "signer failed", err)
	}
	if payload == nil {
		return nil, types.NewPaymentError(types.CodeInvalidProof, "signer returned no payload", nil)
	}

	if payload.X402Version == 0 {
		payload.X402Version = types.X402Version
	}
	if payload.Scheme != requirements.Scheme || payload.Network != requirements.Network {
		return nil, types.NewPaymentError(types.CodeInvalidProof,
			fmt.Sprintf("signed for %s/%s, required %s/%s", payload.Scheme, payload.Network, requirements.Scheme, requirements.Network), nil)
	}

	exact, err := utils.ExtractExactPayload(payload)
	if err != nil {
		return nil, types.NewPaymentError(types.CodeInvalidProof, "malformed signed payload", err)
	}
	if err := p.checkAuthorization(payer, requirements, &exact.Authorization); err != nil {
		return nil, err
	}

	header, err := utils.EncodePaymentHeader(payload)
	if err != nil {
		return nil, types.NewPaymentError(types.CodeInvalidProof, "failed to encode payment header", err)
	}

	p.log.Debug("proof prepared", map[string]any{
		"payer":   payer,
		"network": requirements.Network,
		"value":   exact.Authorization.Value,
		"nonce":   exact.Authorization.Nonce,
	})

	return &Proof{
		Payload:       payload,
		Authorization: exact.Authorization,
		Signature:     exact.Signature,
		Header:        header,
	}, nil
}

func (p *Preparer) checkAuthorization(payer string, requirements *types.PaymentRequirements, auth *types.ExactSchemeAuthorization) error {
	invalid := func(msg string) error {
		return types.NewPaymentError(types.CodeInvalidProof, msg, nil)
	}

	value, err := utils.ParseAmount(auth.Value)
	if err != nil {
		return types.NewPaymentError(types.CodeInvalidProof, "invalid authorization value", err)
	}
	required, _ := utils.ParseAmount(requirements.MaxAmountRequired)
	if value.Cmp(required) > 0 {
		return invalid(fmt.Sprintf("authorization value %s exceeds maxAmountRequired %s", auth.Value, requirements.MaxAmountRequired))
	}
	if auth.ValidBefore <= p.now().Unix() {
		return invalid("authorization already expired")
	}
	if strings.TrimPrefix(auth.Nonce, "0x") == "" {
		return invalid("authorization nonce is empty")
	}
	if !strings.EqualFold(auth.From, payer) {
		return invalid(fmt.Sprintf("authorization signed by %s, expected %s", auth.From, payer))
	}
	return nil
}
