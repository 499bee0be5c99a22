package proof

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vorpalengineering/x402-agent/types"
	"github.com/vorpalengineering/x402-agent/utils"
)

// LocalSigner signs EIP-3009 authorizations with an in-process key
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	now        func() time.Time
	// ValidAfterSkew backdates validAfter to tolerate clock drift
	ValidAfterSkew time.Duration
}

func NewLocalSigner(privateKey *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{
		privateKey:     privateKey,
		address:        crypto.PubkeyToAddress(privateKey.PublicKey),
		now:            time.Now,
		ValidAfterSkew: time.Minute,
	}
}

// NewLocalSignerFromHex accepts a key with or without 0x prefix
func NewLocalSignerFromHex(privateKeyHex string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewLocalSigner(key), nil
}

func (s *LocalSigner) Address() string {
	return s.address.Hex()
}

func (s *LocalSigner) Sign(_ context.Context, payer string, requirements *types.PaymentRequirements) (*types.PaymentPayload, error) {
	if !strings.EqualFold(payer, s.address.Hex()) {
		return nil, unsignable(fmt.Sprintf("signer holds key for %s, not %s", s.address.Hex(), payer), nil)
	}
	if requirements.Scheme != types.SchemeExact {
		return nil, unsignable(fmt.Sprintf("unsupported payment scheme: %s (only 'exact' is supported)", requirements.Scheme), nil)
	}
	if !common.IsHexAddress(requirements.PayTo) {
		return nil, unsignable(fmt.Sprintf("invalid recipient address: %s", requirements.PayTo), nil)
	}
	if !common.IsHexAddress(requirements.Asset) {
		return nil, unsignable(fmt.Sprintf("invalid asset address: %s", requirements.Asset), nil)
	}

	chainID, err := utils.GetChainID(requirements.Network)
	if err != nil {
		return nil, unsignable("unsupported network", err)
	}
	domainName, domainVersion, err := utils.DomainFromExtra(requirements.Extra)
	if err != nil {
		return nil, unsignable("missing signing domain", err)
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, err
	}

	now := s.now()
	auth := &types.ExactSchemeAuthorization{
		From:        s.address.Hex(),
		To:          common.HexToAddress(requirements.PayTo).Hex(),
		Value:       requirements.MaxAmountRequired,
		ValidAfter:  now.Add(-s.ValidAfterSkew).Unix(),
		ValidBefore: now.Add(time.Duration(requirements.MaxTimeoutSeconds) * time.Second).Unix(),
		Nonce:       "0x" + hex.EncodeToString(nonce[:]),
	}

	signature, err := utils.SignEIP3009(auth, s.privateKey, requirements.Asset, domainName, domainVersion, chainID.Int64())
	if err != nil {
		return nil, fmt.Errorf("failed to create EIP-3009 authorization: %w", err)
	}

	payload, err := utils.ExactPayloadMap(&types.ExactSchemePayload{
		Signature:     signature,
		Authorization: *auth,
	})
	if err != nil {
		return nil, err
	}

	return &types.PaymentPayload{
		X402Version: types.X402Version,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     payload,
	}, nil
}

// unsignable marks requirements this key can never sign, as opposed to a
// signer that is temporarily unavailable
func unsignable(message string, err error) error {
	return types.NewPaymentError(types.CodeInvalidRequirements, message, err)
}

func generateNonce() ([32]byte, error) {
	var nonce [32]byte
	_, err := rand.Read(nonce[:])
	if err != nil {
		return nonce, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}
