package utils

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/vorpalengineering/x402-agent/types"
)

const ERC20BalanceOfABI = `[{
	"constant": true,
	"inputs": [{"name": "account", "type": "address"}],
	"name": "balanceOf",
	"outputs": [{"name": "", "type": "uint256"}],
	"type": "function"
}]`

const EIP3009TransferWithAuthABI = `[{
	"inputs": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "validAfter", "type": "uint256"},
		{"name": "validBefore", "type": "uint256"},
		{"name": "nonce", "type": "bytes32"},
		{"name": "v", "type": "uint8"},
		{"name": "r", "type": "bytes32"},
		{"name": "s", "type": "bytes32"}
	],
	"name": "transferWithAuthorization",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

// Legacy v1 network names
var networkChainIDs = map[string]int64{
	"ethereum":         1,
	"base":             8453,
	"base-sepolia":     84532,
	"polygon":          137,
	"polygon-amoy":     80002,
	"avalanche":        43114,
	"avalanche-fuji":   43113,
	"ethereum-sepolia": 11155111,
}

func GetChainID(network string) (*big.Int, error) {
	if id, ok := networkChainIDs[network]; ok {
		return big.NewInt(id), nil
	}

	// CAIP-2 format (e.g. "eip155:8453")
	substrings := strings.Split(network, ":")
	if len(substrings) != 2 || substrings[0] != "eip155" {
		return nil, fmt.Errorf("unknown network: %s", network)
	}
	chainId, ok := new(big.Int).SetString(substrings[1], 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse CAIP-2 network string: %s", network)
	}
	return chainId, nil
}

// ExtractExactPayload decodes the scheme-specific part of an exact payment
func ExtractExactPayload(payload *types.PaymentPayload) (*types.ExactSchemePayload, error) {
	if payload.Payload == nil {
		return nil, fmt.Errorf("missing payload")
	}
	if _, ok := payload.Payload["authorization"]; !ok {
		return nil, fmt.Errorf("missing authorization")
	}

	// Convert to JSON and back to struct
	raw, err := json.Marshal(payload.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var exact types.ExactSchemePayload
	if err := json.Unmarshal(raw, &exact); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if exact.Signature == "" {
		return nil, fmt.Errorf("missing signature")
	}
	auth := exact.Authorization
	if auth.From == "" || auth.To == "" || auth.Value == "" || auth.Nonce == "" {
		return nil, fmt.Errorf("incomplete authorization")
	}

	return &exact, nil
}

// ExactPayloadMap is the inverse of ExtractExactPayload
func ExactPayloadMap(exact *types.ExactSchemePayload) (map[string]any, error) {
	raw, err := json.Marshal(exact)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return m, nil
}

func ExtractVRS(signatureHex string) (v uint8, r [32]byte, s [32]byte, err error) {
	// Decode hex signature
	signature, err := hexutil.Decode("0x" + strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return 0, [32]byte{}, [32]byte{}, fmt.Errorf("invalid signature format: %w", err)
	}

	// Signature should be 65 bytes (r: 32, s: 32, v: 1)
	if len(signature) != 65 {
		return 0, [32]byte{}, [32]byte{}, fmt.Errorf("invalid signature length: expected 65, got %d", len(signature))
	}

	copy(r[:], signature[0:32])
	copy(s[:], signature[32:64])
	v = signature[64]

	// Ethereum uses v = 27 or 28
	if v < 27 {
		v += 27
	}

	return v, r, s, nil
}

// DomainFromExtra reads the EIP-712 domain name/version the asset contract signs with
func DomainFromExtra(extra map[string]any) (name, version string, err error) {
	name, ok := extra["name"].(string)
	if !ok || name == "" {
		return "", "", fmt.Errorf("missing EIP712 Domain name in extra field")
	}
	version, ok = extra["version"].(string)
	if !ok || version == "" {
		return "", "", fmt.Errorf("missing EIP712 Domain version in extra field")
	}
	return name, version, nil
}

func BuildEIP712TypedData(auth *types.ExactSchemeAuthorization, requirements *types.PaymentRequirements) (*apitypes.TypedData, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid value: %s", auth.Value)
	}

	chainID, err := GetChainID(requirements.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chain id: %w", err)
	}

	name, version, err := DomainFromExtra(requirements.Extra)
	if err != nil {
		return nil, err
	}

	return &apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: requirements.Asset,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From,
			"to":          auth.To,
			"value":       value.String(),
			"validAfter":  fmt.Sprintf("%d", auth.ValidAfter),
			"validBefore": fmt.Sprintf("%d", auth.ValidBefore),
			"nonce":       auth.Nonce,
		},
	}, nil
}

// RecoverEIP3009Signer returns the address that signed the authorization
func RecoverEIP3009Signer(auth *types.ExactSchemeAuthorization, requirements *types.PaymentRequirements, signatureHex string) (common.Address, error) {
	signature, err := hexutil.Decode("0x" + strings.TrimPrefix(signatureHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature format: %w", err)
	}
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: expected 65, got %d", len(signature))
	}

	typedData, err := BuildEIP712TypedData(auth, requirements)
	if err != nil {
		return common.Address{}, err
	}

	hash, _, err := apitypes.TypedDataAndHash(*typedData)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash typed data: %w", err)
	}

	// ecrecover expects v in {0, 1}
	if signature[64] == 27 || signature[64] == 28 {
		signature[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash, signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

func SignEIP3009(auth *types.ExactSchemeAuthorization, privateKey *ecdsa.PrivateKey, asset, domainName, domainVersion string, chainID int64) (string, error) {
	fromAddr := common.HexToAddress(auth.From)
	toAddr := common.HexToAddress(auth.To)
	val, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return "", fmt.Errorf("invalid value: %s", auth.Value)
	}
	assetAddr := common.HexToAddress(asset)

	nonceBytes, err := hex.DecodeString(strings.TrimPrefix(auth.Nonce, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid nonce: %w", err)
	}
	if len(nonceBytes) > 32 {
		return "", fmt.Errorf("invalid nonce length: %d", len(nonceBytes))
	}
	var nonce [32]byte
	copy(nonce[32-len(nonceBytes):], nonceBytes)

	domainTypeHash := crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	domainSeparator := crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256Hash([]byte(domainName)).Bytes(),
		crypto.Keccak256Hash([]byte(domainVersion)).Bytes(),
		common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
		common.LeftPadBytes(assetAddr.Bytes(), 32),
	)

	transferTypeHash := crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
	))
	structHash := crypto.Keccak256Hash(
		transferTypeHash.Bytes(),
		common.LeftPadBytes(fromAddr.Bytes(), 32),
		common.LeftPadBytes(toAddr.Bytes(), 32),
		common.LeftPadBytes(val.Bytes(), 32),
		common.LeftPadBytes(big.NewInt(auth.ValidAfter).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(auth.ValidBefore).Bytes(), 32),
		nonce[:],
	)

	messageHash := crypto.Keccak256Hash(
		[]byte("\x19\x01"),
		domainSeparator.Bytes(),
		structHash.Bytes(),
	)

	sig, err := crypto.Sign(messageHash.Bytes(), privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v for Ethereum (add 27)
	sig[64] += 27

	return "0x" + hex.EncodeToString(sig), nil
}
