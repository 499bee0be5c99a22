package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/vorpalengineering/x402-agent/types"
	"github.com/vorpalengineering/x402-agent/utils"
)

var (
	erc20ABI   = mustParseABI(utils.ERC20BalanceOfABI)
	eip3009ABI = mustParseABI(utils.EIP3009TransferWithAuthABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// TransferCall is a decoded transferWithAuthorization invocation
type TransferCall struct {
	Asset       common.Address
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
	V           uint8
	R           [32]byte
	S           [32]byte
}

func (c *TransferCall) Pack() ([]byte, error) {
	return eip3009ABI.Pack(
		"transferWithAuthorization",
		c.From,
		c.To,
		c.Value,
		c.ValidAfter,
		c.ValidBefore,
		c.Nonce,
		c.V,
		c.R,
		c.S,
	)
}

// NewTransferCall builds the on-chain call for a verified exact payment
func NewTransferCall(exact *types.ExactSchemePayload, asset string) (*TransferCall, error) {
	auth := exact.Authorization

	v, r, s, err := utils.ExtractVRS(exact.Signature)
	if err != nil {
		return nil, fmt.Errorf("failed to extract signature: %w", err)
	}

	value, err := utils.ParseAmount(auth.Value)
	if err != nil {
		return nil, err
	}

	// Parse nonce (should be bytes32)
	var nonce [32]byte
	nonceBytes := common.FromHex(auth.Nonce)
	if len(nonceBytes) != 32 {
		return nil, fmt.Errorf("invalid nonce length: expected 32 bytes, got %d", len(nonceBytes))
	}
	copy(nonce[:], nonceBytes)

	return &TransferCall{
		Asset:       common.HexToAddress(asset),
		From:        common.HexToAddress(auth.From),
		To:          common.HexToAddress(auth.To),
		Value:       value,
		ValidAfter:  big.NewInt(auth.ValidAfter),
		ValidBefore: big.NewInt(auth.ValidBefore),
		Nonce:       nonce,
		V:           v,
		R:           r,
		S:           s,
	}, nil
}

// Chain is the ledger the facilitator settles on
type Chain interface {
	BalanceOf(ctx context.Context, network string, asset, owner common.Address) (*big.Int, error)
	SubmitTransfer(ctx context.Context, network string, call *TransferCall) (string, error)
	ReceiptStatus(ctx context.Context, network string, txHash string) (types.FinalizationStatus, error)
}

// EthChain talks to EVM networks over JSON-RPC
type EthChain struct {
	config *FacilitatorConfig

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

func NewEthChain(cfg *FacilitatorConfig) *EthChain {
	return &EthChain{
		config:  cfg,
		clients: make(map[string]*ethclient.Client),
	}
}

func (c *EthChain) getRPCClient(ctx context.Context, network string) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[network]; ok {
		return client, nil
	}

	netCfg, err := c.config.GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	client, err := ethclient.DialContext(ctx, netCfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", network, err)
	}
	c.clients[network] = client
	return client, nil
}

func (c *EthChain) BalanceOf(ctx context.Context, network string, asset, owner common.Address) (*big.Int, error) {
	client, err := c.getRPCClient(ctx, network)
	if err != nil {
		return nil, err
	}

	callData, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to encode balanceOf call: %w", err)
	}

	result, err := client.CallContract(ctx, ethereum.CallMsg{To: &asset, Data: callData}, nil) // nil = latest block
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}

	var balance *big.Int
	if err := erc20ABI.UnpackIntoInterface(&balance, "balanceOf", result); err != nil {
		return nil, fmt.Errorf("failed to decode balance: %w", err)
	}
	return balance, nil
}

func (c *EthChain) SubmitTransfer(ctx context.Context, network string, call *TransferCall) (string, error) {
	client, err := c.getRPCClient(ctx, network)
	if err != nil {
		return "", err
	}

	callData, err := call.Pack()
	if err != nil {
		return "", fmt.Errorf("failed to encode call: %w", err)
	}

	signer := c.config.Signer

	// Get nonce for facilitator address
	nonce, err := client.PendingNonceAt(ctx, signer.Address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	// Get gas price
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	// Check gas price against max gas price from config
	maxGasPrice, ok := new(big.Int).SetString(c.config.Transaction.MaxGasPrice, 10)
	if !ok {
		return "", fmt.Errorf("failed to parse max gas price: %s", c.config.Transaction.MaxGasPrice)
	}
	if gasPrice.Cmp(maxGasPrice) > 0 {
		return "", fmt.Errorf("gas price too high: suggested %s wei exceeds max %s wei", gasPrice.String(), maxGasPrice.String())
	}

	// Estimate gas, which also simulates the transfer
	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: signer.Address,
		To:   &call.Asset,
		Data: callData,
	})
	if err != nil {
		return "", fmt.Errorf("transaction would fail: %w", err)
	}

	tx := ethtypes.NewTransaction(
		nonce,
		call.Asset,
		big.NewInt(0), // No ETH value, just calling contract
		gasLimit,
		gasPrice,
		callData,
	)

	netCfg, err := c.config.GetNetworkConfig(network)
	if err != nil {
		return "", err
	}
	chainID, ok := new(big.Int).SetString(netCfg.ChainId, 10)
	if !ok {
		return "", fmt.Errorf("invalid chain id for %s: %s", network, netCfg.ChainId)
	}

	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(chainID), signer.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

func (c *EthChain) ReceiptStatus(ctx context.Context, network string, txHash string) (types.FinalizationStatus, error) {
	client, err := c.getRPCClient(ctx, network)
	if err != nil {
		return "", err
	}

	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if errors.Is(err, ethereum.NotFound) {
		return types.FinalizationPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch receipt: %w", err)
	}

	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		return types.FinalizationConfirmed, nil
	}
	return types.FinalizationFailed, nil
}

func (c *EthChain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for network, client := range c.clients {
		client.Close()
		delete(c.clients, network)
	}
	return nil
}
