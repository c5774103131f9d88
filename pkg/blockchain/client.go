package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainClient is the subset of ethclient.Client the router relies on.
// It satisfies bind.ContractCaller and bind.DeployBackend.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ ChainClient = (*ethclient.Client)(nil)

// Dial connects to the RPC endpoint and verifies the chain ID
func Dial(ctx context.Context, rpcURL string, expectedChainID int64) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to client: %v", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	chainID, err := client.ChainID(timeoutCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %v", err)
	}
	if chainID.Int64() != expectedChainID {
		client.Close()
		return nil, fmt.Errorf("chain ID mismatch: endpoint reports %s, expected %d", chainID, expectedChainID)
	}

	return client, nil
}

// GasPrice returns the suggested gas price with the multiplier applied, capped at maxGasPrice
func GasPrice(ctx context.Context, client ChainClient, multiplier float64, maxGasPrice *big.Int) (*big.Int, error) {
	// Get current gas price from the network
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := client.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %v", err)
	}

	// Apply gas multiplier (e.g. 1.1 = 10% buffer)
	multipliedGasPrice := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(multiplier),
	)

	// Convert back to big.Int
	finalGasPrice := new(big.Int)
	multipliedGasPrice.Int(finalGasPrice)

	if maxGasPrice != nil && maxGasPrice.Sign() > 0 && finalGasPrice.Cmp(maxGasPrice) > 0 {
		finalGasPrice.Set(maxGasPrice)
	}
	return finalGasPrice, nil
}

// HasCode reports whether a contract is deployed at address
func HasCode(ctx context.Context, client ChainClient, address common.Address) (bool, error) {
	code, err := client.CodeAt(ctx, address, nil)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}
