package blockchain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/stablezap/stablezap/pkg/contracts"
	"github.com/stablezap/stablezap/pkg/models"
)

// CallUint256 calls a view method returning a single uint256
func CallUint256(ctx context.Context, client ChainClient, contractABI abi.ABI, address common.Address, method string, args ...interface{}) (*big.Int, error) {
	bound := bind.NewBoundContract(address, contractABI, client, nil, nil)

	var result []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &result, method, args...); err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, address.Hex(), err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty result from %s on %s", method, address.Hex())
	}
	value, ok := result[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T from %s", result[0], method)
	}
	return value, nil
}

// TokenBalance returns the ERC-20 balance of owner
func TokenBalance(ctx context.Context, client ChainClient, token, owner common.Address) (*big.Int, error) {
	return CallUint256(ctx, client, contracts.ERC20, token, "balanceOf", owner)
}

// Allowance returns the ERC-20 allowance granted by owner to spender
func Allowance(ctx context.Context, client ChainClient, token, owner, spender common.Address) (*big.Int, error) {
	return CallUint256(ctx, client, contracts.ERC20, token, "allowance", owner, spender)
}

// ApproveCall builds an unlimited approve(spender) call on token
func ApproveCall(token, spender common.Address) (models.Call, error) {
	data, err := contracts.ERC20.Pack("approve", spender, math.MaxBig256)
	if err != nil {
		return models.Call{}, fmt.Errorf("failed to pack approve: %w", err)
	}
	return models.Call{To: token, Data: data, Value: big.NewInt(0), Method: "approve"}, nil
}

// PackCall packs a contract call into a models.Call
func PackCall(contractABI abi.ABI, to common.Address, method string, args ...interface{}) (models.Call, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return models.Call{}, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return models.Call{To: to, Data: data, Value: big.NewInt(0), Method: method}, nil
}

// ERC20Source reads the token balance of an address
type ERC20Source struct {
	Client ChainClient
	Token  common.Address
}

// BalanceOf implements the balance source interface
func (s ERC20Source) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	return TokenBalance(ctx, s.Client, s.Token, owner)
}

// TokenDecimals returns the decimals of an ERC-20 token
func TokenDecimals(ctx context.Context, client ChainClient, token common.Address) (int32, error) {
	bound := bind.NewBoundContract(token, contracts.ERC20, client, nil, nil)

	var result []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &result, "decimals"); err != nil {
		return 0, fmt.Errorf("failed to read decimals of %s: %w", token.Hex(), err)
	}
	if len(result) == 0 {
		return 0, fmt.Errorf("empty decimals result from %s", token.Hex())
	}
	decimals, ok := result[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals type %T from %s", result[0], token.Hex())
	}
	return int32(decimals), nil
}
