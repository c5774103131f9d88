package testutil

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/stablezap/stablezap/pkg/contracts"
)

// FakeChain is an in-memory ChainClient. It answers the view calls the
// router makes (balances, allowances, share conversion, EntryPoint nonces)
// and mines every sent transaction immediately.
type FakeChain struct {
	mu sync.Mutex

	ID          *big.Int
	GasPriceWei *big.Int

	native      map[common.Address]*big.Int
	tokens      map[common.Address]map[common.Address]*big.Int
	allowances  map[common.Address]map[common.Address]map[common.Address]*big.Int
	code        map[common.Address][]byte
	aaNonces    map[common.Address]*big.Int
	balanceErrs map[common.Address]error
	receipts    map[common.Hash]*types.Receipt
	nonces      map[common.Address]uint64

	// SimulateErr is returned by eth_call on state-changing methods
	SimulateErr error
	// EstimateErr is returned by EstimateGas
	EstimateErr error
	// SendErr is returned by SendTransaction
	SendErr error
	// RevertSends makes every mined transaction fail
	RevertSends bool
	// IgnoreApprovals keeps allowances unchanged when approvals are mined
	IgnoreApprovals bool
	// WithholdReceipts never returns receipts
	WithholdReceipts bool

	Sent []*types.Transaction
}

// NewFakeChain creates an empty fake chain
func NewFakeChain() *FakeChain {
	return &FakeChain{
		ID:          new(big.Int).Set(TestChainID),
		GasPriceWei: big.NewInt(1_000_000_000),
		native:      make(map[common.Address]*big.Int),
		tokens:      make(map[common.Address]map[common.Address]*big.Int),
		allowances:  make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
		code:        make(map[common.Address][]byte),
		aaNonces:    make(map[common.Address]*big.Int),
		balanceErrs: make(map[common.Address]error),
		receipts:    make(map[common.Hash]*types.Receipt),
		nonces:      make(map[common.Address]uint64),
	}
}

// SetNative sets the native balance of address
func (f *FakeChain) SetNative(address common.Address, wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.native[address] = new(big.Int).Set(wei)
}

// SetBalance sets balanceOf(holder) on contract
func (f *FakeChain) SetBalance(contract, holder common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokens[contract] == nil {
		f.tokens[contract] = make(map[common.Address]*big.Int)
	}
	f.tokens[contract][holder] = new(big.Int).Set(amount)
}

// FailBalance makes every balanceOf(holder) call fail
func (f *FakeChain) FailBalance(holder common.Address, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceErrs[holder] = err
}

// SetAllowance sets allowance(owner, spender) on token
func (f *FakeChain) SetAllowance(token, owner, spender common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setAllowance(token, owner, spender, amount)
}

func (f *FakeChain) setAllowance(token, owner, spender common.Address, amount *big.Int) {
	if f.allowances[token] == nil {
		f.allowances[token] = make(map[common.Address]map[common.Address]*big.Int)
	}
	if f.allowances[token][owner] == nil {
		f.allowances[token][owner] = make(map[common.Address]*big.Int)
	}
	f.allowances[token][owner][spender] = new(big.Int).Set(amount)
}

// SetCode deploys fake code at address
func (f *FakeChain) SetCode(address common.Address, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.code[address] = code
}

// SentWithSelector counts sent transactions calling method of contractABI
func (f *FakeChain) SentWithSelector(contractABI abi.ABI, method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := contractABI.Methods[method].ID
	count := 0
	for _, tx := range f.Sent {
		if len(tx.Data()) >= 4 && bytes.Equal(tx.Data()[:4], id) {
			count++
		}
	}
	return count
}

func (f *FakeChain) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.ID), nil
}

func (f *FakeChain) CodeAt(_ context.Context, contract common.Address, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[contract], nil
}

func (f *FakeChain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if balance, ok := f.native[account]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (f *FakeChain) HeaderByNumber(_ context.Context, _ *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: big.NewInt(100_000_000)}, nil
}

func (f *FakeChain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}

func (f *FakeChain) SuggestGasPrice(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.GasPriceWei), nil
}

func (f *FakeChain) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *FakeChain) EstimateGas(_ context.Context, _ ethereum.CallMsg) (uint64, error) {
	if f.EstimateErr != nil {
		return 0, f.EstimateErr
	}
	return 100_000, nil
}

func (f *FakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if call.To == nil || len(call.Data) < 4 {
		return nil, nil
	}
	selector := call.Data[:4]
	args := call.Data[4:]

	switch {
	case bytes.Equal(selector, contracts.ERC20.Methods["balanceOf"].ID):
		method := contracts.ERC20.Methods["balanceOf"]
		values, err := method.Inputs.Unpack(args)
		if err != nil {
			return nil, err
		}
		holder := values[0].(common.Address)
		if err := f.balanceErrs[holder]; err != nil {
			return nil, err
		}
		return method.Outputs.Pack(f.lookup(f.tokens[*call.To], holder))

	case bytes.Equal(selector, contracts.ERC20.Methods["allowance"].ID):
		method := contracts.ERC20.Methods["allowance"]
		values, err := method.Inputs.Unpack(args)
		if err != nil {
			return nil, err
		}
		owner := values[0].(common.Address)
		spender := values[1].(common.Address)
		var amount *big.Int
		if byOwner := f.allowances[*call.To][owner]; byOwner != nil {
			amount = byOwner[spender]
		}
		if amount == nil {
			amount = big.NewInt(0)
		}
		return method.Outputs.Pack(amount)

	case bytes.Equal(selector, contracts.ERC20.Methods["decimals"].ID):
		return contracts.ERC20.Methods["decimals"].Outputs.Pack(uint8(6))

	case bytes.Equal(selector, contracts.ERC4626.Methods["convertToAssets"].ID):
		method := contracts.ERC4626.Methods["convertToAssets"]
		values, err := method.Inputs.Unpack(args)
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(values[0].(*big.Int))

	case bytes.Equal(selector, contracts.EntryPoint.Methods["getNonce"].ID):
		method := contracts.EntryPoint.Methods["getNonce"]
		values, err := method.Inputs.Unpack(args)
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(f.lookup(f.aaNonces, values[0].(common.Address)))
	}

	// State-changing call simulated through eth_call
	if f.SimulateErr != nil {
		return nil, f.SimulateErr
	}
	return []byte{}, nil
}

func (f *FakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.SendErr != nil {
		return f.SendErr
	}

	sender, err := types.Sender(types.LatestSignerForChainID(f.ID), tx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.Sent = append(f.Sent, tx)
	f.nonces[sender] = tx.Nonce() + 1

	status := types.ReceiptStatusSuccessful
	if f.RevertSends {
		status = types.ReceiptStatusFailed
	}

	approve := contracts.ERC20.Methods["approve"]
	if status == types.ReceiptStatusSuccessful && !f.IgnoreApprovals && tx.To() != nil &&
		len(tx.Data()) >= 4 && bytes.Equal(tx.Data()[:4], approve.ID) {
		values, err := approve.Inputs.Unpack(tx.Data()[4:])
		if err == nil {
			f.setAllowance(*tx.To(), sender, values[0].(common.Address), values[1].(*big.Int))
		}
	}

	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     tx.Gas() / 2,
		BlockNumber: big.NewInt(1),
	}
	return nil
}

func (f *FakeChain) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WithholdReceipts {
		return nil, ethereum.NotFound
	}
	receipt, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *FakeChain) lookup(values map[common.Address]*big.Int, key common.Address) *big.Int {
	if values == nil || values[key] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(values[key])
}

// ErrRPC is a generic node failure for tests
var ErrRPC = errors.New("rpc unavailable")
