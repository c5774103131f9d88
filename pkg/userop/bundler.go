package userop

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Sponsorship is the paymaster's answer to pm_sponsorUserOperation.
// Gas fields are optional; when set they replace the padded estimate.
type Sponsorship struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	PreVerificationGas   *hexutil.Big  `json:"preVerificationGas,omitempty"`
	VerificationGasLimit *hexutil.Big  `json:"verificationGasLimit,omitempty"`
	CallGasLimit         *hexutil.Big  `json:"callGasLimit,omitempty"`
}

// Receipt is the result of eth_getUserOperationReceipt
type Receipt struct {
	UserOpHash    common.Hash  `json:"userOpHash"`
	Success       bool         `json:"success"`
	Reason        string       `json:"reason"`
	ActualGasUsed *hexutil.Big `json:"actualGasUsed"`
	Receipt       struct {
		TransactionHash common.Hash `json:"transactionHash"`
	} `json:"receipt"`
}

// Bundler is the ERC-4337 bundler and paymaster RPC surface
type Bundler interface {
	EstimateUserOperationGas(ctx context.Context, op *UserOperation, entryPoint common.Address) (*GasEstimate, error)
	SponsorUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address, sponsorContext map[string]interface{}) (*Sponsorship, error)
	SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error)
	// GetUserOperationReceipt returns nil without error while the operation is not mined
	GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// RPCBundler talks to a bundler over JSON-RPC
type RPCBundler struct {
	client *rpc.Client
}

// DialBundler connects to the bundler at url
func DialBundler(ctx context.Context, url string) (*RPCBundler, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bundler: %v", err)
	}
	return NewRPCBundler(client), nil
}

// NewRPCBundler wraps an existing RPC client
func NewRPCBundler(client *rpc.Client) *RPCBundler {
	return &RPCBundler{client: client}
}

// Close closes the underlying connection
func (b *RPCBundler) Close() {
	b.client.Close()
}

func (b *RPCBundler) EstimateUserOperationGas(ctx context.Context, op *UserOperation, entryPoint common.Address) (*GasEstimate, error) {
	var res struct {
		PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
		VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
		CallGasLimit         *hexutil.Big `json:"callGasLimit"`
	}
	if err := b.client.CallContext(ctx, &res, "eth_estimateUserOperationGas", op, entryPoint); err != nil {
		return nil, err
	}
	if res.CallGasLimit == nil || res.VerificationGasLimit == nil || res.PreVerificationGas == nil {
		return nil, fmt.Errorf("incomplete gas estimate from bundler")
	}
	return &GasEstimate{
		PreVerificationGas:   res.PreVerificationGas.ToInt(),
		VerificationGasLimit: res.VerificationGasLimit.ToInt(),
		CallGasLimit:         res.CallGasLimit.ToInt(),
	}, nil
}

func (b *RPCBundler) SponsorUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address, sponsorContext map[string]interface{}) (*Sponsorship, error) {
	var res Sponsorship
	if err := b.client.CallContext(ctx, &res, "pm_sponsorUserOperation", op, entryPoint, sponsorContext); err != nil {
		return nil, err
	}
	return &res, nil
}

func (b *RPCBundler) SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error) {
	var hash common.Hash
	if err := b.client.CallContext(ctx, &hash, "eth_sendUserOperation", op, entryPoint); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (b *RPCBundler) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var receipt *Receipt
	if err := b.client.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, err
	}
	return receipt, nil
}
