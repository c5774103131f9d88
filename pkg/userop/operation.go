// Package userop builds, sponsors and submits ERC-4337 v0.6 user operations.
package userop

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DummySignature is a well-formed ECDSA signature used while estimating gas
var DummySignature = common.FromHex("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// UserOperation is an EntryPoint v0.6 user operation
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// userOperationJSON is the bundler wire format (hex quantities and bytes)
type userOperationJSON struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

// MarshalJSON encodes the operation the way bundlers expect it
func (op UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(userOperationJSON{
		Sender:               op.Sender,
		Nonce:                hexBig(op.Nonce),
		InitCode:             nonNilBytes(op.InitCode),
		CallData:             nonNilBytes(op.CallData),
		CallGasLimit:         hexBig(op.CallGasLimit),
		VerificationGasLimit: hexBig(op.VerificationGasLimit),
		PreVerificationGas:   hexBig(op.PreVerificationGas),
		MaxFeePerGas:         hexBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: hexBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     nonNilBytes(op.PaymasterAndData),
		Signature:            nonNilBytes(op.Signature),
	})
}

// UnmarshalJSON decodes the bundler wire format
func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var dec userOperationJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	op.Sender = dec.Sender
	op.Nonce = dec.Nonce.ToInt()
	op.InitCode = dec.InitCode
	op.CallData = dec.CallData
	op.CallGasLimit = dec.CallGasLimit.ToInt()
	op.VerificationGasLimit = dec.VerificationGasLimit.ToInt()
	op.PreVerificationGas = dec.PreVerificationGas.ToInt()
	op.MaxFeePerGas = dec.MaxFeePerGas.ToInt()
	op.MaxPriorityFeePerGas = dec.MaxPriorityFeePerGas.ToInt()
	op.PaymasterAndData = dec.PaymasterAndData
	op.Signature = dec.Signature
	return nil
}

var (
	uint256Type, _ = abi.NewType("uint256", "", nil)
	addressType, _ = abi.NewType("address", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)

	packedOpArgs = abi.Arguments{
		{Type: addressType}, {Type: uint256Type}, {Type: bytes32Type}, {Type: bytes32Type},
		{Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type}, {Type: uint256Type},
		{Type: uint256Type}, {Type: bytes32Type},
	}
	hashArgs = abi.Arguments{{Type: bytes32Type}, {Type: addressType}, {Type: uint256Type}}
)

// Hash returns the userOpHash the EntryPoint at entryPoint computes on chainID.
// The signature field is not part of the hash.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := packedOpArgs.Pack(
		op.Sender,
		safeBig(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		safeBig(op.CallGasLimit),
		safeBig(op.VerificationGasLimit),
		safeBig(op.PreVerificationGas),
		safeBig(op.MaxFeePerGas),
		safeBig(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, err
	}

	encoded, err := hashArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, safeBig(chainID))
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// HasPaymaster returns true if paymasterAndData carries a paymaster address
func (op *UserOperation) HasPaymaster() bool {
	return len(op.PaymasterAndData) >= common.AddressLength &&
		common.BytesToAddress(op.PaymasterAndData[:common.AddressLength]) != (common.Address{})
}

func hexBig(v *big.Int) *hexutil.Big {
	return (*hexutil.Big)(safeBig(v))
}

func safeBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func nonNilBytes(b []byte) hexutil.Bytes {
	if b == nil {
		return hexutil.Bytes{}
	}
	return b
}
