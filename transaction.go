// Package safeauto provides the structures shared between a Safe, the
// permission module that forwards whitelisted transactions on its behalf and
// the auto top-up engine driven by an external automation network.
//
// This file defines the SafeTransaction struct, the sub-call format that the
// automation network proposes to the permission module, and the methods
// used to derive its whitelist spec from the call data.
//
// A SafeTransaction call data value is laid out as
//
//	<selector: 4 bytes><ABI encoded arguments>
//
// An empty call data value (or one shorter than 4 bytes) is a plain value
// transfer and derives the zero selector.
package safeauto

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
)

type safeAutoError string

func (e safeAutoError) Error() string {
	return string(e)
}

// Define error constants
const (
	ErrUnauthorized        safeAutoError = "unauthorized caller"
	ErrAuthorizationDenied safeAutoError = "transaction is not whitelisted"
	ErrMalformedRoster     safeAutoError = "receivers, amounts and thresholds length mismatch"
	ErrInsufficientFunds   safeAutoError = "insufficient funds to cover top ups"
	ErrNoAddressForNetwork safeAutoError = "no address for network"
	ErrExecutionFailed     safeAutoError = "module transaction failed"
	ErrModuleNotEnabled    safeAutoError = "module is not enabled"
	ErrUnknownSelector     safeAutoError = "unknown function selector"
	ErrInvalidCallData     safeAutoError = "invalid hex-encoded call data"
	ErrInvalidOperation    safeAutoError = "invalid operation"
	ErrInsufficientBalance safeAutoError = "insufficient balance"
	ErrTaskNotFound        safeAutoError = "task not found"
	ErrTaskNotDue          safeAutoError = "task is not due"
	ErrDuplicateTask       safeAutoError = "duplicate task"
	ErrStaticCall          safeAutoError = "state change in static call"
)

// Reverted marks every error above as raised by contract code.
func (e safeAutoError) Reverted() bool {
	return true
}

// RevertError wraps whatever a contract failed with.
type RevertError struct {
	Contract common.Address
	Err      error
}

func (e *RevertError) Error() string {
	return fmt.Sprintf("call to %s: %v", e.Contract.Hex(), e.Err)
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// Reverted implements the interface checked by IsRevert.
func (e *RevertError) Reverted() bool {
	return true
}

// IsRevert reports whether err, or an error it wraps, was raised by contract
// code rather than lost in transport. Errors opt in with a Reverted method.
func IsRevert(err error) bool {
	var r interface{ Reverted() bool }
	return errors.As(err, &r) && r.Reverted()
}

// SafeTransaction is a single sub-call of a batch forwarded by the permission
// module to the Safe's execTransactionFromModule.
type SafeTransaction struct {
	To        common.Address
	Data      []byte
	Value     *big.Int
	Operation Operation
}

// Selector returns the first 4 bytes of the call data or the zero selector
// for plain value transfers.
func (tx *SafeTransaction) Selector() Selector {
	var sel Selector
	if len(tx.Data) >= SelectorLength {
		copy(sel[:], tx.Data[:SelectorLength])
	}
	return sel
}

// HasValue reports whether the transaction moves a non-zero native amount.
func (tx *SafeTransaction) HasValue() bool {
	return tx.Value != nil && tx.Value.Sign() != 0
}

// Spec derives the whitelist spec the transaction has to match.
func (tx *SafeTransaction) Spec() TransactionSpec {
	return TransactionSpec{
		To:        tx.To,
		Selector:  tx.Selector(),
		HasValue:  tx.HasValue(),
		Operation: tx.Operation,
	}
}

// ValueOrZero returns the transaction value, never nil.
func (tx *SafeTransaction) ValueOrZero() *big.Int {
	if tx.Value == nil {
		return new(big.Int)
	}
	return tx.Value
}

// MarshalJSON encodes the transaction with hex-encoded fields the way
// JSON-RPC clients exchange them.
func (tx *SafeTransaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		To        string    `json:"to"`
		Data      string    `json:"data"`
		Value     string    `json:"value"`
		Operation Operation `json:"operation"`
	}{
		To:        tx.To.Hex(),
		Data:      hexutil.Encode(tx.Data),
		Value:     hexutil.EncodeBig(tx.ValueOrZero()),
		Operation: tx.Operation,
	})
}

// UnmarshalJSON does the reverse of MarshalJSON.
func (tx *SafeTransaction) UnmarshalJSON(data []byte) error {
	aux := struct {
		To        string    `json:"to"`
		Data      string    `json:"data"`
		Value     string    `json:"value"`
		Operation Operation `json:"operation"`
	}{}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if !common.IsHexAddress(aux.To) {
		return fmt.Errorf("invalid transaction target %q", aux.To)
	}
	tx.To = common.HexToAddress(aux.To)

	var err error
	tx.Data = nil
	if aux.Data != "" {
		tx.Data, err = hexutil.Decode(aux.Data)
		if err != nil {
			return ErrInvalidCallData
		}
	}

	tx.Value = new(big.Int)
	if aux.Value != "" {
		tx.Value, err = hexutil.DecodeBig(aux.Value)
		if err != nil {
			return err
		}
	}

	if !aux.Operation.Valid() {
		return ErrInvalidOperation
	}
	tx.Operation = aux.Operation

	return nil
}

func (tx *SafeTransaction) String() string {
	formatBytes := func(b []byte) string {
		if len(b) == 0 {
			return "0x" // default for empty byte slice
		}
		return hexutil.Encode(b)
	}

	return fmt.Sprintf(
		"SafeTransaction{\n"+
			"  To: %s\n"+
			"  Selector: %s\n"+
			"  Data: %s\n"+
			"  Value: %s\n"+
			"  Operation: %s\n"+
			"}",
		tx.To.String(),
		tx.Selector(),
		formatBytes(tx.Data),
		tx.ValueOrZero().Text(10),
		tx.Operation,
	)
}
