package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/blndgs/safeauto"
)

// TxSpecArg is the ABI tuple form of a safeauto.TransactionSpec. Field order
// follows the tuple components.
type TxSpecArg struct {
	To        common.Address
	Selector  [4]byte
	HasValue  bool
	Operation uint8
}

// TxArg is the ABI tuple form of a safeauto.SafeTransaction.
type TxArg struct {
	To        common.Address
	Data      []byte
	Value     *big.Int
	Operation uint8
}

// ModuleDataArg is the ABI tuple form of the automation network module data.
type ModuleDataArg struct {
	Modules []uint8
	Args    [][]byte
}

// Method resolves the method targeted by the selector of data.
func Method(a abi.ABI, data []byte) (*abi.Method, error) {
	if len(data) < safeauto.SelectorLength {
		return nil, fmt.Errorf("%w: call data is %d bytes long", safeauto.ErrUnknownSelector, len(data))
	}

	method, err := a.MethodById(data[:safeauto.SelectorLength])
	if err != nil {
		return nil, fmt.Errorf("%w: %#x", safeauto.ErrUnknownSelector, data[:safeauto.SelectorLength])
	}
	return method, nil
}

// UnpackInputs decodes the arguments of data into v. v is a pointer to the
// single argument type, or a pointer to a struct whose fields are named after
// the arguments when the method takes more than one.
func UnpackInputs(method *abi.Method, data []byte, v interface{}) error {
	values, err := method.Inputs.Unpack(data[safeauto.SelectorLength:])
	if err != nil {
		return fmt.Errorf("failed to unpack %s arguments: %w", method.Name, err)
	}

	if err := method.Inputs.Copy(v, values); err != nil {
		return fmt.Errorf("failed to copy %s arguments: %w", method.Name, err)
	}
	return nil
}

// Return encodes the return values of method.
func Return(method *abi.Method, values ...interface{}) ([]byte, error) {
	out, err := method.Outputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s outputs: %w", method.Name, err)
	}
	return out, nil
}

// UnpackOutputs decodes the return data of the named method into v.
func UnpackOutputs(a abi.ABI, name string, out []byte, v interface{}) error {
	if err := a.UnpackIntoInterface(v, name, out); err != nil {
		return fmt.Errorf("failed to unpack %s outputs: %w", name, err)
	}
	return nil
}

// SpecArgs converts specs into their tuple form.
func SpecArgs(specs []safeauto.TransactionSpec) []TxSpecArg {
	args := make([]TxSpecArg, 0, len(specs))
	for _, spec := range specs {
		args = append(args, TxSpecArg{
			To:        spec.To,
			Selector:  spec.Selector,
			HasValue:  spec.HasValue,
			Operation: uint8(spec.Operation),
		})
	}
	return args
}

// Specs converts tuple specs back into safeauto.TransactionSpec values.
func Specs(args []TxSpecArg) []safeauto.TransactionSpec {
	specs := make([]safeauto.TransactionSpec, 0, len(args))
	for _, arg := range args {
		specs = append(specs, safeauto.TransactionSpec{
			To:        arg.To,
			Selector:  arg.Selector,
			HasValue:  arg.HasValue,
			Operation: safeauto.Operation(arg.Operation),
		})
	}
	return specs
}

// TxArgs converts transactions into their tuple form.
func TxArgs(txs []safeauto.SafeTransaction) []TxArg {
	args := make([]TxArg, 0, len(txs))
	for i := range txs {
		args = append(args, TxArg{
			To:        txs[i].To,
			Data:      txs[i].Data,
			Value:     txs[i].ValueOrZero(),
			Operation: uint8(txs[i].Operation),
		})
	}
	return args
}

// Transactions converts tuple transactions back into SafeTransaction values.
func Transactions(args []TxArg) []safeauto.SafeTransaction {
	txs := make([]safeauto.SafeTransaction, 0, len(args))
	for _, arg := range args {
		value := arg.Value
		if value == nil {
			value = new(big.Int)
		}
		txs = append(txs, safeauto.SafeTransaction{
			To:        arg.To,
			Data:      arg.Data,
			Value:     value,
			Operation: safeauto.Operation(arg.Operation),
		})
	}
	return txs
}
