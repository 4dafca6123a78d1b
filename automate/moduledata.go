// Package automate is an in-memory automation network: a task registry that
// executes tasks on behalf of their creators when a trigger module allows it,
// and a task treasury the execution fees are charged from.
//
// This file defines the module data attached to a task and the codecs of the
// per-module arguments.
package automate

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/blndgs/safeauto/contracts"
)

// Module is a task trigger or execution module.
type Module uint8

const (
	ModuleResolver Module = iota
	ModuleTime
	ModuleProxy
	ModuleSingleExec
)

func (m Module) String() string {
	switch m {
	case ModuleResolver:
		return "RESOLVER"
	case ModuleTime:
		return "TIME"
	case ModuleProxy:
		return "PROXY"
	case ModuleSingleExec:
		return "SINGLE_EXEC"
	default:
		return fmt.Sprintf("Module(%d)", uint8(m))
	}
}

type moduleDataError string

func (e moduleDataError) Error() string {
	return string(e)
}

// Reverted reports true: module data is rejected by the automation contract.
func (moduleDataError) Reverted() bool {
	return true
}

// Error definitions
const (
	ErrModuleArgsLength  moduleDataError = "modules and args length mismatch"
	ErrModulesNotSorted  moduleDataError = "modules must be unique and in ascending order"
	ErrUnknownModule     moduleDataError = "unknown module"
	ErrMissingProxy      moduleDataError = "the proxy module is required"
	ErrInvalidModuleArgs moduleDataError = "invalid module arguments"
)

var (
	resolverArgs = mustArguments("address", "bytes")
	timeArgs     = mustArguments("uint128", "uint128")
)

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// ModuleData lists the modules of a task with one argument blob per module.
type ModuleData struct {
	Modules []Module
	Args    [][]byte
}

// Validate checks the module list the way createTask does.
func (md ModuleData) Validate() error {
	if len(md.Modules) != len(md.Args) {
		return fmt.Errorf("%w: %d modules, %d args", ErrModuleArgsLength, len(md.Modules), len(md.Args))
	}

	for i, m := range md.Modules {
		if m > ModuleSingleExec {
			return fmt.Errorf("%w: %d", ErrUnknownModule, uint8(m))
		}
		if i > 0 && m <= md.Modules[i-1] {
			return ErrModulesNotSorted
		}
	}

	if !md.Has(ModuleProxy) {
		return ErrMissingProxy
	}

	if args, ok := md.Arg(ModuleResolver); ok {
		if _, _, err := DecodeResolverArgs(args); err != nil {
			return err
		}
	}
	if args, ok := md.Arg(ModuleTime); ok {
		if _, _, err := DecodeTimeArgs(args); err != nil {
			return err
		}
	}
	return nil
}

// Has reports whether the module is part of the list.
func (md ModuleData) Has(m Module) bool {
	_, ok := md.Arg(m)
	return ok
}

// Arg returns the argument blob of module m.
func (md ModuleData) Arg(m Module) ([]byte, bool) {
	for i, mod := range md.Modules {
		if mod == m && i < len(md.Args) {
			return md.Args[i], true
		}
	}
	return nil, false
}

// ABI returns the tuple form used in call data.
func (md ModuleData) ABI() contracts.ModuleDataArg {
	arg := contracts.ModuleDataArg{
		Modules: make([]uint8, 0, len(md.Modules)),
		Args:    make([][]byte, 0, len(md.Args)),
	}
	for _, m := range md.Modules {
		arg.Modules = append(arg.Modules, uint8(m))
	}
	for _, a := range md.Args {
		if a == nil {
			a = []byte{}
		}
		arg.Args = append(arg.Args, a)
	}
	return arg
}

// ModuleDataFromABI does the reverse of ModuleData.ABI.
func ModuleDataFromABI(arg contracts.ModuleDataArg) ModuleData {
	md := ModuleData{
		Modules: make([]Module, 0, len(arg.Modules)),
		Args:    arg.Args,
	}
	for _, m := range arg.Modules {
		md.Modules = append(md.Modules, Module(m))
	}
	return md
}

// ResolverTask builds the module data of a task triggered by the resolver
// call resolverData at resolver.
func ResolverTask(resolver common.Address, resolverData []byte) (ModuleData, error) {
	args, err := EncodeResolverArgs(resolver, resolverData)
	if err != nil {
		return ModuleData{}, err
	}
	return ModuleData{
		Modules: []Module{ModuleResolver, ModuleProxy},
		Args:    [][]byte{args, {}},
	}, nil
}

// TimeTask builds the module data of a task due at start and every interval
// seconds after that.
func TimeTask(start, interval uint64) (ModuleData, error) {
	args, err := EncodeTimeArgs(start, interval)
	if err != nil {
		return ModuleData{}, err
	}
	return ModuleData{
		Modules: []Module{ModuleTime, ModuleProxy},
		Args:    [][]byte{args, {}},
	}, nil
}

// EncodeResolverArgs encodes the resolver module argument.
//
// Parameters:
//   - resolver: The contract the predicate is read from.
//   - data: The call data of the read-only predicate.
//
// Returns:
//   - []byte: abi.encode(resolver, data).
//   - error: An error if packing fails.
func EncodeResolverArgs(resolver common.Address, data []byte) ([]byte, error) {
	if data == nil {
		data = []byte{}
	}
	return resolverArgs.Pack(resolver, data)
}

// DecodeResolverArgs does the reverse of EncodeResolverArgs.
func DecodeResolverArgs(args []byte) (common.Address, []byte, error) {
	values, err := resolverArgs.Unpack(args)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: resolver: %w", ErrInvalidModuleArgs, err)
	}
	return values[0].(common.Address), values[1].([]byte), nil
}

// EncodeTimeArgs encodes the time module argument.
//
// Parameters:
//   - start: Unix time of the first execution.
//   - interval: Seconds between two executions.
//
// Returns:
//   - []byte: abi.encode(uint128(start), uint128(interval)).
//   - error: An error if the interval is zero or packing fails.
func EncodeTimeArgs(start, interval uint64) ([]byte, error) {
	if interval == 0 {
		return nil, fmt.Errorf("%w: interval cannot be zero", ErrInvalidModuleArgs)
	}
	return timeArgs.Pack(new(big.Int).SetUint64(start), new(big.Int).SetUint64(interval))
}

// DecodeTimeArgs does the reverse of EncodeTimeArgs.
func DecodeTimeArgs(args []byte) (uint64, uint64, error) {
	values, err := timeArgs.Unpack(args)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time: %w", ErrInvalidModuleArgs, err)
	}

	start, interval := values[0].(*big.Int), values[1].(*big.Int)
	if !start.IsUint64() || !interval.IsUint64() {
		return 0, 0, fmt.Errorf("%w: time values out of range", ErrInvalidModuleArgs)
	}
	if interval.Sign() == 0 {
		return 0, 0, fmt.Errorf("%w: interval cannot be zero", ErrInvalidModuleArgs)
	}
	return start.Uint64(), interval.Uint64(), nil
}
