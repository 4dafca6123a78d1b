package automate

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/blndgs/safeauto"
)

var taskIDArgs = func() abi.Arguments {
	args := mustArguments("address", "address", "bytes4")
	moduleData, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "modules", Type: "uint8[]"},
		{Name: "args", Type: "bytes[]"},
	})
	if err != nil {
		panic(err)
	}
	feeToken, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	return append(args, abi.Argument{Type: moduleData}, abi.Argument{Type: feeToken})
}()

// TaskID returns the identifier of a task:
//
//	keccak256(abi.encode(creator, execAddress, execSelector, moduleData, feeToken))
//
// Registering the same trigger twice therefore yields the same id. Tasks
// paid from the treasury use the zero fee token.
func TaskID(creator, execAddress common.Address, execSelector safeauto.Selector, md ModuleData, feeToken common.Address) (common.Hash, error) {
	packed, err := taskIDArgs.Pack(creator, execAddress, [4]byte(execSelector), md.ABI(), feeToken)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode task id: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// ExecSelector returns the selector of exec data, which may be a bare selector.
func ExecSelector(execDataOrSelector []byte) (safeauto.Selector, error) {
	if len(execDataOrSelector) < safeauto.SelectorLength {
		return safeauto.Selector{}, fmt.Errorf("%w: exec data is %d bytes long", safeauto.ErrInvalidCallData, len(execDataOrSelector))
	}
	tx := safeauto.SafeTransaction{Data: execDataOrSelector}
	return tx.Selector(), nil
}
