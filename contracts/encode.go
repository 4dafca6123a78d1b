package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/blndgs/safeauto"
)

// EncodeExecTransaction encodes a Safe execTransaction call.
func EncodeExecTransaction(to common.Address, value *big.Int, data []byte, op safeauto.Operation) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	return Safe.Pack("execTransaction", to, value, data, uint8(op))
}

// EncodeExecTransactionFromModule encodes the Safe module execution primitive.
func EncodeExecTransactionFromModule(tx safeauto.SafeTransaction) ([]byte, error) {
	return Safe.Pack("execTransactionFromModule", tx.To, tx.ValueOrZero(), tx.Data, uint8(tx.Operation))
}

// EncodeWhitelistTransaction encodes a permission module whitelistTransaction call.
func EncodeWhitelistTransaction(specs ...safeauto.TransactionSpec) ([]byte, error) {
	return Module.Pack("whitelistTransaction", SpecArgs(specs))
}

// EncodeRemoveTransaction encodes a permission module removeTransaction call.
func EncodeRemoveTransaction(specs ...safeauto.TransactionSpec) ([]byte, error) {
	return Module.Pack("removeTransaction", SpecArgs(specs))
}

// EncodeExecute encodes the batch the automation network forwards to the
// permission module.
func EncodeExecute(safe common.Address, txs ...safeauto.SafeTransaction) ([]byte, error) {
	return Module.Pack("execute", safe, TxArgs(txs))
}

// DecodeExecute does the reverse of EncodeExecute.
func DecodeExecute(data []byte) (common.Address, []safeauto.SafeTransaction, error) {
	method, err := Method(Module, data)
	if err != nil {
		return common.Address{}, nil, err
	}
	if method.Name != "execute" {
		return common.Address{}, nil, fmt.Errorf("%w: expected execute, got %s", safeauto.ErrUnknownSelector, method.Name)
	}

	var args struct {
		Safe common.Address
		Txs  []TxArg
	}
	if err := UnpackInputs(method, data, &args); err != nil {
		return common.Address{}, nil, err
	}
	return args.Safe, Transactions(args.Txs), nil
}

// EncodeChecker encodes the read-only top-up predicate call for safe.
func EncodeChecker(safe common.Address) ([]byte, error) {
	return TopUp.Pack("checker", safe)
}

// DecodeCheckerResult decodes the (canExec, execPayload) pair every resolver
// returns.
func DecodeCheckerResult(out []byte) (bool, []byte, error) {
	var res struct {
		CanExec     bool
		ExecPayload []byte
	}
	if err := UnpackOutputs(Resolver, "checker", out, &res); err != nil {
		return false, nil, err
	}
	return res.CanExec, res.ExecPayload, nil
}

// EncodePerformTopUps encodes the top-up execution restricted to targets.
func EncodePerformTopUps(safe common.Address, targets []common.Address) ([]byte, error) {
	if targets == nil {
		targets = []common.Address{}
	}
	return TopUp.Pack("performTopUps", safe, targets)
}

// EncodeAddReceivers encodes a roster write for the calling Safe.
func EncodeAddReceivers(roster []safeauto.Receiver) ([]byte, error) {
	receivers, amounts, thresholds := splitRoster(roster)
	return TopUp.Pack("addReceivers", receivers, amounts, thresholds)
}

// EncodeStopAutoTopUp encodes the partial roster removal for the calling Safe.
func EncodeStopAutoTopUp(receivers []common.Address) ([]byte, error) {
	if receivers == nil {
		receivers = []common.Address{}
	}
	return TopUp.Pack("stopAutoTopUp", receivers)
}

// EncodeStartAutoTopUp encodes the handler setup call a Safe delegate-calls.
func EncodeStartAutoTopUp(treasuryDeposit *big.Int, roster []safeauto.Receiver) ([]byte, error) {
	if treasuryDeposit == nil {
		treasuryDeposit = new(big.Int)
	}
	receivers, amounts, thresholds := splitRoster(roster)
	return Handler.Pack("startAutoTopUp", treasuryDeposit, receivers, amounts, thresholds)
}

// EncodeDepositFunds encodes a task treasury deposit.
func EncodeDepositFunds(receiver, token common.Address, amount *big.Int) ([]byte, error) {
	return Treasury.Pack("depositFunds", receiver, token, amount)
}

// EncodeUserTokenBalance encodes the treasury balance query.
func EncodeUserTokenBalance(user, token common.Address) ([]byte, error) {
	return Treasury.Pack("userTokenBalance", user, token)
}

// DecodeUint256 decodes a single uint256 return value of the named method.
func DecodeUint256(a abi.ABI, name string, out []byte) (*big.Int, error) {
	value := new(big.Int)
	if err := a.UnpackIntoInterface(&value, name, out); err != nil {
		return nil, fmt.Errorf("failed to unpack %s outputs: %w", name, err)
	}
	return value, nil
}

// EncodeIncreaseCount encodes the counter fixture increment.
func EncodeIncreaseCount(amount *big.Int) ([]byte, error) {
	return Counter.Pack("increaseCount", amount)
}

func splitRoster(roster []safeauto.Receiver) ([]common.Address, []*big.Int, []*big.Int) {
	receivers := make([]common.Address, 0, len(roster))
	amounts := make([]*big.Int, 0, len(roster))
	thresholds := make([]*big.Int, 0, len(roster))
	for _, r := range roster {
		receivers = append(receivers, r.Address)
		amounts = append(amounts, orZero(r.Amount))
		thresholds = append(thresholds, orZero(r.Threshold))
	}
	return receivers, amounts, thresholds
}

func orZero(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return b
}
