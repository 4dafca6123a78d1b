package permission

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/chain"
	"github.com/blndgs/safeauto/contracts"
)

var (
	owner       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	safeAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	counterAddr = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	moduleAddr  = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	automate    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	receiver    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

type fixture struct {
	chain   *chain.Chain
	module  *Module
	counter *chain.Counter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	c := chain.New()
	module := New(automate, nil, nil)
	counter := chain.NewCounter()
	c.Deploy(safeAddr, chain.NewSafe(owner, nil))
	c.Deploy(moduleAddr, module)
	c.Deploy(counterAddr, counter)
	c.Fund(safeAddr, safeauto.Ether(10))

	f := &fixture{chain: c, module: module, counter: counter}
	enable, err := contracts.Safe.Pack("enableModule", moduleAddr)
	require.NoError(t, err)
	_, err = c.Transact(context.Background(), owner, safeAddr, nil, enable)
	require.NoError(t, err)
	return f
}

// ownerExec makes the Safe call the module with data.
func (f *fixture) ownerExec(t *testing.T, data []byte) error {
	t.Helper()
	exec, err := contracts.EncodeExecTransaction(moduleAddr, nil, data, safeauto.Call)
	require.NoError(t, err)
	_, err = f.chain.Transact(context.Background(), owner, safeAddr, nil, exec)
	return err
}

func (f *fixture) whitelist(t *testing.T, specs ...safeauto.TransactionSpec) {
	t.Helper()
	data, err := contracts.EncodeWhitelistTransaction(specs...)
	require.NoError(t, err)
	require.NoError(t, f.ownerExec(t, data))
}

func (f *fixture) execute(t *testing.T, from common.Address, txs ...safeauto.SafeTransaction) error {
	t.Helper()
	data, err := contracts.EncodeExecute(safeAddr, txs...)
	require.NoError(t, err)
	_, err = f.chain.Transact(context.Background(), from, moduleAddr, nil, data)
	return err
}

func increaseCount(t *testing.T, n int64) safeauto.SafeTransaction {
	t.Helper()
	data, err := contracts.EncodeIncreaseCount(big.NewInt(n))
	require.NoError(t, err)
	return safeauto.SafeTransaction{To: counterAddr, Data: data, Value: new(big.Int), Operation: safeauto.Call}
}

var increaseSpec = safeauto.NewTransactionSpec(counterAddr, "increaseCount(uint256)", false, safeauto.Call)

func TestModule_Execute(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, increaseSpec)

	require.NoError(t, f.execute(t, automate, increaseCount(t, 100)))
	require.Equal(t, big.NewInt(100), f.counter.Count())

	require.NoError(t, f.execute(t, automate, increaseCount(t, 1), increaseCount(t, 1)))
	require.Equal(t, big.NewInt(102), f.counter.Count())
}

func TestModule_ExecuteRejections(t *testing.T) {
	valueTransfer := safeauto.SafeTransaction{To: receiver, Value: big.NewInt(1), Operation: safeauto.Call}
	delegated := increaseCount(t, 1)
	delegated.Operation = safeauto.DelegateCall
	withValue := increaseCount(t, 1)
	withValue.Value = big.NewInt(1)

	tests := []struct {
		name      string
		from      common.Address
		txs       []safeauto.SafeTransaction
		expectErr error
	}{
		{
			name:      "caller is not the delegated caller",
			from:      owner,
			txs:       []safeauto.SafeTransaction{increaseCount(t, 1)},
			expectErr: safeauto.ErrUnauthorized,
		},
		{
			name:      "second transaction not whitelisted",
			from:      automate,
			txs:       []safeauto.SafeTransaction{increaseCount(t, 1), valueTransfer},
			expectErr: safeauto.ErrAuthorizationDenied,
		},
		{
			name:      "operation differs from the whitelist",
			from:      automate,
			txs:       []safeauto.SafeTransaction{delegated},
			expectErr: safeauto.ErrAuthorizationDenied,
		},
		{
			name:      "value flag differs from the whitelist",
			from:      automate,
			txs:       []safeauto.SafeTransaction{withValue},
			expectErr: safeauto.ErrAuthorizationDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.whitelist(t, increaseSpec)

			err := f.execute(t, tt.from, tt.txs...)
			require.ErrorIs(t, err, tt.expectErr)
			require.Zero(t, f.counter.Count().Sign())
		})
	}
}

func TestModule_ExecuteIsAtomic(t *testing.T) {
	f := newFixture(t)
	transfer := safeauto.NewTransactionSpec(receiver, "", true, safeauto.Call)
	f.whitelist(t, increaseSpec, transfer)

	// the value transfer exceeds the Safe balance, so the increment before it
	// has to be undone
	tooMuch := safeauto.SafeTransaction{To: receiver, Value: safeauto.Ether(11), Operation: safeauto.Call}
	err := f.execute(t, automate, increaseCount(t, 1), tooMuch)
	require.ErrorIs(t, err, safeauto.ErrExecutionFailed)
	require.ErrorIs(t, err, safeauto.ErrInsufficientBalance)
	require.Zero(t, f.counter.Count().Sign())

	balance, err := f.chain.BalanceAt(context.Background(), receiver)
	require.NoError(t, err)
	require.Zero(t, balance.Sign())

	ok := safeauto.SafeTransaction{To: receiver, Value: safeauto.Ether(1), Operation: safeauto.Call}
	require.NoError(t, f.execute(t, automate, increaseCount(t, 1), ok))
	require.Equal(t, big.NewInt(1), f.counter.Count())
}

func TestModule_EmptyWhitelistAuthorisesNothing(t *testing.T) {
	f := newFixture(t)
	err := f.execute(t, automate, increaseCount(t, 1))
	require.ErrorIs(t, err, safeauto.ErrAuthorizationDenied)

	// an empty batch trivially passes
	require.NoError(t, f.execute(t, automate))
}

func TestModule_DelegatedCallerCannotWhitelist(t *testing.T) {
	f := newFixture(t)
	data, err := contracts.EncodeWhitelistTransaction(increaseSpec)
	require.NoError(t, err)

	_, err = f.chain.Transact(context.Background(), automate, moduleAddr, nil, data)
	require.ErrorIs(t, err, safeauto.ErrUnauthorized)
	require.Empty(t, f.module.Whitelist().Specs(automate))
}

func TestModule_RemoveAndQuery(t *testing.T) {
	f := newFixture(t)
	f.whitelist(t, increaseSpec, increaseSpec)

	query, err := contracts.Module.Pack("getWhitelistedTransactions", safeAddr)
	require.NoError(t, err)
	out, err := f.chain.View(context.Background(), receiver, moduleAddr, query)
	require.NoError(t, err)

	var args []contracts.TxSpecArg
	require.NoError(t, contracts.UnpackOutputs(contracts.Module, "getWhitelistedTransactions", out, &args))
	require.Equal(t, []safeauto.TransactionSpec{increaseSpec, increaseSpec}, contracts.Specs(args))

	remove, err := contracts.EncodeRemoveTransaction(increaseSpec)
	require.NoError(t, err)
	require.NoError(t, f.ownerExec(t, remove))
	require.Empty(t, f.module.Whitelist().Specs(safeAddr))

	err = f.execute(t, automate, increaseCount(t, 1))
	require.ErrorIs(t, err, safeauto.ErrAuthorizationDenied)
}

func TestModule_Authorize(t *testing.T) {
	module := New(automate, nil, nil)
	module.Whitelist().Add(nil, safeAddr, increaseSpec)

	require.NoError(t, module.Authorize(safeAddr, []safeauto.SafeTransaction{increaseCount(t, 3)}))
	err := module.Authorize(safeAddr, []safeauto.SafeTransaction{increaseCount(t, 3), {To: counterAddr}})
	require.ErrorIs(t, err, safeauto.ErrAuthorizationDenied)
	require.Contains(t, err.Error(), "transaction 1")
}

func TestModule_ExecuteRequiresSafeCode(t *testing.T) {
	f := newFixture(t)
	eoa := common.HexToAddress("0x00000000000000000000000000000000000000a2")

	// an account without code can approve specs for itself
	data, err := contracts.EncodeWhitelistTransaction(increaseSpec)
	require.NoError(t, err)
	_, err = f.chain.Transact(context.Background(), eoa, moduleAddr, nil, data)
	require.NoError(t, err)

	execute, err := contracts.EncodeExecute(eoa, increaseCount(t, 5))
	require.NoError(t, err)
	_, err = f.chain.Transact(context.Background(), automate, moduleAddr, nil, execute)
	require.ErrorIs(t, err, safeauto.ErrExecutionFailed)
	require.Zero(t, f.counter.Count().Sign())
}
