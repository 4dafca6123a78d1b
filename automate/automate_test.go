package automate

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/chain"
	"github.com/blndgs/safeauto/contracts"
)

var (
	automateAddr = common.HexToAddress("0xB3f5503f93d5Ef84b06993a1975B9D21B962892F")
	treasuryAddr = common.HexToAddress("0x2807B4aE232b624023f87d0e237A3B1bf200Fd99")
	gelatoAddr   = common.HexToAddress("0x3caca7b48d0573d793d3b0279b5f0029180e83b6")
	userAddr     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	counterAddr  = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	fee          = big.NewInt(100_000_000_000_000_000)
)

const interval = 7 * 60

type fixture struct {
	chain    *chain.Chain
	automate *Automate
	treasury *Treasury
	counter  *chain.Counter
	client   *Client
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{now: time.Unix(1_700_000_000, 0)}
	f.chain = chain.New(chain.WithClock(func() time.Time { return f.now }))
	f.automate = New(gelatoAddr, treasuryAddr, nil)
	f.treasury = NewTreasury(automateAddr, gelatoAddr, nil)
	f.counter = chain.NewCounter()
	f.chain.Deploy(automateAddr, f.automate)
	f.chain.Deploy(treasuryAddr, f.treasury)
	f.chain.Deploy(counterAddr, f.counter)
	f.chain.Fund(userAddr, safeauto.Ether(10))
	f.client = NewClient(f.chain, automateAddr, gelatoAddr)

	deposit, err := contracts.EncodeDepositFunds(userAddr, contracts.ETH, safeauto.Ether(1))
	require.NoError(t, err)
	_, err = f.chain.Transact(context.Background(), userAddr, treasuryAddr, safeauto.Ether(1), deposit)
	require.NoError(t, err)
	return f
}

func (f *fixture) createTask(t *testing.T, execData []byte, md ModuleData) common.Hash {
	t.Helper()
	data, err := contracts.Automate.Pack("createTask", counterAddr, execData, md.ABI(), common.Address{})
	require.NoError(t, err)
	out, err := f.chain.Transact(context.Background(), userAddr, automateAddr, nil, data)
	require.NoError(t, err)

	var id [32]byte
	require.NoError(t, contracts.UnpackOutputs(contracts.Automate, "createTask", out, &id))
	return id
}

func increaseCount(t *testing.T, n int64) []byte {
	t.Helper()
	data, err := contracts.EncodeIncreaseCount(big.NewInt(n))
	require.NoError(t, err)
	return data
}

func TestModuleData_Validate(t *testing.T) {
	resolverArgs, err := EncodeResolverArgs(counterAddr, []byte{0x01, 0x02})
	require.NoError(t, err)
	timeArgs, err := EncodeTimeArgs(10, 60)
	require.NoError(t, err)

	tests := []struct {
		name        string
		md          ModuleData
		expectedErr error
	}{
		{
			name: "resolver and proxy",
			md:   ModuleData{Modules: []Module{ModuleResolver, ModuleProxy}, Args: [][]byte{resolverArgs, {}}},
		},
		{
			name: "time and proxy",
			md:   ModuleData{Modules: []Module{ModuleTime, ModuleProxy}, Args: [][]byte{timeArgs, {}}},
		},
		{
			name:        "length mismatch",
			md:          ModuleData{Modules: []Module{ModuleProxy}},
			expectedErr: ErrModuleArgsLength,
		},
		{
			name:        "not sorted",
			md:          ModuleData{Modules: []Module{ModuleProxy, ModuleTime}, Args: [][]byte{{}, timeArgs}},
			expectedErr: ErrModulesNotSorted,
		},
		{
			name:        "duplicate module",
			md:          ModuleData{Modules: []Module{ModuleProxy, ModuleProxy}, Args: [][]byte{{}, {}}},
			expectedErr: ErrModulesNotSorted,
		},
		{
			name:        "missing proxy",
			md:          ModuleData{Modules: []Module{ModuleTime}, Args: [][]byte{timeArgs}},
			expectedErr: ErrMissingProxy,
		},
		{
			name:        "unknown module",
			md:          ModuleData{Modules: []Module{ModuleProxy, Module(9)}, Args: [][]byte{{}, {}}},
			expectedErr: ErrUnknownModule,
		},
		{
			name:        "garbage resolver args",
			md:          ModuleData{Modules: []Module{ModuleResolver, ModuleProxy}, Args: [][]byte{{0x01}, {}}},
			expectedErr: ErrInvalidModuleArgs,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.md.Validate()
			if tt.expectedErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestModuleArgs(t *testing.T) {
	args, err := EncodeResolverArgs(counterAddr, []byte{0xca, 0xfe})
	require.NoError(t, err)
	resolver, data, err := DecodeResolverArgs(args)
	require.NoError(t, err)
	require.Equal(t, counterAddr, resolver)
	require.Equal(t, []byte{0xca, 0xfe}, data)

	args, err = EncodeTimeArgs(1_700_000_420, interval)
	require.NoError(t, err)
	start, every, err := DecodeTimeArgs(args)
	require.NoError(t, err)
	require.Equal(t, uint64(1_700_000_420), start)
	require.Equal(t, uint64(interval), every)

	_, err = EncodeTimeArgs(1, 0)
	require.ErrorIs(t, err, ErrInvalidModuleArgs)
}

func TestTaskID(t *testing.T) {
	md, err := ResolverTask(counterAddr, []byte{0x01})
	require.NoError(t, err)
	sel := safeauto.SelectorOf("increaseCount(uint256)")

	id1, err := TaskID(userAddr, counterAddr, sel, md, common.Address{})
	require.NoError(t, err)
	id2, err := TaskID(userAddr, counterAddr, sel, md, common.Address{})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	other, err := TaskID(gelatoAddr, counterAddr, sel, md, common.Address{})
	require.NoError(t, err)
	require.NotEqual(t, id1, other)

	withFeeToken, err := TaskID(userAddr, counterAddr, sel, md, contracts.ETH)
	require.NoError(t, err)
	require.NotEqual(t, id1, withFeeToken)
}

func TestAutomate_TimeTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	execData := increaseCount(t, 100)

	start := uint64(f.now.Unix()) + interval
	md, err := TimeTask(start, interval)
	require.NoError(t, err)
	id := f.createTask(t, execData, md)

	ids, err := f.client.TaskIDsByUser(ctx, userAddr)
	require.NoError(t, err)
	require.Equal(t, []common.Hash{id}, ids)

	task, err := f.client.Task(ctx, id)
	require.NoError(t, err)
	require.Equal(t, userAddr, task.Creator)
	require.Equal(t, start, task.NextExec)
	require.Equal(t, uint64(interval), task.Interval)

	// not due yet
	err = f.client.Exec(ctx, task, execData, fee)
	require.ErrorIs(t, err, safeauto.ErrTaskNotDue)
	canExec, _, err := f.client.Resolve(ctx, task, uint64(f.now.Unix()))
	require.NoError(t, err)
	require.False(t, canExec)

	f.now = f.now.Add(interval * time.Second)
	canExec, data, err := f.client.Resolve(ctx, task, uint64(f.now.Unix()))
	require.NoError(t, err)
	require.True(t, canExec)
	require.Equal(t, execData, data)

	gelatoBefore, err := f.chain.BalanceAt(ctx, gelatoAddr)
	require.NoError(t, err)

	require.NoError(t, f.client.Exec(ctx, task, data, fee))
	require.Equal(t, big.NewInt(100), f.counter.Count())

	// fee moved from the user's treasury balance to the executor
	require.Equal(t, new(big.Int).Sub(safeauto.Ether(1), fee), f.treasury.UserTokenBalance(userAddr))
	gelatoAfter, err := f.chain.BalanceAt(ctx, gelatoAddr)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Add(gelatoBefore, fee), gelatoAfter)

	// the next run is one interval later
	task, err = f.client.Task(ctx, id)
	require.NoError(t, err)
	require.Equal(t, start+interval, task.NextExec)
	err = f.client.Exec(ctx, task, data, fee)
	require.ErrorIs(t, err, safeauto.ErrTaskNotDue)
}

func TestAutomate_ExecOnlyByExecutor(t *testing.T) {
	f := newFixture(t)
	md, err := TimeTask(uint64(f.now.Unix()), interval)
	require.NoError(t, err)
	execData := increaseCount(t, 1)
	f.createTask(t, execData, md)

	data, err := contracts.Automate.Pack("exec", userAddr, counterAddr, execData, md.ABI(),
		fee, contracts.ETH, true, true)
	require.NoError(t, err)
	_, err = f.chain.Transact(context.Background(), userAddr, automateAddr, nil, data)
	require.ErrorIs(t, err, safeauto.ErrUnauthorized)
	require.Zero(t, f.counter.Count().Sign())
}

func TestAutomate_ExecUnknownTask(t *testing.T) {
	f := newFixture(t)
	md, err := TimeTask(uint64(f.now.Unix()), interval)
	require.NoError(t, err)

	err = f.client.Exec(context.Background(), &Task{
		Creator:     userAddr,
		ExecAddress: counterAddr,
		Modules:     md,
	}, increaseCount(t, 1), fee)
	require.ErrorIs(t, err, safeauto.ErrTaskNotFound)
}

func TestAutomate_FeeExceedsTreasuryBalance(t *testing.T) {
	f := newFixture(t)
	md, err := TimeTask(uint64(f.now.Unix()), interval)
	require.NoError(t, err)
	execData := increaseCount(t, 1)
	id := f.createTask(t, execData, md)

	task, err := f.client.Task(context.Background(), id)
	require.NoError(t, err)
	err = f.client.Exec(context.Background(), task, execData, safeauto.Ether(2))
	require.ErrorIs(t, err, safeauto.ErrInsufficientBalance)
	// the task call is reverted together with the fee
	require.Zero(t, f.counter.Count().Sign())
}

func TestAutomate_DuplicateAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	md, err := TimeTask(uint64(f.now.Unix()), interval)
	require.NoError(t, err)
	execData := increaseCount(t, 1)
	id := f.createTask(t, execData, md)

	data, err := contracts.Automate.Pack("createTask", counterAddr, execData, md.ABI(), common.Address{})
	require.NoError(t, err)
	_, err = f.chain.Transact(ctx, userAddr, automateAddr, nil, data)
	require.ErrorIs(t, err, safeauto.ErrDuplicateTask)

	cancel, err := contracts.Automate.Pack("cancelTask", id)
	require.NoError(t, err)
	_, err = f.chain.Transact(ctx, gelatoAddr, automateAddr, nil, cancel)
	require.ErrorIs(t, err, safeauto.ErrUnauthorized)

	_, err = f.chain.Transact(ctx, userAddr, automateAddr, nil, cancel)
	require.NoError(t, err)

	ids, err := f.client.TaskIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)

	_, err = f.chain.Transact(ctx, userAddr, automateAddr, nil, cancel)
	require.ErrorIs(t, err, safeauto.ErrTaskNotFound)
}

func TestAutomate_SingleExec(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	md := ModuleData{Modules: []Module{ModuleProxy, ModuleSingleExec}, Args: [][]byte{{}, {}}}
	execData := increaseCount(t, 1)
	id := f.createTask(t, execData, md)

	task, err := f.client.Task(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.client.Exec(ctx, task, execData, fee))
	require.Equal(t, big.NewInt(1), f.counter.Count())

	_, ok := f.automate.Task(id)
	require.False(t, ok)
}

func TestTreasury_Withdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	withdraw, err := contracts.Treasury.Pack("withdrawFunds", userAddr, contracts.ETH, safeauto.Ether(2))
	require.NoError(t, err)
	_, err = f.chain.Transact(ctx, userAddr, treasuryAddr, nil, withdraw)
	require.ErrorIs(t, err, safeauto.ErrInsufficientBalance)

	withdraw, err = contracts.Treasury.Pack("withdrawFunds", userAddr, contracts.ETH, safeauto.Ether(1))
	require.NoError(t, err)
	_, err = f.chain.Transact(ctx, userAddr, treasuryAddr, nil, withdraw)
	require.NoError(t, err)
	require.Zero(t, f.treasury.UserTokenBalance(userAddr).Sign())

	balance, err := f.chain.BalanceAt(ctx, userAddr)
	require.NoError(t, err)
	require.Equal(t, safeauto.Ether(10), balance)
}

func TestTreasury_UseFundsOnlyByAutomate(t *testing.T) {
	f := newFixture(t)
	use, err := contracts.Treasury.Pack("useFunds", userAddr, contracts.ETH, fee)
	require.NoError(t, err)
	_, err = f.chain.Transact(context.Background(), gelatoAddr, treasuryAddr, nil, use)
	require.ErrorIs(t, err, safeauto.ErrUnauthorized)
}
