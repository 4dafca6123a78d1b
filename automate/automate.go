package automate

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/chain"
	"github.com/blndgs/safeauto/contracts"
)

// Task is a registered automation.
type Task struct {
	ID          common.Hash
	Creator     common.Address
	ExecAddress common.Address
	// ExecData is the call data or the bare selector the task was created
	// with. Resolver tasks get their call data from the resolver instead.
	ExecData []byte
	Modules  ModuleData
	FeeToken common.Address
	// NextExec and Interval are only set for time triggered tasks.
	NextExec uint64
	Interval uint64
}

// Due reports whether a time triggered task may run at now.
func (t *Task) Due(now uint64) bool {
	return !t.Modules.Has(ModuleTime) || now >= t.NextExec
}

func (t *Task) clone() *Task {
	cp := *t
	cp.ExecData = append([]byte(nil), t.ExecData...)
	return &cp
}

// Automate is the task registry and executor entry point.
type Automate struct {
	gelato   common.Address
	treasury common.Address
	tasks    map[common.Hash]*Task
	order    []common.Hash
	logger   *zap.Logger
}

// New returns a registry whose tasks may only be executed by gelato and whose
// fees are charged from treasury.
func New(gelato, treasury common.Address, logger *zap.Logger) *Automate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Automate{
		gelato:   gelato,
		treasury: treasury,
		tasks:    make(map[common.Hash]*Task),
		logger:   logger,
	}
}

// Task returns a copy of the task registered under id.
func (a *Automate) Task(id common.Hash) (*Task, bool) {
	task, ok := a.tasks[id]
	if !ok {
		return nil, false
	}
	return task.clone(), true
}

// TaskIDs returns every registered task id in creation order.
func (a *Automate) TaskIDs() []common.Hash {
	return append([]common.Hash{}, a.order...)
}

// TaskIDsByUser returns the ids of the tasks created by user.
func (a *Automate) TaskIDsByUser(user common.Address) []common.Hash {
	ids := []common.Hash{}
	for _, id := range a.order {
		if a.tasks[id].Creator == user {
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *Automate) restore(j chain.Journal) {
	tasks := make(map[common.Hash]*Task, len(a.tasks))
	for id, task := range a.tasks {
		tasks[id] = task.clone()
	}
	order := append([]common.Hash(nil), a.order...)
	j.Record(func() {
		a.tasks = tasks
		a.order = order
	})
}

func (a *Automate) createTask(env *chain.Env, creator, execAddress common.Address, execData []byte, md ModuleData, feeToken common.Address) (common.Hash, error) {
	if err := md.Validate(); err != nil {
		return common.Hash{}, err
	}
	sel, err := ExecSelector(execData)
	if err != nil {
		return common.Hash{}, err
	}
	id, err := TaskID(creator, execAddress, sel, md, feeToken)
	if err != nil {
		return common.Hash{}, err
	}
	if _, exists := a.tasks[id]; exists {
		return common.Hash{}, fmt.Errorf("%w: %s", safeauto.ErrDuplicateTask, id.Hex())
	}

	task := &Task{
		ID:          id,
		Creator:     creator,
		ExecAddress: execAddress,
		ExecData:    append([]byte(nil), execData...),
		Modules:     md,
		FeeToken:    feeToken,
	}
	if args, ok := md.Arg(ModuleTime); ok {
		start, interval, err := DecodeTimeArgs(args)
		if err != nil {
			return common.Hash{}, err
		}
		if now := uint64(env.Now().Unix()); start < now {
			start = now
		}
		task.NextExec, task.Interval = start, interval
	}

	a.restore(env.Journal())
	a.tasks[id] = task
	a.order = append(a.order, id)

	a.logger.Info("task created",
		zap.Stringer("id", id),
		zap.Stringer("creator", creator),
		zap.Stringer("execAddress", execAddress),
		zap.Stringers("modules", md.Modules),
	)
	return id, nil
}

func (a *Automate) cancelTask(env *chain.Env, caller common.Address, id common.Hash) error {
	task, ok := a.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", safeauto.ErrTaskNotFound, id.Hex())
	}
	if task.Creator != caller {
		return fmt.Errorf("%w: %s did not create task %s", safeauto.ErrUnauthorized, caller.Hex(), id.Hex())
	}

	a.restore(env.Journal())
	a.remove(id)
	a.logger.Info("task cancelled", zap.Stringer("id", id), zap.Stringer("creator", caller))
	return nil
}

func (a *Automate) remove(id common.Hash) {
	delete(a.tasks, id)
	order := make([]common.Hash, 0, len(a.order))
	for _, other := range a.order {
		if other != id {
			order = append(order, other)
		}
	}
	a.order = order
}

type execArgs struct {
	TaskCreator          common.Address
	ExecAddress          common.Address
	ExecData             []byte
	ModuleData           contracts.ModuleDataArg
	TxFee                *big.Int
	FeeToken             common.Address
	UseTaskTreasuryFunds bool
	RevertOnFailure      bool
}

// exec runs a task: the time trigger is enforced, the call is made from the
// automation contract and the fee is charged from the creator's treasury
// balance afterwards.
func (a *Automate) exec(env *chain.Env, call *chain.Call, args execArgs) error {
	if call.Caller != a.gelato {
		return fmt.Errorf("%w: only the executor can exec tasks", safeauto.ErrUnauthorized)
	}
	if !args.UseTaskTreasuryFunds {
		return fmt.Errorf("%w: fees can only be paid from the treasury", safeauto.ErrExecutionFailed)
	}

	md := ModuleDataFromABI(args.ModuleData)
	sel, err := ExecSelector(args.ExecData)
	if err != nil {
		return err
	}
	id, err := TaskID(args.TaskCreator, args.ExecAddress, sel, md, common.Address{})
	if err != nil {
		return err
	}
	task, ok := a.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", safeauto.ErrTaskNotFound, id.Hex())
	}

	now := uint64(env.Now().Unix())
	if !task.Due(now) {
		return fmt.Errorf("%w: task %s runs at %d, now is %d", safeauto.ErrTaskNotDue, id.Hex(), task.NextExec, now)
	}

	a.restore(env.Journal())
	if task.Modules.Has(ModuleTime) {
		missed := (now - task.NextExec) / task.Interval
		task.NextExec += (missed + 1) * task.Interval
	}
	if task.Modules.Has(ModuleSingleExec) {
		a.remove(id)
	}

	if _, err := env.Call(call.Self, args.ExecAddress, nil, args.ExecData); err != nil {
		if args.RevertOnFailure {
			return fmt.Errorf("%w: task %s: %w", safeauto.ErrExecutionFailed, id.Hex(), err)
		}
		a.logger.Warn("task call failed", zap.Stringer("id", id), zap.Error(err))
	}

	fee, err := contracts.Treasury.Pack("useFunds", args.TaskCreator, args.FeeToken, args.TxFee)
	if err != nil {
		return err
	}
	if _, err := env.Call(call.Self, a.treasury, nil, fee); err != nil {
		return fmt.Errorf("failed to charge fee for task %s: %w", id.Hex(), err)
	}

	a.logger.Info("task executed",
		zap.Stringer("id", id),
		zap.Stringer("creator", args.TaskCreator),
		zap.Stringer("fee", args.TxFee),
	)
	return nil
}

// Run implements chain.Contract.
func (a *Automate) Run(env *chain.Env, call *chain.Call) ([]byte, error) {
	method, err := contracts.Method(contracts.Automate, call.Input)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "createTask":
		if err := env.RequireMutable(); err != nil {
			return nil, err
		}
		var args struct {
			ExecAddress        common.Address
			ExecDataOrSelector []byte
			ModuleData         contracts.ModuleDataArg
			FeeToken           common.Address
		}
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		id, err := a.createTask(env, call.Caller, args.ExecAddress, args.ExecDataOrSelector,
			ModuleDataFromABI(args.ModuleData), args.FeeToken)
		if err != nil {
			return nil, err
		}
		return contracts.Return(method, id)

	case "cancelTask":
		if err := env.RequireMutable(); err != nil {
			return nil, err
		}
		var id [32]byte
		if err := contracts.UnpackInputs(method, call.Input, &id); err != nil {
			return nil, err
		}
		return nil, a.cancelTask(env, call.Caller, id)

	case "getTaskIdsByUser":
		var user common.Address
		if err := contracts.UnpackInputs(method, call.Input, &user); err != nil {
			return nil, err
		}
		return contracts.Return(method, hashesToBytes32(a.TaskIDsByUser(user)))

	case "getTaskIds":
		return contracts.Return(method, hashesToBytes32(a.TaskIDs()))

	case "getTask":
		var id [32]byte
		if err := contracts.UnpackInputs(method, call.Input, &id); err != nil {
			return nil, err
		}
		task, ok := a.tasks[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", safeauto.ErrTaskNotFound, common.Hash(id).Hex())
		}
		return contracts.Return(method,
			task.Creator,
			task.ExecAddress,
			task.ExecData,
			task.Modules.ABI(),
			task.FeeToken,
			new(big.Int).SetUint64(task.NextExec),
			new(big.Int).SetUint64(task.Interval),
		)

	case "exec":
		if err := env.RequireMutable(); err != nil {
			return nil, err
		}
		var args execArgs
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		return nil, a.exec(env, call, args)
	}

	return nil, fmt.Errorf("%w: %s", safeauto.ErrUnknownSelector, method.Name)
}

func hashesToBytes32(ids []common.Hash) [][32]byte {
	out := make([][32]byte, 0, len(ids))
	for _, id := range ids {
		out = append(out, id)
	}
	return out
}
