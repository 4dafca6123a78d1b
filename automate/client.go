package automate

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blndgs/safeauto/contracts"
)

// Backend executes calls against the network the automation contract is
// deployed on. *chain.Chain satisfies it.
type Backend interface {
	View(ctx context.Context, from, to common.Address, input []byte) ([]byte, error)
	Transact(ctx context.Context, from, to common.Address, value *big.Int, input []byte) ([]byte, error)
}

// Client talks to a deployed automation contract on behalf of the executor.
type Client struct {
	backend  Backend
	automate common.Address
	executor common.Address
}

// NewClient returns a client for the automation contract at automate that
// sends exec transactions from executor.
func NewClient(backend Backend, automate, executor common.Address) *Client {
	return &Client{backend: backend, automate: automate, executor: executor}
}

// TaskIDs returns every registered task id.
func (c *Client) TaskIDs(ctx context.Context) ([]common.Hash, error) {
	data, err := contracts.Automate.Pack("getTaskIds")
	if err != nil {
		return nil, err
	}
	return c.ids(ctx, "getTaskIds", data)
}

// TaskIDsByUser returns the ids of the tasks created by user.
func (c *Client) TaskIDsByUser(ctx context.Context, user common.Address) ([]common.Hash, error) {
	data, err := contracts.Automate.Pack("getTaskIdsByUser", user)
	if err != nil {
		return nil, err
	}
	return c.ids(ctx, "getTaskIdsByUser", data)
}

func (c *Client) ids(ctx context.Context, name string, data []byte) ([]common.Hash, error) {
	out, err := c.backend.View(ctx, c.executor, c.automate, data)
	if err != nil {
		return nil, err
	}
	var raw [][32]byte
	if err := contracts.UnpackOutputs(contracts.Automate, name, out, &raw); err != nil {
		return nil, err
	}
	ids := make([]common.Hash, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, id)
	}
	return ids, nil
}

// Task returns the task registered under id.
func (c *Client) Task(ctx context.Context, id common.Hash) (*Task, error) {
	data, err := contracts.Automate.Pack("getTask", id)
	if err != nil {
		return nil, err
	}
	out, err := c.backend.View(ctx, c.executor, c.automate, data)
	if err != nil {
		return nil, err
	}

	var res struct {
		TaskCreator        common.Address
		ExecAddress        common.Address
		ExecDataOrSelector []byte
		ModuleData         contracts.ModuleDataArg
		FeeToken           common.Address
		NextExec           *big.Int
		Interval           *big.Int
	}
	if err := contracts.UnpackOutputs(contracts.Automate, "getTask", out, &res); err != nil {
		return nil, err
	}
	return &Task{
		ID:          id,
		Creator:     res.TaskCreator,
		ExecAddress: res.ExecAddress,
		ExecData:    res.ExecDataOrSelector,
		Modules:     ModuleDataFromABI(res.ModuleData),
		FeeToken:    res.FeeToken,
		NextExec:    res.NextExec.Uint64(),
		Interval:    res.Interval.Uint64(),
	}, nil
}

// Resolve evaluates the trigger of task at now. It returns whether the task
// can run and the call data to run it with. Resolver tasks are decided by
// their resolver; other tasks run their stored call data once due.
func (c *Client) Resolve(ctx context.Context, task *Task, now uint64) (bool, []byte, error) {
	if !task.Due(now) {
		return false, nil, nil
	}

	args, ok := task.Modules.Arg(ModuleResolver)
	if !ok {
		return true, task.ExecData, nil
	}

	resolver, resolverData, err := DecodeResolverArgs(args)
	if err != nil {
		return false, nil, err
	}
	out, err := c.backend.View(ctx, c.executor, resolver, resolverData)
	if err != nil {
		return false, nil, fmt.Errorf("resolver %s: %w", resolver.Hex(), err)
	}
	return contracts.DecodeCheckerResult(out)
}

// Exec submits task with execData, paying fee from the creator's treasury
// balance.
func (c *Client) Exec(ctx context.Context, task *Task, execData []byte, fee *big.Int) error {
	if fee == nil {
		fee = new(big.Int)
	}
	data, err := contracts.Automate.Pack("exec",
		task.Creator,
		task.ExecAddress,
		execData,
		task.Modules.ABI(),
		fee,
		contracts.ETH,
		true,
		true,
	)
	if err != nil {
		return err
	}
	_, err = c.backend.Transact(ctx, c.executor, c.automate, nil, data)
	return err
}
