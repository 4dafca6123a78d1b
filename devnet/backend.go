package devnet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/automate"
	"github.com/blndgs/safeauto/contracts"
)

// Checker evaluates the engine predicate for safe through a view call, the
// same way the automation network's resolver does.
func (d *Devnet) Checker(ctx context.Context, safe common.Address) (bool, []byte, error) {
	data, err := contracts.EncodeChecker(safe)
	if err != nil {
		return false, nil, err
	}
	out, err := d.chain.View(ctx, common.Address{}, d.contracts.Engine, data)
	if err != nil {
		return false, nil, err
	}
	return contracts.DecodeCheckerResult(out)
}

// Roster returns the receivers registered for safe.
func (d *Devnet) Roster(_ context.Context, safe common.Address) ([]safeauto.Receiver, error) {
	var roster []safeauto.Receiver
	d.chain.Read(func() {
		roster = d.engine.Registry().Roster(safe)
	})
	return roster, nil
}

// Authorize checks a batch against the whitelist of safe without executing it.
func (d *Devnet) Authorize(_ context.Context, safe common.Address, txs []safeauto.SafeTransaction) error {
	var err error
	d.chain.Read(func() {
		err = d.module.Authorize(safe, txs)
	})
	return err
}

// ReceiverBalance returns the balance the engine compares against the
// threshold of receiver.
func (d *Devnet) ReceiverBalance(ctx context.Context, safe, receiver common.Address) (*big.Int, error) {
	return d.engine.Balance(ctx, d.Oracle(), safe, receiver)
}

// TasksByUser returns the tasks created by user.
func (d *Devnet) TasksByUser(ctx context.Context, user common.Address) ([]*automate.Task, error) {
	client := d.Client()
	ids, err := client.TaskIDsByUser(ctx, user)
	if err != nil {
		return nil, err
	}
	tasks := make([]*automate.Task, 0, len(ids))
	for _, id := range ids {
		task, err := client.Task(ctx, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}
