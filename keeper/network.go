package keeper

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blndgs/safeauto/automate"
)

//go:generate mockgen -source=network.go -destination=mocks/network_mock.go -package=mocks

// Network is the automation network as seen by an executor.
// *automate.Client satisfies it.
type Network interface {
	TaskIDs(ctx context.Context) ([]common.Hash, error)
	Task(ctx context.Context, id common.Hash) (*automate.Task, error)
	Resolve(ctx context.Context, task *automate.Task, now uint64) (bool, []byte, error)
	Exec(ctx context.Context, task *automate.Task, execData []byte, fee *big.Int) error
}

var _ Network = (*automate.Client)(nil)
