package topup

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/blndgs/safeauto/chain"
	"github.com/blndgs/safeauto/contracts"
)

// BalanceOracle reports the balances the top-up predicate compares against
// thresholds.
type BalanceOracle interface {
	// NativeBalance returns the native token balance of addr.
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	// TreasuryBalance returns the native token balance account holds in the
	// automation treasury.
	TreasuryBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// ChainOracle reads balances from an in-memory chain.
type ChainOracle struct {
	chain    *chain.Chain
	treasury common.Address
}

// NewChainOracle returns an oracle over c using the treasury deployed at
// treasury.
func NewChainOracle(c *chain.Chain, treasury common.Address) *ChainOracle {
	return &ChainOracle{chain: c, treasury: treasury}
}

func (o *ChainOracle) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return o.chain.BalanceAt(ctx, addr)
}

func (o *ChainOracle) TreasuryBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	data, err := contracts.EncodeUserTokenBalance(account, contracts.ETH)
	if err != nil {
		return nil, err
	}
	out, err := o.chain.View(ctx, common.Address{}, o.treasury, data)
	if err != nil {
		return nil, fmt.Errorf("failed to query treasury balance of %s: %w", account.Hex(), err)
	}
	return contracts.DecodeUint256(contracts.Treasury, "userTokenBalance", out)
}

// RPCBackend is the subset of ethclient.Client the RPC oracle needs.
type RPCBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// RPCOracle reads balances from a JSON-RPC node at the latest block.
type RPCOracle struct {
	backend  RPCBackend
	treasury common.Address
}

// NewRPCOracle returns an oracle over backend.
func NewRPCOracle(backend RPCBackend, treasury common.Address) *RPCOracle {
	return &RPCOracle{backend: backend, treasury: treasury}
}

// DialRPCOracle connects to the node at rawURL.
func DialRPCOracle(ctx context.Context, rawURL string, treasury common.Address) (*RPCOracle, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rawURL, err)
	}
	return NewRPCOracle(client, treasury), nil
}

func (o *RPCOracle) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	balance, err := o.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance of %s: %w", addr.Hex(), err)
	}
	return balance, nil
}

func (o *RPCOracle) TreasuryBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	data, err := contracts.EncodeUserTokenBalance(account, contracts.ETH)
	if err != nil {
		return nil, err
	}
	out, err := o.backend.CallContract(ctx, ethereum.CallMsg{To: &o.treasury, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query treasury balance of %s: %w", account.Hex(), err)
	}
	return contracts.DecodeUint256(contracts.Treasury, "userTokenBalance", out)
}

// envOracle reads balances from inside a running transaction.
type envOracle struct {
	env      *chain.Env
	caller   common.Address
	treasury common.Address
}

func (o envOracle) NativeBalance(_ context.Context, addr common.Address) (*big.Int, error) {
	return o.env.Balance(addr), nil
}

func (o envOracle) TreasuryBalance(_ context.Context, account common.Address) (*big.Int, error) {
	data, err := contracts.EncodeUserTokenBalance(account, contracts.ETH)
	if err != nil {
		return nil, err
	}
	out, err := o.env.StaticCall(o.caller, o.treasury, data)
	if err != nil {
		return nil, err
	}
	return contracts.DecodeUint256(contracts.Treasury, "userTokenBalance", out)
}
