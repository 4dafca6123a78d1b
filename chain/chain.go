// Package chain is a small in-memory, EVM-like world: native balances, a
// journal that makes every call frame all-or-nothing, and contracts written
// in Go that are reached by address and ABI call data.
//
// Every transaction and view runs under a single lock, so execution is
// strictly serialised. A view always reverts whatever it touched.
package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/blndgs/safeauto"
)

const maxCallDepth = 64

var errCallDepth = errors.New("max call depth exceeded")

// Contract is code deployed at an address.
type Contract interface {
	Run(env *Env, call *Call) ([]byte, error)
}

// Call describes the frame a contract runs in.
type Call struct {
	// Caller is msg.sender.
	Caller common.Address
	// Self is address(this): whose balance and identity the code acts with.
	// It differs from Code in a delegate call.
	Self common.Address
	// Code is the address the running code was deployed at.
	Code      common.Address
	Value     *big.Int
	Input     []byte
	Operation safeauto.Operation
}

// Delegated reports whether the frame runs foreign code in the caller's
// context.
func (c *Call) Delegated() bool {
	return c.Operation == safeauto.DelegateCall
}

// Option configures a Chain.
type Option func(*Chain)

// WithClock replaces the wall clock used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) {
		c.now = now
	}
}

// WithLogger sets the logger used to trace transactions.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Chain) {
		c.logger = logger
	}
}

// Chain is the in-memory world.
type Chain struct {
	mu        sync.Mutex
	state     *State
	contracts map[common.Address]Contract
	now       func() time.Time
	logger    *zap.Logger
}

// New returns an empty chain.
func New(opts ...Option) *Chain {
	c := &Chain{
		state:     NewState(),
		contracts: make(map[common.Address]Contract),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Deploy installs contract code at addr.
func (c *Chain) Deploy(addr common.Address, contract Contract) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contracts[addr] = contract
}

// Code returns the contract deployed at addr, if any.
func (c *Chain) Code(addr common.Address) (Contract, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	contract, ok := c.contracts[addr]
	return contract, ok
}

// Fund credits addr out of thin air, like a genesis allocation.
func (c *Chain) Fund(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.AddBalance(addr, amount)
	c.state.Commit()
}

// BalanceAt returns the native balance of addr.
func (c *Chain) BalanceAt(_ context.Context, addr common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Balance(addr), nil
}

// Read runs fn while no transaction is in flight. Go code reading contract
// storage directly, outside of a call, goes through Read so it never observes
// changes a running transaction may still revert.
func (c *Chain) Read(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
}

// Now returns the current block timestamp.
func (c *Chain) Now() time.Time {
	return c.now()
}

// Transact runs a top-level transaction from an externally owned account.
// On error every state change of the transaction is reverted.
func (c *Chain) Transact(ctx context.Context, from, to common.Address, value *big.Int, input []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.state.Snapshot()
	env := &Env{chain: c}
	out, err := env.Call(from, to, value, input)
	if err != nil {
		c.state.RevertToSnapshot(snap)
		c.logger.Debug("transaction reverted",
			zap.Stringer("from", from),
			zap.Stringer("to", to),
			zap.Error(err),
		)
		return nil, err
	}
	c.state.Commit()
	return out, nil
}

// View runs a read-only call. Whatever the call touched is reverted.
func (c *Chain) View(ctx context.Context, from, to common.Address, input []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.state.Snapshot()
	defer c.state.RevertToSnapshot(snap)

	env := &Env{chain: c, static: true}
	return env.Call(from, to, nil, input)
}

// Env is the execution environment handed to running contracts.
type Env struct {
	chain  *Chain
	depth  int
	static bool
}

// Static reports whether state changes are forbidden.
func (e *Env) Static() bool {
	return e.static
}

// RequireMutable fails when called from a static (view) context.
func (e *Env) RequireMutable() error {
	if e.static {
		return safeauto.ErrStaticCall
	}
	return nil
}

// Journal returns the journal contracts record their own storage changes in.
func (e *Env) Journal() Journal {
	return e.chain.state
}

// Now returns the current block timestamp.
func (e *Env) Now() time.Time {
	return e.chain.now()
}

// Balance returns the native balance of addr.
func (e *Env) Balance(addr common.Address) *big.Int {
	return e.chain.state.Balance(addr)
}

// HasCode reports whether a contract is deployed at addr.
func (e *Env) HasCode(addr common.Address) bool {
	_, ok := e.chain.contracts[addr]
	return ok
}

// Logger returns the chain logger.
func (e *Env) Logger() *zap.Logger {
	return e.chain.logger
}

// Call performs a regular call from caller to to, transferring value first.
// Calls to addresses without code only move value; callers that expect code
// check HasCode first.
func (e *Env) Call(caller, to common.Address, value *big.Int, input []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() != 0 && e.static {
		return nil, safeauto.ErrStaticCall
	}

	return e.frame(func(st *State) (Contract, *Call, error) {
		if err := st.Transfer(caller, to, value); err != nil {
			return nil, nil, err
		}
		return e.chain.contracts[to], &Call{
			Caller:    caller,
			Self:      to,
			Code:      to,
			Value:     value,
			Input:     input,
			Operation: safeauto.Call,
		}, nil
	})
}

// StaticCall performs a read-only call from caller to to.
func (e *Env) StaticCall(caller, to common.Address, input []byte) ([]byte, error) {
	static := &Env{chain: e.chain, depth: e.depth, static: true}
	return static.Call(caller, to, nil, input)
}

// DelegateCall runs the code deployed at code in the context of the current
// frame: msg.sender, address(this) and msg.value are preserved.
func (e *Env) DelegateCall(current *Call, code common.Address, input []byte) ([]byte, error) {
	return e.frame(func(*State) (Contract, *Call, error) {
		return e.chain.contracts[code], &Call{
			Caller:    current.Caller,
			Self:      current.Self,
			Code:      code,
			Value:     current.Value,
			Input:     input,
			Operation: safeauto.DelegateCall,
		}, nil
	})
}

func (e *Env) frame(setup func(*State) (Contract, *Call, error)) ([]byte, error) {
	if e.depth >= maxCallDepth {
		return nil, errCallDepth
	}

	st := e.chain.state
	snap := st.Snapshot()

	contract, call, err := setup(st)
	if err != nil {
		st.RevertToSnapshot(snap)
		return nil, err
	}
	if contract == nil {
		return nil, nil
	}

	inner := &Env{chain: e.chain, depth: e.depth + 1, static: e.static}
	out, err := contract.Run(inner, call)
	if err != nil {
		st.RevertToSnapshot(snap)
		return nil, &safeauto.RevertError{Contract: call.Code, Err: err}
	}
	return out, nil
}
