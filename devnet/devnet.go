// Package devnet deploys the Safe, the permission module, the top-up
// engine, the orchestrator and the automation network into one in-memory
// chain at their configured addresses.
package devnet

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/automate"
	"github.com/blndgs/safeauto/chain"
	"github.com/blndgs/safeauto/config"
	"github.com/blndgs/safeauto/contracts"
	"github.com/blndgs/safeauto/orchestrator"
	"github.com/blndgs/safeauto/permission"
	"github.com/blndgs/safeauto/topup"
)

var (
	// Deployer deploys every contract that has no fixed address.
	Deployer = common.HexToAddress("0x000000000000000000000000000000000000dE91")
	// Owner controls the Safe.
	Owner = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
)

// SafeFunding is the Safe's genesis balance.
var SafeFunding = safeauto.Ether(100)

// Contracts are the addresses of the contracts deployed by Deployer.
type Contracts struct {
	Module  common.Address
	Engine  common.Address
	Handler common.Address
	Counter common.Address
	Safe    common.Address
}

func deployedContracts() Contracts {
	return Contracts{
		Module:  crypto.CreateAddress(Deployer, 0),
		Engine:  crypto.CreateAddress(Deployer, 1),
		Handler: crypto.CreateAddress(Deployer, 2),
		Counter: crypto.CreateAddress(Deployer, 3),
		Safe:    crypto.CreateAddress(Deployer, 4),
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Devnet is a fully wired in-memory deployment.
type Devnet struct {
	chain     *chain.Chain
	clock     *clock
	addrs     config.Addresses
	contracts Contracts

	module   *permission.Module
	engine   *topup.Engine
	handler  *orchestrator.Handler
	automate *automate.Automate
	treasury *automate.Treasury
	counter  *chain.Counter
	logger   *zap.Logger
}

// Option configures a Devnet.
type Option func(*Devnet)

// WithLogger sets the logger handed to every contract.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Devnet) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithStart sets the initial block time.
func WithStart(t time.Time) Option {
	return func(d *Devnet) { d.clock.now = t }
}

// New deploys a devnet using the automation network at addrs, funds the
// Safe and enables the permission module on it.
func New(addrs config.Addresses, opts ...Option) (*Devnet, error) {
	d := &Devnet{
		clock:     &clock{now: time.Now().Truncate(time.Second)},
		addrs:     addrs,
		contracts: deployedContracts(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.chain = chain.New(chain.WithClock(d.clock.Now), chain.WithLogger(d.logger.Named("chain")))
	d.module = permission.New(addrs.Automate, nil, d.logger.Named("module"))
	d.engine = topup.NewEngine(d.contracts.Engine, addrs.Treasury, nil, d.logger.Named("engine"))
	d.handler = orchestrator.New(orchestrator.Addresses{
		Automate: addrs.Automate,
		Module:   d.contracts.Module,
		Engine:   d.contracts.Engine,
		Treasury: addrs.Treasury,
	}, d.logger.Named("handler"))
	d.automate = automate.New(addrs.Gelato, addrs.Treasury, d.logger.Named("automate"))
	d.treasury = automate.NewTreasury(addrs.Automate, addrs.Gelato, d.logger.Named("treasury"))
	d.counter = chain.NewCounter()

	d.chain.Deploy(d.contracts.Module, d.module)
	d.chain.Deploy(d.contracts.Engine, d.engine)
	d.chain.Deploy(d.contracts.Handler, d.handler)
	d.chain.Deploy(d.contracts.Counter, d.counter)
	d.chain.Deploy(d.contracts.Safe, chain.NewSafe(Owner, d.logger.Named("safe")))
	d.chain.Deploy(addrs.Automate, d.automate)
	d.chain.Deploy(addrs.Treasury, d.treasury)
	d.chain.Fund(d.contracts.Safe, SafeFunding)

	enable, err := contracts.Safe.Pack("enableModule", d.contracts.Module)
	if err != nil {
		return nil, err
	}
	if _, err := d.chain.Transact(context.Background(), Owner, d.contracts.Safe, nil, enable); err != nil {
		return nil, fmt.Errorf("failed to enable module: %w", err)
	}
	return d, nil
}

func (d *Devnet) Chain() *chain.Chain                       { return d.chain }
func (d *Devnet) Addresses() config.Addresses               { return d.addrs }
func (d *Devnet) Contracts() Contracts                      { return d.contracts }
func (d *Devnet) Safe() common.Address                      { return d.contracts.Safe }
func (d *Devnet) Module() *permission.Module                { return d.module }
func (d *Devnet) Engine() *topup.Engine                     { return d.engine }
func (d *Devnet) Handler() *orchestrator.Handler            { return d.handler }
func (d *Devnet) Automate() *automate.Automate              { return d.automate }
func (d *Devnet) Treasury() *automate.Treasury              { return d.treasury }
func (d *Devnet) Counter() *chain.Counter                   { return d.counter }
func (d *Devnet) Oracle() *topup.ChainOracle                { return topup.NewChainOracle(d.chain, d.addrs.Treasury) }
func (d *Devnet) Now() time.Time                            { return d.clock.Now() }
func (d *Devnet) Advance(dur time.Duration)                 { d.clock.advance(dur) }
func (d *Devnet) Fund(addr common.Address, amount *big.Int) { d.chain.Fund(addr, amount) }

// Client returns an automation client that executes as the Gelato executor.
func (d *Devnet) Client() *automate.Client {
	return automate.NewClient(d.chain, d.addrs.Automate, d.addrs.Gelato)
}

// BalanceAt returns the native balance of addr.
func (d *Devnet) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	return d.chain.BalanceAt(ctx, addr)
}

// Transfer moves amount from the externally owned account from to to.
func (d *Devnet) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	_, err := d.chain.Transact(ctx, from, to, amount, nil)
	return err
}

// OwnerExec has the owner run execTransaction on the Safe.
func (d *Devnet) OwnerExec(ctx context.Context, to common.Address, value *big.Int, data []byte, op safeauto.Operation) error {
	exec, err := contracts.EncodeExecTransaction(to, value, data, op)
	if err != nil {
		return err
	}
	_, err = d.chain.Transact(ctx, Owner, d.contracts.Safe, nil, exec)
	return err
}

// Whitelist approves specs on the permission module for the Safe.
func (d *Devnet) Whitelist(ctx context.Context, specs ...safeauto.TransactionSpec) error {
	data, err := contracts.EncodeWhitelistTransaction(specs...)
	if err != nil {
		return err
	}
	return d.OwnerExec(ctx, d.contracts.Module, nil, data, safeauto.Call)
}

// CreateTask registers a treasury-funded task created by the Safe.
func (d *Devnet) CreateTask(ctx context.Context, execAddress common.Address, execData []byte, md automate.ModuleData) (common.Hash, error) {
	data, err := contracts.Automate.Pack("createTask", execAddress, execData, md.ABI(), common.Address{})
	if err != nil {
		return common.Hash{}, err
	}
	if err := d.OwnerExec(ctx, d.addrs.Automate, nil, data, safeauto.Call); err != nil {
		return common.Hash{}, err
	}
	sel, err := automate.ExecSelector(execData)
	if err != nil {
		return common.Hash{}, err
	}
	return automate.TaskID(d.contracts.Safe, execAddress, sel, md, common.Address{})
}

// StartAutoTopUp has the Safe delegate-call the orchestrator with roster,
// sending deposit along for the treasury.
func (d *Devnet) StartAutoTopUp(ctx context.Context, deposit *big.Int, roster []safeauto.Receiver) (common.Hash, error) {
	data, err := contracts.EncodeStartAutoTopUp(deposit, roster)
	if err != nil {
		return common.Hash{}, err
	}
	if err := d.OwnerExec(ctx, d.contracts.Handler, deposit, data, safeauto.DelegateCall); err != nil {
		return common.Hash{}, err
	}
	id, _, err := d.handler.Task(d.contracts.Safe)
	return id, err
}

// CancelAutoTopUp has the Safe delegate-call cancelAutoTopUp.
func (d *Devnet) CancelAutoTopUp(ctx context.Context) error {
	data, err := contracts.Handler.Pack("cancelAutoTopUp")
	if err != nil {
		return err
	}
	return d.OwnerExec(ctx, d.contracts.Handler, nil, data, safeauto.DelegateCall)
}
