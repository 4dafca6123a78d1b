// Package topup implements the auto top-up engine: a per-Safe roster of
// receivers with refill amounts and thresholds, the read-only predicate the
// automation network polls, and the refill execution itself.
//
// One receiver address is special: the automation treasury. Its balance is
// the Safe's native balance held inside the treasury and its refill is a
// treasury deposit on behalf of the Safe, which keeps the network's fees paid.
package topup

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/chain"
	"github.com/blndgs/safeauto/contracts"
)

// Engine is the top-up engine contract.
type Engine struct {
	address  common.Address
	treasury common.Address
	registry *Registry
	logger   *zap.Logger
}

// NewEngine returns an engine deployed at address that treats treasury as
// the fee float.
func NewEngine(address, treasury common.Address, registry *Registry, logger *zap.Logger) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		address:  address,
		treasury: treasury,
		registry: registry,
		logger:   logger,
	}
}

// Address returns the address the engine code is deployed at.
func (e *Engine) Address() common.Address {
	return e.address
}

// Treasury returns the fee float address.
func (e *Engine) Treasury() common.Address {
	return e.treasury
}

// Registry returns the roster registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Balance returns the balance the threshold of receiver is compared against.
func (e *Engine) Balance(ctx context.Context, oracle BalanceOracle, safe, receiver common.Address) (*big.Int, error) {
	if receiver == e.treasury {
		return oracle.TreasuryBalance(ctx, safe)
	}
	return oracle.NativeBalance(ctx, receiver)
}

// Targets returns the roster entries of safe whose balance is strictly below
// their threshold, in roster order.
func (e *Engine) Targets(ctx context.Context, oracle BalanceOracle, safe common.Address) ([]common.Address, error) {
	var targets []common.Address
	for _, rcv := range e.registry.Roster(safe) {
		balance, err := e.Balance(ctx, oracle, safe, rcv.Address)
		if err != nil {
			return nil, err
		}
		if rcv.NeedsTopUp(balance) {
			targets = append(targets, rcv.Address)
		}
	}
	return targets, nil
}

// Check is the predicate polled by the automation network. When any
// receiver is under its threshold it returns true and the payload to submit
// to the permission module: a single delegate call from the Safe into
// performTopUps restricted to those receivers.
func (e *Engine) Check(ctx context.Context, oracle BalanceOracle, safe common.Address) (bool, []byte, error) {
	targets, err := e.Targets(ctx, oracle, safe)
	if err != nil {
		return false, nil, err
	}
	if len(targets) == 0 {
		return false, nil, nil
	}

	payload, err := e.ExecPayload(safe, targets)
	if err != nil {
		return false, nil, err
	}
	return true, payload, nil
}

// ExecPayload builds the permission module batch that tops up targets.
func (e *Engine) ExecPayload(safe common.Address, targets []common.Address) ([]byte, error) {
	perform, err := contracts.EncodePerformTopUps(safe, targets)
	if err != nil {
		return nil, err
	}
	return contracts.EncodeExecute(safe, safeauto.SafeTransaction{
		To:        e.address,
		Data:      perform,
		Value:     new(big.Int),
		Operation: safeauto.DelegateCall,
	})
}

// PerformSpec is the whitelist entry a Safe needs so the permission module
// lets performTopUps through.
func (e *Engine) PerformSpec() safeauto.TransactionSpec {
	return safeauto.TransactionSpec{
		To:        e.address,
		Selector:  safeauto.SelectorOf("performTopUps(address,address[])"),
		HasValue:  false,
		Operation: safeauto.DelegateCall,
	}
}

// PerformTopUps refills targets out of the Safe balance. It must run in the
// Safe's own context. Targets that are no longer under their threshold, or
// are not on the roster, are skipped. Either every remaining refill happens
// or none does.
func (e *Engine) PerformTopUps(env *chain.Env, call *chain.Call, safe common.Address, targets []common.Address) ([]safeauto.Receiver, error) {
	if err := env.RequireMutable(); err != nil {
		return nil, err
	}
	if !call.Delegated() || call.Self != safe {
		return nil, fmt.Errorf("%w: performTopUps must be delegate-called by %s", safeauto.ErrUnauthorized, safe.Hex())
	}

	oracle := envOracle{env: env, caller: safe, treasury: e.treasury}
	ctx := context.Background()

	var (
		due   []safeauto.Receiver
		total = new(big.Int)
	)
	for _, addr := range safeauto.UniqueAddresses(targets) {
		rcv, ok := e.registry.Receiver(safe, addr)
		if !ok {
			continue
		}
		balance, err := e.Balance(ctx, oracle, safe, addr)
		if err != nil {
			return nil, err
		}
		if !rcv.NeedsTopUp(balance) {
			continue
		}
		due = append(due, rcv)
		total.Add(total, rcv.Amount)
	}

	if available := env.Balance(safe); total.Cmp(available) > 0 {
		return nil, fmt.Errorf("%w: need %s, safe %s holds %s",
			safeauto.ErrInsufficientFunds, total, safe.Hex(), available)
	}

	for _, rcv := range due {
		if err := e.refill(env, safe, rcv); err != nil {
			return nil, err
		}
		e.logger.Info("receiver topped up",
			zap.Stringer("safe", safe),
			zap.Stringer("receiver", rcv.Address),
			zap.Stringer("amount", rcv.Amount),
		)
	}
	return due, nil
}

func (e *Engine) refill(env *chain.Env, safe common.Address, rcv safeauto.Receiver) error {
	var input []byte
	if rcv.Address == e.treasury {
		var err error
		input, err = contracts.EncodeDepositFunds(safe, contracts.ETH, rcv.Amount)
		if err != nil {
			return err
		}
	}
	if _, err := env.Call(safe, rcv.Address, rcv.Amount, input); err != nil {
		return fmt.Errorf("failed to top up %s: %w", rcv.Address.Hex(), err)
	}
	return nil
}

// Run implements chain.Contract.
func (e *Engine) Run(env *chain.Env, call *chain.Call) ([]byte, error) {
	method, err := contracts.Method(contracts.TopUp, call.Input)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "addReceivers":
		if err := env.RequireMutable(); err != nil {
			return nil, err
		}
		var args struct {
			Receivers  []common.Address
			Amounts    []*big.Int
			Thresholds []*big.Int
		}
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		roster, err := safeauto.NewRoster(args.Receivers, args.Amounts, args.Thresholds)
		if err != nil {
			return nil, err
		}
		e.registry.Set(env.Journal(), call.Caller, roster...)
		e.logger.Info("receivers added", zap.Stringer("safe", call.Caller), zap.Int("receivers", len(roster)))
		return nil, nil

	case "stopAutoTopUp":
		if err := env.RequireMutable(); err != nil {
			return nil, err
		}
		var receivers []common.Address
		if err := contracts.UnpackInputs(method, call.Input, &receivers); err != nil {
			return nil, err
		}
		removed := e.registry.Remove(env.Journal(), call.Caller, receivers...)
		e.logger.Info("receivers removed", zap.Stringer("safe", call.Caller), zap.Int("receivers", removed))
		return nil, nil

	case "getReceiversOfSafe":
		var safe common.Address
		if err := contracts.UnpackInputs(method, call.Input, &safe); err != nil {
			return nil, err
		}
		return contracts.Return(method, e.registry.Receivers(safe))

	case "getReceiver":
		var args struct {
			Safe     common.Address
			Receiver common.Address
		}
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		rcv, ok := e.registry.Receiver(args.Safe, args.Receiver)
		if !ok {
			return contracts.Return(method, new(big.Int), new(big.Int))
		}
		return contracts.Return(method, rcv.Amount, rcv.Threshold)

	case "checker":
		var safe common.Address
		if err := contracts.UnpackInputs(method, call.Input, &safe); err != nil {
			return nil, err
		}
		oracle := envOracle{env: env, caller: call.Self, treasury: e.treasury}
		canExec, payload, err := e.Check(context.Background(), oracle, safe)
		if err != nil {
			return nil, err
		}
		if payload == nil {
			payload = []byte{}
		}
		return contracts.Return(method, canExec, payload)

	case "performTopUps":
		var args struct {
			Safe    common.Address
			Targets []common.Address
		}
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		if _, err := e.PerformTopUps(env, call, args.Safe, args.Targets); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return nil, fmt.Errorf("%w: %s", safeauto.ErrUnknownSelector, method.Name)
}
