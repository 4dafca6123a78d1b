// Package permission implements the Safe module that forwards batches of
// pre-approved transactions submitted by a single delegated caller, the
// automation network.
package permission

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/chain"
	"github.com/blndgs/safeauto/contracts"
	"github.com/blndgs/safeauto/whitelist"
)

// Module is the permission module contract.
type Module struct {
	delegatedCaller common.Address
	whitelist       *whitelist.Registry
	logger          *zap.Logger
}

// New returns a module that accepts batches from delegatedCaller only.
func New(delegatedCaller common.Address, registry *whitelist.Registry, logger *zap.Logger) *Module {
	if registry == nil {
		registry = whitelist.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{
		delegatedCaller: delegatedCaller,
		whitelist:       registry,
		logger:          logger,
	}
}

// DelegatedCaller returns the only address allowed to call execute.
func (m *Module) DelegatedCaller() common.Address {
	return m.delegatedCaller
}

// Whitelist returns the registry backing the module.
func (m *Module) Whitelist() *whitelist.Registry {
	return m.whitelist
}

// Authorize checks that every transaction of the batch matches a spec the
// Safe approved. The error names the first offending transaction.
func (m *Module) Authorize(safe common.Address, txs []safeauto.SafeTransaction) error {
	specs := safeauto.SpecsOf(txs)
	if i := m.whitelist.FirstMismatch(safe, specs); i >= 0 {
		return fmt.Errorf("%w: transaction %d (%s)", safeauto.ErrAuthorizationDenied, i, specs[i])
	}
	return nil
}

// Run implements chain.Contract.
func (m *Module) Run(env *chain.Env, call *chain.Call) ([]byte, error) {
	method, err := contracts.Method(contracts.Module, call.Input)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "whitelistTransaction", "removeTransaction":
		if err := env.RequireMutable(); err != nil {
			return nil, err
		}
		if call.Caller == m.delegatedCaller {
			return nil, fmt.Errorf("%w: delegated caller cannot change the whitelist", safeauto.ErrUnauthorized)
		}

		var args []contracts.TxSpecArg
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		specs := contracts.Specs(args)
		for i := range specs {
			if !specs[i].Operation.Valid() {
				return nil, fmt.Errorf("%w: spec %d", safeauto.ErrInvalidOperation, i)
			}
		}

		if method.Name == "whitelistTransaction" {
			m.whitelist.Add(env.Journal(), call.Caller, specs...)
		} else {
			m.whitelist.Remove(env.Journal(), call.Caller, specs...)
		}
		m.logger.Info("whitelist updated",
			zap.String("method", method.Name),
			zap.Stringer("safe", call.Caller),
			zap.Int("specs", len(specs)),
		)
		return nil, nil

	case "getWhitelistedTransactions":
		var safe common.Address
		if err := contracts.UnpackInputs(method, call.Input, &safe); err != nil {
			return nil, err
		}
		return contracts.Return(method, contracts.SpecArgs(m.whitelist.Specs(safe)))

	case "execute":
		if err := env.RequireMutable(); err != nil {
			return nil, err
		}
		if call.Caller != m.delegatedCaller {
			return nil, fmt.Errorf("%w: %s is not the delegated caller", safeauto.ErrUnauthorized, call.Caller.Hex())
		}

		safe, txs, err := contracts.DecodeExecute(call.Input)
		if err != nil {
			return nil, err
		}
		if err := m.execute(env, call.Self, safe, txs); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return nil, fmt.Errorf("%w: %s", safeauto.ErrUnknownSelector, method.Name)
}

// execute validates the whole batch before forwarding anything, then hands
// each transaction to the Safe in order. Any failure fails the batch and the
// enclosing frame reverts what earlier transactions did.
func (m *Module) execute(env *chain.Env, self, safe common.Address, txs []safeauto.SafeTransaction) error {
	if !env.HasCode(safe) {
		return fmt.Errorf("%w: %s has no code", safeauto.ErrExecutionFailed, safe.Hex())
	}
	if err := m.Authorize(safe, txs); err != nil {
		m.logger.Warn("batch rejected", zap.Stringer("safe", safe), zap.Error(err))
		return err
	}

	for i := range txs {
		data, err := contracts.EncodeExecTransactionFromModule(txs[i])
		if err != nil {
			return err
		}
		if _, err := env.Call(self, safe, nil, data); err != nil {
			return fmt.Errorf("%w: transaction %d: %w", safeauto.ErrExecutionFailed, i, err)
		}
	}

	m.logger.Info("batch executed",
		zap.Stringer("safe", safe),
		zap.Int("transactions", len(txs)),
		zap.Stringer("value", safeauto.TotalValue(txs)),
	)
	return nil
}
