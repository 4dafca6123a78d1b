// Package orchestrator implements the one-shot setup a Safe delegate-calls to
// turn on automatic top-ups: roster registration, treasury funding, the
// whitelist entry for the engine and the resolver task on the automation
// network.
package orchestrator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/automate"
	"github.com/blndgs/safeauto/chain"
	"github.com/blndgs/safeauto/contracts"
)

// Addresses are the contracts the handler wires together.
type Addresses struct {
	Automate common.Address
	Module   common.Address
	Engine   common.Address
	Treasury common.Address
}

// Handler is the top-up orchestrator contract.
type Handler struct {
	addrs  Addresses
	logger *zap.Logger
}

// New returns a handler wired to addrs.
func New(addrs Addresses, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{addrs: addrs, logger: logger}
}

// PerformSpec is the whitelist entry that lets the automation network run the
// engine's performTopUps in the Safe context.
func (h *Handler) PerformSpec() safeauto.TransactionSpec {
	return safeauto.NewTransactionSpec(h.addrs.Engine, "performTopUps(address,address[])", false, safeauto.DelegateCall)
}

// Task returns the id and module data of the resolver task polling the
// engine predicate for safe.
func (h *Handler) Task(safe common.Address) (common.Hash, automate.ModuleData, error) {
	checker, err := contracts.EncodeChecker(safe)
	if err != nil {
		return common.Hash{}, automate.ModuleData{}, err
	}
	md, err := automate.ResolverTask(h.addrs.Engine, checker)
	if err != nil {
		return common.Hash{}, automate.ModuleData{}, err
	}
	id, err := automate.TaskID(safe, h.addrs.Module, executeSelector(), md, common.Address{})
	if err != nil {
		return common.Hash{}, automate.ModuleData{}, err
	}
	return id, md, nil
}

func executeSelector() safeauto.Selector {
	var sel safeauto.Selector
	copy(sel[:], contracts.Module.Methods["execute"].ID)
	return sel
}

// Run implements chain.Contract.
func (h *Handler) Run(env *chain.Env, call *chain.Call) ([]byte, error) {
	method, err := contracts.Method(contracts.Handler, call.Input)
	if err != nil {
		return nil, err
	}
	if err := env.RequireMutable(); err != nil {
		return nil, err
	}
	if !call.Delegated() {
		return nil, fmt.Errorf("%w: %s must be delegate-called by a safe", safeauto.ErrUnauthorized, method.Name)
	}
	if !h.isSafe(env, call.Self) {
		return nil, fmt.Errorf("%w: %s is not a safe", safeauto.ErrUnauthorized, call.Self.Hex())
	}

	switch method.Name {
	case "startAutoTopUp":
		var args struct {
			TreasuryDeposit *big.Int
			Receivers       []common.Address
			Amounts         []*big.Int
			Thresholds      []*big.Int
		}
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		roster, err := safeauto.NewRoster(args.Receivers, args.Amounts, args.Thresholds)
		if err != nil {
			return nil, err
		}
		id, err := h.startAutoTopUp(env, call, args.TreasuryDeposit, roster)
		if err != nil {
			return nil, err
		}
		return contracts.Return(method, id)

	case "cancelAutoTopUp":
		return nil, h.cancelAutoTopUp(env, call.Self)
	}

	return nil, fmt.Errorf("%w: %s", safeauto.ErrUnknownSelector, method.Name)
}

// isSafe reports whether self answers the Safe module query.
func (h *Handler) isSafe(env *chain.Env, self common.Address) bool {
	query, err := contracts.Safe.Pack("isModuleEnabled", h.addrs.Module)
	if err != nil {
		return false
	}
	out, err := env.StaticCall(self, self, query)
	if err != nil {
		return false
	}
	var enabled bool
	return contracts.UnpackOutputs(contracts.Safe, "isModuleEnabled", out, &enabled) == nil
}

func (h *Handler) startAutoTopUp(env *chain.Env, call *chain.Call, deposit *big.Int, roster []safeauto.Receiver) (common.Hash, error) {
	safe := call.Self
	if value := call.Value; value != nil && value.Sign() != 0 && value.Cmp(deposit) != 0 {
		return common.Hash{}, fmt.Errorf("value %s does not match treasury deposit %s", value, deposit)
	}

	addReceivers, err := contracts.EncodeAddReceivers(roster)
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := env.Call(safe, h.addrs.Engine, nil, addReceivers); err != nil {
		return common.Hash{}, fmt.Errorf("failed to register receivers: %w", err)
	}

	if deposit.Sign() > 0 {
		depositFunds, err := contracts.EncodeDepositFunds(safe, contracts.ETH, deposit)
		if err != nil {
			return common.Hash{}, err
		}
		if _, err := env.Call(safe, h.addrs.Treasury, deposit, depositFunds); err != nil {
			return common.Hash{}, fmt.Errorf("failed to fund treasury: %w", err)
		}
	}

	if err := h.whitelistEngine(env, safe); err != nil {
		return common.Hash{}, err
	}

	id, err := h.ensureTask(env, safe)
	if err != nil {
		return common.Hash{}, err
	}

	h.logger.Info("auto top up started",
		zap.Stringer("safe", safe),
		zap.Stringer("task", id),
		zap.Int("receivers", len(roster)),
		zap.Stringer("deposit", deposit),
	)
	return id, nil
}

func (h *Handler) whitelistEngine(env *chain.Env, safe common.Address) error {
	spec := h.PerformSpec()
	whitelisted, err := h.whitelisted(env, safe)
	if err != nil {
		return err
	}
	for _, s := range whitelisted {
		if s == spec {
			return nil
		}
	}

	data, err := contracts.EncodeWhitelistTransaction(spec)
	if err != nil {
		return err
	}
	if _, err := env.Call(safe, h.addrs.Module, nil, data); err != nil {
		return fmt.Errorf("failed to whitelist the engine: %w", err)
	}
	return nil
}

func (h *Handler) whitelisted(env *chain.Env, safe common.Address) ([]safeauto.TransactionSpec, error) {
	query, err := contracts.Module.Pack("getWhitelistedTransactions", safe)
	if err != nil {
		return nil, err
	}
	out, err := env.StaticCall(safe, h.addrs.Module, query)
	if err != nil {
		return nil, err
	}
	var args []contracts.TxSpecArg
	if err := contracts.UnpackOutputs(contracts.Module, "getWhitelistedTransactions", out, &args); err != nil {
		return nil, err
	}
	return contracts.Specs(args), nil
}

// ensureTask creates the resolver task unless the Safe already has it, in
// which case the existing task is reused.
func (h *Handler) ensureTask(env *chain.Env, safe common.Address) (common.Hash, error) {
	id, md, err := h.Task(safe)
	if err != nil {
		return common.Hash{}, err
	}

	exists, err := h.hasTask(env, safe, id)
	if err != nil {
		return common.Hash{}, err
	}
	if exists {
		h.logger.Debug("reusing resolver task", zap.Stringer("safe", safe), zap.Stringer("task", id))
		return id, nil
	}

	sel := executeSelector()
	data, err := contracts.Automate.Pack("createTask", h.addrs.Module, sel[:], md.ABI(), common.Address{})
	if err != nil {
		return common.Hash{}, err
	}
	out, err := env.Call(safe, h.addrs.Automate, nil, data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to create task: %w", err)
	}

	var created [32]byte
	if err := contracts.UnpackOutputs(contracts.Automate, "createTask", out, &created); err != nil {
		return common.Hash{}, err
	}
	return created, nil
}

func (h *Handler) hasTask(env *chain.Env, safe common.Address, id common.Hash) (bool, error) {
	query, err := contracts.Automate.Pack("getTaskIdsByUser", safe)
	if err != nil {
		return false, err
	}
	out, err := env.StaticCall(safe, h.addrs.Automate, query)
	if err != nil {
		return false, err
	}
	var ids [][32]byte
	if err := contracts.UnpackOutputs(contracts.Automate, "getTaskIdsByUser", out, &ids); err != nil {
		return false, err
	}
	for _, other := range ids {
		if other == id {
			return true, nil
		}
	}
	return false, nil
}

// cancelAutoTopUp tears down what startAutoTopUp set up, except the treasury
// balance which the Safe withdraws on its own.
func (h *Handler) cancelAutoTopUp(env *chain.Env, safe common.Address) error {
	query, err := contracts.TopUp.Pack("getReceiversOfSafe", safe)
	if err != nil {
		return err
	}
	out, err := env.StaticCall(safe, h.addrs.Engine, query)
	if err != nil {
		return err
	}
	var receivers []common.Address
	if err := contracts.UnpackOutputs(contracts.TopUp, "getReceiversOfSafe", out, &receivers); err != nil {
		return err
	}
	if len(receivers) > 0 {
		stop, err := contracts.EncodeStopAutoTopUp(receivers)
		if err != nil {
			return err
		}
		if _, err := env.Call(safe, h.addrs.Engine, nil, stop); err != nil {
			return fmt.Errorf("failed to remove receivers: %w", err)
		}
	}

	remove, err := contracts.EncodeRemoveTransaction(h.PerformSpec())
	if err != nil {
		return err
	}
	if _, err := env.Call(safe, h.addrs.Module, nil, remove); err != nil {
		return fmt.Errorf("failed to remove the engine from the whitelist: %w", err)
	}

	id, _, err := h.Task(safe)
	if err != nil {
		return err
	}
	exists, err := h.hasTask(env, safe, id)
	if err != nil {
		return err
	}
	if exists {
		cancel, err := contracts.Automate.Pack("cancelTask", id)
		if err != nil {
			return err
		}
		if _, err := env.Call(safe, h.addrs.Automate, nil, cancel); err != nil {
			return fmt.Errorf("failed to cancel task: %w", err)
		}
	}

	h.logger.Info("auto top up cancelled",
		zap.Stringer("safe", safe),
		zap.Int("receivers", len(receivers)),
		zap.Bool("taskCancelled", exists),
	)
	return nil
}
