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

// Treasury holds the native token its users deposit to pay execution fees.
// Only the automation contract may spend from it.
type Treasury struct {
	automate common.Address
	gelato   common.Address
	balances map[common.Address]*big.Int
	logger   *zap.Logger
}

// NewTreasury returns a treasury spendable by automate that pays fees to
// gelato.
func NewTreasury(automate, gelato common.Address, logger *zap.Logger) *Treasury {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Treasury{
		automate: automate,
		gelato:   gelato,
		balances: make(map[common.Address]*big.Int),
		logger:   logger,
	}
}

// UserTokenBalance returns the native balance user holds in the treasury.
func (t *Treasury) UserTokenBalance(user common.Address) *big.Int {
	if b, ok := t.balances[user]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *Treasury) setBalance(j chain.Journal, user common.Address, amount *big.Int) {
	prev, existed := t.balances[user]
	t.balances[user] = amount
	j.Record(func() {
		if existed {
			t.balances[user] = prev
		} else {
			delete(t.balances, user)
		}
	})
}

func (t *Treasury) debit(j chain.Journal, user common.Address, amount *big.Int) error {
	balance := t.UserTokenBalance(user)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s in the treasury, needs %s",
			safeauto.ErrInsufficientBalance, user.Hex(), balance, amount)
	}
	t.setBalance(j, user, balance.Sub(balance, amount))
	return nil
}

type treasuryArgs struct {
	Receiver common.Address
	Token    common.Address
	Amount   *big.Int
}

func requireETH(token common.Address) error {
	if token != contracts.ETH {
		return fmt.Errorf("unsupported token %s: only the native token is accepted", token.Hex())
	}
	return nil
}

// Run implements chain.Contract.
func (t *Treasury) Run(env *chain.Env, call *chain.Call) ([]byte, error) {
	method, err := contracts.Method(contracts.Treasury, call.Input)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "depositFunds":
		if err := env.RequireMutable(); err != nil {
			return nil, err
		}
		var args treasuryArgs
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		if err := requireETH(args.Token); err != nil {
			return nil, err
		}
		if call.Value.Cmp(args.Amount) != 0 {
			return nil, fmt.Errorf("deposit value %s does not match amount %s", call.Value, args.Amount)
		}
		balance := t.UserTokenBalance(args.Receiver)
		t.setBalance(env.Journal(), args.Receiver, balance.Add(balance, args.Amount))
		t.logger.Info("funds deposited",
			zap.Stringer("receiver", args.Receiver),
			zap.Stringer("amount", args.Amount),
		)
		return nil, nil

	case "withdrawFunds":
		if err := env.RequireMutable(); err != nil {
			return nil, err
		}
		var args treasuryArgs
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		if err := requireETH(args.Token); err != nil {
			return nil, err
		}
		if err := t.debit(env.Journal(), call.Caller, args.Amount); err != nil {
			return nil, err
		}
		if _, err := env.Call(call.Self, args.Receiver, args.Amount, nil); err != nil {
			return nil, err
		}
		return nil, nil

	case "userTokenBalance":
		var args struct {
			User  common.Address
			Token common.Address
		}
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		if args.Token != contracts.ETH {
			return contracts.Return(method, new(big.Int))
		}
		return contracts.Return(method, t.UserTokenBalance(args.User))

	case "useFunds":
		if err := env.RequireMutable(); err != nil {
			return nil, err
		}
		if call.Caller != t.automate {
			return nil, fmt.Errorf("%w: only the automation contract can use funds", safeauto.ErrUnauthorized)
		}
		var args struct {
			User   common.Address
			Token  common.Address
			Amount *big.Int
		}
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		if err := requireETH(args.Token); err != nil {
			return nil, err
		}
		if err := t.debit(env.Journal(), args.User, args.Amount); err != nil {
			return nil, err
		}
		if _, err := env.Call(call.Self, t.gelato, args.Amount, nil); err != nil {
			return nil, err
		}
		t.logger.Info("fee charged",
			zap.Stringer("user", args.User),
			zap.Stringer("amount", args.Amount),
		)
		return nil, nil
	}

	return nil, fmt.Errorf("%w: %s", safeauto.ErrUnknownSelector, method.Name)
}
