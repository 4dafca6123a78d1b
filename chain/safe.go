package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/contracts"
)

// Safe is the owning account: it holds funds, executes transactions approved
// by its owner and lets enabled modules execute on its behalf.
//
// The multi-party approval of a real Safe is collapsed into a single owner
// address; whoever controls it stands for the full set of signers.
type Safe struct {
	owner   common.Address
	modules map[common.Address]bool
	logger  *zap.Logger
}

// NewSafe returns a Safe controlled by owner.
func NewSafe(owner common.Address, logger *zap.Logger) *Safe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Safe{
		owner:   owner,
		modules: make(map[common.Address]bool),
		logger:  logger,
	}
}

// Owner returns the address authorised to call execTransaction.
func (s *Safe) Owner() common.Address {
	return s.owner
}

type safeExecArgs struct {
	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation uint8
}

// Run implements Contract.
func (s *Safe) Run(env *Env, call *Call) ([]byte, error) {
	// receive(): plain value transfers
	if len(call.Input) == 0 {
		return nil, nil
	}

	method, err := contracts.Method(contracts.Safe, call.Input)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "execTransaction":
		if call.Caller != s.owner && call.Caller != call.Self {
			return nil, fmt.Errorf("%w: %s is not the safe owner", safeauto.ErrUnauthorized, call.Caller.Hex())
		}
		var args safeExecArgs
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		if err := s.exec(env, call, args); err != nil {
			return nil, err
		}
		return contracts.Return(method, true)

	case "execTransactionFromModule":
		if !s.modules[call.Caller] {
			return nil, fmt.Errorf("%w: %s", safeauto.ErrModuleNotEnabled, call.Caller.Hex())
		}
		var args safeExecArgs
		if err := contracts.UnpackInputs(method, call.Input, &args); err != nil {
			return nil, err
		}
		if err := s.exec(env, call, args); err != nil {
			return nil, err
		}
		return contracts.Return(method, true)

	case "enableModule", "disableModule":
		if err := env.RequireMutable(); err != nil {
			return nil, err
		}
		if call.Caller != s.owner && call.Caller != call.Self {
			return nil, fmt.Errorf("%w: %s cannot manage modules", safeauto.ErrUnauthorized, call.Caller.Hex())
		}
		var module common.Address
		if err := contracts.UnpackInputs(method, call.Input, &module); err != nil {
			return nil, err
		}
		s.setModule(env.Journal(), module, method.Name == "enableModule")
		s.logger.Info("safe module updated",
			zap.Stringer("safe", call.Self),
			zap.Stringer("module", module),
			zap.Bool("enabled", s.modules[module]),
		)
		return nil, nil

	case "isModuleEnabled":
		var module common.Address
		if err := contracts.UnpackInputs(method, call.Input, &module); err != nil {
			return nil, err
		}
		return contracts.Return(method, s.modules[module])
	}

	return nil, fmt.Errorf("%w: %s", safeauto.ErrUnknownSelector, method.Name)
}

// IsModuleEnabled reports whether module may execute on behalf of the Safe.
func (s *Safe) IsModuleEnabled(module common.Address) bool {
	return s.modules[module]
}

func (s *Safe) setModule(j Journal, module common.Address, enabled bool) {
	prev := s.modules[module]
	if enabled {
		s.modules[module] = true
	} else {
		delete(s.modules, module)
	}
	j.Record(func() {
		if prev {
			s.modules[module] = true
		} else {
			delete(s.modules, module)
		}
	})
}

// exec is the Safe execution primitive: the call runs as the Safe, or the
// target code runs in the Safe's context for a delegate call.
func (s *Safe) exec(env *Env, call *Call, args safeExecArgs) error {
	op := safeauto.Operation(args.Operation)
	var err error
	switch op {
	case safeauto.Call:
		_, err = env.Call(call.Self, args.To, args.Value, args.Data)
	case safeauto.DelegateCall:
		frame := &Call{
			Caller: call.Caller,
			Self:   call.Self,
			Value:  args.Value,
		}
		_, err = env.DelegateCall(frame, args.To, args.Data)
	default:
		return fmt.Errorf("%w: %d", safeauto.ErrInvalidOperation, args.Operation)
	}
	if err != nil {
		return fmt.Errorf("safe %s %s to %s: %w", call.Self.Hex(), op, args.To.Hex(), err)
	}
	return nil
}
