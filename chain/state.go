package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blndgs/safeauto"
)

// Journal records the undo action of a state mutation so that the enclosing
// call frame can be reverted as a whole.
type Journal interface {
	Record(undo func())
}

// State keeps native balances and the undo journal of the running
// transaction. It is not safe for concurrent use; Chain serialises access.
type State struct {
	balances map[common.Address]*big.Int
	journal  []func()
}

// NewState returns an empty state.
func NewState() *State {
	return &State{balances: make(map[common.Address]*big.Int)}
}

// Record implements Journal.
func (s *State) Record(undo func()) {
	s.journal = append(s.journal, undo)
}

// Snapshot returns an identifier for the current journal position.
func (s *State) Snapshot() int {
	return len(s.journal)
}

// RevertToSnapshot undoes every mutation recorded after the snapshot was
// taken, most recent first.
func (s *State) RevertToSnapshot(id int) {
	for i := len(s.journal) - 1; i >= id; i-- {
		s.journal[i]()
	}
	s.journal = s.journal[:id]
}

// Commit drops the journal once the outermost transaction succeeded.
func (s *State) Commit() {
	s.journal = s.journal[:0]
}

// Balance returns a copy of the native balance of addr.
func (s *State) Balance(addr common.Address) *big.Int {
	if b, ok := s.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (s *State) setBalance(addr common.Address, amount *big.Int) {
	prev, existed := s.balances[addr]
	s.balances[addr] = amount
	s.Record(func() {
		if existed {
			s.balances[addr] = prev
		} else {
			delete(s.balances, addr)
		}
	})
}

// AddBalance credits addr.
func (s *State) AddBalance(addr common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	s.setBalance(addr, new(big.Int).Add(s.Balance(addr), amount))
}

// SubBalance debits addr, failing with ErrInsufficientBalance when the
// balance does not cover amount.
func (s *State) SubBalance(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	balance := s.Balance(addr)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", safeauto.ErrInsufficientBalance, addr.Hex(), balance, amount)
	}
	s.setBalance(addr, balance.Sub(balance, amount))
	return nil
}

// Transfer moves amount from one account to another.
func (s *State) Transfer(from, to common.Address, amount *big.Int) error {
	if err := s.SubBalance(from, amount); err != nil {
		return err
	}
	s.AddBalance(to, amount)
	return nil
}
