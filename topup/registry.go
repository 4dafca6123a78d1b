package topup

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/chain"
)

type roster struct {
	order   []common.Address
	entries map[common.Address]safeauto.Receiver
}

func (r *roster) clone() *roster {
	cp := &roster{
		order:   make([]common.Address, len(r.order)),
		entries: make(map[common.Address]safeauto.Receiver, len(r.entries)),
	}
	copy(cp.order, r.order)
	for addr, rcv := range r.entries {
		cp.entries[addr] = rcv
	}
	return cp
}

// Registry keeps the receiver roster of every Safe. The roster order is the
// order in which receivers were first added.
//
// Changes are applied in place and undone through the chain journal, so Go
// code outside a running contract reads it inside chain.Chain.Read.
type Registry struct {
	mu      sync.RWMutex
	rosters map[common.Address]*roster
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rosters: make(map[common.Address]*roster)}
}

// Set inserts the receivers into the Safe roster, overwriting the amount and
// threshold of receivers already present.
func (r *Registry) Set(j chain.Journal, safe common.Address, receivers ...safeauto.Receiver) {
	if len(receivers) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.record(j, safe)

	ro, ok := r.rosters[safe]
	if !ok {
		ro = &roster{entries: make(map[common.Address]safeauto.Receiver)}
		r.rosters[safe] = ro
	}
	for _, rcv := range receivers {
		if _, exists := ro.entries[rcv.Address]; !exists {
			ro.order = append(ro.order, rcv.Address)
		}
		ro.entries[rcv.Address] = safeauto.Receiver{
			Address:   rcv.Address,
			Amount:    copyBig(rcv.Amount),
			Threshold: copyBig(rcv.Threshold),
		}
	}
}

// Remove drops the given receivers from the Safe roster. Unknown addresses
// are ignored. It returns the number of receivers removed.
func (r *Registry) Remove(j chain.Journal, safe common.Address, addrs ...common.Address) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ro, ok := r.rosters[safe]
	if !ok {
		return 0
	}

	drop := make(map[common.Address]struct{}, len(addrs))
	for _, addr := range addrs {
		if _, exists := ro.entries[addr]; exists {
			drop[addr] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}

	r.record(j, safe)

	order := make([]common.Address, 0, len(ro.order))
	for _, addr := range ro.order {
		if _, removed := drop[addr]; removed {
			delete(ro.entries, addr)
			continue
		}
		order = append(order, addr)
	}
	ro.order = order
	if len(order) == 0 {
		delete(r.rosters, safe)
	}
	return len(drop)
}

// Receivers returns the receiver addresses of the Safe in roster order.
func (r *Registry) Receivers(safe common.Address) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []common.Address{}
	if ro, ok := r.rosters[safe]; ok {
		out = append(out, ro.order...)
	}
	return out
}

// Receiver returns a single roster entry.
func (r *Registry) Receiver(safe, addr common.Address) (safeauto.Receiver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ro, ok := r.rosters[safe]
	if !ok {
		return safeauto.Receiver{}, false
	}
	rcv, ok := ro.entries[addr]
	if !ok {
		return safeauto.Receiver{}, false
	}
	return copyReceiver(rcv), true
}

// Roster returns every roster entry of the Safe in roster order.
func (r *Registry) Roster(safe common.Address) []safeauto.Receiver {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ro, ok := r.rosters[safe]
	if !ok {
		return nil
	}
	out := make([]safeauto.Receiver, 0, len(ro.order))
	for _, addr := range ro.order {
		out = append(out, copyReceiver(ro.entries[addr]))
	}
	return out
}

// record saves the current Safe roster in j. Callers hold r.mu.
func (r *Registry) record(j chain.Journal, safe common.Address) {
	if j == nil {
		return
	}

	prev, existed := r.rosters[safe]
	var saved *roster
	if existed {
		saved = prev.clone()
	}
	j.Record(func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if existed {
			r.rosters[safe] = saved
		} else {
			delete(r.rosters, safe)
		}
	})
}

func copyReceiver(rcv safeauto.Receiver) safeauto.Receiver {
	return safeauto.Receiver{
		Address:   rcv.Address,
		Amount:    copyBig(rcv.Amount),
		Threshold: copyBig(rcv.Threshold),
	}
}

func copyBig(b *big.Int) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b)
}
