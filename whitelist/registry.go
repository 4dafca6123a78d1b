// Package whitelist keeps, per owning account, the transaction specs a
// permission module is allowed to forward.
package whitelist

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/chain"
)

// Registry maps an owner to the ordered list of specs it approved.
// Duplicate specs are kept; an empty list authorises nothing. Like every
// contract storage it is read inside chain.Chain.Read from outside a call.
type Registry struct {
	mu    sync.RWMutex
	specs map[common.Address][]safeauto.TransactionSpec
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{specs: make(map[common.Address][]safeauto.TransactionSpec)}
}

// Add appends specs to the owner's list. When j is not nil the change is
// recorded so that the enclosing call frame can undo it.
func (r *Registry) Add(j chain.Journal, owner common.Address, specs ...safeauto.TransactionSpec) {
	if len(specs) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.record(j, owner)
	r.specs[owner] = append(r.specs[owner], specs...)
}

// Remove deletes every stored spec equal to one of specs and returns how
// many entries were dropped.
func (r *Registry) Remove(j chain.Journal, owner common.Address, specs ...safeauto.TransactionSpec) int {
	if len(specs) == 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.specs[owner]
	if len(current) == 0 {
		return 0
	}

	drop := make(map[safeauto.TransactionSpec]struct{}, len(specs))
	for _, spec := range specs {
		drop[spec] = struct{}{}
	}

	kept := make([]safeauto.TransactionSpec, 0, len(current))
	for _, spec := range current {
		if _, ok := drop[spec]; !ok {
			kept = append(kept, spec)
		}
	}

	removed := len(current) - len(kept)
	if removed == 0 {
		return 0
	}

	r.record(j, owner)
	if len(kept) == 0 {
		delete(r.specs, owner)
	} else {
		r.specs[owner] = kept
	}
	return removed
}

// Matches reports whether candidate is structurally equal to at least one
// spec approved by owner.
func (r *Registry) Matches(owner common.Address, candidate safeauto.TransactionSpec) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, spec := range r.specs[owner] {
		if spec == candidate {
			return true
		}
	}
	return false
}

// FirstMismatch returns the index of the first candidate owner did not
// approve, or -1 when every candidate matches.
func (r *Registry) FirstMismatch(owner common.Address, candidates []safeauto.TransactionSpec) int {
	for i, candidate := range candidates {
		if !r.Matches(owner, candidate) {
			return i
		}
	}
	return -1
}

// Specs returns a copy of the owner's list in insertion order.
func (r *Registry) Specs(owner common.Address) []safeauto.TransactionSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]safeauto.TransactionSpec, len(r.specs[owner]))
	copy(out, r.specs[owner])
	return out
}

// record saves the owner's current list in j. Callers hold r.mu.
func (r *Registry) record(j chain.Journal, owner common.Address) {
	if j == nil {
		return
	}

	prev, existed := r.specs[owner]
	saved := make([]safeauto.TransactionSpec, len(prev))
	copy(saved, prev)

	j.Record(func() {
		r.mu.Lock()
		defer r.mu.Unlock()

		if existed {
			r.specs[owner] = saved
		} else {
			delete(r.specs, owner)
		}
	})
}
