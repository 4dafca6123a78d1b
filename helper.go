package safeauto

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SpecsOf derives the whitelist spec of every transaction in a batch,
// preserving the batch order.
func SpecsOf(txs []SafeTransaction) []TransactionSpec {
	specs := make([]TransactionSpec, 0, len(txs))
	for i := range txs {
		specs = append(specs, txs[i].Spec())
	}
	return specs
}

// TotalValue sums the native value moved by a batch.
func TotalValue(txs []SafeTransaction) *big.Int {
	total := new(big.Int)
	for i := range txs {
		total.Add(total, txs[i].ValueOrZero())
	}
	return total
}

// UniqueAddresses returns addrs without duplicates, keeping the first
// occurrence order.
func UniqueAddresses(addrs []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(addrs))
	out := make([]common.Address, 0, len(addrs))
	for _, addr := range addrs {
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
