package topup

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/blndgs/safeauto"
	"github.com/blndgs/safeauto/chain"
)

func TestRegistry_SetKeepsFirstInsertionOrder(t *testing.T) {
	r := NewRegistry()
	r.Set(nil, safeAddr, testRoster()...)

	// overwriting receiver1 keeps its position
	r.Set(nil, safeAddr, safeauto.Receiver{Address: receiver1, Amount: big.NewInt(5), Threshold: big.NewInt(3)})
	require.Equal(t, []common.Address{receiver1, receiver2, treasuryAddr}, r.Receivers(safeAddr))

	rcv, ok := r.Receiver(safeAddr, receiver1)
	require.True(t, ok)
	require.Equal(t, big.NewInt(5), rcv.Amount)
	require.Equal(t, big.NewInt(3), rcv.Threshold)

	_, ok = r.Receiver(owner, receiver1)
	require.False(t, ok)
	require.Empty(t, r.Receivers(owner))
}

func TestRegistry_Remove(t *testing.T) {
	tests := []struct {
		name     string
		remove   []common.Address
		removed  int
		expected []common.Address
	}{
		{
			name:     "single receiver",
			remove:   []common.Address{receiver2},
			removed:  1,
			expected: []common.Address{receiver1, treasuryAddr},
		},
		{
			name:     "unknown receivers are ignored",
			remove:   []common.Address{owner, receiver1},
			removed:  1,
			expected: []common.Address{receiver2, treasuryAddr},
		},
		{
			name:     "nothing to remove",
			remove:   nil,
			removed:  0,
			expected: []common.Address{receiver1, receiver2, treasuryAddr},
		},
		{
			name:     "everyone",
			remove:   []common.Address{treasuryAddr, receiver1, receiver2},
			removed:  3,
			expected: []common.Address{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			r.Set(nil, safeAddr, testRoster()...)
			require.Equal(t, tt.removed, r.Remove(nil, safeAddr, tt.remove...))
			require.Equal(t, tt.expected, r.Receivers(safeAddr))
		})
	}
}

func TestRegistry_Journal(t *testing.T) {
	st := chain.NewState()
	r := NewRegistry()
	r.Set(st, safeAddr, testRoster()[0])
	st.Commit()

	snap := st.Snapshot()
	r.Set(st, safeAddr, testRoster()[1:]...)
	r.Remove(st, safeAddr, receiver1)
	r.Set(st, owner, testRoster()[0])
	require.Equal(t, []common.Address{receiver2, treasuryAddr}, r.Receivers(safeAddr))

	st.RevertToSnapshot(snap)
	require.Equal(t, []common.Address{receiver1}, r.Receivers(safeAddr))
	require.Empty(t, r.Receivers(owner))
	require.Len(t, r.Roster(safeAddr), 1)
}

func TestRegistry_RemoveAll(t *testing.T) {
	r := NewRegistry()
	r.Set(nil, safeAddr, testRoster()...)
	require.Equal(t, 3, r.Remove(nil, safeAddr, r.Receivers(safeAddr)...))
	require.Nil(t, r.Roster(safeAddr))
	require.Empty(t, r.Receivers(safeAddr))
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	r := NewRegistry()
	r.Set(nil, safeAddr, testRoster()...)

	rcv, ok := r.Receiver(safeAddr, receiver1)
	require.True(t, ok)
	rcv.Amount.SetInt64(1)

	again, _ := r.Receiver(safeAddr, receiver1)
	require.Equal(t, safeauto.Ether(10), again.Amount)
}
