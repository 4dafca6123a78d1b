package safeauto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func TestSelectorOf(t *testing.T) {
	// well-known ERC-20 selectors
	require.Equal(t, "0xa9059cbb", SelectorOf("transfer(address,uint256)").String())
	require.Equal(t, "0x095ea7b3", SelectorOf("approve(address,uint256)").String())
}

func TestHexToSelector(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{in: "0xa9059cbb"},
		{in: "a9059cbb", wantErr: true},
		{in: "0xa9059c", wantErr: true},
		{in: "0xa9059cbb00", wantErr: true},
		{in: "0xzz059cbb", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sel, err := HexToSelector(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.in, sel.String())
		})
	}
}

func TestOperation(t *testing.T) {
	require.True(t, Call.Valid())
	require.True(t, DelegateCall.Valid())
	require.False(t, Operation(2).Valid())
	require.Equal(t, "CALL", Call.String())
	require.Equal(t, "Operation(7)", Operation(7).String())
}

func TestNewTransactionSpec(t *testing.T) {
	target := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	spec := NewTransactionSpec(target, "transfer(address,uint256)", true, Call)
	require.Equal(t, SelectorOf("transfer(address,uint256)"), spec.Selector)
	require.True(t, spec.HasValue)

	// empty signature matches plain value transfers
	transfer := NewTransactionSpec(target, " ", true, Call)
	require.Equal(t, Selector{}, transfer.Selector)
	tx := SafeTransaction{To: target, Value: Ether(1), Operation: Call}
	require.Equal(t, transfer, tx.Spec())

	// identity is the whole tuple
	require.NotEqual(t, spec, NewTransactionSpec(target, "transfer(address,uint256)", false, Call))
	require.NotEqual(t, spec, NewTransactionSpec(target, "transfer(address,uint256)", true, DelegateCall))
	require.Contains(t, spec.String(), "Selector: 0xa9059cbb")
}

func TestTransactionSpec_JSON(t *testing.T) {
	spec := NewTransactionSpec(common.HexToAddress("0x00000000000000000000000000000000000000c1"), "transfer(address,uint256)", false, DelegateCall)

	b, err := json.Marshal(spec)
	require.NoError(t, err)
	require.Contains(t, string(b), `"selector":"0xa9059cbb"`)

	var decoded TransactionSpec
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, spec, decoded)

	require.Error(t, json.Unmarshal([]byte(`{"selector":"0x01"}`), &decoded))
}
