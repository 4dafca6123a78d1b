package safeauto

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SelectorLength is the byte length of a function selector.
const SelectorLength = 4

// Operation is the Safe call kind of a transaction.
type Operation uint8

const (
	Call Operation = iota
	DelegateCall
)

// Valid reports whether the operation is one of the known call kinds.
func (o Operation) Valid() bool {
	return o == Call || o == DelegateCall
}

func (o Operation) String() string {
	switch o {
	case Call:
		return "CALL"
	case DelegateCall:
		return "DELEGATECALL"
	default:
		return fmt.Sprintf("Operation(%d)", uint8(o))
	}
}

// Selector is a 4-byte function identifier.
type Selector [SelectorLength]byte

// SelectorOf returns the selector of a canonical function signature such as
// "increaseCount(uint256)".
func SelectorOf(signature string) Selector {
	var sel Selector
	copy(sel[:], crypto.Keccak256([]byte(signature))[:SelectorLength])
	return sel
}

// HexToSelector parses a 0x-prefixed 4-byte hex value.
func HexToSelector(s string) (Selector, error) {
	var sel Selector
	b, err := hexutil.Decode(s)
	if err != nil {
		return sel, fmt.Errorf("invalid selector %q: %w", s, err)
	}
	if len(b) != SelectorLength {
		return sel, fmt.Errorf("invalid selector %q: want %d bytes, got %d", s, SelectorLength, len(b))
	}
	copy(sel[:], b)
	return sel, nil
}

func (s Selector) String() string {
	return hexutil.Encode(s[:])
}

// MarshalText implements encoding.TextMarshaler.
func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Selector) UnmarshalText(text []byte) error {
	sel, err := HexToSelector(string(text))
	if err != nil {
		return err
	}
	*s = sel
	return nil
}

// TransactionSpec is the structural pattern a forwarded sub-call must match.
// Its identity is the tuple itself so specs compare with ==.
type TransactionSpec struct {
	To        common.Address `json:"to"        yaml:"to"`
	Selector  Selector       `json:"selector"  yaml:"selector"`
	HasValue  bool           `json:"hasValue"  yaml:"hasValue"`
	Operation Operation      `json:"operation" yaml:"operation"`
}

func (s TransactionSpec) String() string {
	return fmt.Sprintf("TransactionSpec(To: %s, Selector: %s, HasValue: %t, Operation: %s)",
		s.To.Hex(), s.Selector, s.HasValue, s.Operation)
}

// NewTransactionSpec builds a spec from a canonical function signature. An
// empty signature yields the zero selector used by plain value transfers.
func NewTransactionSpec(to common.Address, signature string, hasValue bool, op Operation) TransactionSpec {
	spec := TransactionSpec{To: to, HasValue: hasValue, Operation: op}
	if signature = strings.TrimSpace(signature); signature != "" {
		spec.Selector = SelectorOf(signature)
	}
	return spec
}

// SpecRequest is the wire form of a whitelist entry. An empty signature
// approves plain value transfers to To.
type SpecRequest struct {
	To        string    `json:"to"        binding:"required,eth_addr"`
	Signature string    `json:"signature"`
	HasValue  bool      `json:"hasValue"`
	Operation Operation `json:"operation" binding:"operation"`
}

// WhitelistRequest is the wire form of a whitelistTransaction call.
type WhitelistRequest struct {
	Specs []SpecRequest `json:"specs" binding:"required,min=1,dive"`
}

// Parse converts the request into specs, keeping the request order.
func (r *WhitelistRequest) Parse() ([]TransactionSpec, error) {
	specs := make([]TransactionSpec, 0, len(r.Specs))
	for i, s := range r.Specs {
		if !common.IsHexAddress(s.To) {
			return nil, fmt.Errorf("spec %d: invalid target %q", i, s.To)
		}
		if !s.Operation.Valid() {
			return nil, fmt.Errorf("spec %d: %w", i, ErrInvalidOperation)
		}
		specs = append(specs, NewTransactionSpec(common.HexToAddress(s.To), s.Signature, s.HasValue, s.Operation))
	}
	return specs, nil
}
