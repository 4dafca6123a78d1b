package safeauto

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of decimals of the native token.
const EtherDecimals = 18

// ParseWei parses a base-10 wei amount. Zero is accepted, negative values
// are not.
func ParseWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("amount cannot be empty")
	}

	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}

	if amount.Sign() < 0 {
		return nil, errors.New("amount cannot be a negative amount")
	}

	return amount, nil
}

// EtherToWei converts a decimal ether amount such as "0.1" to wei.
func EtherToWei(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid ether amount %q: %w", s, err)
	}

	if d.IsNegative() {
		return nil, errors.New("amount cannot be a negative amount")
	}

	wei := d.Shift(EtherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("ether amount %q has more than %d decimals", s, EtherDecimals)
	}
	return wei.BigInt(), nil
}

// FormatEther renders a wei amount in ether without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals).String()
}

// Ether returns n ether in wei.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(EtherDecimals), nil))
}
