package safeauto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// Receiver is a roster entry of the auto top-up engine: whenever the
// receiver balance drops strictly below Threshold it is refilled with Amount.
type Receiver struct {
	Address   common.Address `json:"address"`
	Amount    *big.Int       `json:"amount"`
	Threshold *big.Int       `json:"threshold"`
}

func (r Receiver) String() string {
	return fmt.Sprintf("Receiver(Address: %s, Amount: %s, Threshold: %s)",
		r.Address.Hex(), bigString(r.Amount), bigString(r.Threshold))
}

// NeedsTopUp reports whether balance is strictly below the threshold.
// A zero threshold never triggers.
func (r Receiver) NeedsTopUp(balance *big.Int) bool {
	if r.Threshold == nil || balance == nil {
		return false
	}
	return balance.Cmp(r.Threshold) < 0
}

func bigString(b *big.Int) string {
	if b == nil {
		return "0"
	}
	return b.String()
}

// NewRoster zips the three parallel arrays accepted by startAutoTopUp.
// It fails with ErrMalformedRoster when their lengths differ.
func NewRoster(receivers []common.Address, amounts, thresholds []*big.Int) ([]Receiver, error) {
	if len(receivers) != len(amounts) || len(receivers) != len(thresholds) {
		return nil, fmt.Errorf("%w: %d receivers, %d amounts, %d thresholds",
			ErrMalformedRoster, len(receivers), len(amounts), len(thresholds))
	}

	roster := make([]Receiver, 0, len(receivers))
	for i, addr := range receivers {
		if amounts[i] == nil || amounts[i].Sign() < 0 || thresholds[i] == nil || thresholds[i].Sign() < 0 {
			return nil, fmt.Errorf("invalid amount or threshold for receiver %s", addr.Hex())
		}
		roster = append(roster, Receiver{
			Address:   addr,
			Amount:    new(big.Int).Set(amounts[i]),
			Threshold: new(big.Int).Set(thresholds[i]),
		})
	}
	return roster, nil
}

// RosterRequest is the wire form of a startAutoTopUp call: a treasury
// deposit plus three parallel arrays of receivers, refill amounts and
// thresholds, all amounts in wei.
type RosterRequest struct {
	Safe            string   `json:"safe"            yaml:"safe"            binding:"omitempty,eth_addr"`
	TreasuryDeposit string   `json:"treasuryDeposit" yaml:"treasuryDeposit" binding:"required,wei"`
	Receivers       []string `json:"receivers"       yaml:"receivers"       binding:"required,min=1,dive,eth_addr"`
	Amounts         []string `json:"amounts"         yaml:"amounts"         binding:"required,dive,wei"`
	Thresholds      []string `json:"thresholds"      yaml:"thresholds"      binding:"required,dive,wei"`
}

// Custom validation for Ethereum address using go-playground validator.
func validEthAddress(fl validator.FieldLevel) bool {
	address := fl.Field().String()
	return common.IsHexAddress(address)
}

// validWei checks the field is a non-negative base-10 integer.
func validWei(fl validator.FieldLevel) bool {
	_, err := ParseWei(fl.Field().String())
	return err == nil
}

// validOperation checks the field is a known Safe operation.
func validOperation(fl validator.FieldLevel) bool {
	return Operation(fl.Field().Uint()).Valid()
}

// Initialization of custom validators.
func NewValidator() error {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {

		if err := v.RegisterValidation("eth_addr", validEthAddress); err != nil {
			return fmt.Errorf("failed to register validator for eth_addr: %w", err)
		}

		if err := v.RegisterValidation("wei", validWei); err != nil {
			return fmt.Errorf("failed to register validator for wei: %w", err)
		}

		if err := v.RegisterValidation("operation", validOperation); err != nil {
			return fmt.Errorf("failed to register validator for 'operation': %w", err)
		}
	}
	return nil
}

// Parse converts the request into the treasury deposit and the roster.
func (r *RosterRequest) Parse() (*big.Int, []Receiver, error) {
	if len(r.Receivers) != len(r.Amounts) || len(r.Receivers) != len(r.Thresholds) {
		return nil, nil, fmt.Errorf("%w: %d receivers, %d amounts, %d thresholds",
			ErrMalformedRoster, len(r.Receivers), len(r.Amounts), len(r.Thresholds))
	}

	if r.Safe != "" && !common.IsHexAddress(r.Safe) {
		return nil, nil, fmt.Errorf("invalid safe address %q", r.Safe)
	}

	deposit := new(big.Int)
	if r.TreasuryDeposit != "" {
		var err error
		if deposit, err = ParseWei(r.TreasuryDeposit); err != nil {
			return nil, nil, fmt.Errorf("invalid treasury deposit: %w", err)
		}
	}

	addrs := make([]common.Address, len(r.Receivers))
	amounts := make([]*big.Int, len(r.Amounts))
	thresholds := make([]*big.Int, len(r.Thresholds))
	for i := range r.Receivers {
		if !common.IsHexAddress(r.Receivers[i]) {
			return nil, nil, fmt.Errorf("invalid receiver address %q", r.Receivers[i])
		}
		addrs[i] = common.HexToAddress(r.Receivers[i])

		var err error
		if amounts[i], err = ParseWei(r.Amounts[i]); err != nil {
			return nil, nil, fmt.Errorf("invalid amount for receiver %s: %w", r.Receivers[i], err)
		}
		if thresholds[i], err = ParseWei(r.Thresholds[i]); err != nil {
			return nil, nil, fmt.Errorf("invalid threshold for receiver %s: %w", r.Receivers[i], err)
		}
	}

	roster, err := NewRoster(addrs, amounts, thresholds)
	if err != nil {
		return nil, nil, err
	}
	return deposit, roster, nil
}

// SafeAddress returns the parsed Safe address of the request, if any.
func (r *RosterRequest) SafeAddress() (common.Address, bool) {
	if r.Safe == "" || !common.IsHexAddress(r.Safe) {
		return common.Address{}, false
	}
	return common.HexToAddress(r.Safe), true
}
