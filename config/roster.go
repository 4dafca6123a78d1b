package config

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/blndgs/safeauto"
)

// RosterFile is the YAML form of a top-up roster. Amounts are in ether.
//
//	safe: "0x..."
//	treasuryDeposit: "1"
//	receivers:
//	  - address: "0x..."
//	    amount: "10"
//	    threshold: "7"
type RosterFile struct {
	Safe            string          `yaml:"safe"`
	TreasuryDeposit string          `yaml:"treasuryDeposit"`
	Receivers       []ReceiverEntry `yaml:"receivers"`
}

// ReceiverEntry is one roster line.
type ReceiverEntry struct {
	Address   string `yaml:"address"`
	Amount    string `yaml:"amount"`
	Threshold string `yaml:"threshold"`
}

// Roster is a parsed roster file.
type Roster struct {
	// Safe is the zero address when the file leaves it out.
	Safe            common.Address
	TreasuryDeposit *big.Int
	Receivers       []safeauto.Receiver
}

// LoadRoster reads and parses the roster file at path.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}
	return ParseRoster(data)
}

// ParseRoster parses a YAML roster. Unknown fields are rejected.
func ParseRoster(data []byte) (*Roster, error) {
	var file RosterFile
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	roster := &Roster{TreasuryDeposit: new(big.Int)}
	if file.Safe != "" {
		if !common.IsHexAddress(file.Safe) {
			return nil, fmt.Errorf("invalid safe address %q", file.Safe)
		}
		roster.Safe = common.HexToAddress(file.Safe)
	}
	if file.TreasuryDeposit != "" {
		deposit, err := safeauto.EtherToWei(file.TreasuryDeposit)
		if err != nil {
			return nil, fmt.Errorf("invalid treasuryDeposit: %w", err)
		}
		roster.TreasuryDeposit = deposit
	}
	if len(file.Receivers) == 0 {
		return nil, errors.New("roster has no receivers")
	}

	for i, entry := range file.Receivers {
		if !common.IsHexAddress(entry.Address) {
			return nil, fmt.Errorf("receiver %d: invalid address %q", i, entry.Address)
		}
		amount, err := safeauto.EtherToWei(entry.Amount)
		if err != nil {
			return nil, fmt.Errorf("receiver %d: invalid amount: %w", i, err)
		}
		threshold, err := safeauto.EtherToWei(entry.Threshold)
		if err != nil {
			return nil, fmt.Errorf("receiver %d: invalid threshold: %w", i, err)
		}
		roster.Receivers = append(roster.Receivers, safeauto.Receiver{
			Address:   common.HexToAddress(entry.Address),
			Amount:    amount,
			Threshold: threshold,
		})
	}
	return roster, nil
}
