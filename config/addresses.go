package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/blndgs/safeauto"
)

// Addresses are the automation network contracts of one network.
type Addresses struct {
	Automate common.Address
	Treasury common.Address
	Gelato   common.Address
}

var mainnet = Addresses{
	Automate: common.HexToAddress("0xB3f5503f93d5Ef84b06993a1975B9D21B962892F"),
	Treasury: common.HexToAddress("0x2807B4aE232b624023f87d0e237A3B1bf200Fd99"),
	Gelato:   common.HexToAddress("0x3caca7b48d0573d793d3b0279b5f0029180e83b6"),
}

// Networks lists the networks AddressesFor knows.
var Networks = []string{"hardhat", "mainnet"}

// AddressesFor returns the automation network addresses of network. The
// hardhat network is a mainnet fork and shares its addresses.
func AddressesFor(network string) (Addresses, error) {
	switch network {
	case "hardhat", "mainnet":
		return mainnet, nil
	default:
		return Addresses{}, fmt.Errorf("%w %q", safeauto.ErrNoAddressForNetwork, network)
	}
}
