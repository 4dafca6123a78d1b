// Package config resolves the runtime configuration once at start-up.
package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/blndgs/safeauto"
)

const (
	defaultStage          = "dev"
	defaultLogLevel       = "info"
	defaultNetwork        = "hardhat"
	defaultListenAddr     = ":8080"
	defaultKeeperInterval = 15 * time.Second
	// 0.1 ether
	defaultKeeperFee = "100000000000000000"
)

// Config is the resolved configuration.
type Config struct {
	Stage          string
	LogLevel       string
	Network        string
	ListenAddr     string
	KeeperInterval time.Duration
	KeeperFee      *big.Int
	RPCURL         string
	JournalPath    string
	Addresses      Addresses
}

// Load reads .env when present and resolves the configuration from the
// environment.
func Load() (*Config, error) {
	// a missing .env is not an error
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv resolves the configuration from getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	get := func(key, fallback string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fallback
	}

	cfg := &Config{
		Stage:       get("STAGE", defaultStage),
		LogLevel:    get("LOG_LEVEL", defaultLogLevel),
		Network:     get("NETWORK", defaultNetwork),
		ListenAddr:  get("LISTEN_ADDR", defaultListenAddr),
		RPCURL:      getenv("RPC_URL"),
		JournalPath: getenv("JOURNAL_PATH"),
	}

	interval, err := time.ParseDuration(get("KEEPER_INTERVAL", defaultKeeperInterval.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid KEEPER_INTERVAL: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid KEEPER_INTERVAL: %s must be positive", interval)
	}
	cfg.KeeperInterval = interval

	fee, err := safeauto.ParseWei(get("KEEPER_FEE_WEI", defaultKeeperFee))
	if err != nil {
		return nil, fmt.Errorf("invalid KEEPER_FEE_WEI: %w", err)
	}
	cfg.KeeperFee = fee

	addrs, err := AddressesFor(cfg.Network)
	if err != nil {
		return nil, err
	}
	cfg.Addresses = addrs
	return cfg, nil
}
