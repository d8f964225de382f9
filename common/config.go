package common

import (
	"time"

	"github.com/shopspring/decimal"
)

// CollateralConfig holds the knobs of the hub collateralization policy.
type CollateralConfig struct {
	// MinCollateral is the floor deposited when a user has no recent tippers.
	MinCollateral decimal.Decimal
	// MaxCollateral caps the hub token balance a channel may ever hold.
	MaxCollateral decimal.Decimal
	// PerTipperAmount is the expected spend of one recent tipper.
	PerTipperAmount decimal.Decimal
	// MaxMultiple scales tippers x PerTipperAmount into the target.
	MaxMultiple decimal.Decimal
	// RecentWindow bounds how far back tippers are counted.
	RecentWindow time.Duration
}

// LedgerConfig holds the hub-wide ledger knobs.
type LedgerConfig struct {
	// HubAddress is the hub's on-chain account.
	HubAddress string
	// ContractAddress is the channel manager contract.
	ContractAddress string
	// ExchangeRate is token base units per wei, used to price hub collateral
	// matching a user wei deposit and Exchange updates.
	ExchangeRate decimal.Decimal
	// ChallengePeriod bounds how long a pending update may wait for its
	// on-chain transaction before it becomes invalidatable.
	ChallengePeriod time.Duration

	Collateral CollateralConfig
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		ExchangeRate:    decimal.New(1, 0),
		ChallengePeriod: 10 * time.Minute,
		Collateral: CollateralConfig{
			MinCollateral:   decimal.New(10, 18),
			MaxCollateral:   decimal.New(169, 18),
			PerTipperAmount: decimal.New(25, 17),
			MaxMultiple:     decimal.New(10, 0),
			RecentWindow:    72 * time.Hour,
		},
	}
}
