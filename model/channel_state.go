package model

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type ChannelStatus string

const (
	ChannelStatusOpen    ChannelStatus = "OPEN"
	ChannelStatusDispute ChannelStatus = "DISPUTE"
)

// ChannelState is the current bilateral ledger row for one (user, contract).
// All amounts are base units stored as DECIMAL(38,0).
type ChannelState struct {
	User            string `gorm:"primaryKey;type:varchar(42)" json:"user"`
	ContractAddress string `gorm:"type:varchar(42)" json:"contractAddress"`

	BalanceWeiHub    decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"balanceWeiHub"`
	BalanceWeiUser   decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"balanceWeiUser"`
	BalanceTokenHub  decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"balanceTokenHub"`
	BalanceTokenUser decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"balanceTokenUser"`

	PendingDepositWeiHub      decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"pendingDepositWeiHub"`
	PendingDepositWeiUser     decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"pendingDepositWeiUser"`
	PendingDepositTokenHub    decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"pendingDepositTokenHub"`
	PendingDepositTokenUser   decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"pendingDepositTokenUser"`
	PendingWithdrawalWeiHub   decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"pendingWithdrawalWeiHub"`
	PendingWithdrawalWeiUser  decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"pendingWithdrawalWeiUser"`
	PendingWithdrawalTokenHub decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"pendingWithdrawalTokenHub"`
	PendingWithdrawalTokenUser decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"pendingWithdrawalTokenUser"`

	// TxCountGlobal increments on every accepted update; TxCountChain only on
	// updates that require an on-chain transaction.
	TxCountGlobal uint64 `json:"txCountGlobal"`
	TxCountChain  uint64 `json:"txCountChain"`

	ThreadCount uint64 `json:"threadCount"`
	ThreadRoot  string `gorm:"type:varchar(66)" json:"threadRoot"`

	// Timeout is a unix timestamp; non-zero while an update awaits on-chain
	// confirmation, zero when the state is safe to exit from.
	Timeout int64         `json:"timeout"`
	Status  ChannelStatus `gorm:"type:varchar(16);default:OPEN" json:"status"`

	SigHub  string `gorm:"type:varchar(132)" json:"sigHub"`
	SigUser string `gorm:"type:varchar(132)" json:"sigUser"`

	UpdatedAt time.Time `json:"-"`
}

func (ChannelState) TableName() string {
	return "channel_state"
}

// NewChannelState returns a zero channel for a user seen for the first time.
func NewChannelState(user, contract string) *ChannelState {
	return &ChannelState{
		User:            user,
		ContractAddress: contract,
		Status:          ChannelStatusOpen,
	}
}

func (cs *ChannelState) HasPending() bool {
	for _, d := range []decimal.Decimal{
		cs.PendingDepositWeiHub, cs.PendingDepositWeiUser,
		cs.PendingDepositTokenHub, cs.PendingDepositTokenUser,
		cs.PendingWithdrawalWeiHub, cs.PendingWithdrawalWeiUser,
		cs.PendingWithdrawalTokenHub, cs.PendingWithdrawalTokenUser,
	} {
		if !d.IsZero() {
			return true
		}
	}
	return false
}

// FullySettled means both parties signed and nothing is pending on chain.
func (cs *ChannelState) FullySettled() bool {
	return cs.SigHub != "" && cs.SigUser != "" && !cs.HasPending()
}

// Exitable means the state can back a unilateral on-chain exit.
func (cs *ChannelState) Exitable() bool {
	return cs.SigHub != "" && cs.SigUser != "" && cs.Timeout == 0
}

// Hash is the digest both parties sign. Signatures are excluded from the
// preimage.
func (cs *ChannelState) Hash() []byte {
	c := *cs
	c.SigHub = ""
	c.SigUser = ""
	c.UpdatedAt = time.Time{}
	raw, _ := json.Marshal(&c)
	sum := sha256.Sum256(raw)
	return sum[:]
}
