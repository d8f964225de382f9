package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OnchainTxState string

const (
	OnchainTxStateNew       OnchainTxState = "new"
	OnchainTxStateSubmitted OnchainTxState = "submitted"
	OnchainTxStateConfirmed OnchainTxState = "confirmed"
	OnchainTxStateFailed    OnchainTxState = "failed"
)

func (s OnchainTxState) Terminal() bool {
	return s == OnchainTxStateConfirmed || s == OnchainTxStateFailed
}

// OnchainTransaction is one logical chain transaction. A logical transaction
// may correspond to several physical broadcast attempts (Attempt counts them,
// the nonce is reused across attempts).
type OnchainTransaction struct {
	LogicalID uint64 `gorm:"primaryKey;autoIncrement:true;column:logical_id" json:"logicalId"`

	From  string          `gorm:"column:from_address;index;type:varchar(42)" json:"from"`
	To    string          `gorm:"column:to_address;type:varchar(42)" json:"to"`
	Value decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"value"`
	Data  string          `gorm:"type:longtext" json:"data"`
	Gas   uint64          `json:"gas"`
	Nonce uint64          `gorm:"index" json:"nonce"`
	Hash  string          `gorm:"index;type:varchar(66)" json:"hash"`

	State OnchainTxState `gorm:"index;type:varchar(16);default:new" json:"state"`

	Attempt   int    `json:"attempt"`
	LastError string `gorm:"type:longtext" json:"lastError"`

	// Meta names the completion callback and its payload, JSON-encoded.
	Meta string `gorm:"type:longtext" json:"meta"`

	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	ConfirmedOn *time.Time `json:"confirmedOn,omitempty"`
	FailedOn    *time.Time `json:"failedOn,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

func (OnchainTransaction) TableName() string {
	return "onchain_transactions"
}
