package model

import "time"

type DisputeStatus string

const (
	DisputeStatusPending  DisputeStatus = "PENDING"
	DisputeStatusFinished DisputeStatus = "FINISHED"
)

// ChannelDispute tracks one unilateral-exit flow. At most one PENDING row
// exists per user at a time.
type ChannelDispute struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement:true" json:"id"`
	User string `gorm:"index;type:varchar(42)" json:"user"`

	Reason string `gorm:"type:varchar(128)" json:"reason"`

	OnchainTxIDStart uint64  `gorm:"column:onchain_tx_id_start" json:"onchainTxIdStart"`
	OnchainTxIDEmpty *uint64 `gorm:"column:onchain_tx_id_empty" json:"onchainTxIdEmpty,omitempty"`

	// DisputeEnds approximates the contract's recorded closing time from the
	// local clock; settlement may only be submitted after it.
	DisputeEnds int64 `json:"disputeEnds"`

	Status DisputeStatus `gorm:"index;type:varchar(16);default:PENDING" json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"-"`
}

func (ChannelDispute) TableName() string {
	return "channel_disputes"
}
