package model

import (
	"encoding/json"
	"time"
)

// ChannelUpdate is one accepted ledger update. Rows are append-only: a bad
// update is flagged invalid, never deleted, so history stays auditable.
type ChannelUpdate struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement:true" json:"id"`
	User string `gorm:"index:idx_user_txcount,unique;type:varchar(42)" json:"user"`

	Reason string `gorm:"type:varchar(32)" json:"reason"`
	Args   string `gorm:"type:longtext" json:"args"`

	TxCountGlobal uint64 `gorm:"index:idx_user_txcount,unique" json:"txCountGlobal"`
	TxCountChain  uint64 `json:"txCountChain"`

	// State is the resulting channel state snapshot, used to regenerate the
	// current row after an invalidation.
	State string `gorm:"type:longtext" json:"state"`

	SigHub  string `gorm:"type:varchar(132)" json:"sigHub"`
	SigUser string `gorm:"type:varchar(132)" json:"sigUser"`

	Invalid *string `gorm:"type:varchar(64)" json:"invalid,omitempty"`

	// OnchainLogicalID references the logical transaction this update waits
	// on, when the reason requires chain interaction.
	OnchainLogicalID *uint64 `gorm:"index" json:"onchainLogicalId,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

func (ChannelUpdate) TableName() string {
	return "channel_updates"
}

func (cu *ChannelUpdate) Snapshot() (*ChannelState, error) {
	var cs ChannelState
	if err := json.Unmarshal([]byte(cu.State), &cs); err != nil {
		return nil, err
	}
	return &cs, nil
}

func (cu *ChannelUpdate) SetSnapshot(cs *ChannelState) error {
	raw, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	cu.State = string(raw)
	return nil
}
