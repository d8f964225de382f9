package model

import "time"

// NonceState holds one row per sending address. Allocators take it FOR
// UPDATE so concurrent transactions hand out distinct nonces; Nonce records
// the last value handed out.
type NonceState struct {
	Address string `gorm:"primaryKey;type:varchar(42)" json:"address"`
	Nonce   uint64 `json:"nonce"`

	UpdatedAt time.Time `json:"-"`
}

func (NonceState) TableName() string {
	return "nonce_state"
}
