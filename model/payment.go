package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment is an append-only log of settled payments. The collateral policy
// counts distinct recent senders per recipient from it.
type Payment struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement:true" json:"id"`
	Sender    string `gorm:"index;type:varchar(42)" json:"sender"`
	Recipient string `gorm:"index;type:varchar(42)" json:"recipient"`

	AmountWei   decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"amountWei"`
	AmountToken decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"amountToken"`

	// UpdateID references the channel update that carried the payment.
	UpdateID uint64 `gorm:"index" json:"updateId"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

func (Payment) TableName() string {
	return "payments"
}
