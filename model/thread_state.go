package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ThreadStatus string

const (
	ThreadStatusOpen   ThreadStatus = "OPEN"
	ThreadStatusClosed ThreadStatus = "CLOSED"
)

// ThreadState rows are append-only versions of a bonded sender->receiver
// sub-ledger. The current state of a thread is the row with the highest id
// for its (sender, receiver, thread_id). Closing is terminal for a threadId;
// reopening the pair allocates threadId+1 with txCount reset to zero.
type ThreadState struct {
	ID uint64 `gorm:"primaryKey;autoIncrement:true" json:"id"`

	Sender   string `gorm:"index:idx_thread;type:varchar(42)" json:"sender"`
	Receiver string `gorm:"index:idx_thread;type:varchar(42)" json:"receiver"`
	ThreadID uint64 `gorm:"index:idx_thread;column:thread_id" json:"threadId"`

	BalanceWeiSender     decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"balanceWeiSender"`
	BalanceWeiReceiver   decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"balanceWeiReceiver"`
	BalanceTokenSender   decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"balanceTokenSender"`
	BalanceTokenReceiver decimal.Decimal `gorm:"type:DECIMAL(38,0)" json:"balanceTokenReceiver"`

	TxCount   uint64       `json:"txCount"`
	SigSender string       `gorm:"type:varchar(132)" json:"sigSender"`
	Status    ThreadStatus `gorm:"type:varchar(16);default:OPEN" json:"status"`

	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

func (ThreadState) TableName() string {
	return "thread_state"
}
