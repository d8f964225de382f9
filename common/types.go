package common

import (
	"crypto/sha256"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// UpdateReason tags a channel update with the state transition it performs.
type UpdateReason string

const (
	ReasonProposePendingDeposit    UpdateReason = "ProposePendingDeposit"
	ReasonProposePendingWithdrawal UpdateReason = "ProposePendingWithdrawal"
	ReasonExchange                 UpdateReason = "Exchange"
	ReasonPayment                  UpdateReason = "Payment"
	ReasonOpenThread               UpdateReason = "OpenThread"
	ReasonCloseThread              UpdateReason = "CloseThread"
	ReasonConfirmPending           UpdateReason = "ConfirmPending"
	ReasonInvalidation             UpdateReason = "Invalidation"
	ReasonEmptyChannel             UpdateReason = "EmptyChannel"
)

func (r UpdateReason) Known() bool {
	switch r {
	case ReasonProposePendingDeposit, ReasonProposePendingWithdrawal,
		ReasonExchange, ReasonPayment, ReasonOpenThread, ReasonCloseThread,
		ReasonConfirmPending, ReasonInvalidation, ReasonEmptyChannel:
		return true
	}
	return false
}

// InvalidationReason explains why a range of updates was rolled back.
type InvalidationReason string

const (
	InvalidationConfirmTimeout InvalidationReason = "CU_INVALID_TIMEOUT"
	InvalidationTxFailed       InvalidationReason = "CU_INVALID_TX_FAILED"
	InvalidationRejected       InvalidationReason = "CU_INVALID_REJECTED"
)

// DepositArgs describes a ProposePendingDeposit. Amounts are base units
// (wei / token base units), never fractions.
type DepositArgs struct {
	DepositWeiHub    decimal.Decimal `json:"depositWeiHub"`
	DepositWeiUser   decimal.Decimal `json:"depositWeiUser"`
	DepositTokenHub  decimal.Decimal `json:"depositTokenHub"`
	DepositTokenUser decimal.Decimal `json:"depositTokenUser"`
	Timeout          int64           `json:"timeout"`
}

type WithdrawalArgs struct {
	WithdrawalWeiHub    decimal.Decimal `json:"withdrawalWeiHub"`
	WithdrawalWeiUser   decimal.Decimal `json:"withdrawalWeiUser"`
	WithdrawalTokenHub  decimal.Decimal `json:"withdrawalTokenHub"`
	WithdrawalTokenUser decimal.Decimal `json:"withdrawalTokenUser"`
	Timeout             int64           `json:"timeout"`
}

// ExchangeArgs swaps value between the hub and user columns inside one
// channel. Seller names the side giving up the listed amounts.
type ExchangeArgs struct {
	Seller       string          `json:"seller"` // "hub" or "user"
	WeiToSell    decimal.Decimal `json:"weiToSell"`
	TokensToSell decimal.Decimal `json:"tokensToSell"`
	// ExchangeRate is token base units per wei, fixed at proposal time.
	ExchangeRate decimal.Decimal `json:"exchangeRate"`
}

const (
	SellerHub  = "hub"
	SellerUser = "user"
)

// PaymentArgs moves settled balance between the two columns of a channel.
// Recipient is "hub" when the user pays (the hub forwards value onward) and
// "user" when the hub pays out.
type PaymentArgs struct {
	Recipient   string          `json:"recipient"` // "hub" or "user"
	AmountWei   decimal.Decimal `json:"amountWei"`
	AmountToken decimal.Decimal `json:"amountToken"`
	// Meta carries the end-to-end sender/recipient for hub-forwarded
	// payments; used by the collateral policy's tipper count.
	Sender         string `json:"sender,omitempty"`
	FinalRecipient string `json:"finalRecipient,omitempty"`
}

// ThreadArgs is the thread state snapshot carried by both OpenThread and
// CloseThread updates. For OpenThread the balances are the initial bond and
// TxCount is zero; for CloseThread they are the thread's final balances.
type ThreadArgs struct {
	Sender               string          `json:"sender"`
	Receiver             string          `json:"receiver"`
	ThreadID             uint64          `json:"threadId"`
	BalanceWeiSender     decimal.Decimal `json:"balanceWeiSender"`
	BalanceWeiReceiver   decimal.Decimal `json:"balanceWeiReceiver"`
	BalanceTokenSender   decimal.Decimal `json:"balanceTokenSender"`
	BalanceTokenReceiver decimal.Decimal `json:"balanceTokenReceiver"`
	TxCount              uint64          `json:"txCount"`
	SigSender            string          `json:"sigSender"`
}

// Hash is the digest the thread sender signs. The signature itself is
// excluded from the preimage.
func (a *ThreadArgs) Hash() []byte {
	c := *a
	c.SigSender = ""
	raw, _ := json.Marshal(&c)
	sum := sha256.Sum256(raw)
	return sum[:]
}

type ConfirmPendingArgs struct {
	TransactionHash string `json:"transactionHash"`
}

// EmptyChannelArgs references the confirmed settlement transaction that paid
// both parties out of a disputed channel.
type EmptyChannelArgs struct {
	TransactionHash string `json:"transactionHash"`
}

// InvalidationArgs rolls back the half-open range
// (PreviousValidTxCount, LastInvalidTxCount].
type InvalidationArgs struct {
	PreviousValidTxCount uint64             `json:"previousValidTxCount"`
	LastInvalidTxCount   uint64             `json:"lastInvalidTxCount"`
	Reason               InvalidationReason `json:"reason"`
}

// DepositRequestDigest is the preimage a user signs when asking the hub to
// stage a deposit for the given amounts.
func DepositRequestDigest(user string, weiAmt, tokenAmt decimal.Decimal) []byte {
	raw, _ := json.Marshal(struct {
		User        string `json:"user"`
		AmountWei   string `json:"amountWei"`
		AmountToken string `json:"amountToken"`
	}{user, weiAmt.String(), tokenAmt.String()})
	sum := sha256.Sum256(raw)
	return sum[:]
}

// UpdateRequest is one client-submitted, user-signed update.
type UpdateRequest struct {
	Reason        UpdateReason    `json:"reason"`
	Args          json.RawMessage `json:"args"`
	TxCountGlobal uint64          `json:"txCount"`
	SigUser       string          `json:"sigUser"`
}

// SyncItem is one entry of the pull-based replication stream.
type SyncItem struct {
	Type          string      `json:"type"` // "channel" or "thread"
	ChannelUpdate interface{} `json:"channelUpdate,omitempty"`
	ThreadUpdate  interface{} `json:"threadUpdate,omitempty"`
}

const (
	SyncItemChannel = "channel"
	SyncItemThread  = "thread"
)
