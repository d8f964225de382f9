package common

import "golang.org/x/xerrors"

// Error taxonomy. Validation and policy errors are rejected synchronously
// with no partial writes; chain errors are handled by the onchain service.
var (
	ErrValidation          = xerrors.New("validation failed")
	ErrPolicy              = xerrors.New("policy rejected")
	ErrProposalPending     = xerrors.New("a proposed update is already pending for this user")
	ErrInsufficientBalance = xerrors.New("insufficient balance, update would go negative")
	ErrStaleTxCount        = xerrors.New("txCountGlobal does not match the expected next value")
	ErrTimeoutNotElapsed   = xerrors.New("update timeout has not elapsed")
	ErrNotExitable         = xerrors.New("latest double-signed zero-timeout update is not the latest update")
	ErrChannelNotFound     = xerrors.New("no channel for user")
	ErrPendingOperation    = xerrors.New("channel has an unsettled pending operation")
)
