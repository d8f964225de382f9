// Package validator checks signatures, argument well-formedness and
// update-specific business rules before an update is accepted. The ledger
// treats it as a collaborator so tests can relax the signature scheme.
package validator

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"golang.org/x/xerrors"

	"github.com/connext/indra-sub007/common"
	"github.com/connext/indra-sub007/model"
)

type Validator struct {
	verify common.VerifyFunc
}

func New(verify common.VerifyFunc) *Validator {
	return &Validator{verify: verify}
}

// ValidateRequest checks one client-submitted update against the state the
// hub derived for it. expected is the unsigned successor computed by the
// state generator; the user's signature must cover its digest.
func (v *Validator) ValidateRequest(req *common.UpdateRequest, expected *model.ChannelState) error {
	if !req.Reason.Known() {
		return xerrors.Errorf("%w: unknown reason %q", common.ErrValidation, req.Reason)
	}
	if len(req.Args) == 0 || !json.Valid(req.Args) {
		return xerrors.Errorf("%w: malformed args", common.ErrValidation)
	}
	if req.TxCountGlobal != expected.TxCountGlobal {
		return xerrors.Errorf("%w: got %d, expected %d",
			common.ErrStaleTxCount, req.TxCountGlobal, expected.TxCountGlobal)
	}
	if req.SigUser == "" {
		return xerrors.Errorf("%w: missing user signature", common.ErrValidation)
	}
	if err := v.verify(expected.User, expected.Hash(), req.SigUser); err != nil {
		return xerrors.Errorf("%w: bad user signature: %v", common.ErrValidation, err)
	}
	return nil
}

// ValidateDepositRequest checks the user's signature over the deposit
// request preimage before anything is staged in their name.
func (v *Validator) ValidateDepositRequest(user string, weiAmt, tokenAmt decimal.Decimal, sig string) error {
	if sig == "" {
		return xerrors.Errorf("%w: missing request signature", common.ErrValidation)
	}
	if err := v.verify(user, common.DepositRequestDigest(user, weiAmt, tokenAmt), sig); err != nil {
		return xerrors.Errorf("%w: bad request signature: %v", common.ErrValidation, err)
	}
	return nil
}

// ValidateThreadArgs checks the sender-only thread signature and the shape
// of a thread snapshot.
func (v *Validator) ValidateThreadArgs(args *common.ThreadArgs) error {
	if args.Sender == "" || args.Receiver == "" || args.Sender == args.Receiver {
		return xerrors.Errorf("%w: bad thread participants", common.ErrValidation)
	}
	if args.SigSender == "" {
		return xerrors.Errorf("%w: missing thread sender signature", common.ErrValidation)
	}
	if err := v.verify(args.Sender, args.Hash(), args.SigSender); err != nil {
		return xerrors.Errorf("%w: bad thread sender signature: %v", common.ErrValidation, err)
	}
	return nil
}
