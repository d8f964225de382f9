package chaintx

import "strings"

// ErrorClass is the result of matching a provider error against a fixed
// allow-list of deterministic failure signatures. Anything not on the list
// is Unknown and must never drive a state transition: a false "failed" would
// invalidate ledger state that might still settle.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassNonceConflict
	ClassKnownTransaction
	ClassInsufficientFunds
	ClassUnderpriced
	ClassDropped
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNonceConflict:
		return "nonce_conflict"
	case ClassKnownTransaction:
		return "known_transaction"
	case ClassInsufficientFunds:
		return "insufficient_funds"
	case ClassUnderpriced:
		return "underpriced"
	case ClassDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the class proves the physical attempt can never
// be mined. KnownTransaction is not terminal: the node already has the
// transaction, so the poll loop will resolve it via its receipt.
func (c ErrorClass) Terminal() bool {
	switch c {
	case ClassNonceConflict, ClassInsufficientFunds, ClassDropped:
		return true
	}
	return false
}

var classSignatures = []struct {
	substr string
	class  ErrorClass
}{
	{"nonce too low", ClassNonceConflict},
	{"invalid nonce", ClassNonceConflict},
	{"nonce is too low", ClassNonceConflict},
	{"known transaction", ClassKnownTransaction},
	{"already known", ClassKnownTransaction},
	{"insufficient funds", ClassInsufficientFunds},
	{"transaction underpriced", ClassUnderpriced},
}

// Classify matches err against the allow-list. This is the single place
// provider error text is interpreted.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range classSignatures {
		if strings.Contains(msg, sig.substr) {
			return sig.class
		}
	}
	return ClassUnknown
}
