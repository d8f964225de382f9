package chaintx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		msg      string
		class    ErrorClass
		terminal bool
	}{
		{"nonce too low", ClassNonceConflict, true},
		{"Nonce too LOW", ClassNonceConflict, true},
		{"rpc error: invalid nonce for sender", ClassNonceConflict, true},
		{"known transaction: 0xabc", ClassKnownTransaction, false},
		{"already known", ClassKnownTransaction, false},
		{"insufficient funds for gas * price + value", ClassInsufficientFunds, true},
		{"replacement transaction underpriced", ClassUnderpriced, false},
		{"connection reset by peer", ClassUnknown, false},
		{"execution reverted", ClassUnknown, false},
	}

	for _, c := range cases {
		got := Classify(errors.New(c.msg))
		assert.Equal(t, c.class, got, c.msg)
		assert.Equal(t, c.terminal, got.Terminal(), c.msg)
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, ClassUnknown, Classify(nil))
	assert.False(t, ClassUnknown.Terminal())
	// Dropped is assigned by the poll loop, never by text matching
	assert.True(t, ClassDropped.Terminal())
}
