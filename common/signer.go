package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer produces the hub's countersignature over a state digest. Key
// management itself lives outside this service; production deployments plug
// in a wallet-backed implementation.
type Signer interface {
	Address() string
	Sign(digest []byte) (string, error)
}

// VerifyFunc checks a signature over a state digest for an address.
type VerifyFunc func(addr string, digest []byte, sig string) error

// HmacSigner is a development signer keyed by a shared secret.
type HmacSigner struct {
	addr   string
	secret []byte
}

func NewHmacSigner(addr string, secret []byte) *HmacSigner {
	return &HmacSigner{addr: addr, secret: secret}
}

func (s *HmacSigner) Address() string { return s.addr }

func (s *HmacSigner) Sign(digest []byte) (string, error) {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(s.addr))
	mac.Write(digest)
	return "0x" + hex.EncodeToString(mac.Sum(nil)), nil
}

// HmacVerifier pairs with HmacSigner for tests and development setups.
func HmacVerifier(secret []byte) VerifyFunc {
	return func(addr string, digest []byte, sig string) error {
		mac := hmac.New(sha256.New, secret)
		mac.Write([]byte(addr))
		mac.Write(digest)
		want := "0x" + hex.EncodeToString(mac.Sum(nil))
		if !hmac.Equal([]byte(want), []byte(sig)) {
			return ErrValidation
		}
		return nil
	}
}
