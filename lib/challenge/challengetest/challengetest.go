package challengetest

import (
	"crypto/ecdsa"
	"testing"

	"github.com/TecharoHQ/ethotp/lib/challenge"
	"github.com/ethereum/go-ethereum/crypto"
)

// Key is a throwaway secp256k1 key pair for tests.
type Key struct {
	Private *ecdsa.PrivateKey
	Address string
}

func NewKey(t *testing.T) *Key {
	t.Helper()

	priv, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	return &Key{
		Private: priv,
		Address: crypto.PubkeyToAddress(priv.PublicKey).Hex(),
	}
}

// Mutate changes the last character of s to a different character of the same
// class, so hex stays hex and checksummed addresses keep their shape.
func Mutate(s string) string {
	if s == "" {
		return "0"
	}

	last := s[len(s)-1]
	var next byte
	switch {
	case last == '0':
		next = '1'
	case last >= '1' && last <= '9':
		next = '0'
	case last == 'a':
		next = 'b'
	case last >= 'b' && last <= 'f':
		next = 'a'
	case last == 'A':
		next = 'B'
	case last >= 'B' && last <= 'F':
		next = 'A'
	default:
		next = '0'
	}

	return s[:len(s)-1] + string(next)
}

// Payload builds a response payload for message signed by key with signer.
func Payload(t *testing.T, key *Key, message string, sign func(*ecdsa.PrivateKey, string) (string, error)) *challenge.Payload {
	t.Helper()

	sig, err := sign(key.Private, message)
	if err != nil {
		t.Fatal(err)
	}

	return &challenge.Payload{
		Message:   message,
		Signature: sig,
		Address:   key.Address,
	}
}
