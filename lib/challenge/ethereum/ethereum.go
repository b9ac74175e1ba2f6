// Package ethereum implements signature recovery for secp256k1 keys the way
// Ethereum wallets and eth-crypto produce signatures.
//
// Two schemes are registered:
//
//   - "ethereum" hashes the message with keccak256 and recovers over that hash
//     directly. This matches eth-crypto's sign/recover pair.
//   - "ethereum-personal" hashes with the EIP-191 "\x19Ethereum Signed Message"
//     prefix, matching personal_sign in browser wallets.
//
// Signatures are 65 bytes (r || s || v) in hex, with or without a 0x prefix.
// v may be 0/1 or 27/28. Recovered addresses are EIP-55 checksummed.
package ethereum

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	chall "github.com/TecharoHQ/ethotp/lib/challenge"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func init() {
	chall.Register("ethereum", &Impl{})
	chall.Register("ethereum-personal", &Impl{Personal: true})
}

type Impl struct {
	// Personal selects the EIP-191 personal message hash instead of bare keccak256.
	Personal bool
}

// Hash returns the 32 byte digest that gets signed for message.
func (i *Impl) Hash(message string) []byte {
	if i.Personal {
		return accounts.TextHash([]byte(message))
	}

	return crypto.Keccak256([]byte(message))
}

func (i *Impl) Recover(message, signature string) (string, error) {
	sig, err := decodeSignature(signature)
	if err != nil {
		return "", err
	}

	pub, err := crypto.SigToPub(i.Hash(message), sig)
	if err != nil {
		return "", fmt.Errorf("%w: signature: %w", chall.ErrInvalidFormat, err)
	}

	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// Sign signs message with priv and returns the 0x-prefixed hex signature with
// v in the 27/28 form wallets emit. It is the client half of the protocol and
// is used by tests and the command line tool.
func (i *Impl) Sign(priv *ecdsa.PrivateKey, message string) (string, error) {
	sig, err := crypto.Sign(i.Hash(message), priv)
	if err != nil {
		return "", fmt.Errorf("can't sign message: %w", err)
	}

	sig[crypto.RecoveryIDOffset] += 27

	return hexutil.Encode(sig), nil
}

// Address returns the EIP-55 checksummed address of priv.
func Address(priv *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(priv.PublicKey).Hex()
}

func decodeSignature(signature string) ([]byte, error) {
	signature = strings.TrimPrefix(strings.TrimPrefix(signature, "0x"), "0X")

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not hex: %w", chall.ErrInvalidFormat, err)
	}

	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("%w: signature is %d bytes, wanted %d", chall.ErrInvalidFormat, len(sig), crypto.SignatureLength)
	}

	switch v := sig[crypto.RecoveryIDOffset]; v {
	case 0, 1:
	case 27, 28:
		sig[crypto.RecoveryIDOffset] = v - 27
	default:
		return nil, fmt.Errorf("%w: signature has recovery id %d", chall.ErrInvalidFormat, v)
	}

	return sig, nil
}
