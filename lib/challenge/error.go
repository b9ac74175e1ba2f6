package challenge

import (
	"errors"
	"fmt"
)

var (
	ErrMissingField  = errors.New("challenge: missing field")
	ErrInvalidFormat = errors.New("challenge: field has invalid format")

	// ErrMalformedPayload wraps ErrMissingField and ErrInvalidFormat when a
	// payload is rejected before any cryptography runs.
	ErrMalformedPayload  = errors.New("challenge: malformed payload")
	ErrSignatureMismatch = errors.New("challenge: signature does not recover to claimed address")
	ErrUnknownChallenge  = errors.New("challenge: unknown or already consumed challenge")
	ErrExpired           = errors.New("challenge: challenge expired")

	ErrUnknownScheme = errors.New("challenge: unknown signature scheme")
)

func NewError(verb, publicReason string, privateReason error) *Error {
	return &Error{
		Verb:          verb,
		PublicReason:  publicReason,
		PrivateReason: privateReason,
	}
}

// Error is a failure while processing a challenge. PublicReason is safe to
// show to the client; PrivateReason is for logs only.
type Error struct {
	PrivateReason error
	Verb          string
	PublicReason  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("challenge: error when processing challenge: %s: %v", e.Verb, e.PrivateReason)
}

func (e *Error) Unwrap() error {
	return e.PrivateReason
}

// Reason maps a validation error onto a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrUnknownChallenge):
		return "unknown"
	default:
		return "store"
	}
}
