package challenge

import (
	"fmt"
	"time"
)

// MaxMessageLength bounds the message of a response payload. Issued challenges
// are far shorter; anything longer cannot be a challenge and is not worth a
// signature recovery or a store round trip.
const MaxMessageLength = 1024

// Challenge is the metadata about a single challenge issuance.
type Challenge struct {
	ID        string    `json:"id"`        // UUID identifying the challenge in logs
	Value     string    `json:"value"`     // The random token the client signs
	IssuedAt  time.Time `json:"issuedAt"`  // When the challenge was issued
	ExpiresAt time.Time `json:"expiresAt"` // When the challenge stops being accepted
}

// Expired reports whether the challenge is past its expiry at now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Payload is a client's response to a challenge: the challenge it attests to,
// its signature over that challenge, and the address it claims to control.
type Payload struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

// Valid checks that every field is present and the message is not
// unreasonably long. It does not look at the signature.
func (p *Payload) Valid() error {
	if p == nil {
		return fmt.Errorf("%w payload", ErrMissingField)
	}

	switch {
	case p.Message == "":
		return fmt.Errorf("%w message", ErrMissingField)
	case p.Signature == "":
		return fmt.Errorf("%w signature", ErrMissingField)
	case p.Address == "":
		return fmt.Errorf("%w address", ErrMissingField)
	case len(p.Message) > MaxMessageLength:
		return fmt.Errorf("%w: message is %d bytes, limit is %d", ErrInvalidFormat, len(p.Message), MaxMessageLength)
	}

	return nil
}
