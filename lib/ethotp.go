package lib

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/TecharoHQ/ethotp"
	"github.com/TecharoHQ/ethotp/internal"
	"github.com/TecharoHQ/ethotp/lib/challenge"
	"github.com/TecharoHQ/ethotp/lib/store"
)

var (
	challengesIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ethotp_challenges_issued",
		Help: "The total number of challenges issued",
	}, []string{"scheme"})

	challengesValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ethotp_challenges_validated",
		Help: "The total number of challenge responses accepted",
	}, []string{"scheme"})

	failedValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ethotp_failed_validations",
		Help: "The total number of challenge responses rejected",
	}, []string{"scheme", "reason"})
)

// Verifier issues challenges and verifies signed responses to them. Each
// challenge is accepted at most once.
//
// The pending set lives in a store.Interface, so a Verifier is safe for
// concurrent use as long as its store is, and several Verifiers may share one
// remote store.
type Verifier struct {
	challenges  *store.JSON[challenge.Challenge]
	recoverer   challenge.Recoverer
	lg          *slog.Logger
	ed25519Priv ed25519.PrivateKey
	ed25519Pub  ed25519.PublicKey
	hs512Secret []byte
	opts        Options
	now         func() time.Time
}

// Issue creates a new challenge and records it as pending until it expires
// or is consumed. The only error comes from the store rejecting the write.
func (v *Verifier) Issue(ctx context.Context) (*challenge.Challenge, error) {
	buf := make([]byte, ethotp.ChallengeSize)
	// crypto/rand.Read never returns an error; entropy failure crashes the process.
	rand.Read(buf)

	now := v.now()
	chall := &challenge.Challenge{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Value:     hex.EncodeToString(buf),
		IssuedAt:  now,
		ExpiresAt: now.Add(v.opts.Expiry),
	}

	if err := v.challenges.Set(ctx, chall.Value, *chall, v.opts.Expiry); err != nil {
		return nil, fmt.Errorf("can't store challenge: %w", err)
	}

	challengesIssued.WithLabelValues(v.opts.Scheme).Inc()
	internal.GetChallengeLogger(v.lg, chall.ID, chall.Value).Debug("issued challenge", "expires_at", chall.ExpiresAt)

	return chall, nil
}

// IssueChallenge is Issue for callers that only need the token.
func (v *Verifier) IssueChallenge(ctx context.Context) (string, error) {
	chall, err := v.Issue(ctx)
	if err != nil {
		return "", err
	}

	return chall.Value, nil
}

// Validate reports whether p is a correctly signed response to a pending,
// unexpired challenge, consuming the challenge if so. It is not idempotent:
// the same valid payload yields true once and false afterwards.
//
// Every failure yields false. Malformed payloads and bad signatures never
// consume a challenge.
func (v *Verifier) Validate(ctx context.Context, p *challenge.Payload) bool {
	lg := v.lg
	if p != nil {
		lg = internal.GetChallengeLogger(v.lg, "", p.Message)
	}

	if err := v.validate(ctx, p); err != nil {
		reason := challenge.Reason(err)
		failedValidations.WithLabelValues(v.opts.Scheme, reason).Inc()

		if reason == "store" {
			lg.Error("can't validate challenge response", "err", err)
		} else {
			lg.Debug("challenge response rejected", "reason", reason, "err", err)
		}

		return false
	}

	challengesValidated.WithLabelValues(v.opts.Scheme).Inc()
	lg.Debug("challenge response accepted", "address", p.Address)

	return true
}

// ValidateFields is Validate for callers holding the payload fields separately.
func (v *Verifier) ValidateFields(ctx context.Context, message, signature, address string) bool {
	return v.Validate(ctx, &challenge.Payload{
		Message:   message,
		Signature: signature,
		Address:   address,
	})
}

// validate checks the payload shape, then the signature, then the challenge.
// Nothing reaches the store until the signature matches.
func (v *Verifier) validate(ctx context.Context, p *challenge.Payload) error {
	if err := p.Valid(); err != nil {
		return challenge.NewError("validate", "invalid response", fmt.Errorf("%w: %w", challenge.ErrMalformedPayload, err))
	}

	addr, err := v.recoverer.Recover(p.Message, p.Signature)
	if err != nil {
		return challenge.NewError("validate", "invalid response", fmt.Errorf("%w: %w", challenge.ErrSignatureMismatch, err))
	}

	if subtle.ConstantTimeCompare([]byte(addr), []byte(p.Address)) != 1 {
		return challenge.NewError("validate", "invalid response", fmt.Errorf("%w: recovered %s but payload claims %s", challenge.ErrSignatureMismatch, addr, p.Address))
	}

	chall, err := v.challenges.Get(ctx, p.Message)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return challenge.NewError("validate", "invalid response", fmt.Errorf("%w: %w", challenge.ErrUnknownChallenge, err))
	case err != nil:
		return fmt.Errorf("can't look up challenge: %w", err)
	}

	now := v.now()
	if chall.Expired(now) {
		if err := v.challenges.Delete(ctx, p.Message); err != nil && !errors.Is(err, store.ErrNotFound) {
			v.lg.Error("can't purge expired challenge", "challenge_id", chall.ID, "err", err)
		}

		return challenge.NewError("validate", "challenge expired", fmt.Errorf("%w: at %s", challenge.ErrExpired, chall.ExpiresAt.Format(time.RFC3339)))
	}

	// Delete is the point of no return: exactly one concurrent caller gets
	// past it for a given challenge.
	if err := v.challenges.Delete(ctx, p.Message); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return challenge.NewError("validate", "invalid response", fmt.Errorf("%w: consumed concurrently: %w", challenge.ErrUnknownChallenge, err))
		}

		return fmt.Errorf("can't consume challenge: %w", err)
	}

	challenge.TimeTaken.WithLabelValues(v.opts.Scheme).Observe(now.Sub(chall.IssuedAt).Seconds())

	return nil
}
