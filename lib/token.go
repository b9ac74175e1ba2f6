package lib

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/TecharoHQ/ethotp"
	"github.com/TecharoHQ/ethotp/internal"
	"github.com/TecharoHQ/ethotp/lib/challenge"
)

var ErrInvalidToken = errors.New("lib: invalid attestation token")

// ValidateAndSign validates p and, on success, returns a signed JWT whose
// subject is the proven address. The token lets a host hand proof of key
// possession to other services without repeating the challenge dance.
//
// If signing fails after the challenge was consumed, the client has to start
// over with a new challenge.
func (v *Verifier) ValidateAndSign(ctx context.Context, p *challenge.Payload) (string, bool) {
	if !v.Validate(ctx, p) {
		return "", false
	}

	tokenString, err := v.signJWT(jwt.MapClaims{
		"iss":       ethotp.TokenIssuer,
		"sub":       p.Address,
		"challenge": internal.SHA256sum(p.Message),
		"scheme":    v.opts.Scheme,
	})
	if err != nil {
		v.lg.Error("failed to sign JWT", "err", err)
		return "", false
	}

	return tokenString, true
}

// VerifyToken checks a token minted by ValidateAndSign and returns the
// address it attests to.
func (v *Verifier) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, jwt.MapClaims{}, func(token *jwt.Token) (any, error) {
		if len(v.hs512Secret) != 0 {
			return v.hs512Secret, nil
		}

		return v.ed25519Pub, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithIssuer(ethotp.TokenIssuer),
		jwt.WithValidMethods([]string{v.signingMethod().Alg()}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return sub, nil
}

func (v *Verifier) signingMethod() jwt.SigningMethod {
	if len(v.hs512Secret) != 0 {
		return jwt.SigningMethodHS512
	}

	return jwt.SigningMethodEdDSA
}

func (v *Verifier) signJWT(claims jwt.MapClaims) (string, error) {
	now := v.now()
	claims["iat"] = now.Unix()
	claims["nbf"] = now.Add(-1 * time.Minute).Unix()
	claims["exp"] = now.Add(v.opts.TokenExpiration).Unix()

	if len(v.hs512Secret) == 0 {
		return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(v.ed25519Priv)
	} else {
		return jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(v.hs512Secret)
	}
}
