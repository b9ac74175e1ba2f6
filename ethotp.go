// Package ethotp contains the version number and protocol constants shared by
// the challenge verifier, its store backends, and the command line tool.
package ethotp

import "time"

// Version is the current version of ethotp.
//
// This variable is set at build time using the -X linker flag. If not set,
// it defaults to "devel".
var Version = "devel"

// ChallengeSize is the number of random bytes in a challenge. Challenges are
// handed out hex-encoded, so the string form is twice as long.
const ChallengeSize = 32

// DefaultExpiry is how long an issued challenge stays valid when no expiry is
// configured.
const DefaultExpiry = 30 * time.Second

// DefaultScheme is the signature scheme used to recover addresses when none
// is configured. It matches eth-crypto's recover(signature, keccak256(message)).
const DefaultScheme = "ethereum"

// StorePrefix is prepended to every challenge value when it is written to the
// backing store, so a shared valkey instance can hold other data as well.
const StorePrefix = "ethotp:challenge:"

// TokenDefaultExpirationTime is how long attestation tokens minted after a
// successful validation are valid for.
const TokenDefaultExpirationTime = 7 * 24 * time.Hour

// TokenIssuer is the "iss" claim of attestation tokens.
const TokenIssuer = "ethotp"
