package lib

import (
	"context"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/TecharoHQ/ethotp"
	"github.com/TecharoHQ/ethotp/internal"
	"github.com/TecharoHQ/ethotp/lib/challenge"
	"github.com/TecharoHQ/ethotp/lib/challenge/challengetest"
	"github.com/TecharoHQ/ethotp/lib/challenge/ethereum"
	"github.com/TecharoHQ/ethotp/lib/config"
	"github.com/TecharoHQ/ethotp/lib/store"
)

func init() {
	internal.InitSlog("debug")
}

func spawnVerifier(t *testing.T, opts Options) *Verifier {
	t.Helper()

	v, err := New(t.Context(), opts)
	if err != nil {
		t.Fatalf("can't construct lib.Verifier: %v", err)
	}

	return v
}

func issue(t *testing.T, v *Verifier) string {
	t.Helper()

	chall, err := v.IssueChallenge(t.Context())
	if err != nil {
		t.Fatalf("can't issue challenge: %v", err)
	}

	return chall
}

func signed(t *testing.T, key *challengetest.Key, message string) *challenge.Payload {
	t.Helper()
	return challengetest.Payload(t, key, message, (&ethereum.Impl{}).Sign)
}

func wantErr(t *testing.T, got, want error) {
	t.Helper()

	if !errors.Is(got, want) {
		t.Logf("want: %v", want)
		t.Logf("got:  %v", got)
		t.Error("wrong error")
	}
}

func TestIssue(t *testing.T) {
	v := spawnVerifier(t, Options{Expiry: time.Minute})

	seen := map[string]bool{}
	for range 100 {
		chall, err := v.Issue(t.Context())
		if err != nil {
			t.Fatal(err)
		}

		if len(chall.Value) != 2*ethotp.ChallengeSize {
			t.Fatalf("wanted a %d character challenge, got %q", 2*ethotp.ChallengeSize, chall.Value)
		}

		if _, err := hex.DecodeString(chall.Value); err != nil {
			t.Fatalf("challenge is not hex: %v", err)
		}

		if seen[chall.Value] {
			t.Fatalf("challenge %s was issued twice", chall.Value)
		}
		seen[chall.Value] = true

		if got := chall.ExpiresAt.Sub(chall.IssuedAt); got != time.Minute {
			t.Errorf("wanted challenge to expire a minute after issue, got %s", got)
		}

		stored, err := v.challenges.Get(t.Context(), chall.Value)
		if err != nil {
			t.Fatalf("issued challenge is not pending: %v", err)
		}

		if stored.ID != chall.ID {
			t.Errorf("stored challenge has id %s, wanted %s", stored.ID, chall.ID)
		}
	}
}

func TestDefaults(t *testing.T) {
	v := spawnVerifier(t, Options{})

	if v.opts.Expiry != ethotp.DefaultExpiry {
		t.Errorf("wanted default expiry %s, got %s", ethotp.DefaultExpiry, v.opts.Expiry)
	}

	if v.opts.Scheme != ethotp.DefaultScheme {
		t.Errorf("wanted default scheme %q, got %q", ethotp.DefaultScheme, v.opts.Scheme)
	}

	if v.ed25519Priv == nil {
		t.Error("no token signing key was generated")
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(t.Context(), Options{Scheme: "rot13"}); !errors.Is(err, challenge.ErrUnknownScheme) {
		t.Errorf("wanted ErrUnknownScheme, got: %v", err)
	}

	if _, err := New(t.Context(), Options{Expiry: -time.Second}); err == nil {
		t.Error("negative expiry was accepted")
	}
}

func TestSingleUse(t *testing.T) {
	v := spawnVerifier(t, Options{})
	key := challengetest.NewKey(t)

	p := signed(t, key, issue(t, v))

	if !v.Validate(t.Context(), p) {
		t.Fatal("valid response was rejected")
	}

	if v.Validate(t.Context(), p) {
		t.Fatal("replayed response was accepted")
	}

	wantErr(t, v.validate(t.Context(), p), challenge.ErrUnknownChallenge)
}

func TestUnknownChallenge(t *testing.T) {
	v := spawnVerifier(t, Options{})
	key := challengetest.NewKey(t)

	p := signed(t, key, strings.Repeat("ab", ethotp.ChallengeSize))

	if v.Validate(t.Context(), p) {
		t.Fatal("response to a challenge that was never issued was accepted")
	}

	wantErr(t, v.validate(t.Context(), p), challenge.ErrUnknownChallenge)
}

func TestTamper(t *testing.T) {
	v := spawnVerifier(t, Options{})
	key := challengetest.NewKey(t)

	chall := issue(t, v)
	good := signed(t, key, chall)

	midSig := []byte(good.Signature)
	if midSig[10] == '0' {
		midSig[10] = '1'
	} else {
		midSig[10] = '0'
	}

	for _, tt := range []struct {
		name string
		p    challenge.Payload
	}{
		{
			name: "message",
			p:    challenge.Payload{Message: challengetest.Mutate(good.Message), Signature: good.Signature, Address: good.Address},
		},
		{
			name: "signature-recovery-id",
			p:    challenge.Payload{Message: good.Message, Signature: challengetest.Mutate(good.Signature), Address: good.Address},
		},
		{
			name: "signature-r",
			p:    challenge.Payload{Message: good.Message, Signature: string(midSig), Address: good.Address},
		},
		{
			name: "address",
			p:    challenge.Payload{Message: good.Message, Signature: good.Signature, Address: challengetest.Mutate(good.Address)},
		},
		{
			name: "address-case",
			p:    challenge.Payload{Message: good.Message, Signature: good.Signature, Address: strings.ToLower(good.Address)},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if tt.p == *good {
				t.Fatal("mutation did not change the payload")
			}

			if v.Validate(t.Context(), &tt.p) {
				t.Fatal("tampered response was accepted")
			}
		})
	}

	if !v.Validate(t.Context(), good) {
		t.Fatal("challenge was consumed by a tampered response")
	}
}

func TestMalformed(t *testing.T) {
	v := spawnVerifier(t, Options{})
	key := challengetest.NewKey(t)

	chall := issue(t, v)
	good := signed(t, key, chall)

	for _, tt := range []struct {
		name string
		p    *challenge.Payload
		err  error
	}{
		{
			name: "nil",
			p:    nil,
			err:  challenge.ErrMissingField,
		},
		{
			name: "empty",
			p:    &challenge.Payload{},
			err:  challenge.ErrMissingField,
		},
		{
			name: "no-message",
			p:    &challenge.Payload{Signature: good.Signature, Address: good.Address},
			err:  challenge.ErrMissingField,
		},
		{
			name: "no-signature",
			p:    &challenge.Payload{Message: good.Message, Address: good.Address},
			err:  challenge.ErrMissingField,
		},
		{
			name: "no-address",
			p:    &challenge.Payload{Message: good.Message, Signature: good.Signature},
			err:  challenge.ErrMissingField,
		},
		{
			name: "message-too-long",
			p:    &challenge.Payload{Message: strings.Repeat("a", challenge.MaxMessageLength+1), Signature: good.Signature, Address: good.Address},
			err:  challenge.ErrInvalidFormat,
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(failedValidations.WithLabelValues(ethotp.DefaultScheme, "malformed"))

			if v.Validate(t.Context(), tt.p) {
				t.Fatal("malformed response was accepted")
			}

			if after := testutil.ToFloat64(failedValidations.WithLabelValues(ethotp.DefaultScheme, "malformed")); after != before+1 {
				t.Errorf("malformed counter went from %v to %v", before, after)
			}

			err := v.validate(t.Context(), tt.p)
			wantErr(t, err, challenge.ErrMalformedPayload)
			wantErr(t, err, tt.err)
		})
	}

	if !v.Validate(t.Context(), good) {
		t.Fatal("challenge was consumed by a malformed response")
	}
}

func TestNonInterference(t *testing.T) {
	v := spawnVerifier(t, Options{})
	key := challengetest.NewKey(t)

	a := signed(t, key, issue(t, v))
	b := signed(t, key, issue(t, v))

	if !v.Validate(t.Context(), a) {
		t.Fatal("response to challenge A was rejected")
	}

	if _, err := v.challenges.Get(t.Context(), b.Message); err != nil {
		t.Fatalf("validating A affected B: %v", err)
	}

	if !v.Validate(t.Context(), b) {
		t.Fatal("response to challenge B was rejected")
	}
}

func TestSignatureForOtherChallenge(t *testing.T) {
	v := spawnVerifier(t, Options{})
	key := challengetest.NewKey(t)

	c1 := signed(t, key, issue(t, v))
	c2 := issue(t, v)

	wrong := &challenge.Payload{Message: c2, Signature: c1.Signature, Address: key.Address}
	if v.Validate(t.Context(), wrong) {
		t.Fatal("signature over c1 was accepted for c2")
	}

	wantErr(t, v.validate(t.Context(), wrong), challenge.ErrSignatureMismatch)

	if !v.Validate(t.Context(), signed(t, key, c2)) {
		t.Fatal("c2 was consumed by the failed attempt")
	}

	if !v.Validate(t.Context(), c1) {
		t.Fatal("c1 was consumed by the failed attempt")
	}
}

func TestOtherKeysSignature(t *testing.T) {
	v := spawnVerifier(t, Options{})
	alice := challengetest.NewKey(t)
	mallory := challengetest.NewKey(t)

	chall := issue(t, v)
	forged := signed(t, mallory, chall)
	forged.Address = alice.Address

	if v.Validate(t.Context(), forged) {
		t.Fatal("mallory's signature was accepted for alice's address")
	}

	if !v.Validate(t.Context(), signed(t, alice, chall)) {
		t.Fatal("alice's response was rejected")
	}
}

func TestExpired(t *testing.T) {
	v := spawnVerifier(t, Options{Expiry: time.Minute})
	key := challengetest.NewKey(t)

	p := signed(t, key, issue(t, v))

	v.now = func() time.Time { return time.Now().Add(time.Hour) }

	if v.Validate(t.Context(), p) {
		t.Fatal("expired challenge was accepted")
	}

	v.now = time.Now

	if _, err := v.challenges.Get(t.Context(), p.Message); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired challenge was not purged: %v", err)
	}

	wantErr(t, v.validate(t.Context(), p), challenge.ErrUnknownChallenge)
}

func TestExpiredReason(t *testing.T) {
	v := spawnVerifier(t, Options{Expiry: time.Minute})
	key := challengetest.NewKey(t)

	p := signed(t, key, issue(t, v))
	v.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	wantErr(t, v.validate(t.Context(), p), challenge.ErrExpired)
}

func TestStoreExpiry(t *testing.T) {
	v := spawnVerifier(t, Options{Expiry: 150 * time.Millisecond})
	key := challengetest.NewKey(t)

	p := signed(t, key, issue(t, v))

	time.Sleep(155 * time.Millisecond)

	if v.Validate(t.Context(), p) {
		t.Fatal("challenge was accepted after the store expired it")
	}
}

func TestConcurrentValidate(t *testing.T) {
	v := spawnVerifier(t, Options{})
	key := challengetest.NewKey(t)

	p := signed(t, key, issue(t, v))

	var wins atomic.Int32
	var wg sync.WaitGroup

	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.Validate(context.Background(), p) {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()

	if n := wins.Load(); n != 1 {
		t.Fatalf("wanted exactly one accepted response, got %d", n)
	}
}

func TestValidateFields(t *testing.T) {
	v := spawnVerifier(t, Options{})
	key := challengetest.NewKey(t)

	p := signed(t, key, issue(t, v))

	if !v.ValidateFields(t.Context(), p.Message, p.Signature, p.Address) {
		t.Fatal("valid response was rejected")
	}

	if v.ValidateFields(t.Context(), p.Message, p.Signature, p.Address) {
		t.Fatal("replayed response was accepted")
	}

	if v.ValidateFields(t.Context(), "", "", "") {
		t.Fatal("empty response was accepted")
	}
}

func TestPersonalScheme(t *testing.T) {
	v := spawnVerifier(t, Options{Scheme: "ethereum-personal"})
	key := challengetest.NewKey(t)

	chall := issue(t, v)

	if v.Validate(t.Context(), signed(t, key, chall)) {
		t.Fatal("raw keccak signature was accepted by the personal scheme")
	}

	p := challengetest.Payload(t, key, chall, (&ethereum.Impl{Personal: true}).Sign)
	if !v.Validate(t.Context(), p) {
		t.Fatal("personal_sign response was rejected")
	}
}

func TestMetrics(t *testing.T) {
	v := spawnVerifier(t, Options{})
	key := challengetest.NewKey(t)

	issued := testutil.ToFloat64(challengesIssued.WithLabelValues(ethotp.DefaultScheme))
	validated := testutil.ToFloat64(challengesValidated.WithLabelValues(ethotp.DefaultScheme))
	unknown := testutil.ToFloat64(failedValidations.WithLabelValues(ethotp.DefaultScheme, "unknown"))

	p := signed(t, key, issue(t, v))
	v.Validate(t.Context(), p)
	v.Validate(t.Context(), p)

	if got := testutil.ToFloat64(challengesIssued.WithLabelValues(ethotp.DefaultScheme)); got != issued+1 {
		t.Errorf("issued counter: wanted %v, got %v", issued+1, got)
	}

	if got := testutil.ToFloat64(challengesValidated.WithLabelValues(ethotp.DefaultScheme)); got != validated+1 {
		t.Errorf("validated counter: wanted %v, got %v", validated+1, got)
	}

	if got := testutil.ToFloat64(failedValidations.WithLabelValues(ethotp.DefaultScheme, "unknown")); got != unknown+1 {
		t.Errorf("unknown counter: wanted %v, got %v", unknown+1, got)
	}
}

type brokenStore struct{}

var errBroken = errors.New("store is on fire")

func (brokenStore) Delete(context.Context, string) error { return errBroken }

func (brokenStore) Get(context.Context, string) ([]byte, error) { return nil, errBroken }

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error { return errBroken }

func TestStoreFailure(t *testing.T) {
	v := spawnVerifier(t, Options{Store: brokenStore{}})
	key := challengetest.NewKey(t)

	if _, err := v.IssueChallenge(t.Context()); !errors.Is(err, errBroken) {
		t.Errorf("wanted store error from IssueChallenge, got: %v", err)
	}

	p := signed(t, key, strings.Repeat("cd", ethotp.ChallengeSize))
	if v.Validate(t.Context(), p) {
		t.Fatal("response was accepted with a broken store")
	}

	err := v.validate(t.Context(), p)
	wantErr(t, err, errBroken)

	if reason := challenge.Reason(err); reason != "store" {
		t.Errorf("wanted reason store, got %q", reason)
	}
}

func TestLoadConfigOrDefault(t *testing.T) {
	cfg, err := LoadConfigOrDefault("")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Expiry() != ethotp.DefaultExpiry {
		t.Errorf("embedded config has expiry %s, wanted %s", cfg.Expiry(), ethotp.DefaultExpiry)
	}

	if _, err := LoadConfigOrDefault(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing config file was loaded")
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ExpirySeconds = 45
	cfg.Scheme = "ethereum-personal"
	cfg.Store = &config.Store{
		Backend:    "bbolt",
		Parameters: []byte(`{"path": "` + filepath.ToSlash(filepath.Join(t.TempDir(), "db")) + `"}`),
	}

	v, err := NewFromConfig(t.Context(), cfg, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if v.opts.Expiry != 45*time.Second {
		t.Errorf("wanted expiry 45s, got %s", v.opts.Expiry)
	}

	key := challengetest.NewKey(t)
	p := challengetest.Payload(t, key, issue(t, v), (&ethereum.Impl{Personal: true}).Sign)

	if !v.Validate(t.Context(), p) {
		t.Fatal("valid response was rejected by a bbolt-backed verifier")
	}

	if v.Validate(t.Context(), p) {
		t.Fatal("replayed response was accepted by a bbolt-backed verifier")
	}

	cfg.ExpirySeconds = -1
	if _, err := NewFromConfig(t.Context(), cfg, Options{}); !errors.Is(err, config.ErrBadExpiry) {
		t.Errorf("wanted ErrBadExpiry, got: %v", err)
	}
}
