package lib

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/TecharoHQ/ethotp"
	"github.com/TecharoHQ/ethotp/data"
	"github.com/TecharoHQ/ethotp/lib/challenge"
	"github.com/TecharoHQ/ethotp/lib/config"
	"github.com/TecharoHQ/ethotp/lib/store"
	"github.com/TecharoHQ/ethotp/lib/store/memory"

	// signature schemes
	_ "github.com/TecharoHQ/ethotp/lib/challenge/ethereum"
)

type Options struct {
	// Store holds pending challenges. Defaults to an in-memory store.
	Store store.Interface

	// Expiry is how long an issued challenge may be answered. Defaults to
	// ethotp.DefaultExpiry.
	Expiry time.Duration

	// Scheme names the registered signature scheme. Defaults to
	// ethotp.DefaultScheme.
	Scheme string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// ED25519PrivateKey signs attestation tokens. A random key is generated
	// when neither it nor HS512Secret is set.
	ED25519PrivateKey ed25519.PrivateKey
	HS512Secret       []byte

	// TokenExpiration defaults to ethotp.TokenDefaultExpirationTime.
	TokenExpiration time.Duration
}

// LoadConfigOrDefault reads the configuration file at fname, or the embedded
// default configuration when fname is empty.
func LoadConfigOrDefault(fname string) (*config.Config, error) {
	var fin io.ReadCloser
	var err error

	if fname != "" {
		fin, err = os.Open(fname)
		if err != nil {
			return nil, fmt.Errorf("can't parse config file %s: %w", fname, err)
		}
	} else {
		fname = "(data)/ethotp.yaml"
		fin, err = data.Config.Open("ethotp.yaml")
		if err != nil {
			return nil, fmt.Errorf("[unexpected] can't parse builtin config file %s: %w", fname, err)
		}
	}

	defer func(fin io.ReadCloser) {
		err := fin.Close()
		if err != nil {
			slog.Error("failed to close config file", "file", fname, "err", err)
		}
	}(fin)

	return config.Load(fin, fname)
}

// New creates a Verifier. ctx bounds the lifetime of any background work the
// default store starts.
func New(ctx context.Context, opts Options) (*Verifier, error) {
	if opts.Scheme == "" {
		opts.Scheme = ethotp.DefaultScheme
	}

	recoverer, ok := challenge.Get(opts.Scheme)
	if !ok {
		return nil, fmt.Errorf("lib: %w %q, known schemes: %v", challenge.ErrUnknownScheme, opts.Scheme, challenge.Methods())
	}

	if opts.Expiry < 0 {
		return nil, fmt.Errorf("lib: expiry must not be negative, got %s", opts.Expiry)
	}

	if opts.Expiry == 0 {
		opts.Expiry = ethotp.DefaultExpiry
	}

	if opts.TokenExpiration == 0 {
		opts.TokenExpiration = ethotp.TokenDefaultExpirationTime
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Store == nil {
		opts.Logger.Debug("opts.Store not set, using an in-memory store")
		opts.Store = memory.New(ctx)
	}

	if opts.ED25519PrivateKey == nil && len(opts.HS512Secret) == 0 {
		opts.Logger.Debug("opts.ED25519PrivateKey not set, generating a new one")
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("lib: can't generate private key: %v", err)
		}
		opts.ED25519PrivateKey = priv
	}

	result := &Verifier{
		challenges: &store.JSON[challenge.Challenge]{
			Underlying: opts.Store,
			Prefix:     ethotp.StorePrefix,
		},
		recoverer:   recoverer,
		lg:          opts.Logger.With("scheme", opts.Scheme),
		hs512Secret: opts.HS512Secret,
		opts:        opts,
		now:         time.Now,
	}

	if opts.ED25519PrivateKey != nil {
		result.ed25519Priv = opts.ED25519PrivateKey
		result.ed25519Pub = opts.ED25519PrivateKey.Public().(ed25519.PublicKey)
	}

	return result, nil
}

// NewFromConfig builds the configured store backend and creates a Verifier
// from it. Expiry, Scheme and Store in opts are overridden by cfg.
func NewFromConfig(ctx context.Context, cfg *config.Config, opts Options) (*Verifier, error) {
	if err := cfg.Valid(); err != nil {
		return nil, err
	}

	fac, ok := store.Get(cfg.Store.Backend)
	if !ok {
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownStoreBackend, cfg.Store.Backend)
	}

	st, err := fac.Build(ctx, cfg.Store.Parameters)
	if err != nil {
		return nil, fmt.Errorf("can't build %s store: %w", cfg.Store.Backend, err)
	}

	opts.Store = st
	opts.Expiry = cfg.Expiry()
	opts.Scheme = cfg.Scheme

	return New(ctx, opts)
}
