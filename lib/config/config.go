package config

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/TecharoHQ/ethotp"
	"github.com/TecharoHQ/ethotp/lib/challenge"
	_ "github.com/TecharoHQ/ethotp/lib/challenge/ethereum"
	"k8s.io/apimachinery/pkg/util/yaml"
)

var (
	ErrBadExpiry     = errors.New("config: expirySeconds must be greater than zero")
	ErrUnknownScheme = errors.New("config: unknown signature scheme")
	ErrNoStore       = errors.New("config: store must be defined")
)

// Config is the on-disk verifier configuration. It may be written as YAML or
// JSON.
type Config struct {
	// ExpirySeconds is how long an issued challenge stays valid. Zero means
	// the default of 30 seconds.
	ExpirySeconds int `json:"expirySeconds,omitempty"`

	// Scheme names the registered signature scheme used to recover addresses.
	Scheme string `json:"scheme,omitempty"`

	// Store selects and configures the backend pending challenges live in.
	Store *Store `json:"store,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ExpirySeconds: int(ethotp.DefaultExpiry / time.Second),
		Scheme:        ethotp.DefaultScheme,
		Store: &Store{
			Backend: "memory",
		},
	}
}

// Expiry returns ExpirySeconds as a duration.
func (c *Config) Expiry() time.Duration {
	return time.Duration(c.ExpirySeconds) * time.Second
}

func (c *Config) Valid() error {
	var errs []error

	if c.ExpirySeconds <= 0 {
		errs = append(errs, fmt.Errorf("%w, got %d", ErrBadExpiry, c.ExpirySeconds))
	}

	if _, ok := challenge.Get(c.Scheme); !ok {
		errs = append(errs, fmt.Errorf("%w %q, known schemes: %v", ErrUnknownScheme, c.Scheme, challenge.Methods()))
	}

	if c.Store == nil {
		errs = append(errs, ErrNoStore)
	} else if err := c.Store.Valid(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) != 0 {
		return fmt.Errorf("config is not valid:\n%w", errors.Join(errs...))
	}

	return nil
}

// Load parses a configuration document from fin, fills in defaults for
// omitted fields, and validates the result. fname is only used in error
// messages.
func Load(fin io.Reader, fname string) (*Config, error) {
	var c Config

	if err := yaml.NewYAMLOrJSONDecoder(fin, 4096).Decode(&c); err != nil {
		return nil, fmt.Errorf("can't parse config file %s: %w", fname, err)
	}

	def := Default()

	if c.ExpirySeconds == 0 {
		c.ExpirySeconds = def.ExpirySeconds
	}

	if c.Scheme == "" {
		c.Scheme = def.Scheme
	}

	if c.Store == nil {
		c.Store = def.Store
	}

	if err := c.Valid(); err != nil {
		return nil, fmt.Errorf("can't validate config file %s: %w", fname, err)
	}

	return &c, nil
}
