package challenge

import (
	"sort"
	"sync"
)

var (
	registry map[string]Recoverer = map[string]Recoverer{}
	regLock  sync.RWMutex
)

func Register(name string, impl Recoverer) {
	regLock.Lock()
	defer regLock.Unlock()

	registry[name] = impl
}

func Get(name string) (Recoverer, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	result, ok := registry[name]
	return result, ok
}

func Methods() []string {
	regLock.RLock()
	defer regLock.RUnlock()
	var result []string
	for method := range registry {
		result = append(result, method)
	}
	sort.Strings(result)
	return result
}

// Recoverer is a signature scheme that can derive the signer's address from a
// message and a signature over it, without knowing the public key in advance.
// Implementations must be pure functions of their inputs and safe for
// concurrent use.
type Recoverer interface {
	// Recover hashes message the way the scheme prescribes and returns the
	// address of the key that produced signature over that hash. Errors wrap
	// ErrInvalidFormat when signature cannot be decoded.
	Recover(message, signature string) (string, error)
}
