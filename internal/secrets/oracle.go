// Package secrets implements the Secret Oracle client (spec.md §6): a
// synchronous get_secret(name) -> bytes lookup. The secret storage backend
// itself is explicitly out of scope (spec.md §1); this package only defines
// the oracle interface the Playbook Runner and platform adapters consume,
// plus a provider split grounded on the teacher's infrastructure/secrets
// Manager/Provider pattern (a Manager resolving raw values, a Provider
// enforcing who may ask for what).
package secrets

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/r3e-network/cyberrange/internal/errs"
)

// ErrNotFound is returned when no provider has a value for the requested
// name.
var ErrNotFound = errors.New("secret not found")

// Oracle is the synchronous get_secret(name) -> bytes contract every
// consumer in the core depends on. The core never stores raw credentials;
// it only ever holds the []byte just long enough to hand it to an adapter
// or the Playbook Runner.
type Oracle interface {
	GetSecret(ctx context.Context, name string) ([]byte, error)
}

// EnvProvider resolves secrets from environment variables under a
// configurable prefix, the provider used in tests and single-process dev
// runs where no external secret store is configured.
type EnvProvider struct {
	Prefix string
}

// GetSecret looks up strings.ToUpper(Prefix + name) in the environment,
// with '-', '.' and '/' in name replaced by '_'.
func (p EnvProvider) GetSecret(ctx context.Context, name string) ([]byte, error) {
	key := strings.ToUpper(p.Prefix + sanitize(name))
	val, ok := os.LookupEnv(key)
	if !ok {
		return nil, errs.Wrap(errs.ResourceMissing, "secret not found: "+name, ErrNotFound).WithResource(name)
	}
	return []byte(val), nil
}

func sanitize(name string) string {
	return strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(name)
}

// CachingOracle wraps an Oracle with a process-local cache, so a mission
// applying the same exploit's credential lookup across several steps does
// not re-hit the backing provider every time. Entries never expire within a
// process lifetime — the oracle's backing secrets are assumed rotated by
// restarting the control plane, not by cache eviction.
type CachingOracle struct {
	backing Oracle

	mu    sync.RWMutex
	cache map[string][]byte
}

// NewCachingOracle wraps backing with an in-memory cache.
func NewCachingOracle(backing Oracle) *CachingOracle {
	return &CachingOracle{backing: backing, cache: make(map[string][]byte)}
}

// GetSecret returns the cached value for name if present, otherwise
// resolves it from the backing oracle and caches the result.
func (c *CachingOracle) GetSecret(ctx context.Context, name string) ([]byte, error) {
	c.mu.RLock()
	if v, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	v, err := c.backing.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[name] = v
	c.mu.Unlock()
	return v, nil
}
