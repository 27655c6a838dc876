package engine

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registration describes an engine adapter.
type Registration struct {
	// Name is the engine name runtime manifests refer to.
	Name string

	// APIVersions lists the runtime API versions the adapter can run.
	APIVersions []int

	// New creates a Container.
	New Factory
}

// Supports reports whether the adapter can run archives built for api.
// An api of zero means the archives made no claim and is always accepted.
func (r Registration) Supports(api int) bool {
	if api == 0 {
		return true
	}
	for _, v := range r.APIVersions {
		if v == api {
			return true
		}
	}
	return false
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

// Register makes an engine available by name. It panics if the name is
// empty, New is nil, or the name is already registered: all three are
// programming errors caught at init time.
func Register(r Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if r.Name == "" {
		panic("engine: Register with empty name")
	}
	if r.New == nil {
		panic("engine: Register " + r.Name + " with nil factory")
	}
	if _, dup := registry[r.Name]; dup {
		panic("engine: Register called twice for " + r.Name)
	}
	registry[r.Name] = r
}

// ErrNotRegistered is returned by Lookup when no engine has the name.
var ErrNotRegistered = errors.New("engine not registered")

// ErrUnsupportedAPI is returned by Lookup when the engine exists but cannot
// run archives built for the requested api version.
var ErrUnsupportedAPI = errors.New("unsupported runtime api version")

// Lookup returns the registration for name, checking that it supports api.
func Lookup(name string, api int) (Registration, error) {
	registryMu.RLock()
	r, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return Registration{}, errors.Wrapf(ErrNotRegistered, "engine %q (registered: %v)", name, Names())
	}
	if !r.Supports(api) {
		return Registration{}, errors.Wrapf(ErrUnsupportedAPI, "engine %q supports api %v, runtime requires %d",
			name, r.APIVersions, api)
	}
	return r, nil
}

// Names returns the registered engine names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// unregister removes an engine. Tests use it to clean up fakes.
func unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}
