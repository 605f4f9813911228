package geocode

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// Factory builds a provider from configuration. Factories do not check
// credentials; a missing key surfaces as a CredentialError on Geocode.
type Factory func(cfg Config, opts ...Option) (Provider, error)

// registry maps provider names to factories.
type registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string // insertion order
}

var providers = &registry{factories: make(map[string]Factory)}

// Register adds a provider factory. Registering a name twice keeps the first.
func Register(name string, f Factory) {
	providers.mu.Lock()
	defer providers.mu.Unlock()
	if _, ok := providers.factories[name]; ok {
		return
	}
	providers.factories[name] = f
	providers.order = append(providers.order, name)
}

// Names returns the registered provider names, sorted.
func Names() []string {
	providers.mu.RLock()
	defer providers.mu.RUnlock()
	names := make([]string, len(providers.order))
	copy(names, providers.order)
	sort.Strings(names)
	return names
}

// New constructs the named provider.
func New(name string, cfg Config, opts ...Option) (Provider, error) {
	providers.mu.RLock()
	f, ok := providers.factories[name]
	providers.mu.RUnlock()
	if !ok {
		return nil, &UnknownProviderError{Name: name, Available: Names()}
	}
	p, err := f(cfg, opts...)
	if err != nil {
		return nil, eris.Wrapf(err, "geocode: build provider %s", name)
	}
	return p, nil
}

// Info describes a provider for listings.
type Info struct {
	Name               string `json:"name" yaml:"name"`
	Mode               string `json:"mode" yaml:"mode"`
	RequiresCredential bool   `json:"requires_credential" yaml:"requires_credential"`
	MaxBatchSize       int    `json:"max_batch_size" yaml:"max_batch_size"`
}

// Describe lists every registered provider, sorted by name.
func Describe(cfg Config) ([]Info, error) {
	names := Names()
	out := make([]Info, 0, len(names))
	for _, name := range names {
		p, err := New(name, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, Info{
			Name:               p.Name(),
			Mode:               p.Mode().String(),
			RequiresCredential: p.RequiresCredential(),
			MaxBatchSize:       p.MaxBatchSize(),
		})
	}
	return out, nil
}
