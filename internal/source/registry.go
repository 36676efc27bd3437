package source

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an adapter. It returns an error wrapping ErrConfiguration
// when the adapter cannot exist on this platform or build.
type Factory func() (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Factory{}
)

// Register makes an adapter factory available under kind.
// It is called from adapter package init functions.
func Register(kind Kind, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = f
}

// Registered returns the kinds with a registered factory, sorted.
func Registered() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Build instantiates adapters in priority order. Kinds that are not
// registered or whose factory fails are reported in skipped; they are not
// fatal, the engine simply falls back to synthetic data for them.
func Build(priority []Kind) (adapters []Adapter, skipped map[Kind]error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	skipped = map[Kind]error{}
	for _, kind := range priority {
		if kind == KindSynthetic {
			continue
		}
		f, ok := registry[kind]
		if !ok {
			skipped[kind] = fmt.Errorf("%w: %s adapter not compiled in", ErrConfiguration, kind)
			continue
		}
		a, err := f()
		if err != nil {
			skipped[kind] = err
			continue
		}
		adapters = append(adapters, a)
	}
	return adapters, skipped
}
