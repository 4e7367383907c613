package strategy

import (
	"sort"
	"sync"

	"github.com/afganisis/AI-MONITORING-AGENT/pkg/logging"
	"github.com/afganisis/AI-MONITORING-AGENT/pkg/store"
)

// Registry maps violation keys to the strategies that fix them.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	logger     *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		logger:     logging.ComponentLogger("strategy-registry"),
	}
}

// Register adds a strategy, overwriting any previous one for the same key.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[s.Key()]; exists {
		r.logger.Warnf("Strategy for %q already registered, overwriting", s.Key())
	}
	r.strategies[s.Key()] = s
	r.logger.Debugf("Registered strategy: %s (%s)", s.Name(), s.Key())
}

// Get returns the strategy for key, or nil when none is registered.
func (r *Registry) Get(key string) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategies[key]
}

// Match returns the strategy for the violation: the keyed strategy when
// one is registered, otherwise the first catch-all (by sorted key) whose
// CanHandle accepts it. Returns nil when nothing applies.
func (r *Registry) Match(v *store.Violation) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.strategies[v.Key]; ok {
		return s
	}

	keys := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if r.strategies[k].CanHandle(v) {
			return r.strategies[k]
		}
	}
	return nil
}

// Has reports whether a strategy is registered for key.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.strategies[key]
	return ok
}

// Keys returns the registered violation keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RegisterDefaults registers all built-in strategies: the toolkit repairs
// for the five toolkit-fixable keys plus the duplicate-event cleanups.
func (r *Registry) RegisterDefaults() {
	for _, s := range NewToolkitStrategies() {
		r.Register(s)
	}
	r.Register(NewDuplicateLoginStrategy())
	r.Register(NewDuplicateLogoutStrategy())
}
