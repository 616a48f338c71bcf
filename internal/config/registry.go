package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/facesync/pkg/assets"
	"github.com/MrWong99/facesync/pkg/frames"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: factory not registered")

// SelectorFactory builds a frame selector for one avatar from its parsed
// frame set.
type SelectorFactory func(av AvatarConfig, set frames.Set) (frames.Selector, error)

// StoreFactory builds the asset store shared by all avatars.
type StoreFactory func(cfg AssetsConfig) (assets.Store, error)

// Registry maps selector policy names and asset store kinds to their
// constructor functions. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	selectors map[string]SelectorFactory
	stores    map[string]StoreFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		selectors: make(map[string]SelectorFactory),
		stores:    make(map[string]StoreFactory),
	}
}

// RegisterSelector registers a selector factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSelector(name string, factory SelectorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selectors[name] = factory
}

// RegisterStore registers an asset store factory under kind.
func (r *Registry) RegisterStore(kind string, factory StoreFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[kind] = factory
}

// CreateSelector instantiates the selector named by av's policy.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSelector(av AvatarConfig) (frames.Selector, error) {
	name := string(av.Policy())
	r.mu.RLock()
	factory, ok := r.selectors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: selector/%q", ErrNotRegistered, name)
	}
	set, err := av.FrameSet()
	if err != nil {
		return nil, fmt.Errorf("config: avatar %q: %w", av.Name, err)
	}
	return factory(av, set)
}

// CreateStore instantiates the asset store for cfg's effective kind.
func (r *Registry) CreateStore(cfg AssetsConfig) (assets.Store, error) {
	kind := cfg.StoreKind()
	r.mu.RLock()
	factory, ok := r.stores[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: store/%q", ErrNotRegistered, kind)
	}
	return factory(cfg)
}

// Selectors returns the registered selector names, sorted.
func (r *Registry) Selectors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.selectors))
	for n := range r.selectors {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// RegisterBuiltinSelectors registers the cyclic and stochastic policies from
// package frames.
func (r *Registry) RegisterBuiltinSelectors() {
	for _, p := range []frames.Policy{frames.PolicyCyclic, frames.PolicyStochastic} {
		r.RegisterSelector(string(p), func(av AvatarConfig, set frames.Set) (frames.Selector, error) {
			return frames.New(p, set, av.SelectorOptions()...)
		})
	}
}
