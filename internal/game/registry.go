package game

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages game registration and lookup by game identifier.
// It is the Go counterpart of a module manifest: a mapping from game id
// to a capability-described constructor.
type Registry struct {
	games map[string]entry
	mu    sync.RWMutex
}

type entry struct {
	desc    Descriptor
	factory Factory
}

// NewRegistry creates a new game registry.
func NewRegistry() *Registry {
	return &Registry{
		games: make(map[string]entry),
	}
}

// Register adds a game to the registry. A game with the same id is
// replaced.
func (r *Registry) Register(desc Descriptor, factory Factory) error {
	if desc.ID == "" {
		return fmt.Errorf("game id cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("cannot register nil factory for game %q", desc.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[desc.ID] = entry{desc: desc, factory: factory}
	return nil
}

// Describe retrieves a game's descriptor by id.
func (r *Registry) Describe(gameID string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.games[gameID]
	return e.desc, ok
}

// New constructs an engine for the given game id. Unknown ids are an
// error, not a panic. The config's Settings are merged over the game's
// defaults.
func (r *Registry) New(gameID string, cfg Config) (Engine, error) {
	r.mu.RLock()
	e, ok := r.games[gameID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown game key: %s", gameID)
	}

	merged := make(Settings, len(e.desc.DefaultSettings)+len(cfg.Settings))
	for k, v := range e.desc.DefaultSettings {
		merged[k] = v
	}
	for k, v := range cfg.Settings {
		merged[k] = v
	}
	cfg.Settings = merged

	return e.factory(cfg)
}

// IDs returns all registered game identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.games))
	for id := range r.games {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Descriptors returns all registered descriptors, ordered by id.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]Descriptor, 0, len(r.games))
	for _, e := range r.games {
		descs = append(descs, e.desc)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })
	return descs
}

// Count returns the number of registered games.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.games)
}
