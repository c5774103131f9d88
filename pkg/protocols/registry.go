package protocols

import (
	"sort"
	"strings"
	"sync"

	"github.com/stablezap/stablezap/pkg/txerr"
)

// Registry maps protocol names to handlers
type Registry struct {
	mu       sync.RWMutex
	deps     Dependencies
	handlers map[string]*Handler
	names    map[string]string // alias -> canonical name
}

// NewRegistry creates an empty registry
func NewRegistry(deps Dependencies) *Registry {
	return &Registry{
		deps:     deps,
		handlers: make(map[string]*Handler),
		names:    make(map[string]string),
	}
}

// Register adds an adapter under its name and aliases
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToLower(adapter.Name())
	r.handlers[name] = &Handler{adapter: adapter, deps: r.deps}
	r.names[name] = name
	for _, alias := range adapter.Aliases() {
		r.names[strings.ToLower(alias)] = name
	}
}

// AdapterFor returns the handler of the named protocol
func (r *Registry) AdapterFor(name string) (*Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical, ok := r.names[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, &txerr.UnsupportedProtocolError{Protocol: name, Known: r.namesLocked()}
	}
	return r.handlers[canonical], nil
}

// Names returns the canonical protocol names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
