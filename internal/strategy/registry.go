package strategy

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Factory builds a configured quoter instance.
type Factory func(cfg Config, logger *slog.Logger) Quoter

// Registry manages named quoter factories that can be looked up at runtime.
// It is safe for concurrent use.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory to the registry under the given name. If a factory
// with the same name already exists it will be replaced.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs a quoter by name. It returns an error when the name is
// not registered.
func (r *Registry) Build(name string, cfg Config, logger *slog.Logger) (Quoter, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("strategy %q: not registered", name)
	}
	return f(cfg, logger), nil
}

// List returns the names of all registered factories in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// defaultRegistry holds the built-in quoters.
var defaultRegistry = func() *Registry {
	r := NewRegistry()
	r.Register("imbalance", func(cfg Config, logger *slog.Logger) Quoter {
		return NewImbalance(cfg, logger)
	})
	r.Register("avellaneda", func(cfg Config, logger *slog.Logger) Quoter {
		return NewAvellaneda(cfg, logger)
	})
	r.Register("momentum", func(cfg Config, logger *slog.Logger) Quoter {
		return NewMomentum(cfg, logger)
	})
	return r
}()

// Names returns the built-in quoter names.
func Names() []string { return defaultRegistry.List() }

// New builds a built-in quoter by name. Unknown names are an error so a
// config typo fails at startup rather than trading nothing silently.
func New(cfg Config, logger *slog.Logger) (Quoter, error) {
	q, err := defaultRegistry.Build(cfg.Name, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("strategy %q: unknown (have %s)",
			cfg.Name, strings.Join(Names(), ", "))
	}
	return q, nil
}
