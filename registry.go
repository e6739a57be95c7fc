package structex

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// PluginAPIVersion is the plugin contract version a registration declares by
// default.
const PluginAPIVersion = "1.0"

// Kind is the capability a plugin provides.
type Kind string

const (
	KindProvider      Kind = "provider"
	KindExtractor     Kind = "extractor"
	KindValidator     Kind = "validator"
	KindPostprocessor Kind = "postprocessor"
	KindSecurity      Kind = "security"
)

// HealthStatus is the last observed liveness of a plugin.
type HealthStatus int

const (
	HealthUnknown HealthStatus = iota
	HealthHealthy
	HealthUnhealthy
)

func (h HealthStatus) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Factory builds a plugin instance on first resolution.
type Factory func() (any, error)

// PluginConfig carries the registration-time attributes of a plugin. The
// registry takes the values as given; callers who want the defaults start
// from DefaultPluginConfig. Priority 0 and cost 0 are legal explicit values.
type PluginConfig struct {
	Priority     int // 0-100, higher preferred
	Cost         float64
	Version      string
	Capabilities []string
}

// DefaultPluginConfig returns the attribute defaults: priority 50, cost 1.0,
// current API version.
func DefaultPluginConfig() PluginConfig {
	return PluginConfig{Priority: 50, Cost: 1.0, Version: PluginAPIVersion}
}

// Descriptor is the registry's public view of one plugin. Identity is
// (Kind, Name).
type Descriptor struct {
	Kind         Kind
	Name         string
	Ref          string // implementation reference for discovered plugins
	Priority     int
	Cost         float64
	Version      string
	Capabilities []string
	Loaded       bool
	Health       HealthStatus
}

// HealthChecker is the optional zero-argument liveness probe a plugin may
// expose.
type HealthChecker interface {
	HealthCheck() bool
}

type pluginKey struct {
	kind Kind
	name string
}

type registryEntry struct {
	desc     Descriptor
	factory  Factory
	instance any
	seq      int // registration order, the final ordering tie-break
}

// Registry maps (kind, name) to lazily instantiated components. Mutation is
// rare; a single mutex guards both mutation and load-and-cache-instance so
// concurrent Get calls race safely.
type Registry struct {
	mu      sync.Mutex
	entries map[pluginKey]*registryEntry
	seq     int
	log     *slog.Logger
}

// NewRegistry returns an empty registry logging with slog.Default().
func NewRegistry() *Registry {
	return NewRegistryWithLogger(slog.Default())
}

// NewRegistryWithLogger lets the caller supply their own logger.
func NewRegistryWithLogger(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{entries: map[pluginKey]*registryEntry{}, log: log}
}

// Register binds (kind, name) to a factory. It fails with DuplicateNameError
// when the identity is already bound; use RegisterOverwrite to replace.
func (r *Registry) Register(kind Kind, name string, factory Factory, cfg PluginConfig) error {
	return r.register(kind, name, "", factory, cfg, false)
}

// RegisterOverwrite replaces any existing binding for (kind, name).
func (r *Registry) RegisterOverwrite(kind Kind, name string, factory Factory, cfg PluginConfig) error {
	return r.register(kind, name, "", factory, cfg, true)
}

func (r *Registry) register(kind Kind, name, ref string, factory Factory, cfg PluginConfig, overwrite bool) error {
	if name == "" {
		return fmt.Errorf("register %s: name is empty", kind)
	}
	if cfg.Version == "" {
		cfg.Version = PluginAPIVersion
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := pluginKey{kind, name}
	if _, exists := r.entries[key]; exists && !overwrite {
		return &DuplicateNameError{Kind: kind, Name: name}
	}
	r.putLocked(key, ref, factory, cfg)
	r.log.Debug("plugin registered", "kind", kind, "name", name, "priority", cfg.Priority, "cost", cfg.Cost)
	return nil
}

// mergeDiscovered upserts a manifest-declared plugin. An existing binding is
// refreshed only when it came from an earlier discovery and has not been
// loaded; programmatic registrations and loaded instances win over a rescan.
// The bool reports whether the registry changed.
func (r *Registry) mergeDiscovered(kind Kind, name, ref string, factory Factory, cfg PluginConfig) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("register %s: name is empty", kind)
	}
	if cfg.Version == "" {
		cfg.Version = PluginAPIVersion
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := pluginKey{kind, name}
	if e, exists := r.entries[key]; exists && (e.desc.Ref == "" || e.desc.Loaded) {
		r.log.Debug("discovery kept existing binding",
			"kind", kind, "name", name, "loaded", e.desc.Loaded)
		return false, nil
	}
	r.putLocked(key, ref, factory, cfg)
	r.log.Debug("plugin discovered", "kind", kind, "name", name, "ref", ref)
	return true, nil
}

// putLocked writes one entry. Callers hold r.mu.
func (r *Registry) putLocked(key pluginKey, ref string, factory Factory, cfg PluginConfig) {
	r.seq++
	r.entries[key] = &registryEntry{
		desc: Descriptor{
			Kind:         key.kind,
			Name:         key.name,
			Ref:          ref,
			Priority:     cfg.Priority,
			Cost:         cfg.Cost,
			Version:      cfg.Version,
			Capabilities: append([]string(nil), cfg.Capabilities...),
			Health:       HealthUnknown,
		},
		factory: factory,
		seq:     r.seq,
	}
}

// Unregister removes a binding. Removing an unknown binding is a no-op.
func (r *Registry) Unregister(kind Kind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, pluginKey{kind, name})
}

// Get resolves a plugin, instantiating it on first call only. Subsequent
// calls return the cached instance.
func (r *Registry) Get(kind Kind, name string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[pluginKey{kind, name}]
	if !ok {
		return nil, &PluginNotFoundError{Kind: kind, Name: name}
	}
	if e.desc.Loaded {
		return e.instance, nil
	}
	if e.factory == nil {
		return nil, fmt.Errorf("plugin %s/%s: no factory bound for ref %q", kind, name, e.desc.Ref)
	}
	inst, err := e.factory()
	if err != nil {
		return nil, fmt.Errorf("plugin %s/%s: load: %w", kind, name, err)
	}
	e.instance = inst
	e.desc.Loaded = true
	r.log.Debug("plugin loaded", "kind", kind, "name", name)
	return inst, nil
}

// GetProvider resolves a provider plugin with a type check.
func (r *Registry) GetProvider(name string) (Provider, error) {
	inst, err := r.Get(KindProvider, name)
	if err != nil {
		return nil, err
	}
	p, ok := inst.(Provider)
	if !ok {
		return nil, fmt.Errorf("plugin provider/%s: %T does not implement Provider", name, inst)
	}
	return p, nil
}

// GetExtractor resolves an extractor plugin with a type check.
func (r *Registry) GetExtractor(name string) (Extractor, error) {
	inst, err := r.Get(KindExtractor, name)
	if err != nil {
		return nil, err
	}
	e, ok := inst.(Extractor)
	if !ok {
		return nil, fmt.Errorf("plugin extractor/%s: %T does not implement Extractor", name, inst)
	}
	return e, nil
}

// GetSecurity resolves a security plugin with a type check.
func (r *Registry) GetSecurity(name string) (SecurityPlugin, error) {
	inst, err := r.Get(KindSecurity, name)
	if err != nil {
		return nil, err
	}
	s, ok := inst.(SecurityPlugin)
	if !ok {
		return nil, fmt.Errorf("plugin security/%s: %T does not implement SecurityPlugin", name, inst)
	}
	return s, nil
}

// ListNames returns the names of a kind ordered by descending priority, ties
// broken by ascending cost, then registration order. This is the waterfall
// sequence strategy processors rely on. Listing never loads.
func (r *Registry) ListNames(kind Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*registryEntry, 0)
	for key, e := range r.entries {
		if key.kind == kind {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.desc.Priority != b.desc.Priority {
			return a.desc.Priority > b.desc.Priority
		}
		if a.desc.Cost != b.desc.Cost {
			return a.desc.Cost < b.desc.Cost
		}
		return a.seq < b.seq
	})
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.desc.Name
	}
	return names
}

// ListKinds returns the kinds with at least one registration, sorted.
func (r *Registry) ListKinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := map[Kind]bool{}
	for key := range r.entries {
		seen[key.kind] = true
	}
	kinds := make([]Kind, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Describe returns a copy of one plugin's descriptor.
func (r *Registry) Describe(kind Kind, name string) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[pluginKey{kind, name}]
	if !ok {
		return Descriptor{}, &PluginNotFoundError{Kind: kind, Name: name}
	}
	return copyDescriptor(e.desc), nil
}

// Descriptors returns descriptor copies for a kind in waterfall order.
func (r *Registry) Descriptors(kind Kind) []Descriptor {
	names := r.ListNames(kind)
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		if d, err := r.Describe(kind, name); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// HealthCheck probes a plugin's liveness. It never returns an error: a
// failing resolution or probe downgrades the descriptor to unhealthy and the
// underlying error is swallowed (logged only).
func (r *Registry) HealthCheck(kind Kind, name string) HealthStatus {
	inst, err := r.Get(kind, name)

	status := HealthHealthy
	if err != nil {
		r.log.Debug("health check failed to resolve plugin", "kind", kind, "name", name, "error", err)
		status = HealthUnhealthy
	} else if hc, ok := inst.(HealthChecker); ok {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.log.Debug("health probe panicked", "kind", kind, "name", name, "panic", rec)
					status = HealthUnhealthy
				}
			}()
			if !hc.HealthCheck() {
				status = HealthUnhealthy
			}
		}()
	}

	r.mu.Lock()
	if e, ok := r.entries[pluginKey{kind, name}]; ok {
		e.desc.Health = status
	}
	r.mu.Unlock()
	return status
}

// Clear removes every registration. Intended for tests and CLI refresh.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = map[pluginKey]*registryEntry{}
	r.seq = 0
}

func copyDescriptor(d Descriptor) Descriptor {
	c := d
	c.Capabilities = append([]string(nil), d.Capabilities...)
	return c
}
