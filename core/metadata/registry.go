package metadata

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/stokaro/behave/core/store"
)

// ErrUnknownEntity is returned for entity names without configuration.
var ErrUnknownEntity = errors.New("unknown entity")

// Source provides entries from a declarative origin such as a config file.
type Source interface {
	// Lookup returns the entry for name, or nil when the source has none.
	Lookup(name string) (*Entry, error)
}

// MapSource is a Source backed by a fixed set of entries.
type MapSource map[string]Entry

// Lookup implements Source.
func (m MapSource) Lookup(name string) (*Entry, error) {
	e, ok := m[name]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

// Registry caches the normalized, validated entry of every entity type.
//
// A Registry is built once at startup and shared by all strategies. After
// startup it only changes through Invalidate and InvalidateAll, which make the
// next lookup reload from the Source. Version is bumped on every change so
// consumers can rebuild derived tables.
type Registry struct {
	source Source

	mu       sync.RWMutex
	declared map[string]Entry
	fields   map[string][]string
	loaded   map[string]*Entry

	version atomic.Uint64
}

// NewRegistry creates a registry. source may be nil.
func NewRegistry(source Source) *Registry {
	return &Registry{
		source:   source,
		declared: make(map[string]Entry),
		fields:   make(map[string][]string),
		loaded:   make(map[string]*Entry),
	}
}

// Register declares an entity type. When entry is nil the configuration is
// taken from the source. The entry is normalized and validated against the
// prototype's fields; a *ConfigurationError aborts the registration.
func (r *Registry) Register(prototype store.Entity, entry *Entry) error {
	name := prototype.EntityName()
	fields := slices.Clone(prototype.Fields())

	var e *Entry
	if entry != nil {
		cp := entry.clone()
		cp.Name = name
		e = &cp
	} else {
		loaded, err := r.fromSource(name)
		if err != nil {
			return err
		}
		if loaded == nil {
			return fmt.Errorf("failed to register %s: %w", name, ErrUnknownEntity)
		}
		e = loaded
	}
	e.Normalize()
	if err := e.Validate(fields); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry != nil {
		r.declared[name] = e.clone()
	}
	r.fields[name] = fields
	r.loaded[name] = e
	r.version.Add(1)
	return nil
}

// Configuration returns the entry for an entity name. Entries dropped by
// invalidation are reloaded on demand.
func (r *Registry) Configuration(name string) (*Entry, bool) {
	e, err := r.Lookup(name)
	return e, err == nil
}

// Lookup is Configuration reporting why an entry is unavailable.
func (r *Registry) Lookup(name string) (*Entry, error) {
	r.mu.RLock()
	e, ok := r.loaded[name]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.loaded[name]; ok {
		return e, nil
	}

	e, err := r.fromSource(name)
	if err != nil {
		return nil, err
	}
	if e == nil {
		declared, ok := r.declared[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
		}
		cp := declared.clone()
		e = &cp
	}
	e.Name = name
	e.Normalize()
	if err := e.Validate(r.fields[name]); err != nil {
		return nil, err
	}
	r.loaded[name] = e
	r.version.Add(1)
	return e, nil
}

func (r *Registry) fromSource(name string) (*Entry, error) {
	if r.source == nil {
		return nil, nil
	}
	e, err := r.source.Lookup(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration for %s: %w", name, err)
	}
	if e == nil {
		return nil, nil
	}
	cp := e.clone()
	cp.Name = name
	return &cp, nil
}

// Names lists the currently loaded entity names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.loaded))
	for name := range r.loaded {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Invalidate drops the cached entry of one entity.
func (r *Registry) Invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loaded, name)
	r.version.Add(1)
}

// InvalidateAll drops every cached entry.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.loaded)
	r.version.Add(1)
}

// Version changes whenever the set of cached entries changes.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

// clone copies the entry deeply enough that normalization of the copy never
// writes through to the original.
func (e Entry) clone() Entry {
	if e.Tree != nil {
		t := *e.Tree
		e.Tree = &t
	}
	if e.Sortable != nil {
		s := *e.Sortable
		s.Groups = slices.Clone(s.Groups)
		e.Sortable = &s
	}
	e.Slugs = slices.Clone(e.Slugs)
	e.Timestamps = slices.Clone(e.Timestamps)
	e.Blames = slices.Clone(e.Blames)
	if e.SoftDelete != nil {
		s := *e.SoftDelete
		e.SoftDelete = &s
	}
	if e.Loggable != nil {
		l := *e.Loggable
		l.Versioned = slices.Clone(l.Versioned)
		e.Loggable = &l
	}
	if e.Translatable != nil {
		t := *e.Translatable
		t.Fields = slices.Clone(t.Fields)
		e.Translatable = &t
	}
	return e
}
