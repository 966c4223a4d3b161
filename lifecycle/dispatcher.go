package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
)

// Listener is the base interface of behavior listeners. A listener also
// implements one or more of the hook interfaces below.
type Listener interface {
	// Applies reports whether the listener handles entities configured by
	// the entry.
	Applies(entry *metadata.Entry) bool
}

type (
	Preparer interface {
		Prepare(ctx context.Context, ev *Event) error
	}
	FlushListener interface {
		BeforeFlush(ctx context.Context, ev *Event) error
	}
	PreInsertListener interface {
		PreInsert(ctx context.Context, ev *Event) error
	}
	PostInsertListener interface {
		PostInsert(ctx context.Context, ev *Event) error
	}
	PreUpdateListener interface {
		PreUpdate(ctx context.Context, ev *Event) error
	}
	PostUpdateListener interface {
		PostUpdate(ctx context.Context, ev *Event) error
	}
	PreDeleteListener interface {
		PreDelete(ctx context.Context, ev *Event) error
	}
	PostDeleteListener interface {
		PostDelete(ctx context.Context, ev *Event) error
	}
	PostLoadListener interface {
		PostLoad(ctx context.Context, ev *Event) error
	}
)

// Filterer is implemented by listeners that restrict queries, such as soft
// delete hiding removed rows.
type Filterer interface {
	Filter(ctx context.Context, entry *metadata.Entry, opts FindOptions) *store.Condition
}

// FindOptions alter the filters applied to finds.
type FindOptions struct {
	// WithDeleted includes soft deleted rows.
	WithDeleted bool
}

// FindOption configures FindOptions.
type FindOption func(*FindOptions)

// WithDeleted includes soft deleted rows in the result.
func WithDeleted() FindOption {
	return func(o *FindOptions) { o.WithDeleted = true }
}

// capabilities is the resolved listener set of one entity type.
type capabilities struct {
	entry     *metadata.Entry
	listeners []Listener
}

// Dispatcher routes hooks to listeners.
//
// Listeners run in registration order. The set of listeners of an entity
// type is computed once from its entry and reused until the registry
// version changes.
type Dispatcher struct {
	registry  *metadata.Registry
	listeners []Listener
	logger    *slog.Logger

	mu      sync.Mutex
	version uint64
	table   map[string]*capabilities
}

// NewDispatcher creates a dispatcher over the registry.
func NewDispatcher(registry *metadata.Registry, listeners ...Listener) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		listeners: listeners,
		logger:    slog.Default(),
		table:     make(map[string]*capabilities),
	}
}

// WithLogger sets the logger for the dispatcher
func (d *Dispatcher) WithLogger(l *slog.Logger) *Dispatcher {
	tmp := &Dispatcher{
		registry:  d.registry,
		listeners: d.listeners,
		logger:    l,
		table:     make(map[string]*capabilities),
	}
	return tmp
}

// Registry returns the metadata registry of the dispatcher.
func (d *Dispatcher) Registry() *metadata.Registry { return d.registry }

// resolve returns the capabilities of an entity type.
func (d *Dispatcher) resolve(name string) (*capabilities, error) {
	d.mu.Lock()
	if v := d.registry.Version(); v != d.version {
		clear(d.table)
		d.version = v
	}
	caps, ok := d.table[name]
	d.mu.Unlock()
	if ok {
		return caps, nil
	}

	entry, err := d.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	caps = &capabilities{entry: entry}
	for _, l := range d.listeners {
		if l.Applies(entry) {
			caps.listeners = append(caps.listeners, l)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	// A lookup that loaded the entry bumped the version.
	if v := d.registry.Version(); v != d.version {
		clear(d.table)
		d.version = v
	}
	d.table[name] = caps
	return caps, nil
}

// Entry returns the configuration of an entity type.
func (d *Dispatcher) Entry(name string) (*metadata.Entry, error) {
	caps, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	return caps.entry, nil
}

// Dispatch calls every applicable listener implementing the hook. The event
// entry is resolved when missing. The first listener error stops dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, hook Hook, ev *Event) error {
	caps, err := d.resolve(ev.Entity.EntityName())
	if err != nil {
		return err
	}
	if ev.Entry == nil {
		ev.Entry = caps.entry
	}
	ev.Hook = hook
	for _, l := range caps.listeners {
		if err := call(ctx, hook, l, ev); err != nil {
			return err
		}
	}
	return nil
}

func call(ctx context.Context, hook Hook, l Listener, ev *Event) error {
	switch hook {
	case Prepare:
		if h, ok := l.(Preparer); ok {
			return h.Prepare(ctx, ev)
		}
	case BeforeFlush:
		if h, ok := l.(FlushListener); ok {
			return h.BeforeFlush(ctx, ev)
		}
	case PreInsert:
		if h, ok := l.(PreInsertListener); ok {
			return h.PreInsert(ctx, ev)
		}
	case PostInsert:
		if h, ok := l.(PostInsertListener); ok {
			return h.PostInsert(ctx, ev)
		}
	case PreUpdate:
		if h, ok := l.(PreUpdateListener); ok {
			return h.PreUpdate(ctx, ev)
		}
	case PostUpdate:
		if h, ok := l.(PostUpdateListener); ok {
			return h.PostUpdate(ctx, ev)
		}
	case PreDelete:
		if h, ok := l.(PreDeleteListener); ok {
			return h.PreDelete(ctx, ev)
		}
	case PostDelete:
		if h, ok := l.(PostDeleteListener); ok {
			return h.PostDelete(ctx, ev)
		}
	case PostLoad:
		if h, ok := l.(PostLoadListener); ok {
			return h.PostLoad(ctx, ev)
		}
	default:
		return fmt.Errorf("unknown hook %q", hook)
	}
	return nil
}

// Filter combines the query restrictions of every applicable listener.
func (d *Dispatcher) Filter(ctx context.Context, name string, opts FindOptions) (*store.Condition, error) {
	caps, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	var conds []*store.Condition
	for _, l := range caps.listeners {
		if f, ok := l.(Filterer); ok {
			conds = append(conds, f.Filter(ctx, caps.entry, opts))
		}
	}
	return store.All(conds...), nil
}
