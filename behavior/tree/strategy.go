// Package tree maintains hierarchical entities.
//
// Three strategies are available. NestedSet stores left/right interval
// bounds and a level per node, MaterializedPath stores the chain of ancestor
// segments as a string, and ClosureTable stores one row per
// ancestor/descendant pair in a separate collection. All of them keep the
// parent field authoritative, so any tree can be rebuilt from parents.
//
// Strategies shift stored records directly through the store.Driver and set
// the managed fields of the entity they were called with. Persisting the
// entity's own row on insert is left to the caller, normally a
// lifecycle.Session. Every mutation must run inside a transaction
// (store.RunTransaction); the strategies lock the affected tree for the rest
// of it.
package tree

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
)

// Strategy is implemented by every tree strategy.
type Strategy interface {
	// Insert places a new node and assigns its managed fields. The node's own
	// record is written by the caller afterwards.
	Insert(ctx context.Context, entity store.Entity, p Placement) error
	// Move relocates a stored node together with its descendants.
	Move(ctx context.Context, entity store.Entity, p Placement) error
	// Delete removes a stored node, handling descendants per the delete policy.
	Delete(ctx context.Context, entity store.Entity) error
	// Children lists the descendants of a node, only the direct ones if direct.
	Children(ctx context.Context, id any, direct bool) ([]store.Record, error)
	// Path lists the ancestors of a node from the top, ending with the node.
	Path(ctx context.Context, id any) ([]store.Record, error)
}

// New creates the strategy configured for the entry.
func New(d store.Driver, entry *metadata.Entry) (Strategy, error) {
	if entry.Tree == nil {
		return nil, fmt.Errorf("entity %s has no tree configuration", entry.Name)
	}
	switch entry.Tree.Strategy {
	case metadata.StrategyNested:
		return NewNestedSet(d, entry), nil
	case metadata.StrategyPath:
		return NewMaterializedPath(d, entry), nil
	case metadata.StrategyClosure:
		return NewClosureTable(d, entry), nil
	default:
		return nil, fmt.Errorf("unknown tree strategy %q", entry.Tree.Strategy)
	}
}

// base holds what every strategy needs.
type base struct {
	driver store.Driver
	locker store.Locker
	entry  *metadata.Entry
	cfg    *metadata.TreeConfig
	logger *slog.Logger
}

func newBase(d store.Driver, entry *metadata.Entry) base {
	return base{
		driver: d,
		locker: store.NewKeyedLocker(),
		entry:  entry,
		cfg:    entry.Tree,
		logger: slog.Default(),
	}
}

func (b *base) collection() string { return b.entry.Collection }

func (b *base) id(entity store.Entity) any {
	return entity.FieldValue(b.entry.IDField)
}

func (b *base) parentOf(entity store.Entity) any {
	return normalizeRef(store.Identify(entity.FieldValue(b.cfg.Parent), b.entry.IDField))
}

func (b *base) lock(ctx context.Context, keys ...string) error {
	return store.Lock(ctx, b.driver, b.locker, keys...)
}

func (b *base) find(ctx context.Context, id any) (store.Record, error) {
	rec, err := store.FindByID(ctx, b.driver, b.collection(), b.entry.IDField, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %v: %w", b.entry.Name, id, err)
	}
	return rec, nil
}

func (b *base) setFields(entity store.Entity, values store.Changes) error {
	for field, v := range values {
		if field == "" {
			continue
		}
		if err := entity.SetFieldValue(field, v); err != nil {
			return fmt.Errorf("failed to set %s.%s: %w", b.entry.Name, field, err)
		}
	}
	return nil
}

func (b *base) byID(id any) *store.Condition {
	return store.Field(b.entry.IDField).Eq(id)
}

func (b *base) cyclic(id, target any) error {
	return &CyclicMoveError{Entity: b.entry.Name, ID: id, Target: target}
}

// normalizeRef turns nil pointers into plain nil.
func normalizeRef(v any) any {
	if store.IsNil(v) {
		return nil
	}
	return v
}
