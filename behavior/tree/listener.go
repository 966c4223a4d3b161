package tree

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/lifecycle"
)

// Listener maintains trees from lifecycle events.
//
// New nodes are placed as the last child of their parent (or as roots) and
// stored nodes move when their parent changes. Place overrides the
// placement of the next write of an entity.
type Listener struct {
	driver store.Driver
	locker store.Locker
	logger *slog.Logger

	mu         sync.Mutex
	placements map[store.Entity]Placement
}

var (
	_ lifecycle.Preparer           = (*Listener)(nil)
	_ lifecycle.PreInsertListener  = (*Listener)(nil)
	_ lifecycle.PostInsertListener = (*Listener)(nil)
	_ lifecycle.PreUpdateListener  = (*Listener)(nil)
	_ lifecycle.PreDeleteListener  = (*Listener)(nil)
)

// NewListener creates a tree listener writing through d.
func NewListener(d store.Driver) *Listener {
	return &Listener{
		driver:     d,
		locker:     store.NewKeyedLocker(),
		logger:     slog.Default(),
		placements: make(map[store.Entity]Placement),
	}
}

// WithLogger sets the logger for the listener
func (l *Listener) WithLogger(logger *slog.Logger) *Listener {
	tmp := l.clone()
	tmp.logger = logger
	return tmp
}

// WithLocker sets the in-process locker shared with other strategies.
func (l *Listener) WithLocker(locker store.Locker) *Listener {
	tmp := l.clone()
	tmp.locker = locker
	return tmp
}

func (l *Listener) clone() *Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &Listener{
		driver:     l.driver,
		locker:     l.locker,
		logger:     l.logger,
		placements: maps.Clone(l.placements),
	}
}

// Place sets where the entity goes on its next insert or update.
func (l *Listener) Place(entity store.Entity, p Placement) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.placements[entity] = p
}

func (l *Listener) takePlacement(entity store.Entity) (Placement, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.placements[entity]
	delete(l.placements, entity)
	return p, ok
}

func (l *Listener) peekPlacement(entity store.Entity) (Placement, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.placements[entity]
	return p, ok
}

// Applies implements lifecycle.Listener.
func (l *Listener) Applies(entry *metadata.Entry) bool {
	return entry.Tree != nil
}

// Strategy returns the strategy configured for the entry.
func (l *Listener) Strategy(entry *metadata.Entry) (Strategy, error) {
	switch entry.Tree.Strategy {
	case metadata.StrategyNested:
		return NewNestedSet(l.driver, entry).WithLogger(l.logger).WithLocker(l.locker), nil
	case metadata.StrategyPath:
		return NewMaterializedPath(l.driver, entry).WithLogger(l.logger).WithLocker(l.locker), nil
	case metadata.StrategyClosure:
		return NewClosureTable(l.driver, entry).WithLogger(l.logger).WithLocker(l.locker), nil
	default:
		return nil, fmt.Errorf("unknown tree strategy %q", entry.Tree.Strategy)
	}
}

// Prepare defers nodes whose parent is scheduled but not written yet.
func (l *Listener) Prepare(_ context.Context, ev *lifecycle.Event) error {
	if ev.Session == nil {
		return nil
	}
	refs := []any{ev.Entity.FieldValue(ev.Entry.Tree.Parent)}
	if p, ok := l.peekPlacement(ev.Entity); ok {
		refs = append(refs, p.Ref)
	}
	for _, ref := range refs {
		if parent, ok := ref.(store.Entity); ok && ev.Session.IsPending(parent) {
			return &PendingParentError{Entity: ev.Entry.Name, ID: ev.ID()}
		}
	}
	return nil
}

// PreInsert places the new node.
func (l *Listener) PreInsert(ctx context.Context, ev *lifecycle.Event) error {
	s, err := l.Strategy(ev.Entry)
	if err != nil {
		return err
	}
	p, _ := l.takePlacement(ev.Entity)
	p.Ref = store.Identify(p.Ref, ev.Entry.IDField)
	return s.Insert(ctx, ev.Entity, p)
}

// PostInsert verifies the nested set once the node's own row is written.
func (l *Listener) PostInsert(ctx context.Context, ev *lifecycle.Event) error {
	cfg := ev.Entry.Tree
	if cfg.Strategy != metadata.StrategyNested || !cfg.Verifies() {
		return nil
	}
	var root any
	if cfg.Root != "" {
		root = ev.Entity.FieldValue(cfg.Root)
	}
	return NewNestedSet(l.driver, ev.Entry).WithLogger(l.logger).Verify(ctx, root)
}

// PreUpdate moves the node when a placement was requested or its parent (or
// the source of its path segment) changed.
func (l *Listener) PreUpdate(ctx context.Context, ev *lifecycle.Event) error {
	cfg := ev.Entry.Tree
	p, ok := l.takePlacement(ev.Entity)
	if !ok {
		moved := ev.Changed(cfg.Parent)
		if cfg.Strategy == metadata.StrategyPath && ev.Changed(cfg.PathSource) {
			moved = true
		}
		if !moved {
			return nil
		}
	}
	s, err := l.Strategy(ev.Entry)
	if err != nil {
		return err
	}
	p.Ref = store.Identify(p.Ref, ev.Entry.IDField)
	return s.Move(ctx, ev.Entity, p)
}

// PreDelete removes the node unless the delete became a soft delete.
func (l *Listener) PreDelete(ctx context.Context, ev *lifecycle.Event) error {
	if ev.SkipDelete {
		return nil
	}
	s, err := l.Strategy(ev.Entry)
	if err != nil {
		return err
	}
	return s.Delete(ctx, ev.Entity)
}
