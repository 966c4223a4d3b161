package tree

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
)

// Closure table columns.
const (
	ClosureAncestor   = "ancestor"
	ClosureDescendant = "descendant"
	ClosureDepth      = "depth"
)

// ClosureTable keeps one row per ancestor/descendant pair, including the
// pair of each node with itself at depth 0, in a separate collection.
type ClosureTable struct {
	base
}

var _ Strategy = (*ClosureTable)(nil)

// NewClosureTable creates a closure table strategy for the entry.
func NewClosureTable(d store.Driver, entry *metadata.Entry) *ClosureTable {
	return &ClosureTable{base: newBase(d, entry)}
}

// WithLogger sets the logger for the strategy
func (s *ClosureTable) WithLogger(l *slog.Logger) *ClosureTable {
	tmp := *s
	tmp.logger = l
	return &tmp
}

// WithLocker sets the in-process locker.
func (s *ClosureTable) WithLocker(l store.Locker) *ClosureTable {
	tmp := *s
	tmp.locker = l
	return &tmp
}

func (s *ClosureTable) closure() string { return s.cfg.ClosureCollection }

// The closure collection has no per-tree partition, so the whole table is
// locked.
func (s *ClosureTable) lockAll(ctx context.Context) error {
	return s.lock(ctx, store.LockKey("tree", s.collection()))
}

func (s *ClosureTable) rows(ctx context.Context, cond *store.Condition) ([]store.Record, error) {
	list, err := s.driver.FindMany(ctx, s.closure(), &store.Where{Condition: cond, Sort: []store.Sort{store.Asc(ClosureDepth)}})
	if err != nil {
		return nil, fmt.Errorf("failed to read closure of %s: %w", s.entry.Name, err)
	}
	return list, nil
}

// ancestors returns the rows leading to id, the self row included.
func (s *ClosureTable) ancestors(ctx context.Context, id any) ([]store.Record, error) {
	return s.rows(ctx, store.Field(ClosureDescendant).Eq(id))
}

// subtree returns the rows leaving id, the self row included.
func (s *ClosureTable) subtree(ctx context.Context, id any) ([]store.Record, error) {
	return s.rows(ctx, store.Field(ClosureAncestor).Eq(id))
}

func (s *ClosureTable) parentFor(ctx context.Context, entity store.Entity, p Placement) (any, error) {
	switch p.Position {
	case PositionDefault:
		return s.parentOf(entity), nil
	case PositionRoot:
		return nil, nil
	case PositionFirstChild, PositionLastChild:
		return p.Ref, nil
	case PositionPrevSibling, PositionNextSibling:
		ref, err := s.find(ctx, p.Ref)
		if err != nil {
			return nil, err
		}
		return normalizeRef(ref[s.cfg.Parent]), nil
	default:
		return nil, fmt.Errorf("unsupported placement %s", p)
	}
}

// Insert implements Strategy.
func (s *ClosureTable) Insert(ctx context.Context, entity store.Entity, p Placement) error {
	id := s.id(entity)
	if store.IsNil(id) {
		return fmt.Errorf("failed to insert %s into closure table: identifier is required", s.entry.Name)
	}
	parent, err := s.parentFor(ctx, entity, p)
	if err != nil {
		return err
	}
	if err := s.lockAll(ctx); err != nil {
		return err
	}

	rows := []store.Record{{ClosureAncestor: id, ClosureDescendant: id, ClosureDepth: int64(0)}}
	if parent != nil {
		up, err := s.ancestors(ctx, parent)
		if err != nil {
			return err
		}
		if len(up) == 0 {
			return fmt.Errorf("failed to insert %s %v: parent %v: %w", s.entry.Name, id, parent, store.ErrNotFound)
		}
		for _, a := range up {
			rows = append(rows, store.Record{
				ClosureAncestor:   a[ClosureAncestor],
				ClosureDescendant: id,
				ClosureDepth:      store.MustInt64(a[ClosureDepth]) + 1,
			})
		}
	}
	if err := s.driver.Insert(ctx, s.closure(), rows...); err != nil {
		return fmt.Errorf("failed to write closure of %s %v: %w", s.entry.Name, id, err)
	}

	values := store.Changes{}
	if s.cfg.Level != "" {
		values[s.cfg.Level] = int64(len(rows) - 1)
	}
	if !store.Equal(s.parentOf(entity), parent) {
		values[s.cfg.Parent] = parent
	}
	return s.setFields(entity, values)
}

// Move implements Strategy. Rows linking the subtree to its old ancestors
// are dropped and the subtree is cross joined with the new ancestors.
func (s *ClosureTable) Move(ctx context.Context, entity store.Entity, p Placement) error {
	id := s.id(entity)
	parent, err := s.parentFor(ctx, entity, p)
	if err != nil {
		return err
	}
	if err := s.lockAll(ctx); err != nil {
		return err
	}
	sub, err := s.subtree(ctx, id)
	if err != nil {
		return err
	}
	subIDs := make([]any, len(sub))
	for i, r := range sub {
		subIDs[i] = r[ClosureDescendant]
		if parent != nil && store.Equal(r[ClosureDescendant], parent) {
			return s.cyclic(id, parent)
		}
	}
	oldUp, err := s.ancestors(ctx, id)
	if err != nil {
		return err
	}
	var oldIDs []any
	for _, r := range oldUp {
		if store.MustInt64(r[ClosureDepth]) > 0 {
			oldIDs = append(oldIDs, r[ClosureAncestor])
		}
	}

	if len(oldIDs) > 0 {
		if _, err := s.driver.Delete(ctx, s.closure(),
			store.Field(ClosureDescendant).In(subIDs...).And(store.Field(ClosureAncestor).In(oldIDs...))); err != nil {
			return fmt.Errorf("failed to detach %s %v: %w", s.entry.Name, id, err)
		}
	}

	var newUp []store.Record
	if parent != nil {
		if newUp, err = s.ancestors(ctx, parent); err != nil {
			return err
		}
	}
	var rows []store.Record
	for _, a := range newUp {
		for _, d := range sub {
			rows = append(rows, store.Record{
				ClosureAncestor:   a[ClosureAncestor],
				ClosureDescendant: d[ClosureDescendant],
				ClosureDepth:      store.MustInt64(a[ClosureDepth]) + store.MustInt64(d[ClosureDepth]) + 1,
			})
		}
	}
	if len(rows) > 0 {
		if err := s.driver.Insert(ctx, s.closure(), rows...); err != nil {
			return fmt.Errorf("failed to attach %s %v: %w", s.entry.Name, id, err)
		}
	}

	if s.cfg.Level != "" {
		if delta := int64(len(newUp) - len(oldIDs)); delta != 0 {
			if _, err := s.driver.Increment(ctx, s.collection(), store.Field(s.entry.IDField).In(subIDs...), store.Deltas{s.cfg.Level: delta}, nil); err != nil {
				return fmt.Errorf("failed to update levels below %s %v: %w", s.entry.Name, id, err)
			}
		}
	}
	if _, err := s.driver.Update(ctx, s.collection(), s.byID(id), store.Changes{s.cfg.Parent: parent}); err != nil {
		return fmt.Errorf("failed to update parent of %s %v: %w", s.entry.Name, id, err)
	}
	s.logger.Debug("moved tree node", "entity", s.entry.Name, "id", id, "parent", parent, "subtree", len(sub))

	values := store.Changes{}
	if s.cfg.Level != "" {
		values[s.cfg.Level] = int64(len(newUp))
	}
	if !store.Equal(s.parentOf(entity), parent) {
		values[s.cfg.Parent] = parent
	}
	return s.setFields(entity, values)
}

// Delete implements Strategy.
func (s *ClosureTable) Delete(ctx context.Context, entity store.Entity) error {
	id := s.id(entity)
	if err := s.lockAll(ctx); err != nil {
		return err
	}
	rec, err := s.find(ctx, id)
	if err != nil {
		return err
	}

	if s.cfg.OnDelete != metadata.OnDeleteReparent {
		sub, err := s.subtree(ctx, id)
		if err != nil {
			return err
		}
		ids := make([]any, len(sub))
		for i, r := range sub {
			ids[i] = r[ClosureDescendant]
		}
		if len(ids) == 0 {
			ids = []any{id}
		}
		if _, err := s.driver.Delete(ctx, s.collection(), store.Field(s.entry.IDField).In(ids...)); err != nil {
			return fmt.Errorf("failed to delete subtree of %s %v: %w", s.entry.Name, id, err)
		}
		if _, err := s.driver.Delete(ctx, s.closure(), store.Field(ClosureDescendant).In(ids...)); err != nil {
			return fmt.Errorf("failed to delete closure of %s %v: %w", s.entry.Name, id, err)
		}
		return nil
	}

	sub, err := s.rows(ctx, store.Field(ClosureAncestor).Eq(id).And(store.Field(ClosureDepth).Gt(0)))
	if err != nil {
		return err
	}
	if _, err := s.driver.Delete(ctx, s.closure(),
		store.Field(ClosureAncestor).Eq(id).Or(store.Field(ClosureDescendant).Eq(id))); err != nil {
		return fmt.Errorf("failed to delete closure of %s %v: %w", s.entry.Name, id, err)
	}
	if _, err := s.driver.Delete(ctx, s.collection(), s.byID(id)); err != nil {
		return fmt.Errorf("failed to delete %s %v: %w", s.entry.Name, id, err)
	}
	if _, err := s.driver.Update(ctx, s.collection(), store.Field(s.cfg.Parent).Eq(id), store.Changes{s.cfg.Parent: normalizeRef(rec[s.cfg.Parent])}); err != nil {
		return fmt.Errorf("failed to reparent children of %s %v: %w", s.entry.Name, id, err)
	}
	if len(sub) == 0 {
		return nil
	}
	ids := make([]any, len(sub))
	for i, r := range sub {
		ids[i] = r[ClosureDescendant]
	}
	// Paths through the removed node are one step shorter now.
	if _, err := s.driver.Increment(ctx, s.closure(),
		store.Field(ClosureDescendant).In(ids...).And(store.Field(ClosureDepth).Gt(0)).And(store.Field(ClosureAncestor).In(ids...).Not()),
		store.Deltas{ClosureDepth: -1}, nil); err != nil {
		return fmt.Errorf("failed to shorten closure below %s %v: %w", s.entry.Name, id, err)
	}
	if s.cfg.Level != "" {
		if _, err := s.driver.Increment(ctx, s.collection(), store.Field(s.entry.IDField).In(ids...), store.Deltas{s.cfg.Level: -1}, nil); err != nil {
			return fmt.Errorf("failed to update levels below %s %v: %w", s.entry.Name, id, err)
		}
	}
	return nil
}

// Children implements Strategy.
func (s *ClosureTable) Children(ctx context.Context, id any, direct bool) ([]store.Record, error) {
	cond := store.Field(ClosureAncestor).Eq(id).And(store.Field(ClosureDepth).Gt(0))
	if direct {
		cond = store.Field(ClosureAncestor).Eq(id).And(store.Field(ClosureDepth).Eq(1))
	}
	rows, err := s.rows(ctx, cond)
	if err != nil {
		return nil, err
	}
	return s.resolveRows(ctx, rows, ClosureDescendant)
}

// Path implements Strategy.
func (s *ClosureTable) Path(ctx context.Context, id any) ([]store.Record, error) {
	rows, err := s.driver.FindMany(ctx, s.closure(), &store.Where{
		Condition: store.Field(ClosureDescendant).Eq(id),
		Sort:      []store.Sort{store.Desc(ClosureDepth)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read closure of %s: %w", s.entry.Name, err)
	}
	return s.resolveRows(ctx, rows, ClosureAncestor)
}

// resolveRows loads the entity records named in column, in row order.
func (s *ClosureTable) resolveRows(ctx context.Context, rows []store.Record, column string) ([]store.Record, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]any, len(rows))
	for i, r := range rows {
		ids[i] = r[column]
	}
	list, err := s.driver.FindMany(ctx, s.collection(), &store.Where{Condition: store.Field(s.entry.IDField).In(ids...)})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s nodes: %w", s.entry.Name, err)
	}
	byID := make(map[string]store.Record, len(list))
	for _, rec := range list {
		byID[store.AsString(rec[s.entry.IDField])] = rec
	}
	out := make([]store.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[store.AsString(id)]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
