package tree

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
)

// MaterializedPath stores, per node, the segments of all its ancestors and
// itself, each followed by the separator: "1,4,9," is node 9 under 4 under 1.
// Sibling order is not stored; children sort by path.
type MaterializedPath struct {
	base
}

var _ Strategy = (*MaterializedPath)(nil)

// NewMaterializedPath creates a materialized path strategy for the entry.
func NewMaterializedPath(d store.Driver, entry *metadata.Entry) *MaterializedPath {
	return &MaterializedPath{base: newBase(d, entry)}
}

// WithLogger sets the logger for the strategy
func (s *MaterializedPath) WithLogger(l *slog.Logger) *MaterializedPath {
	tmp := *s
	tmp.logger = l
	return &tmp
}

// WithLocker sets the in-process locker.
func (s *MaterializedPath) WithLocker(l store.Locker) *MaterializedPath {
	tmp := *s
	tmp.locker = l
	return &tmp
}

func (s *MaterializedPath) segment(entity store.Entity) (string, error) {
	seg := store.AsString(store.Identify(entity.FieldValue(s.cfg.PathSource), s.entry.IDField))
	if seg == "" {
		return "", fmt.Errorf("%s has an empty path segment in %s", s.entry.Name, s.cfg.PathSource)
	}
	if s.cfg.AppendsID(s.entry.IDField) {
		seg += "-" + store.AsString(s.id(entity))
	}
	if strings.Contains(seg, s.cfg.Separator) {
		return "", fmt.Errorf("path segment %q of %s contains the separator %q", seg, s.entry.Name, s.cfg.Separator)
	}
	return seg, nil
}

// claim fails when another node already owns path.
func (s *MaterializedPath) claim(ctx context.Context, id any, path string) error {
	n, err := s.driver.Count(ctx, s.collection(), store.Field(s.cfg.Path).Eq(path).And(s.byID(id).Not()))
	if err != nil {
		return fmt.Errorf("failed to check path of %s %v: %w", s.entry.Name, id, err)
	}
	if n > 0 {
		return &DuplicatePathError{Entity: s.entry.Name, ID: id, Path: path}
	}
	return nil
}

func (s *MaterializedPath) rootKey(path string) string {
	first, _, _ := strings.Cut(path, s.cfg.Separator)
	return store.LockKey("tree", s.collection(), first)
}

func (s *MaterializedPath) depth(path string) int64 {
	return int64(strings.Count(path, s.cfg.Separator) - 1)
}

// parentFor resolves the parent a placement implies. Sibling order is not
// stored, so siblings only contribute their parent.
func (s *MaterializedPath) parentFor(ctx context.Context, entity store.Entity, p Placement) (any, error) {
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

func (s *MaterializedPath) parentPath(ctx context.Context, parent any) (string, int64, error) {
	if parent == nil {
		return "", -1, nil
	}
	rec, err := s.find(ctx, parent)
	if err != nil {
		return "", 0, err
	}
	path := store.AsString(rec[s.cfg.Path])
	return path, s.depth(path), nil
}

// Insert implements Strategy.
func (s *MaterializedPath) Insert(ctx context.Context, entity store.Entity, p Placement) error {
	parent, err := s.parentFor(ctx, entity, p)
	if err != nil {
		return err
	}
	seg, err := s.segment(entity)
	if err != nil {
		return err
	}
	prefix, parentLevel, err := s.parentPath(ctx, parent)
	if err != nil {
		return err
	}
	path := prefix + seg + s.cfg.Separator
	if err := s.lock(ctx, s.rootKey(path)); err != nil {
		return err
	}
	if err := s.claim(ctx, s.id(entity), path); err != nil {
		return err
	}

	values := store.Changes{s.cfg.Path: path}
	if s.cfg.Level != "" {
		values[s.cfg.Level] = parentLevel + 1
	}
	if !store.Equal(s.parentOf(entity), parent) {
		values[s.cfg.Parent] = parent
	}
	return s.setFields(entity, values)
}

// Move implements Strategy. It also recomputes the path when only the
// entity's path source changed.
func (s *MaterializedPath) Move(ctx context.Context, entity store.Entity, p Placement) error {
	id := s.id(entity)
	parent, err := s.parentFor(ctx, entity, p)
	if err != nil {
		return err
	}
	if parent != nil && store.Equal(parent, id) {
		return s.cyclic(id, parent)
	}
	rec, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	oldPath := store.AsString(rec[s.cfg.Path])

	seg, err := s.segment(entity)
	if err != nil {
		return err
	}
	prefix, _, err := s.parentPath(ctx, parent)
	if err != nil {
		return err
	}
	if strings.HasPrefix(prefix, oldPath) {
		return s.cyclic(id, parent)
	}
	newPath := prefix + seg + s.cfg.Separator
	if err := s.lock(ctx, s.rootKey(oldPath), s.rootKey(newPath)); err != nil {
		return err
	}

	if newPath != oldPath {
		if err := s.claim(ctx, id, newPath); err != nil {
			return err
		}
		if err := s.rewrite(ctx, oldPath, newPath); err != nil {
			return err
		}
	}
	if !store.Equal(normalizeRef(rec[s.cfg.Parent]), parent) {
		if _, err := s.driver.Update(ctx, s.collection(), s.byID(id), store.Changes{s.cfg.Parent: parent}); err != nil {
			return fmt.Errorf("failed to update parent of %s %v: %w", s.entry.Name, id, err)
		}
	}
	s.logger.Debug("moved tree node", "entity", s.entry.Name, "id", id, "from", oldPath, "to", newPath)

	values := store.Changes{s.cfg.Path: newPath}
	if s.cfg.Level != "" {
		values[s.cfg.Level] = s.depth(newPath)
	}
	if !store.Equal(s.parentOf(entity), parent) {
		values[s.cfg.Parent] = parent
	}
	return s.setFields(entity, values)
}

// rewrite replaces the path prefix of a node and all its descendants.
func (s *MaterializedPath) rewrite(ctx context.Context, oldPath, newPath string) error {
	list, err := s.driver.FindMany(ctx, s.collection(), &store.Where{Condition: store.Field(s.cfg.Path).Prefix(oldPath)})
	if err != nil {
		return fmt.Errorf("failed to load subtree of %s at %s: %w", s.entry.Name, oldPath, err)
	}
	for _, rec := range list {
		path := newPath + strings.TrimPrefix(store.AsString(rec[s.cfg.Path]), oldPath)
		set := store.Changes{s.cfg.Path: path}
		if s.cfg.Level != "" {
			set[s.cfg.Level] = s.depth(path)
		}
		if _, err := s.driver.Update(ctx, s.collection(), s.byID(rec[s.entry.IDField]), set); err != nil {
			return fmt.Errorf("failed to rewrite path of %s %v: %w", s.entry.Name, rec[s.entry.IDField], err)
		}
	}
	return nil
}

// Delete implements Strategy.
func (s *MaterializedPath) Delete(ctx context.Context, entity store.Entity) error {
	id := s.id(entity)
	rec, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	path := store.AsString(rec[s.cfg.Path])
	if err := s.lock(ctx, s.rootKey(path)); err != nil {
		return err
	}

	if s.cfg.OnDelete != metadata.OnDeleteReparent {
		if _, err := s.driver.Delete(ctx, s.collection(), store.Field(s.cfg.Path).Prefix(path)); err != nil {
			return fmt.Errorf("failed to delete subtree of %s %v: %w", s.entry.Name, id, err)
		}
		return nil
	}

	if _, err := s.driver.Delete(ctx, s.collection(), s.byID(id)); err != nil {
		return fmt.Errorf("failed to delete %s %v: %w", s.entry.Name, id, err)
	}
	parent := normalizeRef(rec[s.cfg.Parent])
	if _, err := s.driver.Update(ctx, s.collection(), store.Field(s.cfg.Parent).Eq(id), store.Changes{s.cfg.Parent: parent}); err != nil {
		return fmt.Errorf("failed to reparent children of %s %v: %w", s.entry.Name, id, err)
	}
	prefix, _, err := s.parentPath(ctx, parent)
	if err != nil {
		return err
	}
	children, err := s.driver.FindMany(ctx, s.collection(), &store.Where{Condition: store.Field(s.cfg.Parent).Eq(parent).And(store.Field(s.cfg.Path).Prefix(path))})
	if err != nil {
		return fmt.Errorf("failed to load children of %s %v: %w", s.entry.Name, id, err)
	}
	for _, c := range children {
		childPath := store.AsString(c[s.cfg.Path])
		newPath := prefix + strings.TrimPrefix(childPath, path)
		if err := s.lock(ctx, s.rootKey(newPath)); err != nil {
			return err
		}
		if err := s.claim(ctx, c[s.entry.IDField], newPath); err != nil {
			return err
		}
		if err := s.rewrite(ctx, childPath, newPath); err != nil {
			return err
		}
	}
	return nil
}

// Children implements Strategy.
func (s *MaterializedPath) Children(ctx context.Context, id any, direct bool) ([]store.Record, error) {
	cond := store.Field(s.cfg.Parent).Eq(id)
	if !direct {
		rec, err := s.find(ctx, id)
		if err != nil {
			return nil, err
		}
		cond = store.Field(s.cfg.Path).Prefix(store.AsString(rec[s.cfg.Path])).And(store.Field(s.entry.IDField).Eq(id).Not())
	}
	list, err := s.driver.FindMany(ctx, s.collection(), &store.Where{Condition: cond, Sort: []store.Sort{store.Asc(s.cfg.Path)}})
	if err != nil {
		return nil, fmt.Errorf("failed to load children of %s %v: %w", s.entry.Name, id, err)
	}
	return list, nil
}

// Path implements Strategy.
func (s *MaterializedPath) Path(ctx context.Context, id any) ([]store.Record, error) {
	rec, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	path := store.AsString(rec[s.cfg.Path])
	var prefixes []any
	for i := 0; i < len(path); i++ {
		if strings.HasPrefix(path[i:], s.cfg.Separator) {
			prefixes = append(prefixes, path[:i+len(s.cfg.Separator)])
		}
	}
	list, err := s.driver.FindMany(ctx, s.collection(), &store.Where{
		Condition: store.Field(s.cfg.Path).In(prefixes...),
		Sort:      []store.Sort{store.Asc(s.cfg.Path)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load path of %s %v: %w", s.entry.Name, id, err)
	}
	return list, nil
}
