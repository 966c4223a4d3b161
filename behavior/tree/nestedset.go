package tree

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
)

// NestedSet maintains left/right interval bounds.
//
// Every node stores an interval [left, right] that strictly contains the
// intervals of its descendants, and a level equal to its number of
// ancestors. With a root field configured every top-level node owns a
// separate numbering space identified by its own identifier. Without one all
// top-level nodes share a single space.
type NestedSet struct {
	base
}

var _ Strategy = (*NestedSet)(nil)

// NewNestedSet creates a nested set strategy for the entry.
func NewNestedSet(d store.Driver, entry *metadata.Entry) *NestedSet {
	return &NestedSet{base: newBase(d, entry)}
}

// WithLogger sets the logger for the strategy
func (s *NestedSet) WithLogger(l *slog.Logger) *NestedSet {
	tmp := *s
	tmp.logger = l
	return &tmp
}

// WithLocker sets the in-process locker used when the driver has no
// advisory locks. Strategies sharing a store should share a locker.
func (s *NestedSet) WithLocker(l store.Locker) *NestedSet {
	tmp := *s
	tmp.locker = l
	return &tmp
}

// node is the stored tree state of one entity.
type node struct {
	id     any
	parent any
	root   any
	left   int64
	right  int64
	level  int64
}

func (n node) width() int64 { return n.right - n.left + 1 }

func (s *NestedSet) rooted() bool { return s.cfg.Root != "" }

func (s *NestedSet) nodeOf(rec store.Record) node {
	n := node{
		id:     rec[s.entry.IDField],
		parent: normalizeRef(rec[s.cfg.Parent]),
		left:   store.MustInt64(rec[s.cfg.Left]),
		right:  store.MustInt64(rec[s.cfg.Right]),
		level:  store.MustInt64(rec[s.cfg.Level]),
	}
	if s.rooted() {
		n.root = rec[s.cfg.Root]
	}
	return n
}

func (s *NestedSet) load(ctx context.Context, id any) (node, error) {
	rec, err := s.find(ctx, id)
	if err != nil {
		return node{}, err
	}
	return s.nodeOf(rec), nil
}

// inTree restricts a condition to the tree identified by root.
func (s *NestedSet) inTree(root any, conds ...*store.Condition) *store.Condition {
	if s.rooted() {
		conds = append([]*store.Condition{store.Field(s.cfg.Root).Eq(root)}, conds...)
	}
	return store.All(conds...)
}

func (s *NestedSet) lockKey(root any) string {
	if s.rooted() {
		return store.LockKey("tree", s.collection(), root)
	}
	return store.LockKey("tree", s.collection())
}

func (s *NestedSet) lockTrees(ctx context.Context, roots ...any) error {
	keys := make([]string, len(roots))
	for i, r := range roots {
		keys[i] = s.lockKey(r)
	}
	return s.lock(ctx, keys...)
}

// shift adds delta to every left and right bound >= from in the tree.
func (s *NestedSet) shift(ctx context.Context, root any, from, delta int64) error {
	for _, field := range []string{s.cfg.Left, s.cfg.Right} {
		_, err := s.driver.Increment(ctx, s.collection(),
			s.inTree(root, store.Field(field).Gte(from)),
			store.Deltas{field: delta}, nil)
		if err != nil {
			return fmt.Errorf("failed to shift %s of %s: %w", field, s.entry.Name, err)
		}
	}
	return nil
}

// shiftRange moves every node inside [left, right] by delta, changes levels
// by levelDelta and optionally assigns set.
func (s *NestedSet) shiftRange(ctx context.Context, root any, left, right, delta, levelDelta int64, set store.Changes) error {
	deltas := store.Deltas{s.cfg.Left: delta, s.cfg.Right: delta}
	if levelDelta != 0 {
		deltas[s.cfg.Level] = levelDelta
	}
	_, err := s.driver.Increment(ctx, s.collection(),
		s.inTree(root, store.Field(s.cfg.Left).Gte(left), store.Field(s.cfg.Right).Lte(right)),
		deltas, set)
	if err != nil {
		return fmt.Errorf("failed to shift subtree of %s: %w", s.entry.Name, err)
	}
	return nil
}

// maxRight returns the largest right bound of the whole collection.
func (s *NestedSet) maxRight(ctx context.Context) (int64, error) {
	rec, err := s.driver.FindOne(ctx, s.collection(), &store.Where{Sort: []store.Sort{store.Desc(s.cfg.Right)}})
	if err != nil {
		return 0, fmt.Errorf("failed to find last node of %s: %w", s.entry.Name, err)
	}
	if rec == nil {
		return 0, nil
	}
	return store.MustInt64(rec[s.cfg.Right]), nil
}

// target is a resolved placement.
type target struct {
	edge   int64
	level  int64
	parent any
	root   any
	// newTree is set when the node becomes the root of its own tree.
	newTree bool
}

// resolve computes where a node lands. self is the identifier of the node
// being placed, used for the root value of new trees.
func (s *NestedSet) resolve(ctx context.Context, self any, p Placement) (target, node, error) {
	if p.Position == PositionRoot {
		if s.rooted() {
			return target{edge: 1, root: self, newTree: true}, node{}, nil
		}
		last, err := s.maxRight(ctx)
		if err != nil {
			return target{}, node{}, err
		}
		return target{edge: last + 1}, node{}, nil
	}

	ref, err := s.load(ctx, p.Ref)
	if err != nil {
		return target{}, node{}, err
	}
	switch p.Position {
	case PositionFirstChild:
		return target{edge: ref.left + 1, level: ref.level + 1, parent: ref.id, root: ref.root}, ref, nil
	case PositionLastChild:
		return target{edge: ref.right, level: ref.level + 1, parent: ref.id, root: ref.root}, ref, nil
	case PositionPrevSibling, PositionNextSibling:
		if ref.parent == nil && s.rooted() {
			return target{}, node{}, fmt.Errorf("failed to place %s next to %v: %w", s.entry.Name, ref.id, ErrRootSibling)
		}
		t := target{edge: ref.left, level: ref.level, parent: ref.parent, root: ref.root}
		if p.Position == PositionNextSibling {
			t.edge = ref.right + 1
		}
		return t, ref, nil
	default:
		return target{}, node{}, fmt.Errorf("unsupported placement %s", p)
	}
}

// Insert implements Strategy. A zero Placement follows the parent field.
func (s *NestedSet) Insert(ctx context.Context, entity store.Entity, p Placement) error {
	id := s.id(entity)
	if p.Position == PositionDefault {
		p = fromParent(s.parentOf(entity))
	}
	if s.rooted() && p.Position == PositionRoot && store.IsNil(id) {
		return fmt.Errorf("failed to insert %s as root: identifier is required", s.entry.Name)
	}

	// Lock before reading the reference node so the bounds stay valid.
	if p.Position != PositionRoot {
		ref, err := s.load(ctx, p.Ref)
		if err != nil {
			return err
		}
		if err := s.lockTrees(ctx, ref.root); err != nil {
			return err
		}
	} else if err := s.lockTrees(ctx, id); err != nil {
		return err
	}

	t, _, err := s.resolve(ctx, id, p)
	if err != nil {
		return err
	}
	if !t.newTree {
		if err := s.shift(ctx, t.root, t.edge, 2); err != nil {
			return err
		}
	}

	s.logger.Debug("inserted tree node", "entity", s.entry.Name, "id", id, "placement", p.String(), "left", t.edge)
	values := store.Changes{
		s.cfg.Left:  t.edge,
		s.cfg.Right: t.edge + 1,
		s.cfg.Level: t.level,
	}
	if s.rooted() {
		values[s.cfg.Root] = t.root
	}
	if !store.Equal(s.parentOf(entity), t.parent) {
		values[s.cfg.Parent] = t.parent
	}
	return s.setFields(entity, values)
}

// Move implements Strategy. A zero Placement follows the parent field.
func (s *NestedSet) Move(ctx context.Context, entity store.Entity, p Placement) error {
	id := s.id(entity)
	if p.Position == PositionDefault {
		p = fromParent(s.parentOf(entity))
	}
	if p.Position != PositionRoot && store.Equal(p.Ref, id) {
		return s.cyclic(id, p.Ref)
	}

	n, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	roots := []any{n.root}
	if p.Position != PositionRoot {
		ref, err := s.load(ctx, p.Ref)
		if err != nil {
			return err
		}
		roots = append(roots, ref.root)
	} else {
		roots = append(roots, id)
	}
	if err := s.lockTrees(ctx, roots...); err != nil {
		return err
	}
	// Bounds may have moved while waiting for the lock.
	if n, err = s.load(ctx, id); err != nil {
		return err
	}

	t, ref, err := s.resolve(ctx, id, p)
	if err != nil {
		return err
	}
	if p.Position != PositionRoot && s.sameTree(n, ref) && ref.left >= n.left && ref.left <= n.right {
		return s.cyclic(id, p.Ref)
	}

	switch {
	case t.newTree && n.parent == nil:
		// Already the root of its own tree.
	case t.newTree || (s.rooted() && !store.Equal(t.root, n.root)):
		if !t.newTree && !s.cfg.CrossRootMoves() {
			return fmt.Errorf("failed to move %s %v: %w", s.entry.Name, id, ErrCrossRootMove)
		}
		if err := s.moveAcross(ctx, n, t); err != nil {
			return err
		}
	default:
		if err := s.moveWithin(ctx, n, t); err != nil {
			return err
		}
	}

	if !store.Equal(n.parent, t.parent) {
		if _, err := s.driver.Update(ctx, s.collection(), s.byID(id), store.Changes{s.cfg.Parent: t.parent}); err != nil {
			return fmt.Errorf("failed to update parent of %s %v: %w", s.entry.Name, id, err)
		}
	}

	if s.cfg.Verifies() {
		for _, root := range dedupe(roots) {
			if err := s.Verify(ctx, root); err != nil {
				return err
			}
		}
	}
	return s.refresh(ctx, entity)
}

func (s *NestedSet) sameTree(a, b node) bool {
	return !s.rooted() || store.Equal(a.root, b.root)
}

// moveWithin relocates a subtree inside its own tree: open a gap at the
// destination, shift the subtree into it, then close the vacated range.
func (s *NestedSet) moveWithin(ctx context.Context, n node, t target) error {
	if t.edge == n.left || t.edge == n.right+1 {
		if t.level == n.level {
			return nil
		}
	}
	w := n.width()
	if err := s.shift(ctx, n.root, t.edge, w); err != nil {
		return err
	}
	left, right := n.left, n.right
	if t.edge <= left {
		left += w
		right += w
	}
	if err := s.shiftRange(ctx, n.root, left, right, t.edge-left, t.level-n.level, nil); err != nil {
		return err
	}
	if err := s.shift(ctx, n.root, right+1, -w); err != nil {
		return err
	}
	s.logger.Debug("moved tree node", "entity", s.entry.Name, "id", n.id, "root", n.root, "delta", t.edge-left)
	return nil
}

// moveAcross relocates a subtree into another tree, or into a new tree of
// its own when t.newTree is set.
func (s *NestedSet) moveAcross(ctx context.Context, n node, t target) error {
	w := n.width()
	if !t.newTree {
		if err := s.shift(ctx, t.root, t.edge, w); err != nil {
			return err
		}
	}
	if err := s.shiftRange(ctx, n.root, n.left, n.right, t.edge-n.left, t.level-n.level, store.Changes{s.cfg.Root: t.root}); err != nil {
		return err
	}
	if err := s.shift(ctx, n.root, n.right+1, -w); err != nil {
		return err
	}
	s.logger.Debug("moved tree node across trees", "entity", s.entry.Name, "id", n.id, "from", n.root, "to", t.root)
	return nil
}

// Delete implements Strategy. It removes the node's record; descendants are
// removed too (cascade) or lifted one level up (reparent).
func (s *NestedSet) Delete(ctx context.Context, entity store.Entity) error {
	id := s.id(entity)
	n, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.lockTrees(ctx, n.root); err != nil {
		return err
	}
	if n, err = s.load(ctx, id); err != nil {
		return err
	}

	touched := []any{n.root}
	if s.cfg.OnDelete == metadata.OnDeleteReparent {
		roots, err := s.deleteReparent(ctx, n)
		if err != nil {
			return err
		}
		touched = append(touched, roots...)
	} else {
		_, err := s.driver.Delete(ctx, s.collection(),
			s.inTree(n.root, store.Field(s.cfg.Left).Gte(n.left), store.Field(s.cfg.Right).Lte(n.right)))
		if err != nil {
			return fmt.Errorf("failed to delete subtree of %s %v: %w", s.entry.Name, id, err)
		}
		if err := s.shift(ctx, n.root, n.right+1, -n.width()); err != nil {
			return err
		}
	}
	s.logger.Debug("deleted tree node", "entity", s.entry.Name, "id", id, "root", n.root, "policy", s.cfg.OnDelete)

	if s.cfg.Verifies() {
		for _, root := range touched {
			if err := s.Verify(ctx, root); err != nil {
				return err
			}
		}
	}
	return nil
}

// deleteReparent removes a single node and hands its children to its
// parent. Children of a removed root become roots of their own trees; their
// identifiers are returned.
func (s *NestedSet) deleteReparent(ctx context.Context, n node) ([]any, error) {
	if _, err := s.driver.Delete(ctx, s.collection(), s.byID(n.id)); err != nil {
		return nil, fmt.Errorf("failed to delete %s %v: %w", s.entry.Name, n.id, err)
	}

	if n.parent == nil && s.rooted() {
		children, err := s.driver.FindMany(ctx, s.collection(), &store.Where{
			Condition: s.inTree(n.root, store.Field(s.cfg.Parent).Eq(n.id)),
			Sort:      []store.Sort{store.Asc(s.cfg.Left)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load children of %s %v: %w", s.entry.Name, n.id, err)
		}
		var roots []any
		for _, rec := range children {
			c := s.nodeOf(rec)
			if err := s.lockTrees(ctx, c.id); err != nil {
				return nil, err
			}
			if err := s.shiftRange(ctx, n.root, c.left, c.right, 1-c.left, -1, store.Changes{s.cfg.Root: c.id}); err != nil {
				return nil, err
			}
			if _, err := s.driver.Update(ctx, s.collection(), s.byID(c.id), store.Changes{s.cfg.Parent: nil}); err != nil {
				return nil, fmt.Errorf("failed to detach %s %v: %w", s.entry.Name, c.id, err)
			}
			roots = append(roots, c.id)
		}
		return roots, nil
	}

	if _, err := s.driver.Update(ctx, s.collection(),
		s.inTree(n.root, store.Field(s.cfg.Parent).Eq(n.id)),
		store.Changes{s.cfg.Parent: n.parent}); err != nil {
		return nil, fmt.Errorf("failed to reparent children of %s %v: %w", s.entry.Name, n.id, err)
	}
	if n.right-n.left > 1 {
		if err := s.shiftRange(ctx, n.root, n.left+1, n.right-1, -1, -1, nil); err != nil {
			return nil, err
		}
	}
	return nil, s.shift(ctx, n.root, n.right+1, -2)
}

// refresh copies the stored managed fields back into the entity.
func (s *NestedSet) refresh(ctx context.Context, entity store.Entity) error {
	rec, err := s.find(ctx, s.id(entity))
	if err != nil {
		return err
	}
	values := store.Changes{
		s.cfg.Left:  rec[s.cfg.Left],
		s.cfg.Right: rec[s.cfg.Right],
		s.cfg.Level: rec[s.cfg.Level],
	}
	if s.rooted() {
		values[s.cfg.Root] = rec[s.cfg.Root]
	}
	if !store.Equal(s.parentOf(entity), rec[s.cfg.Parent]) {
		values[s.cfg.Parent] = rec[s.cfg.Parent]
	}
	return s.setFields(entity, values)
}

func dedupe(values []any) []any {
	var out []any
	for _, v := range values {
		seen := false
		for _, o := range out {
			if store.Equal(o, v) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, v)
		}
	}
	return out
}
