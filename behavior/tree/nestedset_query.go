package tree

import (
	"context"
	"fmt"
	"slices"

	"github.com/stokaro/behave/core/store"
)

// nodes loads every node of a tree ordered by left bound.
func (s *NestedSet) nodes(ctx context.Context, root any) ([]store.Record, error) {
	list, err := s.driver.FindMany(ctx, s.collection(), &store.Where{
		Condition: s.inTree(root),
		Sort:      []store.Sort{store.Asc(s.cfg.Left)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load tree of %s: %w", s.entry.Name, err)
	}
	return list, nil
}

// Verify checks every invariant of one tree: left < right, intervals nest
// without overlapping, levels count ancestors, parents match the enclosing
// interval and the bounds cover 1..2n without gaps or duplicates. The root
// is ignored without a root field. An empty tree is valid.
func (s *NestedSet) Verify(ctx context.Context, root any) error {
	list, err := s.nodes(ctx, root)
	if err != nil {
		return err
	}
	corrupt := func(id any, format string, args ...any) error {
		return &CorruptionError{Entity: s.entry.Name, Root: root, ID: id, Reason: fmt.Sprintf(format, args...)}
	}

	bounds := make([]int64, 0, 2*len(list))
	var stack []node
	for _, rec := range list {
		n := s.nodeOf(rec)
		if n.left >= n.right {
			return corrupt(n.id, "left %d is not below right %d", n.left, n.right)
		}
		bounds = append(bounds, n.left, n.right)

		for len(stack) > 0 && stack[len(stack)-1].right < n.left {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			if n.parent != nil {
				return corrupt(n.id, "top-level node has parent %v", n.parent)
			}
		} else {
			top := stack[len(stack)-1]
			if n.right > top.right {
				return corrupt(n.id, "interval [%d, %d] overlaps [%d, %d] of %v", n.left, n.right, top.left, top.right, top.id)
			}
			if !store.Equal(n.parent, top.id) {
				return corrupt(n.id, "parent is %v but the enclosing node is %v", n.parent, top.id)
			}
		}
		if n.level != int64(len(stack)) {
			return corrupt(n.id, "level is %d but the node has %d ancestors", n.level, len(stack))
		}
		if s.rooted() && len(stack) == 0 && !store.Equal(n.id, root) {
			return corrupt(n.id, "top-level node is not the root")
		}
		stack = append(stack, n)
	}

	slices.Sort(bounds)
	for i, b := range bounds {
		if b != int64(i+1) {
			return corrupt(nil, "bounds are not contiguous: expected %d, found %d", i+1, b)
		}
	}
	return nil
}

// Recover rebuilds the bounds and levels of a tree from the parent field.
// Siblings keep their current relative order. Nodes whose parent does not
// exist in the tree make the tree unrecoverable.
func (s *NestedSet) Recover(ctx context.Context, root any) error {
	if err := s.lockTrees(ctx, root); err != nil {
		return err
	}
	list, err := s.nodes(ctx, root)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(list))
	children := make(map[string][]node)
	var tops []node
	for _, rec := range list {
		known[store.AsString(rec[s.entry.IDField])] = true
	}
	for _, rec := range list {
		n := s.nodeOf(rec)
		if n.parent == nil {
			tops = append(tops, n)
			continue
		}
		key := store.AsString(n.parent)
		if !known[key] {
			return &CorruptionError{Entity: s.entry.Name, Root: root, ID: n.id, Reason: fmt.Sprintf("parent %v does not exist", n.parent)}
		}
		children[key] = append(children[key], n)
	}

	var counter int64
	var walk func(n node, level int64) error
	walk = func(n node, level int64) error {
		counter++
		left := counter
		for _, c := range children[store.AsString(n.id)] {
			if err := walk(c, level+1); err != nil {
				return err
			}
		}
		counter++
		set := store.Changes{s.cfg.Left: left, s.cfg.Right: counter, s.cfg.Level: level}
		if s.rooted() {
			set[s.cfg.Root] = root
		}
		if _, err := s.driver.Update(ctx, s.collection(), s.byID(n.id), set); err != nil {
			return fmt.Errorf("failed to rewrite bounds of %s %v: %w", s.entry.Name, n.id, err)
		}
		return nil
	}
	for _, top := range tops {
		if err := walk(top, 0); err != nil {
			return err
		}
	}
	s.logger.Info("recovered tree", "entity", s.entry.Name, "root", root, "nodes", len(list))
	return nil
}

// Children implements Strategy.
func (s *NestedSet) Children(ctx context.Context, id any, direct bool) ([]store.Record, error) {
	n, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	cond := s.inTree(n.root, store.Field(s.cfg.Left).Gt(n.left), store.Field(s.cfg.Right).Lt(n.right))
	if direct {
		cond = s.inTree(n.root, store.Field(s.cfg.Parent).Eq(n.id))
	}
	list, err := s.driver.FindMany(ctx, s.collection(), &store.Where{
		Condition: cond,
		Sort:      []store.Sort{store.Asc(s.cfg.Left)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load children of %s %v: %w", s.entry.Name, id, err)
	}
	return list, nil
}

// Path implements Strategy.
func (s *NestedSet) Path(ctx context.Context, id any) ([]store.Record, error) {
	n, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	list, err := s.driver.FindMany(ctx, s.collection(), &store.Where{
		Condition: s.inTree(n.root, store.Field(s.cfg.Left).Lte(n.left), store.Field(s.cfg.Right).Gte(n.right)),
		Sort:      []store.Sort{store.Asc(s.cfg.Left)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load path of %s %v: %w", s.entry.Name, id, err)
	}
	return list, nil
}

// ChildCount counts the descendants of a node, only the direct ones if direct.
func (s *NestedSet) ChildCount(ctx context.Context, id any, direct bool) (int64, error) {
	n, err := s.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if !direct {
		return (n.right - n.left - 1) / 2, nil
	}
	count, err := s.driver.Count(ctx, s.collection(), s.inTree(n.root, store.Field(s.cfg.Parent).Eq(n.id)))
	if err != nil {
		return 0, fmt.Errorf("failed to count children of %s %v: %w", s.entry.Name, id, err)
	}
	return count, nil
}

// Roots lists the top-level nodes.
func (s *NestedSet) Roots(ctx context.Context) ([]store.Record, error) {
	sort := []store.Sort{store.Asc(s.cfg.Left)}
	if s.rooted() {
		sort = []store.Sort{store.Asc(s.cfg.Root)}
	}
	list, err := s.driver.FindMany(ctx, s.collection(), &store.Where{
		Condition: store.Field(s.cfg.Parent).Nil(),
		Sort:      sort,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load roots of %s: %w", s.entry.Name, err)
	}
	return list, nil
}

// MoveUp moves a node before its previous siblings. steps <= 0 moves it to
// the first position. Roots of separate trees are left in place.
func (s *NestedSet) MoveUp(ctx context.Context, entity store.Entity, steps int) error {
	return s.moveAmongSiblings(ctx, entity, true, steps)
}

// MoveDown moves a node after its next siblings. steps <= 0 moves it to the
// last position.
func (s *NestedSet) MoveDown(ctx context.Context, entity store.Entity, steps int) error {
	return s.moveAmongSiblings(ctx, entity, false, steps)
}

func (s *NestedSet) moveAmongSiblings(ctx context.Context, entity store.Entity, up bool, steps int) error {
	n, err := s.load(ctx, s.id(entity))
	if err != nil {
		return err
	}
	if n.parent == nil && s.rooted() {
		return nil
	}
	siblings, err := s.driver.FindMany(ctx, s.collection(), &store.Where{
		Condition: s.inTree(n.root, store.Field(s.cfg.Parent).Eq(n.parent)),
		Sort:      []store.Sort{store.Asc(s.cfg.Left)},
	})
	if err != nil {
		return fmt.Errorf("failed to load siblings of %s %v: %w", s.entry.Name, n.id, err)
	}
	idx := slices.IndexFunc(siblings, func(r store.Record) bool { return store.Equal(r[s.entry.IDField], n.id) })
	if idx < 0 {
		return &CorruptionError{Entity: s.entry.Name, Root: n.root, ID: n.id, Reason: "node is missing among its siblings"}
	}

	var to int
	switch {
	case up && steps <= 0:
		to = 0
	case up:
		to = max(0, idx-steps)
	case steps <= 0:
		to = len(siblings) - 1
	default:
		to = min(len(siblings)-1, idx+steps)
	}
	if to == idx {
		return nil
	}
	ref := siblings[to][s.entry.IDField]
	if to < idx {
		return s.Move(ctx, entity, AsPrevSiblingOf(ref))
	}
	return s.Move(ctx, entity, AsNextSiblingOf(ref))
}
