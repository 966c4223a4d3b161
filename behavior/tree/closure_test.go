package tree_test

import (
	"context"
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/behave/behavior/tree"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/driver/memory"
)

var closureFields = []string{"id", "parent", "level"}

func newClosureStrategy(c *qt.C, onDelete string) (*memory.Driver, tree.Strategy) {
	entry := (&metadata.Entry{Name: "topic", Tree: &metadata.TreeConfig{
		Strategy: metadata.StrategyClosure,
		Parent:   "parent",
		Level:    "level",
		OnDelete: onDelete,
	}}).Normalize()
	c.Assert(entry.Validate(closureFields), qt.IsNil)
	c.Assert(entry.Tree.ClosureCollection, qt.Equals, "topic_closure")
	d := memory.New()
	s, err := tree.New(d, entry)
	c.Assert(err, qt.IsNil)
	return d, s
}

func closureRows(c *qt.C, d store.Driver) map[[2]string]int64 {
	c.Helper()
	list, err := d.FindMany(context.Background(), "topic_closure", nil)
	c.Assert(err, qt.IsNil)
	out := make(map[[2]string]int64, len(list))
	for _, r := range list {
		out[[2]string{store.AsString(r[tree.ClosureAncestor]), store.AsString(r[tree.ClosureDescendant])}] = store.MustInt64(r[tree.ClosureDepth])
	}
	return out
}

func TestClosureTable_InsertAndQuery(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d, s := newClosureStrategy(c, "")
	placeNode(c, d, s, "topic", closureFields, "a", tree.AsRoot())
	placeNode(c, d, s, "topic", closureFields, "b", tree.AsLastChildOf("a"))
	placeNode(c, d, s, "topic", closureFields, "c", tree.AsLastChildOf("b"))

	c.Assert(closureRows(c, d), qt.DeepEquals, map[[2]string]int64{
		{"a", "a"}: 0, {"b", "b"}: 0, {"c", "c"}: 0,
		{"a", "b"}: 1, {"b", "c"}: 1,
		{"a", "c"}: 2,
	})
	c.Assert(load(c, d, "topic", closureFields, "c").Int("level"), qt.Equals, int64(2))

	path, err := s.Path(ctx, "c")
	c.Assert(err, qt.IsNil)
	c.Assert(ids(path), qt.DeepEquals, []string{"a", "b", "c"})

	direct, err := s.Children(ctx, "a", true)
	c.Assert(err, qt.IsNil)
	c.Assert(ids(direct), qt.DeepEquals, []string{"b"})

	all, err := s.Children(ctx, "a", false)
	c.Assert(err, qt.IsNil)
	c.Assert(ids(all), qt.DeepEquals, []string{"b", "c"})
}

func TestClosureTable_Move(t *testing.T) {
	c := qt.New(t)
	d, s := newClosureStrategy(c, "")
	placeNode(c, d, s, "topic", closureFields, "a", tree.AsRoot())
	placeNode(c, d, s, "topic", closureFields, "b", tree.AsLastChildOf("a"))
	placeNode(c, d, s, "topic", closureFields, "c", tree.AsLastChildOf("b"))
	placeNode(c, d, s, "topic", closureFields, "x", tree.AsRoot())

	err := store.RunTransaction(context.Background(), d, func(ctx context.Context) error {
		return s.Move(ctx, load(c, d, "topic", closureFields, "b"), tree.AsLastChildOf("x"))
	})
	c.Assert(err, qt.IsNil)

	c.Assert(closureRows(c, d), qt.DeepEquals, map[[2]string]int64{
		{"a", "a"}: 0, {"b", "b"}: 0, {"c", "c"}: 0, {"x", "x"}: 0,
		{"x", "b"}: 1, {"b", "c"}: 1,
		{"x", "c"}: 2,
	})
	c.Assert(load(c, d, "topic", closureFields, "b").FieldValue("parent"), qt.Equals, "x")
	c.Assert(load(c, d, "topic", closureFields, "c").Int("level"), qt.Equals, int64(2))

	err = store.RunTransaction(context.Background(), d, func(ctx context.Context) error {
		return s.Move(ctx, load(c, d, "topic", closureFields, "x"), tree.AsLastChildOf("c"))
	})
	var cyclic *tree.CyclicMoveError
	c.Assert(errors.As(err, &cyclic), qt.IsTrue)
}

func TestClosureTable_DeleteReparent(t *testing.T) {
	c := qt.New(t)
	d, s := newClosureStrategy(c, metadata.OnDeleteReparent)
	placeNode(c, d, s, "topic", closureFields, "a", tree.AsRoot())
	placeNode(c, d, s, "topic", closureFields, "b", tree.AsLastChildOf("a"))
	placeNode(c, d, s, "topic", closureFields, "c", tree.AsLastChildOf("b"))
	placeNode(c, d, s, "topic", closureFields, "d", tree.AsLastChildOf("c"))

	err := store.RunTransaction(context.Background(), d, func(ctx context.Context) error {
		return s.Delete(ctx, load(c, d, "topic", closureFields, "b"))
	})
	c.Assert(err, qt.IsNil)

	c.Assert(closureRows(c, d), qt.DeepEquals, map[[2]string]int64{
		{"a", "a"}: 0, {"c", "c"}: 0, {"d", "d"}: 0,
		{"a", "c"}: 1, {"c", "d"}: 1,
		{"a", "d"}: 2,
	})
	c.Assert(load(c, d, "topic", closureFields, "c").FieldValue("parent"), qt.Equals, "a")
	c.Assert(load(c, d, "topic", closureFields, "d").Int("level"), qt.Equals, int64(2))
}

func TestClosureTable_DeleteCascade(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d, s := newClosureStrategy(c, "")
	placeNode(c, d, s, "topic", closureFields, "a", tree.AsRoot())
	placeNode(c, d, s, "topic", closureFields, "b", tree.AsLastChildOf("a"))
	placeNode(c, d, s, "topic", closureFields, "c", tree.AsLastChildOf("b"))

	err := store.RunTransaction(ctx, d, func(ctx context.Context) error {
		return s.Delete(ctx, load(c, d, "topic", closureFields, "b"))
	})
	c.Assert(err, qt.IsNil)

	n, err := d.Count(ctx, "topic", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(1))
	c.Assert(closureRows(c, d), qt.DeepEquals, map[[2]string]int64{{"a", "a"}: 0})
}
