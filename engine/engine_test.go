package engine_test

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/behave/behavior/blame"
	"github.com/stokaro/behave/behavior/loggable"
	"github.com/stokaro/behave/behavior/tree"
	"github.com/stokaro/behave/config"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/driver/memory"
	"github.com/stokaro/behave/engine"
	"github.com/stokaro/behave/internal/entitytest"
	"github.com/stokaro/behave/lifecycle"
)

var (
	categoryFields = []string{"id", "title", "slug", "parent", "lft", "rgt", "lvl", "root", "created_at", "updated_at", "deleted_at"}
	itemFields     = []string{"id", "title", "category", "position", "created_by"}
)

var clock = time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)

func newEngine(c *qt.C) *engine.Engine {
	registry := metadata.NewRegistry(nil)
	c.Assert(registry.Register(entitytest.New("category", categoryFields...), &metadata.Entry{
		Tree:  &metadata.TreeConfig{Parent: "parent", Left: "lft", Right: "rgt", Level: "lvl", Root: "root"},
		Slugs: []metadata.SlugConfig{{Field: "slug", Sources: []string{"title"}}},
		Timestamps: []metadata.TriggerConfig{
			{Field: "created_at", On: metadata.OnCreate},
			{Field: "updated_at"},
		},
		SoftDelete: &metadata.SoftDeleteConfig{Field: "deleted_at"},
	}), qt.IsNil)
	c.Assert(registry.Register(entitytest.New("item", itemFields...), &metadata.Entry{
		Sortable: &metadata.SortableConfig{Position: "position", Groups: []string{"category"}},
		Blames:   []metadata.TriggerConfig{{Field: "created_by", On: metadata.OnCreate}},
		Loggable: &metadata.LoggableConfig{Versioned: []string{"title"}},
	}), qt.IsNil)
	opts := config.DefaultOptions().WithClock(func() time.Time { return clock })
	return engine.New(memory.New(), registry, opts)
}

func category(title string) *entitytest.Entity {
	return entitytest.New("category", categoryFields...).With("title", title)
}

func item(title string, cat any) *entitytest.Entity {
	return entitytest.New("item", itemFields...).With("title", title).With("category", cat)
}

func TestEngine_TreeWithSlugsAndTimestamps(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newEngine(c)
	s := e.Session()

	fruits := category("Fruits")
	apples := category("Apples").With("parent", fruits)
	// The child is scheduled first and waits for its parent.
	c.Assert(s.Persist(apples, fruits), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)

	c.Assert(fruits.Int("lft"), qt.Equals, int64(1))
	c.Assert(fruits.Int("rgt"), qt.Equals, int64(4))
	c.Assert(apples.Int("lft"), qt.Equals, int64(2))
	c.Assert(apples.Int("rgt"), qt.Equals, int64(3))
	c.Assert(apples.Int("lvl"), qt.Equals, int64(1))
	c.Assert(apples.FieldValue("root"), qt.Equals, fruits.FieldValue("id"))
	c.Assert(fruits.FieldValue("slug"), qt.Equals, "fruits")
	c.Assert(apples.FieldValue("slug"), qt.Equals, "apples")
	c.Assert(apples.FieldValue("created_at"), qt.Equals, clock)

	more := category("Apples").With("parent", fruits)
	c.Assert(s.Persist(more), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(more.FieldValue("slug"), qt.Equals, "apples-1")
	c.Assert(fruits.Int("rgt"), qt.Equals, int64(6), qt.Commentf("refreshed after the flush"))

	err := tree.NewNestedSet(e.Driver(), lookup(c, e.Registry(), "category")).Verify(ctx, fruits.FieldValue("id"))
	c.Assert(err, qt.IsNil)
}

func TestEngine_SoftDeletedNodeStaysInTree(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	e := newEngine(c)
	s := e.Session()

	root := category("Root")
	child := category("Child").With("parent", root)
	c.Assert(s.Persist(root, child), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)

	c.Assert(s.Remove(child), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(child.FieldValue("deleted_at"), qt.Equals, clock)
	c.Assert(root.Int("rgt"), qt.Equals, int64(4))

	list, err := s.Find(ctx, "category", nil, entitytest.Factory("category", categoryFields...))
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 1)
	list, err = s.Find(ctx, "category", nil, entitytest.Factory("category", categoryFields...), lifecycle.WithDeleted())
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 2)
}

func TestEngine_SortableItems(t *testing.T) {
	c := qt.New(t)
	ctx := blame.WithUser(context.Background(), "editor")
	e := newEngine(c)
	s := e.Session()

	a, b, d := item("a", "red"), item("b", "red"), item("d", "red")
	c.Assert(s.Persist(a, b, d), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert([]int64{a.Int("position"), b.Int("position"), d.Int("position")}, qt.DeepEquals, []int64{0, 1, 2})
	c.Assert(a.FieldValue("created_by"), qt.Equals, "editor")

	c.Assert(s.Remove(b), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(d.Int("position"), qt.Equals, int64(1))

	d.With("position", int64(0)).With("title", "d2")
	c.Assert(s.Persist(d), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(a.Int("position"), qt.Equals, int64(1))
	c.Assert(d.Int("position"), qt.Equals, int64(0))

	history, err := loggable.LogEntries(ctx, e.Driver(), lookup(c, e.Registry(), "item"), d.FieldValue("id"))
	c.Assert(err, qt.IsNil)
	c.Assert(history, qt.HasLen, 2)
	c.Assert(history[0].Data, qt.DeepEquals, map[string]any{"title": "d2"})
	c.Assert(history[0].Username, qt.Equals, "editor")
}

func TestEngine_DefaultUser(t *testing.T) {
	c := qt.New(t)
	e := newEngine(c).WithDefaultUser("system")
	s := e.Session()

	i := item("x", "blue")
	c.Assert(s.Persist(i), qt.IsNil)
	c.Assert(s.Flush(context.Background()), qt.IsNil)
	c.Assert(i.FieldValue("created_by"), qt.Equals, "system")
	c.Assert(e.Options().MaxSlugSuffix, qt.Equals, config.DefaultMaxSlugSuffix)
}

func lookup(c *qt.C, r *metadata.Registry, name string) *metadata.Entry {
	c.Helper()
	entry, err := r.Lookup(name)
	c.Assert(err, qt.IsNil)
	return entry
}
