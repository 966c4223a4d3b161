package loggable_test

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/behave/behavior/blame"
	"github.com/stokaro/behave/behavior/loggable"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/driver/memory"
	"github.com/stokaro/behave/internal/entitytest"
	"github.com/stokaro/behave/lifecycle"
)

var articleFields = []string{"id", "title", "rank", "status"}

var loggedAt = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func newSession(c *qt.C) (*memory.Driver, *lifecycle.Session, *metadata.Entry) {
	registry := metadata.NewRegistry(nil)
	c.Assert(registry.Register(entitytest.New("article", articleFields...), &metadata.Entry{
		Loggable: &metadata.LoggableConfig{Versioned: []string{"title", "rank"}},
	}), qt.IsNil)
	entry, err := registry.Lookup("article")
	c.Assert(err, qt.IsNil)

	d := memory.New()
	l := loggable.NewListener(d, func() time.Time { return loggedAt })
	return d, lifecycle.NewSession(d, lifecycle.NewDispatcher(registry, l)), entry
}

func TestListener_History(t *testing.T) {
	c := qt.New(t)
	ctx := blame.WithUser(context.Background(), "alice")
	d, s, entry := newSession(c)

	a := entitytest.New("article", articleFields...).
		With("title", "one").With("rank", int64(3)).With("status", "draft")
	c.Assert(s.Persist(a), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)

	a.With("title", "two")
	c.Assert(s.Persist(a), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)

	// Unversioned fields are not logged.
	a.With("status", "review")
	c.Assert(s.Persist(a), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)

	c.Assert(s.Remove(a), qt.IsNil)
	c.Assert(s.Flush(context.Background()), qt.IsNil)

	list, err := loggable.LogEntries(ctx, d, entry, a.FieldValue("id"))
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 3)

	c.Assert(list[0].Version, qt.Equals, int64(3))
	c.Assert(list[0].Action, qt.Equals, loggable.ActionRemove)
	c.Assert(list[0].Data, qt.IsNil)
	c.Assert(list[0].Username, qt.Equals, "")

	c.Assert(list[1].Version, qt.Equals, int64(2))
	c.Assert(list[1].Action, qt.Equals, loggable.ActionUpdate)
	c.Assert(list[1].Data, qt.DeepEquals, map[string]any{"title": "two"})

	c.Assert(list[2].Version, qt.Equals, int64(1))
	c.Assert(list[2].Action, qt.Equals, loggable.ActionCreate)
	c.Assert(list[2].Data, qt.DeepEquals, map[string]any{"title": "one", "rank": int64(3)})
	c.Assert(list[2].Username, qt.Equals, "alice")
	c.Assert(list[2].LoggedAt.Equal(loggedAt), qt.IsTrue)
	c.Assert(list[2].ObjectClass, qt.Equals, "article")
	c.Assert(list[2].ObjectID, qt.Equals, a.FieldValue("id"))
}

func TestRevert(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d, s, entry := newSession(c)

	a := entitytest.New("article", articleFields...).With("title", "one").With("rank", int64(1))
	c.Assert(s.Persist(a), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	a.With("title", "two").With("rank", int64(2))
	c.Assert(s.Persist(a), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)

	c.Assert(loggable.Revert(ctx, d, a, entry, 1), qt.IsNil)
	c.Assert(a.FieldValue("title"), qt.Equals, "one")
	c.Assert(a.FieldValue("rank"), qt.Equals, int64(1))

	c.Assert(s.Persist(a), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	list, err := loggable.LogEntries(ctx, d, entry, a.FieldValue("id"))
	c.Assert(err, qt.IsNil)
	c.Assert(list[0].Version, qt.Equals, int64(3))
	c.Assert(list[0].Data, qt.DeepEquals, map[string]any{"title": "one", "rank": int64(1)})

	err = loggable.Revert(ctx, d, a, entry, 9)
	c.Assert(err, qt.ErrorIs, store.ErrNotFound)
}

func TestLogEntries_NotLoggable(t *testing.T) {
	c := qt.New(t)
	_, err := loggable.LogEntries(context.Background(), memory.New(), &metadata.Entry{Name: "plain"}, "1")
	c.Assert(err, qt.ErrorMatches, "entity plain is not loggable")
}
