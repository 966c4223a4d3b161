package timestamp_test

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/behave/behavior/timestamp"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/driver/memory"
	"github.com/stokaro/behave/internal/entitytest"
	"github.com/stokaro/behave/lifecycle"
)

var docFields = []string{"id", "title", "status", "created_at", "updated_at", "published_at"}

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestListener(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	registry := metadata.NewRegistry(nil)
	c.Assert(registry.Register(entitytest.New("doc", docFields...), &metadata.Entry{
		Timestamps: []metadata.TriggerConfig{
			{Field: "created_at", On: metadata.OnCreate},
			{Field: "updated_at"},
			{Field: "published_at", On: metadata.OnChange, Track: []string{"status"}, Value: "published"},
		},
	}), qt.IsNil)
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	start := clock.t
	session := lifecycle.NewSession(memory.New(), lifecycle.NewDispatcher(registry, timestamp.NewListener(clock.now)))

	doc := entitytest.New("doc", docFields...).With("title", "draft one").With("status", "draft")
	c.Assert(session.Persist(doc), qt.IsNil)
	c.Assert(session.Flush(ctx), qt.IsNil)
	c.Assert(doc.FieldValue("created_at"), qt.Equals, start)
	c.Assert(doc.FieldValue("updated_at"), qt.Equals, start)
	c.Assert(doc.FieldValue("published_at"), qt.IsNil)

	clock.advance(time.Hour)
	doc.With("title", "draft two")
	c.Assert(session.Persist(doc), qt.IsNil)
	c.Assert(session.Flush(ctx), qt.IsNil)
	c.Assert(doc.FieldValue("created_at"), qt.Equals, start)
	c.Assert(doc.FieldValue("updated_at"), qt.Equals, start.Add(time.Hour))
	c.Assert(doc.FieldValue("published_at"), qt.IsNil)

	clock.advance(time.Hour)
	doc.With("status", "published")
	c.Assert(session.Persist(doc), qt.IsNil)
	c.Assert(session.Flush(ctx), qt.IsNil)
	c.Assert(doc.FieldValue("published_at"), qt.Equals, start.Add(2*time.Hour))

	clock.advance(time.Hour)
	c.Assert(session.Persist(doc), qt.IsNil)
	c.Assert(session.Flush(ctx), qt.IsNil)
	c.Assert(doc.FieldValue("updated_at"), qt.Equals, start.Add(2*time.Hour), qt.Commentf("an unchanged entity is not touched"))
}
