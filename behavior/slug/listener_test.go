package slug_test

import (
	"context"
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/behave/behavior/slug"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/driver/memory"
	"github.com/stokaro/behave/internal/entitytest"
	"github.com/stokaro/behave/lifecycle"
)

func newSlugSession(c *qt.C, cfg metadata.SlugConfig, configure ...func(*slug.Listener) *slug.Listener) *lifecycle.Session {
	registry := metadata.NewRegistry(nil)
	c.Assert(registry.Register(entitytest.New("article", articleFields...), articleEntry(cfg)), qt.IsNil)
	d := memory.New()
	l := slug.NewListener(d)
	for _, fn := range configure {
		l = fn(l)
	}
	return lifecycle.NewSession(d, lifecycle.NewDispatcher(registry, l))
}

func article(title string) *entitytest.Entity {
	return entitytest.New("article", articleFields...).With("title", title)
}

func TestListener_InsertResolvesCollisions(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newSlugSession(c, metadata.SlugConfig{})

	a, b, x := article("Hello, World!"), article("hello world"), article("Hello World?")
	c.Assert(s.Persist(a, b), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(a.FieldValue("slug"), qt.Equals, "hello-world")
	c.Assert(b.FieldValue("slug"), qt.Equals, "hello-world-1")

	c.Assert(s.Remove(a), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(s.Persist(x), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(x.FieldValue("slug"), qt.Equals, "hello-world", qt.Commentf("the freed base is reused"))
}

func TestListener_ManualSlug(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newSlugSession(c, metadata.SlugConfig{})

	a := article("Anything").With("slug", "My Custom Slug")
	b := article("Else").With("slug", "my-custom-slug")
	c.Assert(s.Persist(a, b), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(a.FieldValue("slug"), qt.Equals, "my-custom-slug")
	c.Assert(b.FieldValue("slug"), qt.Equals, "my-custom-slug-1")
}

func TestListener_EmptySources(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	s := newSlugSession(c, metadata.SlugConfig{})
	a := article("???")
	c.Assert(s.Persist(a), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(a.FieldValue("slug"), qt.IsNil)

	s = newSlugSession(c, metadata.SlugConfig{}, func(l *slug.Listener) *slug.Listener {
		return l.WithFallback(func(e store.Entity, _ *metadata.SlugConfig) string {
			return "untitled"
		})
	})
	b, d := article(""), article("")
	c.Assert(s.Persist(b, d), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(b.FieldValue("slug"), qt.Equals, "untitled")
	c.Assert(d.FieldValue("slug"), qt.Equals, "untitled-1")
}

func TestListener_Updatability(t *testing.T) {
	tests := []struct {
		name      string
		updatable bool
		want      string
	}{
		{name: "updatable", updatable: true, want: "second-title"},
		{name: "fixed at creation", updatable: false, want: "first-title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			ctx := context.Background()
			s := newSlugSession(c, metadata.SlugConfig{Updatable: &tt.updatable})

			a := article("First title")
			c.Assert(s.Persist(a), qt.IsNil)
			c.Assert(s.Flush(ctx), qt.IsNil)
			c.Assert(a.FieldValue("slug"), qt.Equals, "first-title")

			a.With("title", "Second title")
			c.Assert(s.Persist(a), qt.IsNil)
			c.Assert(s.Flush(ctx), qt.IsNil)
			c.Assert(a.FieldValue("slug"), qt.Equals, tt.want)
		})
	}
}

func TestListener_UpdateKeepsOwnSlug(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newSlugSession(c, metadata.SlugConfig{})

	a := article("Same")
	c.Assert(s.Persist(a), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)

	a.With("title", "SAME!")
	c.Assert(s.Persist(a), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(a.FieldValue("slug"), qt.Equals, "same")
}

// failAfterInsert fails every flush while set, after the slug was assigned.
type failAfterInsert struct{ fail bool }

func (f *failAfterInsert) Applies(*metadata.Entry) bool { return true }

func (f *failAfterInsert) PostInsert(context.Context, *lifecycle.Event) error {
	if f.fail {
		return errors.New("insert rejected")
	}
	return nil
}

func TestListener_RetryAfterFailedFlush(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	registry := metadata.NewRegistry(nil)
	c.Assert(registry.Register(entitytest.New("article", articleFields...), articleEntry(metadata.SlugConfig{})), qt.IsNil)
	d := memory.New()
	failing := &failAfterInsert{}
	s := lifecycle.NewSession(d, lifecycle.NewDispatcher(registry, slug.NewListener(d), failing))

	a := article("Apple")
	c.Assert(s.Persist(a), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(a.FieldValue("slug"), qt.Equals, "apple")

	failing.fail = true
	b := article("Apple")
	c.Assert(s.Persist(b), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.ErrorMatches, "insert rejected")
	c.Assert(b.FieldValue("slug"), qt.IsNil, qt.Commentf("the generated slug is not kept as a manual one"))

	_, err := d.Delete(ctx, "article", store.Field("id").Eq(a.FieldValue("id")))
	c.Assert(err, qt.IsNil)
	failing.fail = false
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(b.FieldValue("slug"), qt.Equals, "apple")
}

func TestListener_WithReturnsCopy(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	s := newSlugSession(c, metadata.SlugConfig{}, func(l *slug.Listener) *slug.Listener {
		fallback := l.WithFallback(func(store.Entity, *metadata.SlugConfig) string { return "untitled" })
		c.Assert(fallback, qt.Not(qt.Equals), l)
		c.Assert(l.WithLimit(3), qt.Not(qt.Equals), l)
		return l
	})
	e := article("")
	c.Assert(s.Persist(e), qt.IsNil)
	c.Assert(s.Flush(ctx), qt.IsNil)
	c.Assert(e.FieldValue("slug"), qt.IsNil, qt.Commentf("the original listener has no fallback"))
}
