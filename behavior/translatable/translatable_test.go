package translatable_test

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/behave/behavior/translatable"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/driver/memory"
	"github.com/stokaro/behave/internal/entitytest"
	"github.com/stokaro/behave/lifecycle"
)

var articleFields = []string{"id", "title", "body"}

type fixture struct {
	d        *memory.Driver
	session  *lifecycle.Session
	listener *translatable.Listener
	entry    *metadata.Entry
}

func newFixture(c *qt.C) *fixture {
	registry := metadata.NewRegistry(nil)
	c.Assert(registry.Register(entitytest.New("article", articleFields...), &metadata.Entry{
		Translatable: &metadata.TranslatableConfig{Fields: []string{"title"}},
	}), qt.IsNil)
	entry, err := registry.Lookup("article")
	c.Assert(err, qt.IsNil)

	d := memory.New()
	l := translatable.NewListener(d, "en")
	return &fixture{
		d:        d,
		session:  lifecycle.NewSession(d, lifecycle.NewDispatcher(registry, l)),
		listener: l,
		entry:    entry,
	}
}

func (f *fixture) load(c *qt.C, ctx context.Context, id any) *entitytest.Entity {
	c.Helper()
	e := entitytest.New("article", articleFields...)
	c.Assert(f.session.Load(ctx, e, id), qt.IsNil)
	return e
}

func (f *fixture) stored(c *qt.C, id any) store.Record {
	c.Helper()
	rec, err := store.FindByID(context.Background(), f.d, "article", "id", id)
	c.Assert(err, qt.IsNil)
	return rec
}

func TestLocale(t *testing.T) {
	c := qt.New(t)
	c.Assert(translatable.LocaleFrom(context.Background()), qt.Equals, "")
	c.Assert(translatable.LocaleFrom(translatable.WithLocale(context.Background(), "de")), qt.Equals, "de")
}

func TestListener_UpdateInLocale(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	de := translatable.WithLocale(ctx, "de")
	f := newFixture(c)

	a := entitytest.New("article", articleFields...).With("title", "Hello").With("body", "text")
	c.Assert(f.session.Persist(a), qt.IsNil)
	c.Assert(f.session.Flush(ctx), qt.IsNil)
	id := a.FieldValue("id")

	german := f.load(c, de, id)
	c.Assert(german.FieldValue("title"), qt.Equals, "Hello", qt.Commentf("no translation yet"))

	german.With("title", "Hallo").With("body", "Text")
	c.Assert(f.session.Persist(german), qt.IsNil)
	c.Assert(f.session.Flush(de), qt.IsNil)
	c.Assert(german.FieldValue("title"), qt.Equals, "Hallo")

	rec := f.stored(c, id)
	c.Assert(rec["title"], qt.Equals, "Hello")
	c.Assert(rec["body"], qt.Equals, "Text", qt.Commentf("untranslated fields are shared"))

	c.Assert(f.load(c, de, id).FieldValue("title"), qt.Equals, "Hallo")
	c.Assert(f.load(c, ctx, id).FieldValue("title"), qt.Equals, "Hello")
	c.Assert(f.load(c, translatable.WithLocale(ctx, "en"), id).FieldValue("title"), qt.Equals, "Hello")

	all, err := f.listener.Translator().Translations(ctx, f.entry, id)
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.DeepEquals, map[string]map[string]string{"de": {"title": "Hallo"}})

	c.Assert(f.session.Remove(german), qt.IsNil)
	c.Assert(f.session.Flush(ctx), qt.IsNil)
	n, err := f.d.Count(ctx, metadata.DefaultTranslationCollection, nil)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(0))
}

func TestListener_InsertInLocale(t *testing.T) {
	c := qt.New(t)
	de := translatable.WithLocale(context.Background(), "de")
	f := newFixture(c)

	a := entitytest.New("article", articleFields...).With("title", "Nur Deutsch")
	c.Assert(f.session.Persist(a), qt.IsNil)
	c.Assert(f.session.Flush(de), qt.IsNil)

	c.Assert(f.stored(c, a.FieldValue("id"))["title"], qt.Equals, "Nur Deutsch")
	all, err := f.listener.Translator().Translations(context.Background(), f.entry, a.FieldValue("id"))
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.DeepEquals, map[string]map[string]string{"de": {"title": "Nur Deutsch"}})
}

func TestWrapper(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	f := newFixture(c)
	tr := f.listener.Translator()

	a := entitytest.New("article", articleFields...).With("title", "Hello")
	c.Assert(f.session.Persist(a), qt.IsNil)
	c.Assert(f.session.Flush(ctx), qt.IsNil)

	w := tr.Wrap(a, f.entry, "fr")
	v, err := w.Get(ctx, "title")
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, "Hello")

	c.Assert(w.Set("title", "Bonjour"), qt.IsNil)
	c.Assert(a.FieldValue("title"), qt.Equals, "Hello")
	c.Assert(w.Save(ctx), qt.IsNil)

	v, err = tr.Wrap(a, f.entry, "fr").Get(ctx, "title")
	c.Assert(err, qt.IsNil)
	c.Assert(v, qt.Equals, "Bonjour")

	c.Assert(w.Set("body", "x"), qt.ErrorMatches, `field article.body is not translatable`)

	// The default locale writes through to the entity.
	c.Assert(tr.Wrap(a, f.entry, "en").Set("title", "Hi"), qt.IsNil)
	c.Assert(a.FieldValue("title"), qt.Equals, "Hi")

	c.Assert(w.Set("title", nil), qt.IsNil)
	c.Assert(w.Save(ctx), qt.IsNil)
	all, err := tr.Translations(ctx, f.entry, a.FieldValue("id"))
	c.Assert(err, qt.IsNil)
	c.Assert(all, qt.HasLen, 0)
}

func TestTranslator_DefaultLocale(t *testing.T) {
	c := qt.New(t)
	tr := translatable.NewTranslator(memory.New(), "en")

	entry := &metadata.Entry{Name: "page", Translatable: &metadata.TranslatableConfig{Fields: []string{"title"}}}
	c.Assert(tr.DefaultLocale(entry), qt.Equals, "en")
	c.Assert(tr.IsDefault(entry, ""), qt.IsTrue)

	entry.Translatable.DefaultLocale = "de"
	c.Assert(tr.DefaultLocale(entry), qt.Equals, "de")
	c.Assert(tr.IsDefault(entry, "en"), qt.IsFalse)

	_, err := tr.Translations(context.Background(), &metadata.Entry{Name: "plain"}, 1)
	c.Assert(err, qt.ErrorMatches, "entity plain is not translatable")
}
