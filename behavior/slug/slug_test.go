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
)

var articleFields = []string{"id", "title", "lang", "slug"}

func articleEntry(cfg metadata.SlugConfig) *metadata.Entry {
	if cfg.Field == "" {
		cfg.Field = "slug"
	}
	if cfg.Sources == nil {
		cfg.Sources = []string{"title"}
	}
	return (&metadata.Entry{Name: "article", Slugs: []metadata.SlugConfig{cfg}}).Normalize()
}

func seed(c *qt.C, d store.Driver, rows ...store.Record) {
	c.Helper()
	c.Assert(d.Insert(context.Background(), "article", rows...), qt.IsNil)
}

func resolve(c *qt.C, d store.Driver, r *slug.Resolver, e store.Entity, base string) (string, error) {
	c.Helper()
	var out string
	err := store.RunTransaction(context.Background(), d, func(ctx context.Context) error {
		var err error
		out, err = r.Unique(ctx, e, base)
		return err
	})
	return out, err
}

func TestBuilder_Base(t *testing.T) {
	tests := []struct {
		name   string
		cfg    metadata.SlugConfig
		values map[string]any
		want   string
	}{
		{
			name:   "single source",
			values: map[string]any{"title": "Hello, World!"},
			want:   "hello-world",
		},
		{
			name:   "sources in declared order",
			cfg:    metadata.SlugConfig{Sources: []string{"lang", "title"}},
			values: map[string]any{"title": "Bonjour", "lang": "FR"},
			want:   "fr-bonjour",
		},
		{
			name:   "empty sources are skipped",
			cfg:    metadata.SlugConfig{Sources: []string{"lang", "title"}},
			values: map[string]any{"title": "Bonjour", "lang": ""},
			want:   "bonjour",
		},
		{
			name:   "prefix and suffix after urlization",
			cfg:    metadata.SlugConfig{Prefix: "News_", Suffix: ".html"},
			values: map[string]any{"title": "Big Day"},
			want:   "News_big-day.html",
		},
		{
			name:   "numeric source",
			cfg:    metadata.SlugConfig{Sources: []string{"id", "title"}},
			values: map[string]any{"id": 42, "title": "Answer"},
			want:   "42-answer",
		},
		{
			name:   "all sources empty",
			values: map[string]any{"title": " ?! "},
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			entry := articleEntry(tt.cfg)
			e := entitytest.New("article", articleFields...)
			for k, v := range tt.values {
				e.With(k, v)
			}
			c.Assert(slug.NewBuilder(&entry.Slugs[0]).Base(e), qt.Equals, tt.want)
		})
	}
}

func TestResolver_ReusesLowestFreeSuffix(t *testing.T) {
	c := qt.New(t)
	d := memory.New()
	entry := articleEntry(metadata.SlugConfig{})
	seed(c, d,
		store.Record{"id": "1", "slug": "apple"},
		store.Record{"id": "2", "slug": "apple-1"},
		store.Record{"id": "3", "slug": "apple-3"},
		store.Record{"id": "4", "slug": "apples"},
	)
	r := slug.NewResolver(d, entry, &entry.Slugs[0])

	got, err := resolve(c, d, r, entitytest.New("article", articleFields...).With("id", "9"), "apple")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "apple-2")

	got, err = resolve(c, d, r, entitytest.New("article", articleFields...).With("id", "9"), "pear")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "pear")
}

func TestResolver_ExcludesOwnRecord(t *testing.T) {
	c := qt.New(t)
	d := memory.New()
	entry := articleEntry(metadata.SlugConfig{})
	seed(c, d, store.Record{"id": "1", "slug": "apple"})
	r := slug.NewResolver(d, entry, &entry.Slugs[0])

	got, err := resolve(c, d, r, entitytest.New("article", articleFields...).With("id", "1"), "apple")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "apple")
}

func TestResolver_UniqueBasePartitions(t *testing.T) {
	c := qt.New(t)
	d := memory.New()
	entry := articleEntry(metadata.SlugConfig{UniqueBase: "lang"})
	seed(c, d,
		store.Record{"id": "1", "lang": "en", "slug": "home"},
		store.Record{"id": "2", "lang": "fr", "slug": "home"},
		store.Record{"id": "3", "lang": "fr", "slug": "home-1"},
	)
	r := slug.NewResolver(d, entry, &entry.Slugs[0])

	got, err := resolve(c, d, r, entitytest.New("article", articleFields...).With("lang", "de"), "home")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "home")

	got, err = resolve(c, d, r, entitytest.New("article", articleFields...).With("lang", "fr"), "home")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "home-2")
}

func TestResolver_MaxLengthKeepsSuffix(t *testing.T) {
	c := qt.New(t)
	d := memory.New()
	entry := articleEntry(metadata.SlugConfig{MaxLength: 8})
	seed(c, d, store.Record{"id": "1", "slug": "abcdefgh"})
	r := slug.NewResolver(d, entry, &entry.Slugs[0]).WithLimit(99)

	got, err := resolve(c, d, r, entitytest.New("article", articleFields...), "abcdefghijkl")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "abcdef-1")
}

func TestResolver_NotUnique(t *testing.T) {
	c := qt.New(t)
	d := memory.New()
	no := false
	entry := articleEntry(metadata.SlugConfig{Unique: &no})
	seed(c, d, store.Record{"id": "1", "slug": "apple"})
	r := slug.NewResolver(d, entry, &entry.Slugs[0])

	got, err := r.Unique(context.Background(), entitytest.New("article", articleFields...), "apple")
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, "apple")
}

func TestResolver_Exhausted(t *testing.T) {
	c := qt.New(t)
	d := memory.New()
	entry := articleEntry(metadata.SlugConfig{})
	seed(c, d,
		store.Record{"id": "1", "slug": "apple"},
		store.Record{"id": "2", "slug": "apple-1"},
		store.Record{"id": "3", "slug": "apple-2"},
	)
	r := slug.NewResolver(d, entry, &entry.Slugs[0]).WithLimit(2)

	_, err := resolve(c, d, r, entitytest.New("article", articleFields...), "apple")
	var exhausted *slug.UniquenessExhaustedError
	c.Assert(errors.As(err, &exhausted), qt.IsTrue)
	c.Assert(exhausted.Limit, qt.Equals, 2)
	c.Assert(exhausted.Base, qt.Equals, "apple")
}

func TestResolver_RequiresTransaction(t *testing.T) {
	c := qt.New(t)
	entry := articleEntry(metadata.SlugConfig{})
	r := slug.NewResolver(memory.New(), entry, &entry.Slugs[0])

	_, err := r.Unique(context.Background(), entitytest.New("article", articleFields...), "apple")
	c.Assert(err, qt.ErrorIs, store.ErrNoTransaction)
}
