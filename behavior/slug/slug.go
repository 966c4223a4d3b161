// Package slug derives URL-safe identifiers from entity fields and keeps them
// unique.
//
// A Builder produces the base slug from the configured source fields. A
// Resolver makes it unique within its partition by appending the lowest free
// numeric suffix, so gaps left by deleted records are reused:
//
//	existing: apple, apple-1, apple-3
//	new:      apple-2
package slug

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/stokaro/behave/config"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
)

// Builder derives slug bases from source fields.
type Builder struct {
	cfg *metadata.SlugConfig
}

// NewBuilder creates a builder for one slug field.
func NewBuilder(cfg *metadata.SlugConfig) Builder {
	return Builder{cfg: cfg}
}

// Base joins the non-empty source values, urlizes them and applies the
// prefix and suffix. It returns "" when every source is empty.
func (b Builder) Base(entity store.Entity) string {
	var parts []string
	for _, f := range b.cfg.Sources {
		if v := store.AsString(store.Identify(entity.FieldValue(f), "")); v != "" {
			parts = append(parts, v)
		}
	}
	base := Format(strings.Join(parts, b.cfg.Separator), b.cfg.Separator, b.cfg.Style)
	if base == "" {
		return ""
	}
	return b.cfg.Prefix + base + b.cfg.Suffix
}

// Manual normalizes a slug supplied by the caller.
func (b Builder) Manual(text string) string {
	return Format(text, b.cfg.Separator, b.cfg.Style)
}

// Resolver makes slugs unique among stored records.
type Resolver struct {
	driver store.Driver
	locker store.Locker
	entry  *metadata.Entry
	cfg    *metadata.SlugConfig
	limit  int
	logger *slog.Logger
}

// NewResolver creates a resolver for one slug field of the entry.
func NewResolver(d store.Driver, entry *metadata.Entry, cfg *metadata.SlugConfig) *Resolver {
	return &Resolver{
		driver: d,
		locker: store.NewKeyedLocker(),
		entry:  entry,
		cfg:    cfg,
		limit:  config.DefaultMaxSlugSuffix,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the resolver
func (r *Resolver) WithLogger(l *slog.Logger) *Resolver {
	tmp := *r
	tmp.logger = l
	return &tmp
}

// WithLocker sets the in-process locker.
func (r *Resolver) WithLocker(l store.Locker) *Resolver {
	tmp := *r
	tmp.locker = l
	return &tmp
}

// WithLimit sets the highest numeric suffix tried.
func (r *Resolver) WithLimit(n int) *Resolver {
	tmp := *r
	tmp.limit = n
	return &tmp
}

// Unique returns base, or base with the lowest free suffix when base is
// taken by another record of the same partition. The entity's own stored
// slug never counts as taken. Unique must run inside a transaction.
func (r *Resolver) Unique(ctx context.Context, entity store.Entity, base string) (string, error) {
	if base == "" {
		return "", nil
	}
	base = truncate(base, r.cfg.MaxLength)
	if !r.cfg.IsUnique() {
		return base, nil
	}

	var partition any
	if r.cfg.UniqueBase != "" {
		partition = store.Identify(entity.FieldValue(r.cfg.UniqueBase), "")
	}
	if err := store.Lock(ctx, r.driver, r.locker, store.LockKey("slug", r.entry.Collection, r.cfg.Field, partition)); err != nil {
		return "", err
	}

	taken, err := r.taken(ctx, entity, partition, r.stem(base))
	if err != nil {
		return "", err
	}
	if !taken[base] {
		return base, nil
	}
	for n := 1; n <= r.limit; n++ {
		if c := r.candidate(base, n); !taken[c] {
			r.logger.Debug("resolved slug collision", "entity", r.entry.Name, "base", base, "slug", c)
			return c, nil
		}
	}
	return "", &UniquenessExhaustedError{Entity: r.entry.Name, Field: r.cfg.Field, Base: base, Limit: r.limit}
}

// candidate appends suffix n, shortening base so the result fits MaxLength.
func (r *Resolver) candidate(base string, n int) string {
	suffix := r.cfg.Separator + strconv.Itoa(n)
	if r.cfg.MaxLength > 0 {
		base = strings.TrimSuffix(truncate(base, r.cfg.MaxLength-utf8.RuneCountInString(suffix)), r.cfg.Separator)
	}
	return base + suffix
}

// stem is the shortest prefix shared by all candidates of base.
func (r *Resolver) stem(base string) string {
	longest := r.candidate(base, r.limit)
	return longest[:len(longest)-len(r.cfg.Separator+strconv.Itoa(r.limit))]
}

// taken collects the slugs of the other records in the partition starting
// with stem.
func (r *Resolver) taken(ctx context.Context, entity store.Entity, partition any, stem string) (map[string]bool, error) {
	conds := []*store.Condition{store.Field(r.cfg.Field).Prefix(stem)}
	if r.cfg.UniqueBase != "" {
		conds = append(conds, store.Field(r.cfg.UniqueBase).Eq(partition))
	}
	if id := entity.FieldValue(r.entry.IDField); !store.IsNil(id) {
		conds = append(conds, store.Field(r.entry.IDField).Eq(id).Not())
	}
	list, err := r.driver.FindMany(ctx, r.entry.Collection, &store.Where{Condition: store.All(conds...)})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s slugs: %w", r.entry.Name, err)
	}
	taken := make(map[string]bool, len(list))
	for _, rec := range list {
		taken[store.AsString(rec[r.cfg.Field])] = true
	}
	return taken, nil
}

// truncate shortens s to at most n runes; n <= 0 means no limit.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
