package slug

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stokaro/behave/config"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/lifecycle"
)

// Fallback supplies slug text for entities whose sources are all empty.
type Fallback func(entity store.Entity, cfg *metadata.SlugConfig) string

// Listener maintains slug fields from lifecycle events.
//
// On insert a non-empty slug set by the caller is kept, urlized and made
// unique; otherwise the slug is built from its sources. On update the slug
// is rebuilt when its sources changed and it is updatable, and re-checked
// when the caller changed it or its partition changed.
type Listener struct {
	driver   store.Driver
	locker   store.Locker
	logger   *slog.Logger
	limit    int
	fallback Fallback
}

var (
	_ lifecycle.PreInsertListener = (*Listener)(nil)
	_ lifecycle.PreUpdateListener = (*Listener)(nil)
)

// NewListener creates a slug listener reading through d.
func NewListener(d store.Driver) *Listener {
	return &Listener{
		driver: d,
		locker: store.NewKeyedLocker(),
		logger: slog.Default(),
		limit:  config.DefaultMaxSlugSuffix,
	}
}

// WithLogger sets the logger for the listener
func (l *Listener) WithLogger(logger *slog.Logger) *Listener {
	tmp := *l
	tmp.logger = logger
	return &tmp
}

// WithLocker sets the in-process locker.
func (l *Listener) WithLocker(locker store.Locker) *Listener {
	tmp := *l
	tmp.locker = locker
	return &tmp
}

// WithLimit sets the highest numeric suffix tried.
func (l *Listener) WithLimit(n int) *Listener {
	tmp := *l
	tmp.limit = n
	return &tmp
}

// WithFallback sets the fallback used when every source is empty. Without
// one such slugs stay unset.
func (l *Listener) WithFallback(fn Fallback) *Listener {
	tmp := *l
	tmp.fallback = fn
	return &tmp
}

// Applies implements lifecycle.Listener.
func (l *Listener) Applies(entry *metadata.Entry) bool {
	return len(entry.Slugs) > 0
}

// Resolver returns the resolver of one slug field of the entry.
func (l *Listener) Resolver(entry *metadata.Entry, cfg *metadata.SlugConfig) *Resolver {
	return NewResolver(l.driver, entry, cfg).WithLogger(l.logger).WithLocker(l.locker).WithLimit(l.limit)
}

// PreInsert implements lifecycle.PreInsertListener.
func (l *Listener) PreInsert(ctx context.Context, ev *lifecycle.Event) error {
	for i := range ev.Entry.Slugs {
		cfg := &ev.Entry.Slugs[i]
		b := NewBuilder(cfg)
		base := b.Base(ev.Entity)
		if manual := store.AsString(ev.Entity.FieldValue(cfg.Field)); manual != "" {
			base = b.Manual(manual)
		}
		if err := l.assign(ctx, ev, cfg, base); err != nil {
			return err
		}
	}
	return nil
}

// PreUpdate implements lifecycle.PreUpdateListener.
func (l *Listener) PreUpdate(ctx context.Context, ev *lifecycle.Event) error {
	for i := range ev.Entry.Slugs {
		cfg := &ev.Entry.Slugs[i]
		b := NewBuilder(cfg)
		current := store.AsString(ev.Entity.FieldValue(cfg.Field))

		var base string
		switch {
		case current != "" && ev.Changed(cfg.Field):
			base = b.Manual(current)
		case current == "":
			base = b.Base(ev.Entity)
		case cfg.IsUpdatable() && l.sourcesChanged(ev, cfg):
			base = b.Base(ev.Entity)
		case cfg.UniqueBase != "" && ev.Changed(cfg.UniqueBase):
			base = current
		default:
			continue
		}
		if err := l.assign(ctx, ev, cfg, base); err != nil {
			return err
		}
	}
	return nil
}

func (l *Listener) sourcesChanged(ev *lifecycle.Event, cfg *metadata.SlugConfig) bool {
	for _, f := range cfg.Sources {
		if ev.Changed(f) {
			return true
		}
	}
	return false
}

func (l *Listener) assign(ctx context.Context, ev *lifecycle.Event, cfg *metadata.SlugConfig, base string) error {
	if base == "" && l.fallback != nil {
		base = NewBuilder(cfg).Manual(l.fallback(ev.Entity, cfg))
	}
	if base == "" {
		if err := ev.Entity.SetFieldValue(cfg.Field, nil); err != nil {
			return fmt.Errorf("failed to clear %s.%s: %w", ev.Entry.Name, cfg.Field, err)
		}
		return nil
	}
	slug, err := l.Resolver(ev.Entry, cfg).Unique(ctx, ev.Entity, base)
	if err != nil {
		return err
	}
	if err := ev.Entity.SetFieldValue(cfg.Field, slug); err != nil {
		return fmt.Errorf("failed to set %s.%s: %w", ev.Entry.Name, cfg.Field, err)
	}
	l.logger.Debug("assigned slug", "entity", ev.Entry.Name, "field", cfg.Field, "slug", slug)
	return nil
}
