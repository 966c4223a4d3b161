package translatable

import (
	"context"
	"log/slog"
	"sync"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/lifecycle"
)

// Listener keeps translations in step with session operations run in a
// non-default locale.
type Listener struct {
	translator *Translator

	mu sync.Mutex
	// held keeps translated values swapped out of an entity between
	// pre:update and post:update.
	held map[store.Entity]map[string]any
}

var (
	_ lifecycle.PostLoadListener   = (*Listener)(nil)
	_ lifecycle.PostInsertListener = (*Listener)(nil)
	_ lifecycle.PreUpdateListener  = (*Listener)(nil)
	_ lifecycle.PostUpdateListener = (*Listener)(nil)
	_ lifecycle.PostDeleteListener = (*Listener)(nil)
)

// NewListener creates a translatable listener writing through d.
func NewListener(d store.Driver, defaultLocale string) *Listener {
	return &Listener{translator: NewTranslator(d, defaultLocale), held: map[store.Entity]map[string]any{}}
}

// WithLogger sets the logger for the listener
func (l *Listener) WithLogger(logger *slog.Logger) *Listener {
	return &Listener{translator: l.translator.WithLogger(logger), held: map[store.Entity]map[string]any{}}
}

// Translator returns the translator used by the listener.
func (l *Listener) Translator() *Translator { return l.translator }

// Applies implements lifecycle.Listener.
func (l *Listener) Applies(entry *metadata.Entry) bool {
	return entry.Translatable != nil
}

// PostLoad overlays the translations of the context locale.
func (l *Listener) PostLoad(ctx context.Context, ev *lifecycle.Event) error {
	_, err := l.translator.Apply(ctx, ev.Entity, ev.Entry, LocaleFrom(ctx))
	return err
}

// PostInsert records the values of an entity created in a non-default
// locale as its translations too.
func (l *Listener) PostInsert(ctx context.Context, ev *lifecycle.Event) error {
	locale := LocaleFrom(ctx)
	if l.translator.IsDefault(ev.Entry, locale) {
		return nil
	}
	for _, f := range ev.Entry.Translatable.Fields {
		v := ev.Entity.FieldValue(f)
		if store.IsNil(v) {
			continue
		}
		if err := l.translator.Translate(ctx, ev.Entry, ev.ID(), locale, f, v); err != nil {
			return err
		}
	}
	return nil
}

// PreUpdate stores changed translatable fields as translations of the
// context locale and restores the default values for the entity's own row.
func (l *Listener) PreUpdate(ctx context.Context, ev *lifecycle.Event) error {
	locale := LocaleFrom(ctx)
	if l.translator.IsDefault(ev.Entry, locale) {
		return nil
	}
	swapped := map[string]any{}
	for _, f := range ev.Entry.Translatable.Fields {
		if !ev.Changed(f) {
			continue
		}
		v := ev.Entity.FieldValue(f)
		if err := l.translator.Translate(ctx, ev.Entry, ev.ID(), locale, f, v); err != nil {
			return err
		}
		if err := ev.Entity.SetFieldValue(f, ev.Old(f)); err != nil {
			return err
		}
		swapped[f] = v
	}
	if len(swapped) > 0 {
		l.mu.Lock()
		l.held[ev.Entity] = swapped
		l.mu.Unlock()
	}
	return nil
}

// PostUpdate puts the translated values back onto the entity.
func (l *Listener) PostUpdate(_ context.Context, ev *lifecycle.Event) error {
	l.mu.Lock()
	swapped, ok := l.held[ev.Entity]
	delete(l.held, ev.Entity)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	for f, v := range swapped {
		if err := ev.Entity.SetFieldValue(f, v); err != nil {
			return err
		}
	}
	return nil
}

// PostDelete removes the translations of deleted entities. Soft deleted
// entities keep them.
func (l *Listener) PostDelete(ctx context.Context, ev *lifecycle.Event) error {
	if ev.SkipDelete {
		return nil
	}
	_, err := l.translator.Delete(ctx, ev.Entry, ev.ID())
	return err
}
