// Package translatable stores per-locale values of entity fields.
//
// The entity's own record holds the values of the default locale. Values of
// other locales live in a translation collection with one row per object,
// locale and field. The locale of an operation travels in the context:
//
//	ctx = translatable.WithLocale(ctx, "de")
//	err := session.Load(ctx, article, id) // title now in German
//
// Entities loaded in a locale must be flushed in the same locale, otherwise
// the translated values are written to the entity's own record. The Wrapper
// returned by Translator.Wrap reads and writes translations explicitly
// without touching the entity.
package translatable

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
)

type localeKey struct{}

// WithLocale returns a context carrying the locale of the operation.
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// LocaleFrom returns the locale of the context, or "".
func LocaleFrom(ctx context.Context) string {
	locale, _ := ctx.Value(localeKey{}).(string)
	return locale
}

// Translation is one translated field value.
type Translation struct {
	ID          string
	Locale      string
	ObjectClass string
	Field       string
	ForeignKey  string
	Content     string
}

func translationFromRecord(rec store.Record) Translation {
	return Translation{
		ID:          store.AsString(rec["id"]),
		Locale:      store.AsString(rec["locale"]),
		ObjectClass: store.AsString(rec["object_class"]),
		Field:       store.AsString(rec["field"]),
		ForeignKey:  store.AsString(rec["foreign_key"]),
		Content:     store.AsString(rec["content"]),
	}
}

// Translator reads and writes the translations of translatable entities.
type Translator struct {
	driver        store.Driver
	defaultLocale string
	logger        *slog.Logger
}

// NewTranslator creates a translator writing through d. defaultLocale is
// used for entities whose configuration names none.
func NewTranslator(d store.Driver, defaultLocale string) *Translator {
	return &Translator{driver: d, defaultLocale: defaultLocale, logger: slog.Default()}
}

// WithLogger sets the logger for the translator
func (t *Translator) WithLogger(l *slog.Logger) *Translator {
	tmp := *t
	tmp.logger = l
	return &tmp
}

// DefaultLocale returns the locale stored on the entity's own record.
func (t *Translator) DefaultLocale(entry *metadata.Entry) string {
	if entry.Translatable != nil && entry.Translatable.DefaultLocale != "" {
		return entry.Translatable.DefaultLocale
	}
	return t.defaultLocale
}

// IsDefault reports whether locale addresses the entity's own record.
func (t *Translator) IsDefault(entry *metadata.Entry, locale string) bool {
	return locale == "" || locale == t.DefaultLocale(entry)
}

func check(entry *metadata.Entry, field string) error {
	if entry.Translatable == nil {
		return fmt.Errorf("entity %s is not translatable", entry.Name)
	}
	if field != "" && !slices.Contains(entry.Translatable.Fields, field) {
		return fmt.Errorf("field %s.%s is not translatable", entry.Name, field)
	}
	return nil
}

func byObject(entry *metadata.Entry, id any) *store.Condition {
	return store.Field("object_class").Eq(entry.Name).And(store.Field("foreign_key").Eq(store.AsString(id)))
}

// Translate stores the value of a field in a locale, replacing an earlier
// translation. A nil value removes the translation.
func (t *Translator) Translate(ctx context.Context, entry *metadata.Entry, id any, locale, field string, value any) error {
	if err := check(entry, field); err != nil {
		return err
	}
	coll := entry.Translatable.Collection
	cond := byObject(entry, id).And(store.Field("locale").Eq(locale), store.Field("field").Eq(field))
	if value == nil {
		if _, err := t.driver.Delete(ctx, coll, cond); err != nil {
			return fmt.Errorf("failed to delete %s translation of %s.%s: %w", locale, entry.Name, field, err)
		}
		return nil
	}
	content := store.AsString(value)
	n, err := t.driver.Update(ctx, coll, cond, store.Changes{"content": content})
	if err != nil {
		return fmt.Errorf("failed to update %s translation of %s.%s: %w", locale, entry.Name, field, err)
	}
	if n > 0 {
		return nil
	}
	err = t.driver.Insert(ctx, coll, store.Record{
		"id":           uuid.NewString(),
		"locale":       locale,
		"object_class": entry.Name,
		"field":        field,
		"foreign_key":  store.AsString(id),
		"content":      content,
	})
	if err != nil {
		return fmt.Errorf("failed to insert %s translation of %s.%s: %w", locale, entry.Name, field, err)
	}
	t.logger.Debug("stored translation", "entity", entry.Name, "id", id, "locale", locale, "field", field)
	return nil
}

// Translations returns the translations of an object by locale and field.
func (t *Translator) Translations(ctx context.Context, entry *metadata.Entry, id any) (map[string]map[string]string, error) {
	list, err := t.find(ctx, entry, id, nil)
	if err != nil {
		return nil, err
	}
	out := map[string]map[string]string{}
	for _, tr := range list {
		if out[tr.Locale] == nil {
			out[tr.Locale] = map[string]string{}
		}
		out[tr.Locale][tr.Field] = tr.Content
	}
	return out, nil
}

func (t *Translator) find(ctx context.Context, entry *metadata.Entry, id any, cond *store.Condition) ([]Translation, error) {
	if err := check(entry, ""); err != nil {
		return nil, err
	}
	list, err := t.driver.FindMany(ctx, entry.Translatable.Collection, &store.Where{
		Condition: store.All(byObject(entry, id), cond),
		Sort:      []store.Sort{store.Asc("locale"), store.Asc("field")},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read translations of %s %v: %w", entry.Name, id, err)
	}
	out := make([]Translation, len(list))
	for i, rec := range list {
		out[i] = translationFromRecord(rec)
	}
	return out, nil
}

// Apply overlays the translations of a locale onto the entity and returns
// the fields it replaced. Fields without a translation keep their default
// value.
func (t *Translator) Apply(ctx context.Context, entity store.Entity, entry *metadata.Entry, locale string) (map[string]any, error) {
	if t.IsDefault(entry, locale) {
		return nil, nil
	}
	list, err := t.find(ctx, entry, entity.FieldValue(entry.IDField), store.Field("locale").Eq(locale))
	if err != nil {
		return nil, err
	}
	applied := map[string]any{}
	for _, tr := range list {
		if !slices.Contains(entry.Translatable.Fields, tr.Field) {
			continue
		}
		if err := entity.SetFieldValue(tr.Field, tr.Content); err != nil {
			return nil, fmt.Errorf("failed to apply translation of %s.%s: %w", entry.Name, tr.Field, err)
		}
		applied[tr.Field] = tr.Content
	}
	return applied, nil
}

// Delete removes every translation of an object.
func (t *Translator) Delete(ctx context.Context, entry *metadata.Entry, id any) (int64, error) {
	if err := check(entry, ""); err != nil {
		return 0, err
	}
	n, err := t.driver.Delete(ctx, entry.Translatable.Collection, byObject(entry, id))
	if err != nil {
		return 0, fmt.Errorf("failed to delete translations of %s %v: %w", entry.Name, id, err)
	}
	return n, nil
}

// Wrapper gives locale-bound access to the translatable fields of one
// stored entity.
type Wrapper struct {
	translator *Translator
	entity     store.Entity
	entry      *metadata.Entry
	locale     string
	pending    map[string]any
	loaded     map[string]string
}

// Wrap returns a wrapper reading and writing entity in locale.
func (t *Translator) Wrap(entity store.Entity, entry *metadata.Entry, locale string) *Wrapper {
	return &Wrapper{translator: t, entity: entity, entry: entry, locale: locale, pending: map[string]any{}}
}

// Locale returns the locale of the wrapper.
func (w *Wrapper) Locale() string { return w.locale }

// Get returns a field in the wrapper's locale, falling back to the entity's
// own value when no translation exists.
func (w *Wrapper) Get(ctx context.Context, field string) (any, error) {
	if err := check(w.entry, field); err != nil {
		return nil, err
	}
	if v, ok := w.pending[field]; ok {
		return v, nil
	}
	if w.translator.IsDefault(w.entry, w.locale) {
		return w.entity.FieldValue(field), nil
	}
	if w.loaded == nil {
		list, err := w.translator.find(ctx, w.entry, w.entity.FieldValue(w.entry.IDField), store.Field("locale").Eq(w.locale))
		if err != nil {
			return nil, err
		}
		w.loaded = make(map[string]string, len(list))
		for _, tr := range list {
			w.loaded[tr.Field] = tr.Content
		}
	}
	if v, ok := w.loaded[field]; ok {
		return v, nil
	}
	return w.entity.FieldValue(field), nil
}

// Set changes a field in the wrapper's locale. In the default locale the
// entity itself is changed; other locales are written by Save.
func (w *Wrapper) Set(field string, value any) error {
	if err := check(w.entry, field); err != nil {
		return err
	}
	if w.translator.IsDefault(w.entry, w.locale) {
		return w.entity.SetFieldValue(field, value)
	}
	w.pending[field] = value
	return nil
}

// Save writes the pending translations in one transaction.
func (w *Wrapper) Save(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	id := w.entity.FieldValue(w.entry.IDField)
	err := store.RunTransaction(ctx, w.translator.driver, func(txCtx context.Context) error {
		for field, v := range w.pending {
			if err := w.translator.Translate(txCtx, w.entry, id, w.locale, field, v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if w.loaded != nil {
		for field, v := range w.pending {
			if v == nil {
				delete(w.loaded, field)
			} else {
				w.loaded[field] = store.AsString(v)
			}
		}
	}
	clear(w.pending)
	return nil
}
