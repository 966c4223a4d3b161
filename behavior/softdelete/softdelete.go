// Package softdelete turns deletes into updates of a deleted-at field and
// hides soft deleted rows from session finds.
//
// The listener must be registered before the tree and sortable listeners,
// which leave soft deleted entities in place.
package softdelete

import (
	"context"
	"log/slog"
	"time"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/lifecycle"
)

// Listener implements soft deletion.
type Listener struct {
	now    metadata.Clock
	logger *slog.Logger
}

var (
	_ lifecycle.PreDeleteListener = (*Listener)(nil)
	_ lifecycle.Filterer          = (*Listener)(nil)
)

// NewListener creates a soft delete listener. A nil clock uses the current
// UTC time.
func NewListener(now metadata.Clock) *Listener {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Listener{now: now, logger: slog.Default()}
}

// WithLogger sets the logger for the listener
func (l *Listener) WithLogger(logger *slog.Logger) *Listener {
	tmp := *l
	tmp.logger = logger
	return &tmp
}

// Applies implements lifecycle.Listener.
func (l *Listener) Applies(entry *metadata.Entry) bool {
	return entry.SoftDelete != nil
}

// PreDelete marks the entity deleted instead of removing it. Entities that
// are already soft deleted are removed for real when hard delete is
// enabled, and left untouched otherwise.
func (l *Listener) PreDelete(_ context.Context, ev *lifecycle.Event) error {
	cfg := ev.Entry.SoftDelete
	if deleted := ev.Old(cfg.Field); !store.IsNil(deleted) && !l.visible(cfg, deleted) {
		if cfg.HardDelete {
			l.logger.Debug("hard deleting soft deleted entity", "entity", ev.Entry.Name, "id", ev.ID())
			return nil
		}
		ev.SkipDelete = true
		return nil
	}
	if err := ev.Entity.SetFieldValue(cfg.Field, l.now()); err != nil {
		return err
	}
	ev.SkipDelete = true
	return nil
}

// visible reports whether a row deleted at the given time is still shown.
func (l *Listener) visible(cfg *metadata.SoftDeleteConfig, deletedAt any) bool {
	if !cfg.TimeAware {
		return false
	}
	t, ok := store.AsTime(deletedAt)
	return ok && t.After(l.now())
}

// Filter hides soft deleted rows unless opts include them. Time aware
// entities keep rows whose deletion lies in the future.
func (l *Listener) Filter(_ context.Context, entry *metadata.Entry, opts lifecycle.FindOptions) *store.Condition {
	if opts.WithDeleted {
		return nil
	}
	cfg := entry.SoftDelete
	if cfg.TimeAware {
		return store.Field(cfg.Field).Nil().Or(store.Field(cfg.Field).Gt(l.now()))
	}
	return store.Field(cfg.Field).Nil()
}

// Restore clears the deleted-at field of an entity; persisting it brings the
// row back.
func Restore(entity store.Entity, entry *metadata.Entry) error {
	return entity.SetFieldValue(entry.SoftDelete.Field, nil)
}
