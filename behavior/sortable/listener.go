package sortable

import (
	"context"
	"log/slog"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/lifecycle"
)

// Listener maintains positions from lifecycle events.
type Listener struct {
	driver store.Driver
	locker store.Locker
	logger *slog.Logger
}

var (
	_ lifecycle.Preparer          = (*Listener)(nil)
	_ lifecycle.PreInsertListener = (*Listener)(nil)
	_ lifecycle.PreUpdateListener = (*Listener)(nil)
	_ lifecycle.PreDeleteListener = (*Listener)(nil)
)

// NewListener creates a sortable listener writing through d.
func NewListener(d store.Driver) *Listener {
	return &Listener{driver: d, locker: store.NewKeyedLocker(), logger: slog.Default()}
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

// Applies implements lifecycle.Listener.
func (l *Listener) Applies(entry *metadata.Entry) bool {
	return entry.Sortable != nil
}

// Strategy returns the relocation engine for the entry.
func (l *Listener) Strategy(entry *metadata.Entry) *Sortable {
	return New(l.driver, entry).WithLogger(l.logger).WithLocker(l.locker)
}

// Prepare defers items grouped by an entity the session has not written yet.
func (l *Listener) Prepare(_ context.Context, ev *lifecycle.Event) error {
	var pending func(store.Entity) bool
	if ev.Session != nil {
		pending = ev.Session.IsPending
	}
	return l.Strategy(ev.Entry).CheckAssociations(ev.Entity, pending)
}

// PreInsert implements lifecycle.PreInsertListener.
func (l *Listener) PreInsert(ctx context.Context, ev *lifecycle.Event) error {
	return l.Strategy(ev.Entry).Insert(ctx, ev.Entity)
}

// PreUpdate relocates the item when its position or group changed.
func (l *Listener) PreUpdate(ctx context.Context, ev *lifecycle.Event) error {
	cfg := ev.Entry.Sortable
	moved := ev.Changed(cfg.Position)
	for _, g := range cfg.Groups {
		moved = moved || ev.Changed(g)
	}
	if !moved {
		return nil
	}
	return l.Strategy(ev.Entry).Move(ctx, ev.Entity)
}

// PreDelete closes the gap unless the delete became a soft delete.
func (l *Listener) PreDelete(ctx context.Context, ev *lifecycle.Event) error {
	if ev.SkipDelete {
		return nil
	}
	return l.Strategy(ev.Entry).Delete(ctx, ev.Entity)
}
