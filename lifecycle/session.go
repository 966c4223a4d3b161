package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
)

type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opDelete
)

func (k opKind) String() string {
	switch k {
	case opInsert:
		return "insert"
	case opUpdate:
		return "update"
	default:
		return "delete"
	}
}

type op struct {
	kind   opKind
	entity store.Entity
	entry  *metadata.Entry
}

// Session is a unit of work over one driver.
//
// Entities are tracked by pointer identity, so they must be pointers. A
// Session is not safe for concurrent use.
type Session struct {
	driver     store.Driver
	dispatcher *Dispatcher
	logger     *slog.Logger

	queue     []*op
	originals map[store.Entity]store.Record
	pending   map[store.Entity]bool
}

// NewSession creates a session writing through d.
func NewSession(d store.Driver, dispatcher *Dispatcher) *Session {
	return &Session{
		driver:     d,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		originals:  make(map[store.Entity]store.Record),
		pending:    make(map[store.Entity]bool),
	}
}

// WithLogger sets the logger for the session
func (s *Session) WithLogger(l *slog.Logger) *Session {
	tmp := *s
	tmp.logger = l
	tmp.queue = slices.Clone(s.queue)
	tmp.originals = maps.Clone(s.originals)
	tmp.pending = maps.Clone(s.pending)
	return &tmp
}

// Driver returns the driver the session writes through.
func (s *Session) Driver() store.Driver { return s.driver }

// Persist schedules entities for writing. Entities never read from or
// written to the store are inserted, the others updated. Missing
// identifiers are generated as UUIDs right away, so other entities can
// reference them before the flush.
func (s *Session) Persist(entities ...store.Entity) error {
	for _, e := range entities {
		entry, err := s.dispatcher.Entry(e.EntityName())
		if err != nil {
			return err
		}
		if _, ok := s.originals[e]; ok {
			s.schedule(&op{kind: opUpdate, entity: e, entry: entry})
			continue
		}
		if s.pending[e] {
			continue
		}
		if store.IsNil(e.FieldValue(entry.IDField)) {
			if err := e.SetFieldValue(entry.IDField, uuid.NewString()); err != nil {
				return fmt.Errorf("failed to assign identifier to %s: %w", entry.Name, err)
			}
		}
		s.pending[e] = true
		s.schedule(&op{kind: opInsert, entity: e, entry: entry})
	}
	return nil
}

// Remove schedules stored entities for deletion. Entities still pending
// insertion are simply unscheduled.
func (s *Session) Remove(entities ...store.Entity) error {
	for _, e := range entities {
		if s.pending[e] {
			delete(s.pending, e)
			s.queue = slices.DeleteFunc(s.queue, func(o *op) bool { return o.entity == e })
			continue
		}
		entry, err := s.dispatcher.Entry(e.EntityName())
		if err != nil {
			return err
		}
		s.schedule(&op{kind: opDelete, entity: e, entry: entry})
	}
	return nil
}

// schedule queues an operation once; a delete replaces earlier updates.
func (s *Session) schedule(o *op) {
	for i, q := range s.queue {
		if q.entity != o.entity {
			continue
		}
		if q.kind == o.kind || (q.kind == opInsert && o.kind == opUpdate) {
			return
		}
		if o.kind == opDelete {
			s.queue[i] = o
			return
		}
	}
	s.queue = append(s.queue, o)
}

// IsPending reports whether the entity is scheduled for insertion and not
// written yet.
func (s *Session) IsPending(e store.Entity) bool {
	return s.pending[e]
}

// Original returns the record last read or written for the entity.
func (s *Session) Original(e store.Entity) store.Record {
	return s.originals[e]
}

// Flush writes all scheduled entities in one transaction.
//
// Entities whose listeners report a deferred error are retried after the
// rest of the queue. When a whole pass makes no progress the last deferred
// error is returned and the transaction rolls back. On failure the session
// keeps its schedule, so Flush may be retried once the cause is fixed.
func (s *Session) Flush(ctx context.Context) error {
	if len(s.queue) == 0 {
		return nil
	}
	queue := s.queue
	originals := maps.Clone(s.originals)
	pending := maps.Clone(s.pending)
	values := make(map[store.Entity]store.Record, len(queue))
	for _, o := range queue {
		if _, ok := values[o.entity]; !ok {
			values[o.entity] = fieldValues(o.entity)
		}
	}

	err := store.RunTransaction(ctx, s.driver, func(txCtx context.Context) error {
		for _, o := range queue {
			ev := &Event{Entity: o.entity, Entry: o.entry, Original: s.originals[o.entity], Session: s}
			if err := s.dispatcher.Dispatch(txCtx, BeforeFlush, ev); err != nil {
				return err
			}
		}

		todo := queue
		for pass := 1; len(todo) > 0; pass++ {
			var deferred []*op
			var lastErr error
			for _, o := range todo {
				err := s.apply(txCtx, o)
				var d Deferrer
				if errors.As(err, &d) && d.Deferred() {
					s.logger.Debug("deferred entity", "entity", o.entry.Name, "op", o.kind.String(), "pass", pass, "reason", err.Error())
					deferred = append(deferred, o)
					lastErr = err
					continue
				}
				if err != nil {
					return err
				}
			}
			if len(deferred) == len(todo) {
				return lastErr
			}
			todo = deferred
		}
		return s.refresh(txCtx)
	})
	if err != nil {
		s.originals = originals
		s.pending = pending
		for e, rec := range values {
			s.restore(e, rec)
		}
		return err
	}
	s.queue = s.queue[len(queue):]
	s.logger.Debug("flushed session", "operations", len(queue))
	return nil
}

// fieldValues reads the entity's fields as they are, associations included.
func fieldValues(e store.Entity) store.Record {
	rec := make(store.Record, len(e.Fields()))
	for _, f := range e.Fields() {
		rec[f] = e.FieldValue(f)
	}
	return rec
}

// restore undoes the field values listeners assigned during a failed flush,
// so that a retry derives them again.
func (s *Session) restore(e store.Entity, rec store.Record) {
	for f, v := range rec {
		if store.Equal(e.FieldValue(f), v) {
			continue
		}
		if err := e.SetFieldValue(f, v); err != nil {
			s.logger.Warn("failed to restore field after rollback", "entity", e.EntityName(), "field", f, "error", err)
		}
	}
}

func (s *Session) apply(ctx context.Context, o *op) error {
	switch o.kind {
	case opInsert:
		return s.insert(ctx, o)
	case opUpdate:
		return s.update(ctx, o)
	default:
		return s.remove(ctx, o)
	}
}

func (s *Session) insert(ctx context.Context, o *op) error {
	ev := &Event{Entity: o.entity, Entry: o.entry, Session: s}
	if err := s.dispatcher.Dispatch(ctx, Prepare, ev); err != nil {
		return err
	}
	if err := s.dispatcher.Dispatch(ctx, PreInsert, ev); err != nil {
		return err
	}
	rec := store.ToRecord(o.entity)
	if err := s.driver.Insert(ctx, o.entry.Collection, rec); err != nil {
		return fmt.Errorf("failed to insert %s: %w", o.entry.Name, err)
	}
	s.originals[o.entity] = rec
	delete(s.pending, o.entity)
	return s.dispatcher.Dispatch(ctx, PostInsert, ev)
}

func (s *Session) update(ctx context.Context, o *op) error {
	ev := &Event{Entity: o.entity, Entry: o.entry, Original: s.originals[o.entity], Session: s}
	if err := s.dispatcher.Dispatch(ctx, Prepare, ev); err != nil {
		return err
	}
	if err := s.dispatcher.Dispatch(ctx, PreUpdate, ev); err != nil {
		return err
	}
	changes := s.changes(o)
	if len(changes) > 0 {
		if _, err := s.driver.Update(ctx, o.entry.Collection, s.byID(o), changes); err != nil {
			return fmt.Errorf("failed to update %s %v: %w", o.entry.Name, ev.ID(), err)
		}
	}
	s.remember(o, changes)
	ev.Changes = changes
	return s.dispatcher.Dispatch(ctx, PostUpdate, ev)
}

func (s *Session) remove(ctx context.Context, o *op) error {
	ev := &Event{Entity: o.entity, Entry: o.entry, Original: s.originals[o.entity], Session: s}
	if err := s.dispatcher.Dispatch(ctx, PreDelete, ev); err != nil {
		return err
	}
	if ev.SkipDelete {
		changes := s.changes(o)
		if len(changes) > 0 {
			if _, err := s.driver.Update(ctx, o.entry.Collection, s.byID(o), changes); err != nil {
				return fmt.Errorf("failed to update %s %v: %w", o.entry.Name, ev.ID(), err)
			}
		}
		s.remember(o, changes)
		ev.Changes = changes
	} else {
		if _, err := s.driver.Delete(ctx, o.entry.Collection, s.byID(o)); err != nil {
			return fmt.Errorf("failed to delete %s %v: %w", o.entry.Name, ev.ID(), err)
		}
		delete(s.originals, o.entity)
	}
	return s.dispatcher.Dispatch(ctx, PostDelete, ev)
}

func (s *Session) byID(o *op) *store.Condition {
	return store.Field(o.entry.IDField).Eq(o.entity.FieldValue(o.entry.IDField))
}

// changes lists the fields that differ from the stored record. Fields
// managed by strategies are written by the strategies themselves.
func (s *Session) changes(o *op) store.Changes {
	original := s.originals[o.entity]
	current := store.ToRecord(o.entity)
	managed := o.entry.ManagedFields()
	changes := store.Changes{}
	for field, v := range current {
		if slices.Contains(managed, field) {
			continue
		}
		if old, ok := original[field]; ok && store.Equal(old, v) {
			continue
		}
		changes[field] = v
	}
	return changes
}

func (s *Session) remember(o *op, changes store.Changes) {
	rec := s.originals[o.entity].Clone()
	if rec == nil {
		rec = store.Record{}
	}
	for k, v := range changes {
		rec[k] = v
	}
	s.originals[o.entity] = rec
}

// refresh reloads the fields that strategies may have shifted on stored
// rows after the entity itself was written.
func (s *Session) refresh(ctx context.Context) error {
	for e, original := range s.originals {
		entry, err := s.dispatcher.Entry(e.EntityName())
		if err != nil {
			return err
		}
		fields := entry.ManagedFields()
		if entry.Sortable != nil {
			fields = append(fields, entry.Sortable.Position)
		}
		if len(fields) == 0 {
			continue
		}
		rec, err := s.driver.FindOne(ctx, entry.Collection, &store.Where{Condition: store.Field(entry.IDField).Eq(e.FieldValue(entry.IDField))})
		if err != nil {
			return fmt.Errorf("failed to refresh %s: %w", entry.Name, err)
		}
		if rec == nil {
			// Removed by a strategy, e.g. a cascading tree delete.
			delete(s.originals, e)
			continue
		}
		original = original.Clone()
		for _, f := range fields {
			if err := e.SetFieldValue(f, rec[f]); err != nil {
				return fmt.Errorf("failed to refresh %s.%s: %w", entry.Name, f, err)
			}
			original[f] = rec[f]
		}
		s.originals[e] = original
	}
	return nil
}

// Find loads the entities of a type matching where. Listener filters such as
// soft delete apply unless disabled by opts.
func (s *Session) Find(ctx context.Context, name string, where *store.Where, factory func() store.Entity, opts ...FindOption) ([]store.Entity, error) {
	entry, err := s.dispatcher.Entry(name)
	if err != nil {
		return nil, err
	}
	var fo FindOptions
	for _, opt := range opts {
		opt(&fo)
	}
	filter, err := s.dispatcher.Filter(ctx, name, fo)
	if err != nil {
		return nil, err
	}
	w := store.Where{}
	if where != nil {
		w = *where
	}
	w.Condition = store.All(w.Condition, filter)

	list, err := s.driver.FindMany(ctx, entry.Collection, &w)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", name, err)
	}
	out := make([]store.Entity, 0, len(list))
	for _, rec := range list {
		e := factory()
		if err := s.hydrate(ctx, e, entry, rec); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Load reads the entity with the given identifier into entity. It returns
// store.ErrNotFound when no visible row matches.
func (s *Session) Load(ctx context.Context, entity store.Entity, id any, opts ...FindOption) error {
	entry, err := s.dispatcher.Entry(entity.EntityName())
	if err != nil {
		return err
	}
	var fo FindOptions
	for _, opt := range opts {
		opt(&fo)
	}
	filter, err := s.dispatcher.Filter(ctx, entry.Name, fo)
	if err != nil {
		return err
	}
	rec, err := s.driver.FindOne(ctx, entry.Collection, &store.Where{Condition: store.All(store.Field(entry.IDField).Eq(id), filter)})
	if err != nil {
		return fmt.Errorf("failed to load %s %v: %w", entry.Name, id, err)
	}
	if rec == nil {
		return fmt.Errorf("failed to load %s %v: %w", entry.Name, id, store.ErrNotFound)
	}
	return s.hydrate(ctx, entity, entry, rec)
}

// Refresh rereads a stored entity, discarding unflushed changes.
func (s *Session) Refresh(ctx context.Context, entity store.Entity) error {
	entry, err := s.dispatcher.Entry(entity.EntityName())
	if err != nil {
		return err
	}
	return s.Load(ctx, entity, entity.FieldValue(entry.IDField), WithDeleted())
}

func (s *Session) hydrate(ctx context.Context, e store.Entity, entry *metadata.Entry, rec store.Record) error {
	if err := store.FromRecord(e, rec); err != nil {
		return fmt.Errorf("failed to read %s: %w", entry.Name, err)
	}
	s.originals[e] = rec
	return s.dispatcher.Dispatch(ctx, PostLoad, &Event{Entity: e, Entry: entry, Original: rec, Session: s})
}
