// Package loggable keeps a versioned history of entity changes.
//
// Every insert, update and removal of a loggable entity appends a log entry
// holding the values of the versioned fields. Entries are numbered per
// object starting at 1, and Revert replays them to restore an older state.
package loggable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/stokaro/behave/behavior/blame"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/lifecycle"
)

// Log entry actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionRemove = "remove"
)

// LogEntry is one version of an object.
type LogEntry struct {
	ID          string
	Action      string
	LoggedAt    time.Time
	ObjectID    string
	ObjectClass string
	Version     int64
	Data        map[string]any
	Username    string
}

func (e *LogEntry) record() (store.Record, error) {
	rec := store.Record{
		"id":           e.ID,
		"action":       e.Action,
		"logged_at":    e.LoggedAt,
		"object_id":    e.ObjectID,
		"object_class": e.ObjectClass,
		"version":      e.Version,
		"data":         nil,
		"username":     nil,
	}
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode log data of %s %s: %w", e.ObjectClass, e.ObjectID, err)
		}
		rec["data"] = string(raw)
	}
	if e.Username != "" {
		rec["username"] = e.Username
	}
	return rec, nil
}

func entryFromRecord(rec store.Record) (*LogEntry, error) {
	e := &LogEntry{
		ID:          store.AsString(rec["id"]),
		Action:      store.AsString(rec["action"]),
		ObjectID:    store.AsString(rec["object_id"]),
		ObjectClass: store.AsString(rec["object_class"]),
		Version:     store.MustInt64(rec["version"]),
	}
	if rec["username"] != nil {
		e.Username = store.AsString(rec["username"])
	}
	if t, ok := store.AsTime(rec["logged_at"]); ok {
		e.LoggedAt = t
	}
	if raw := store.AsString(rec["data"]); raw != "" {
		data, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode log entry %s: %w", e.ID, err)
		}
		e.Data = data
	}
	return e, nil
}

// decode reads log data keeping integers as int64.
func decode(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	for k, v := range data {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			data[k] = i
		} else if f, err := n.Float64(); err == nil {
			data[k] = f
		}
	}
	return data, nil
}

// Listener appends log entries after writes.
type Listener struct {
	driver store.Driver
	locker store.Locker
	now    metadata.Clock
	logger *slog.Logger
}

var (
	_ lifecycle.PostInsertListener = (*Listener)(nil)
	_ lifecycle.PostUpdateListener = (*Listener)(nil)
	_ lifecycle.PostDeleteListener = (*Listener)(nil)
)

// NewListener creates a loggable listener writing through d. A nil clock
// uses the current UTC time.
func NewListener(d store.Driver, now metadata.Clock) *Listener {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Listener{driver: d, locker: store.NewKeyedLocker(), now: now, logger: slog.Default()}
}

// WithLogger sets the logger for the listener
func (l *Listener) WithLogger(logger *slog.Logger) *Listener {
	tmp := *l
	tmp.logger = logger
	return &tmp
}

// WithLocker sets the in-process locker serializing version numbers.
func (l *Listener) WithLocker(locker store.Locker) *Listener {
	tmp := *l
	tmp.locker = locker
	return &tmp
}

// Applies implements lifecycle.Listener.
func (l *Listener) Applies(entry *metadata.Entry) bool {
	return entry.Loggable != nil
}

// PostInsert logs every versioned field of a new entity.
func (l *Listener) PostInsert(ctx context.Context, ev *lifecycle.Event) error {
	data := map[string]any{}
	for _, f := range versioned(ev.Entry, ev.Entity) {
		data[f] = ev.Value(f)
	}
	return l.append(ctx, ev, ActionCreate, data)
}

// PostUpdate logs the versioned fields written by the update. Updates that
// touch none of them are not logged.
func (l *Listener) PostUpdate(ctx context.Context, ev *lifecycle.Event) error {
	data := map[string]any{}
	for _, f := range versioned(ev.Entry, ev.Entity) {
		if v, ok := ev.Changes[f]; ok {
			data[f] = store.Identify(v, "")
		}
	}
	if len(data) == 0 {
		return nil
	}
	return l.append(ctx, ev, ActionUpdate, data)
}

// PostDelete logs a removal. A soft delete records the fields it changed.
func (l *Listener) PostDelete(ctx context.Context, ev *lifecycle.Event) error {
	var data map[string]any
	if ev.SkipDelete && len(ev.Changes) > 0 {
		data = map[string]any{}
		for f, v := range ev.Changes {
			data[f] = store.Identify(v, "")
		}
	}
	return l.append(ctx, ev, ActionRemove, data)
}

func (l *Listener) append(ctx context.Context, ev *lifecycle.Event, action string, data map[string]any) error {
	cfg := ev.Entry.Loggable
	objectID := store.AsString(ev.ID())
	if err := store.Lock(ctx, l.driver, l.locker, store.LockKey("loggable", ev.Entry.Name, objectID)); err != nil {
		return err
	}
	version, err := latest(ctx, l.driver, cfg.Collection, ev.Entry.Name, objectID)
	if err != nil {
		return err
	}
	entry := &LogEntry{
		ID:          uuid.NewString(),
		Action:      action,
		LoggedAt:    l.now(),
		ObjectID:    objectID,
		ObjectClass: ev.Entry.Name,
		Version:     version + 1,
		Data:        data,
	}
	if user := blame.UserFrom(ctx); user != nil {
		entry.Username = store.AsString(store.Identify(user, ""))
	}
	rec, err := entry.record()
	if err != nil {
		return err
	}
	if err := l.driver.Insert(ctx, cfg.Collection, rec); err != nil {
		return fmt.Errorf("failed to insert log entry of %s %s: %w", ev.Entry.Name, objectID, err)
	}
	l.logger.Debug("logged change", "entity", ev.Entry.Name, "id", objectID, "action", action, "version", entry.Version)
	return nil
}

// versioned lists the logged fields of an entity.
func versioned(entry *metadata.Entry, entity store.Entity) []string {
	if len(entry.Loggable.Versioned) > 0 {
		return entry.Loggable.Versioned
	}
	return slices.DeleteFunc(slices.Clone(entity.Fields()), func(f string) bool { return f == entry.IDField })
}

func byObject(class, objectID string) *store.Condition {
	return store.Field("object_class").Eq(class).And(store.Field("object_id").Eq(objectID))
}

// latest returns the highest version logged for an object, or 0.
func latest(ctx context.Context, d store.Driver, collection, class, objectID string) (int64, error) {
	rec, err := d.FindOne(ctx, collection, &store.Where{
		Condition: byObject(class, objectID),
		Sort:      []store.Sort{store.Desc("version")},
		Limit:     1,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read latest version of %s %s: %w", class, objectID, err)
	}
	if rec == nil {
		return 0, nil
	}
	return store.MustInt64(rec["version"]), nil
}

// LogEntries returns the history of an object, newest first.
func LogEntries(ctx context.Context, d store.Driver, entry *metadata.Entry, id any) ([]*LogEntry, error) {
	return find(ctx, d, entry, store.AsString(id), nil, store.Desc("version"))
}

func find(ctx context.Context, d store.Driver, entry *metadata.Entry, objectID string, extra *store.Condition, order store.Sort) ([]*LogEntry, error) {
	if entry.Loggable == nil {
		return nil, fmt.Errorf("entity %s is not loggable", entry.Name)
	}
	list, err := d.FindMany(ctx, entry.Loggable.Collection, &store.Where{
		Condition: store.All(byObject(entry.Name, objectID), extra),
		Sort:      []store.Sort{order},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read log entries of %s %s: %w", entry.Name, objectID, err)
	}
	out := make([]*LogEntry, 0, len(list))
	for _, rec := range list {
		e, err := entryFromRecord(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Revert sets the versioned fields of entity to their values at the given
// version. The entity is not written; persisting it logs a new version.
func Revert(ctx context.Context, d store.Driver, entity store.Entity, entry *metadata.Entry, version int64) error {
	objectID := store.AsString(entity.FieldValue(entry.IDField))
	list, err := find(ctx, d, entry, objectID, store.Field("version").Lte(version), store.Asc("version"))
	if err != nil {
		return err
	}
	if len(list) == 0 || list[len(list)-1].Version != version {
		return fmt.Errorf("failed to revert %s %s to version %d: %w", entry.Name, objectID, version, store.ErrNotFound)
	}
	state := map[string]any{}
	for _, e := range list {
		for k, v := range e.Data {
			state[k] = v
		}
	}
	for _, f := range versioned(entry, entity) {
		v, ok := state[f]
		if !ok {
			continue
		}
		if err := entity.SetFieldValue(f, restore(entity.FieldValue(f), v)); err != nil {
			return fmt.Errorf("failed to revert %s.%s: %w", entry.Name, f, err)
		}
	}
	return nil
}

// restore converts a decoded value back to the type the field currently
// holds where JSON lost it.
func restore(current, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if _, isTime := current.(time.Time); isTime {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return v
}
