// Package lifecycle drives the behavior strategies from persistence events.
//
// A Dispatcher fans each hook out to the listeners whose behaviors apply to
// the entity type. A Session is a small unit of work: entities scheduled with
// Persist and Remove are written on Flush, inside one transaction, with the
// hooks called around every write.
package lifecycle

import (
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
)

// Hook names a point in the lifecycle of an entity.
type Hook string

const (
	// Prepare runs before any other hook of an insert or update. Listeners
	// may return a deferred error there to postpone the entity within the
	// flush; Prepare must therefore not change anything.
	Prepare Hook = "prepare"
	// BeforeFlush runs for every scheduled entity before the first write.
	BeforeFlush Hook = "pre:flush"

	PreInsert  Hook = "pre:insert"
	PostInsert Hook = "post:insert"
	PreUpdate  Hook = "pre:update"
	PostUpdate Hook = "post:update"
	PreDelete  Hook = "pre:delete"
	PostDelete Hook = "post:delete"
	PostLoad   Hook = "post:load"
)

// Event is passed to listeners at every hook.
type Event struct {
	Hook   Hook
	Entity store.Entity
	Entry  *metadata.Entry
	// Original is the record as last read from or written to the store. It
	// is nil for entities that are not stored yet.
	Original store.Record
	// Changes holds the fields written by an update or soft delete. It is
	// set for post:update and post:delete.
	Changes store.Changes
	// SkipDelete turns a delete into an update of the changed fields. It is
	// set by listeners at pre:delete.
	SkipDelete bool
	// Session is the session dispatching the event, if any.
	Session *Session
}

// ID returns the identifier of the entity.
func (e *Event) ID() any {
	return e.Entity.FieldValue(e.Entry.IDField)
}

// Value returns a field of the entity with associations reduced to their
// identifiers.
func (e *Event) Value(field string) any {
	return store.Identify(e.Entity.FieldValue(field), "")
}

// Old returns the stored value of a field, or nil for new entities.
func (e *Event) Old(field string) any {
	if e.Original == nil {
		return nil
	}
	return e.Original[field]
}

// Changed reports whether a field differs from the stored value. For new
// entities every non-nil field counts as changed.
func (e *Event) Changed(field string) bool {
	if e.Original == nil {
		return !store.IsNil(e.Value(field))
	}
	return !store.Equal(e.Value(field), e.Original[field])
}

// IsInsert reports whether the entity is not stored yet.
func (e *Event) IsInsert() bool { return e.Original == nil }

// Deferrer is implemented by errors that postpone an entity to a later pass
// of the same flush, such as a reference to an entity not written yet.
type Deferrer interface {
	Deferred() bool
}
