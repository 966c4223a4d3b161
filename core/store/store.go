// Package store defines the persistence contract consumed by the behavior
// strategies.
//
// The contract is deliberately small: strategies read and write named fields
// on entities through the Entity accessor interface, and they query and shift
// stored records through a Driver. Relational and document backends implement
// the same Driver, so strategies never know which one they run against.
package store

import "errors"

// Record is a stored row or document, keyed by column/field name.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Entity is implemented by every type that participates in behaviors.
//
// Implementations are written per type (usually a switch over field names),
// which keeps field access explicit and free of reflection.
//
// Example:
//
//	func (c *Category) FieldValue(field string) any {
//		switch field {
//		case "id":
//			return c.ID
//		case "title":
//			return c.Title
//		}
//		return nil
//	}
type Entity interface {
	// EntityName identifies the entity type in the metadata registry.
	EntityName() string
	// Fields lists every persisted field of the entity.
	Fields() []string
	// FieldValue returns the current value of a field.
	FieldValue(field string) any
	// SetFieldValue assigns a field. Values read back from a store may be of a
	// wider type than the field (int64 for int, string for []byte).
	SetFieldValue(field string, value any) error
}

// ToRecord captures the current values of all entity fields.
func ToRecord(entity Entity) Record {
	fields := entity.Fields()
	rec := make(Record, len(fields))
	for _, f := range fields {
		rec[f] = Identify(entity.FieldValue(f), "")
	}
	return rec
}

// FromRecord assigns every record value whose key is a known entity field.
func FromRecord(entity Entity, rec Record) error {
	for _, f := range entity.Fields() {
		v, ok := rec[f]
		if !ok {
			continue
		}
		if err := entity.SetFieldValue(f, v); err != nil {
			return err
		}
	}
	return nil
}

// Identifiable is implemented by entities referenced from other entities
// (associations). The identifier field name is the entity's IDField in the
// metadata registry; implementations usually just return their primary key.
type Identifiable interface {
	Identifier() any
}

// Identify reduces an association to its identifier. Plain values are
// returned unchanged and nil associations, typed or not, become nil. When field is empty, Identifiable is used.
func Identify(v any, field string) any {
	if IsNil(v) {
		return nil
	}
	switch x := v.(type) {
	case Identifiable:
		return x.Identifier()
	case Entity:
		if field != "" {
			return x.FieldValue(field)
		}
		return x.FieldValue("id")
	default:
		return v
	}
}

// ErrNotFound is returned when a record expected to exist is missing.
var ErrNotFound = errors.New("record not found")

// ErrNoTransaction is returned by operations that must run inside a transaction.
var ErrNoTransaction = errors.New("no transaction in context")
