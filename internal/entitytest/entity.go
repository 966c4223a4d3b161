// Package entitytest provides a field-map entity for tests.
package entitytest

import (
	"fmt"
	"slices"

	"github.com/stokaro/behave/core/store"
)

// Entity is a store.Entity holding its fields in a map.
type Entity struct {
	name   string
	fields []string
	values store.Record
}

var _ store.Entity = (*Entity)(nil)

// New creates an entity of the given type with the listed fields.
func New(name string, fields ...string) *Entity {
	return &Entity{name: name, fields: fields, values: store.Record{}}
}

// Factory returns a constructor for fresh entities of the same type.
func Factory(name string, fields ...string) func() store.Entity {
	return func() store.Entity { return New(name, fields...) }
}

// With sets a field and returns the entity.
func (e *Entity) With(field string, value any) *Entity {
	if err := e.SetFieldValue(field, value); err != nil {
		panic(err)
	}
	return e
}

// EntityName implements store.Entity.
func (e *Entity) EntityName() string { return e.name }

// Fields implements store.Entity.
func (e *Entity) Fields() []string { return e.fields }

// FieldValue implements store.Entity.
func (e *Entity) FieldValue(field string) any { return e.values[field] }

// SetFieldValue implements store.Entity.
func (e *Entity) SetFieldValue(field string, value any) error {
	if !slices.Contains(e.fields, field) {
		return fmt.Errorf("%s has no field %q", e.name, field)
	}
	e.values[field] = value
	return nil
}

// Int returns a numeric field as int64.
func (e *Entity) Int(field string) int64 { return store.MustInt64(e.values[field]) }

// String returns a field rendered as string.
func (e *Entity) String(field string) string { return store.AsString(e.values[field]) }

// Identifier implements store.Identifiable.
func (e *Entity) Identifier() any { return e.values["id"] }
