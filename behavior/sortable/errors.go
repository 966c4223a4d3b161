package sortable

import "fmt"

// PendingAssociationError is returned when a group field references an
// entity that has no identifier in the store yet. A lifecycle.Session defers
// the item to a later pass of the same flush.
type PendingAssociationError struct {
	Entity string
	Field  string
}

func (e *PendingAssociationError) Error() string {
	return fmt.Sprintf("sortable group field %s.%s references an entity that is not stored yet", e.Entity, e.Field)
}

// Deferred implements lifecycle.Deferrer.
func (e *PendingAssociationError) Deferred() bool { return true }

// DensityError reports a group whose positions are not exactly 0..n-1.
type DensityError struct {
	Entity   string
	Group    Group
	Position int64
	Found    int64
}

func (e *DensityError) Error() string {
	return fmt.Sprintf("sortable %s group %s: expected position %d, found %d", e.Entity, e.Group, e.Position, e.Found)
}
