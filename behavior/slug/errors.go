package slug

import "fmt"

// UniquenessExhaustedError is returned when every suffix up to the limit is
// taken.
type UniquenessExhaustedError struct {
	Entity string
	Field  string
	Base   string
	Limit  int
}

func (e *UniquenessExhaustedError) Error() string {
	return fmt.Sprintf("no unique slug for %s.%s from %q within %d suffixes", e.Entity, e.Field, e.Base, e.Limit)
}
