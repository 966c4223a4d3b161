package tree

import (
	"errors"
	"fmt"
)

// ErrCrossRootMove is returned when a nested set move would change the tree
// of a node and the configuration forbids it.
var ErrCrossRootMove = errors.New("moving a node into another tree is not allowed")

// ErrRootSibling is returned when a sibling placement refers to the root of a
// tree while every root owns a separate tree.
var ErrRootSibling = errors.New("a root node has no siblings in its tree")

// CyclicMoveError is returned when a node would become a descendant of itself.
type CyclicMoveError struct {
	Entity string
	ID     any
	Target any
}

func (e *CyclicMoveError) Error() string {
	return fmt.Sprintf("cannot move %s %v relative to %v: the target is the node itself or one of its descendants", e.Entity, e.ID, e.Target)
}

// DuplicatePathError is returned when a materialized path node would get the
// path of another node, which happens when siblings share a path source value
// and identifiers are not appended.
type DuplicatePathError struct {
	Entity string
	ID     any
	Path   string
}

func (e *DuplicatePathError) Error() string {
	return fmt.Sprintf("path %q of %s %v is already used by another node", e.Path, e.Entity, e.ID)
}

// CorruptionError reports a violated tree invariant. The enclosing
// transaction is rolled back by the caller.
type CorruptionError struct {
	Entity string
	Root   any
	ID     any
	Reason string
}

func (e *CorruptionError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("tree %s (root %v) is corrupt at node %v: %s", e.Entity, e.Root, e.ID, e.Reason)
	}
	return fmt.Sprintf("tree %s (root %v) is corrupt: %s", e.Entity, e.Root, e.Reason)
}

// PendingParentError is returned when a node's parent has not been persisted
// yet. Sessions retry the node once the parent is written.
type PendingParentError struct {
	Entity string
	ID     any
}

func (e *PendingParentError) Error() string {
	return fmt.Sprintf("parent of %s %v is not persisted yet", e.Entity, e.ID)
}

// Deferred marks the error as retryable later in the same flush.
func (e *PendingParentError) Deferred() bool { return true }
