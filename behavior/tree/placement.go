package tree

import "fmt"

// Position is the kind of a Placement.
type Position int

const (
	// PositionDefault derives the placement from the parent field.
	PositionDefault Position = iota
	PositionRoot
	PositionFirstChild
	PositionLastChild
	PositionPrevSibling
	PositionNextSibling
)

func (p Position) String() string {
	switch p {
	case PositionRoot:
		return "root"
	case PositionFirstChild:
		return "first child"
	case PositionLastChild:
		return "last child"
	case PositionPrevSibling:
		return "previous sibling"
	case PositionNextSibling:
		return "next sibling"
	default:
		return "default"
	}
}

// Placement says where a node goes relative to a reference node.
type Placement struct {
	Position Position
	// Ref is the identifier of the reference node. Unused for roots.
	Ref any
}

// AsRoot places the node at the top level.
func AsRoot() Placement { return Placement{Position: PositionRoot} }

// AsFirstChildOf places the node before all children of ref.
func AsFirstChildOf(ref any) Placement { return Placement{Position: PositionFirstChild, Ref: ref} }

// AsLastChildOf places the node after all children of ref.
func AsLastChildOf(ref any) Placement { return Placement{Position: PositionLastChild, Ref: ref} }

// AsPrevSiblingOf places the node right before ref.
func AsPrevSiblingOf(ref any) Placement { return Placement{Position: PositionPrevSibling, Ref: ref} }

// AsNextSiblingOf places the node right after ref.
func AsNextSiblingOf(ref any) Placement { return Placement{Position: PositionNextSibling, Ref: ref} }

func (p Placement) String() string {
	if p.Position == PositionRoot || p.Position == PositionDefault {
		return p.Position.String()
	}
	return fmt.Sprintf("%s of %v", p.Position, p.Ref)
}

// fromParent is the default placement: last child of the parent, or a root.
func fromParent(parent any) Placement {
	if parent == nil {
		return AsRoot()
	}
	return AsLastChildOf(parent)
}
