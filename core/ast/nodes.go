// Package ast describes the DDL statements that create and drop the tables
// behaviors keep their own records in. Nodes are rendered to SQL by a
// dialect specific Visitor, see package renderer.
package ast

// Node represents any statement or statement part that can be visited.
type Node interface {
	// Accept implements the visitor pattern for rendering
	Accept(visitor Visitor) error
}

// Visitor renders nodes.
type Visitor interface {
	VisitCreateTable(node *CreateTableNode) error
	VisitColumn(node *ColumnNode) error
	VisitConstraint(node *ConstraintNode) error
	VisitIndex(node *IndexNode) error
	VisitDropTable(node *DropTableNode) error
}

// Portable column types. The renderer maps them to the type of its dialect;
// any other type name is written verbatim.
const (
	// TypeKey holds identifiers and short indexed strings.
	TypeKey = "key"
	// TypeText holds unbounded strings.
	TypeText = "text"
	// TypeInteger holds 64 bit integers.
	TypeInteger = "integer"
	// TypeTimestamp holds instants with sub-second precision.
	TypeTimestamp = "timestamp"
)

// CreateTableNode represents a CREATE TABLE statement.
type CreateTableNode struct {
	// Name is the name of the table to create
	Name string
	// Columns contains all column definitions for the table
	Columns []*ColumnNode
	// Constraints contains table-level constraints
	Constraints []*ConstraintNode
	// Options contains dialect-specific table options like ENGINE for MySQL
	Options map[string]string
}

// NewCreateTable creates a new CREATE TABLE node with the specified table name.
//
// Example:
//
//	table := NewCreateTable("ext_log_entries").
//		AddColumn(NewColumn("id", TypeKey).SetPrimary())
func NewCreateTable(name string) *CreateTableNode {
	return &CreateTableNode{
		Name:    name,
		Options: make(map[string]string),
	}
}

// Accept implements the Node interface for CreateTableNode.
func (n *CreateTableNode) Accept(visitor Visitor) error {
	return visitor.VisitCreateTable(n)
}

// AddColumn adds a column and returns the table node for chaining.
func (n *CreateTableNode) AddColumn(column *ColumnNode) *CreateTableNode {
	n.Columns = append(n.Columns, column)
	return n
}

// AddConstraint adds a table-level constraint and returns the table node for chaining.
func (n *CreateTableNode) AddConstraint(constraint *ConstraintNode) *CreateTableNode {
	n.Constraints = append(n.Constraints, constraint)
	return n
}

// SetOption sets a dialect-specific table option and returns the table node
// for chaining. Dialects without table options ignore them.
//
// Example:
//
//	table.SetOption("ENGINE", "InnoDB")
func (n *CreateTableNode) SetOption(key, value string) *CreateTableNode {
	n.Options[key] = value
	return n
}

// ColumnNode represents a table column definition.
type ColumnNode struct {
	Name string
	// Type is one of the portable types or a literal SQL type such as VARCHAR(16)
	Type string
	// Nullable indicates whether the column allows NULL values (default: true)
	Nullable bool
	Primary  bool
}

// NewColumn creates a nullable column.
func NewColumn(name, dataType string) *ColumnNode {
	return &ColumnNode{
		Name:     name,
		Type:     dataType,
		Nullable: true,
	}
}

// Accept implements the Node interface for ColumnNode.
func (n *ColumnNode) Accept(visitor Visitor) error {
	return visitor.VisitColumn(n)
}

// SetPrimary marks the column as the primary key. Primary keys are NOT NULL.
func (n *ColumnNode) SetPrimary() *ColumnNode {
	n.Primary = true
	n.Nullable = false
	return n
}

// SetNotNull marks the column as NOT NULL and returns the column for chaining.
func (n *ColumnNode) SetNotNull() *ColumnNode {
	n.Nullable = false
	return n
}

// ConstraintType is the kind of a table-level constraint.
type ConstraintType int

const (
	PrimaryKeyConstraint ConstraintType = iota
	UniqueConstraint
)

// ConstraintNode represents a table-level constraint spanning one or more
// columns.
type ConstraintNode struct {
	Type ConstraintType
	// Name is the constraint name, unused for primary keys
	Name    string
	Columns []string
}

// Accept implements the Node interface for ConstraintNode.
func (n *ConstraintNode) Accept(visitor Visitor) error {
	return visitor.VisitConstraint(n)
}

// NewPrimaryKeyConstraint creates a table-level primary key, typically a
// composite one. Single column keys use ColumnNode.SetPrimary.
//
// Example:
//
//	pk := NewPrimaryKeyConstraint("ancestor", "descendant")
func NewPrimaryKeyConstraint(columns ...string) *ConstraintNode {
	return &ConstraintNode{
		Type:    PrimaryKeyConstraint,
		Columns: columns,
	}
}

// NewUniqueConstraint creates a named unique constraint.
func NewUniqueConstraint(name string, columns ...string) *ConstraintNode {
	return &ConstraintNode{
		Type:    UniqueConstraint,
		Name:    name,
		Columns: columns,
	}
}

// IndexNode represents a CREATE INDEX statement.
type IndexNode struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// NewIndex creates a CREATE INDEX node.
//
// Example:
//
//	index := NewIndex("ext_log_entries_object_idx", "ext_log_entries", "object_class", "object_id")
func NewIndex(name, table string, columns ...string) *IndexNode {
	return &IndexNode{
		Name:    name,
		Table:   table,
		Columns: columns,
	}
}

// Accept implements the Node interface for IndexNode.
func (n *IndexNode) Accept(visitor Visitor) error {
	return visitor.VisitIndex(n)
}

// SetUnique marks the index as unique and returns the index for chaining.
func (n *IndexNode) SetUnique() *IndexNode {
	n.Unique = true
	return n
}

// DropTableNode represents a DROP TABLE statement.
type DropTableNode struct {
	Name     string
	IfExists bool
}

// NewDropTable creates a new DROP TABLE node.
func NewDropTable(name string) *DropTableNode {
	return &DropTableNode{Name: name}
}

// SetIfExists makes the statement succeed when the table does not exist.
func (n *DropTableNode) SetIfExists() *DropTableNode {
	n.IfExists = true
	return n
}

// Accept implements the Node interface for DropTableNode.
func (n *DropTableNode) Accept(visitor Visitor) error {
	return visitor.VisitDropTable(n)
}
