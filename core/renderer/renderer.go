// Package renderer turns ast nodes into SQL for one dialect.
package renderer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/stokaro/behave/core/ast"
	"github.com/stokaro/behave/core/platform"
)

var _ ast.Visitor = (*Renderer)(nil)

// Renderer provides dialect specific SQL rendering. Statements end with a
// semicolon and a newline.
type Renderer struct {
	dialect string
	types   map[string]string
	w       strings.Builder
}

var columnTypes = map[string]map[string]string{
	platform.Postgres: {
		ast.TypeKey:       "VARCHAR(255)",
		ast.TypeText:      "TEXT",
		ast.TypeInteger:   "BIGINT",
		ast.TypeTimestamp: "TIMESTAMPTZ",
	},
	platform.MySQL: {
		ast.TypeKey:       "VARCHAR(255)",
		ast.TypeText:      "LONGTEXT",
		ast.TypeInteger:   "BIGINT",
		ast.TypeTimestamp: "DATETIME(6)",
	},
	platform.SQLite: {
		ast.TypeKey:       "TEXT",
		ast.TypeText:      "TEXT",
		ast.TypeInteger:   "INTEGER",
		ast.TypeTimestamp: "TIMESTAMP",
	},
}

// New creates a renderer for the dialect. Unknown dialects render like
// SQLite.
func New(dialect string) *Renderer {
	d := platform.NormalizeDialect(dialect)
	types := columnTypes[d]
	switch {
	case d == platform.MariaDB:
		types = columnTypes[platform.MySQL]
	case types == nil:
		types = columnTypes[platform.SQLite]
	}
	return &Renderer{dialect: d, types: types}
}

// Dialect returns the normalized dialect.
func (r *Renderer) Dialect() string {
	return r.dialect
}

// Reset clears the output.
func (r *Renderer) Reset() {
	r.w.Reset()
}

// Output returns the SQL rendered so far.
func (r *Renderer) Output() string {
	return r.w.String()
}

// Render renders the nodes in order and returns the SQL.
func (r *Renderer) Render(nodes ...ast.Node) (string, error) {
	r.Reset()
	for _, node := range nodes {
		if err := node.Accept(r); err != nil {
			return "", err
		}
	}
	return r.Output(), nil
}

func (r *Renderer) mysqlLike() bool {
	return r.dialect == platform.MySQL || r.dialect == platform.MariaDB
}

func (r *Renderer) quote(name string) string {
	return platform.QuoteIdentifier(r.dialect, name)
}

func (r *Renderer) quoteAll(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = r.quote(n)
	}
	return strings.Join(out, ", ")
}

// VisitCreateTable renders a CREATE TABLE statement with its columns and
// constraints. Table options are written for MySQL and MariaDB only.
func (r *Renderer) VisitCreateTable(node *ast.CreateTableNode) error {
	if len(node.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", node.Name)
	}
	fmt.Fprintf(&r.w, "CREATE TABLE %s (\n", r.quote(node.Name))
	parts := make([]ast.Node, 0, len(node.Columns)+len(node.Constraints))
	for _, col := range node.Columns {
		parts = append(parts, col)
	}
	for _, con := range node.Constraints {
		parts = append(parts, con)
	}
	for i, part := range parts {
		if i > 0 {
			r.w.WriteString(",\n")
		}
		r.w.WriteString("    ")
		if err := part.Accept(r); err != nil {
			return err
		}
	}
	r.w.WriteString("\n)")
	if r.mysqlLike() {
		keys := make([]string, 0, len(node.Options))
		for k := range node.Options {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&r.w, " %s=%s", k, node.Options[k])
		}
	}
	r.w.WriteString(";\n")
	return nil
}

// VisitColumn renders a column definition inside CREATE TABLE.
func (r *Renderer) VisitColumn(node *ast.ColumnNode) error {
	typ, ok := r.types[node.Type]
	if !ok {
		typ = node.Type
	}
	if typ == "" {
		return fmt.Errorf("column %s has no type", node.Name)
	}
	fmt.Fprintf(&r.w, "%s %s", r.quote(node.Name), typ)
	if node.Primary {
		r.w.WriteString(" PRIMARY KEY")
	} else if !node.Nullable {
		r.w.WriteString(" NOT NULL")
	}
	return nil
}

// VisitConstraint renders a table-level constraint inside CREATE TABLE.
func (r *Renderer) VisitConstraint(node *ast.ConstraintNode) error {
	switch node.Type {
	case ast.PrimaryKeyConstraint:
		fmt.Fprintf(&r.w, "PRIMARY KEY (%s)", r.quoteAll(node.Columns))
	case ast.UniqueConstraint:
		fmt.Fprintf(&r.w, "CONSTRAINT %s UNIQUE (%s)", r.quote(node.Name), r.quoteAll(node.Columns))
	default:
		return fmt.Errorf("unsupported constraint type %d", node.Type)
	}
	return nil
}

// VisitIndex renders a CREATE INDEX statement.
func (r *Renderer) VisitIndex(node *ast.IndexNode) error {
	unique := ""
	if node.Unique {
		unique = "UNIQUE "
	}
	fmt.Fprintf(&r.w, "CREATE %sINDEX %s ON %s (%s);\n", unique, r.quote(node.Name), r.quote(node.Table), r.quoteAll(node.Columns))
	return nil
}

// VisitDropTable renders a DROP TABLE statement.
func (r *Renderer) VisitDropTable(node *ast.DropTableNode) error {
	ifExists := ""
	if node.IfExists {
		ifExists = "IF EXISTS "
	}
	fmt.Fprintf(&r.w, "DROP TABLE %s%s;\n", ifExists, r.quote(node.Name))
	return nil
}
