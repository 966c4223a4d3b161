package migrator

import (
	"fmt"

	"github.com/stokaro/behave/core/ast"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/renderer"
)

// SupportMigrations returns the migrations creating the tables the
// behaviors keep their own records in: log entry tables of loggable
// entities, translation tables of translatable entities and closure tables
// of closure trees. Tables shared by several entities are created once.
// Versions are assigned from 1 in the order the tables are first met, so
// entries should be passed in a stable order.
func SupportMigrations(dialect string, entries ...*metadata.Entry) (*RegisteredMigrationProvider, error) {
	r := renderer.New(dialect)
	provider := NewRegisteredMigrationProvider()
	seen := map[string]bool{}
	add := func(table *ast.CreateTableNode, indexes ...*ast.IndexNode) error {
		if seen[table.Name] {
			return nil
		}
		seen[table.Name] = true

		nodes := []ast.Node{table.SetOption("ENGINE", "InnoDB")}
		for _, idx := range indexes {
			nodes = append(nodes, idx)
		}
		up, err := r.Render(nodes...)
		if err != nil {
			return fmt.Errorf("failed to render table %s: %w", table.Name, err)
		}
		down, err := r.Render(ast.NewDropTable(table.Name).SetIfExists())
		if err != nil {
			return fmt.Errorf("failed to render table %s: %w", table.Name, err)
		}
		provider.Register(CreateMigrationFromSQL(len(seen), "Create "+table.Name, up, down))
		return nil
	}

	for _, e := range entries {
		if e.Loggable != nil {
			if err := add(logEntriesTable(e.Loggable.Collection)); err != nil {
				return nil, err
			}
		}
		if e.Translatable != nil {
			if err := add(translationsTable(e.Translatable.Collection)); err != nil {
				return nil, err
			}
		}
		if e.Tree != nil && e.Tree.Strategy == metadata.StrategyClosure {
			if err := add(closureTable(e.Tree.ClosureCollection)); err != nil {
				return nil, err
			}
		}
	}
	return provider, nil
}

func logEntriesTable(name string) (*ast.CreateTableNode, *ast.IndexNode) {
	table := ast.NewCreateTable(name).
		AddColumn(ast.NewColumn("id", ast.TypeKey).SetPrimary()).
		AddColumn(ast.NewColumn("action", "VARCHAR(8)").SetNotNull()).
		AddColumn(ast.NewColumn("logged_at", ast.TypeTimestamp).SetNotNull()).
		AddColumn(ast.NewColumn("object_id", ast.TypeKey)).
		AddColumn(ast.NewColumn("object_class", ast.TypeKey).SetNotNull()).
		AddColumn(ast.NewColumn("version", ast.TypeInteger).SetNotNull()).
		AddColumn(ast.NewColumn("data", ast.TypeText)).
		AddColumn(ast.NewColumn("username", ast.TypeKey))
	return table, ast.NewIndex(name+"_object_idx", name, "object_class", "object_id", "version")
}

func translationsTable(name string) (*ast.CreateTableNode, *ast.IndexNode) {
	table := ast.NewCreateTable(name).
		AddColumn(ast.NewColumn("id", ast.TypeKey).SetPrimary()).
		AddColumn(ast.NewColumn("locale", "VARCHAR(16)").SetNotNull()).
		AddColumn(ast.NewColumn("object_class", ast.TypeKey).SetNotNull()).
		AddColumn(ast.NewColumn("field", "VARCHAR(64)").SetNotNull()).
		AddColumn(ast.NewColumn("foreign_key", ast.TypeKey).SetNotNull()).
		AddColumn(ast.NewColumn("content", ast.TypeText))
	return table, ast.NewIndex(name+"_lookup_idx", name, "locale", "object_class", "field", "foreign_key").SetUnique()
}

func closureTable(name string) (*ast.CreateTableNode, *ast.IndexNode) {
	table := ast.NewCreateTable(name).
		AddColumn(ast.NewColumn("ancestor", ast.TypeKey).SetNotNull()).
		AddColumn(ast.NewColumn("descendant", ast.TypeKey).SetNotNull()).
		AddColumn(ast.NewColumn("depth", ast.TypeInteger).SetNotNull()).
		AddConstraint(ast.NewPrimaryKeyConstraint("ancestor", "descendant"))
	return table, ast.NewIndex(name+"_descendant_idx", name, "descendant")
}
