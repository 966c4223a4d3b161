package migrate_test

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/stokaro/behave/cmd/connection"
	"github.com/stokaro/behave/cmd/migrate"
)

const configYAML = `
entities:
  article:
    loggable:
      collection: ext_log_entries
  category:
    tree:
      strategy: closure
      parent: parent_id
`

func run(args ...string) (string, error) {
	settings := &connection.Settings{}
	root := &cobra.Command{Use: "behave", SilenceUsage: true, SilenceErrors: true}
	settings.Register(root)
	root.AddCommand(migrate.NewMigrateCommand(settings))

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func tables(c *qt.C, path string) []string {
	db, err := sql.Open("sqlite", path)
	c.Assert(err, qt.IsNil)
	defer db.Close()
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	c.Assert(err, qt.IsNil)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		c.Assert(rows.Scan(&name), qt.IsNil)
		out = append(out, name)
	}
	c.Assert(rows.Err(), qt.IsNil)
	return out
}

func TestMigrate_SupportTables(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	path := filepath.Join(dir, "app.db")
	config := filepath.Join(dir, "behave.yaml")
	c.Assert(os.WriteFile(config, []byte(configYAML), 0o644), qt.IsNil)
	conn := []string{"--config", config, "--dsn", "sqlite://" + path}

	out, err := run(append([]string{"migrate", "status"}, conn...)...)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "Current version: 0\nTotal migrations: 2\nPending migrations: [1 2]\n")

	out, err = run(append([]string{"migrate", "up"}, conn...)...)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "Current version: 2\n")
	c.Assert(tables(c, path), qt.DeepEquals, []string{"category_closure", "ext_log_entries", "schema_migrations"})

	out, err = run(append([]string{"migrate", "down"}, conn...)...)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "Current version: 1\n")

	out, err = run(append([]string{"migrate", "status"}, conn...)...)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "Current version: 1\nTotal migrations: 2\nPending migrations: [2]\n")
}

func TestMigrate_Directory(t *testing.T) {
	c := qt.New(t)
	dir := c.TempDir()
	migrations := filepath.Join(dir, "migrations")
	c.Assert(os.Mkdir(migrations, 0o755), qt.IsNil)
	files := map[string]string{
		"0000000001_create_tags.up.sql":   "CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT);",
		"0000000001_create_tags.down.sql": "DROP TABLE tags;",
	}
	for name, body := range files {
		c.Assert(os.WriteFile(filepath.Join(migrations, name), []byte(body), 0o644), qt.IsNil)
	}
	path := filepath.Join(dir, "app.db")
	conn := []string{"--dsn", "sqlite://" + path, "--migrations-dir", migrations}

	out, err := run(append([]string{"migrate", "to", "1"}, conn...)...)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "Current version: 1\n")
	c.Assert(tables(c, path), qt.Contains, "tags")

	out, err = run(append([]string{"migrate", "status"}, conn...)...)
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "Current version: 1\nTotal migrations: 1\nNo pending migrations\n")
}

func TestMigrate_InvalidVersion(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "app.db")

	_, err := run("migrate", "to", "latest", "--dsn", "sqlite://"+path)
	c.Assert(err, qt.ErrorMatches, `invalid version "latest"`)
}

func TestMigrate_Create(t *testing.T) {
	c := qt.New(t)
	dir := filepath.Join(c.TempDir(), "migrations")

	out, err := run("migrate", "create", "--name", "Add Tags", "--output-dir", dir)
	c.Assert(err, qt.IsNil)

	entries, err := os.ReadDir(dir)
	c.Assert(err, qt.IsNil)
	c.Assert(entries, qt.HasLen, 2)
	c.Assert(entries[0].Name(), qt.Matches, `\d{14}_add_tags\.down\.sql`)
	c.Assert(entries[1].Name(), qt.Matches, `\d{14}_add_tags\.up\.sql`)
	c.Assert(out, qt.Contains, entries[1].Name())

	body, err := os.ReadFile(filepath.Join(dir, entries[1].Name()))
	c.Assert(err, qt.IsNil)
	c.Assert(string(body), qt.Equals, "-- Migration: Add Tags (up)\n")
}
