package maintain_test

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
	"github.com/stokaro/behave/cmd/maintain"
)

const configYAML = `
entities:
  category:
    tree:
      parent: parent_id
      left: lft
      right: rgt
      level: lvl
  item:
    sortable:
      position: position
      groups: [team]
`

var schema = []string{
	`CREATE TABLE category (id TEXT PRIMARY KEY, title TEXT, parent_id TEXT, lft INTEGER, rgt INTEGER, lvl INTEGER)`,
	`CREATE TABLE item (id TEXT PRIMARY KEY, title TEXT, team TEXT, position INTEGER)`,
	`INSERT INTO category VALUES ('a', 'A', NULL, 1, 6, 0), ('b', 'B', 'a', 2, 3, 1), ('c', 'C', 'a', 4, 5, 1)`,
	`INSERT INTO item VALUES ('x', 'X', 'red', 0), ('y', 'Y', 'red', 1), ('z', 'Z', 'blue', 0)`,
}

type fixture struct {
	db     *sql.DB
	config string
	dsn    string
}

func newFixture(c *qt.C) *fixture {
	dir := c.TempDir()
	path := filepath.Join(dir, "app.db")
	db, err := sql.Open("sqlite", path)
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() { _ = db.Close() })
	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		c.Assert(err, qt.IsNil)
	}

	config := filepath.Join(dir, "behave.yaml")
	c.Assert(os.WriteFile(config, []byte(configYAML), 0o644), qt.IsNil)
	return &fixture{db: db, config: config, dsn: "sqlite://" + path}
}

func (f *fixture) exec(c *qt.C, query string) {
	_, err := f.db.Exec(query)
	c.Assert(err, qt.IsNil)
}

func (f *fixture) run(args ...string) (string, error) {
	settings := &connection.Settings{}
	root := &cobra.Command{Use: "behave", SilenceUsage: true, SilenceErrors: true}
	settings.Register(root)
	root.AddCommand(maintain.NewVerifyCommand(settings), maintain.NewRepairCommand(settings))

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append(args, "--config", f.config, "--dsn", f.dsn))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVerifyTree(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)

	out, err := f.run("verify", "tree")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "category: ok\n")

	f.exec(c, `UPDATE category SET lft = 7 WHERE id = 'c'`)
	_, err = f.run("verify", "tree")
	c.Assert(err, qt.ErrorMatches, `tree category \(root <nil>\) is corrupt at node c: left 7 is not below right 5`)
}

func TestRepairTree(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	f.exec(c, `UPDATE category SET lft = 7, rgt = 9, lvl = 4 WHERE id = 'c'`)

	out, err := f.run("repair", "tree")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "category: rebuilt\n")

	var lft, rgt, lvl int64
	c.Assert(f.db.QueryRow(`SELECT lft, rgt, lvl FROM category WHERE id = 'c'`).Scan(&lft, &rgt, &lvl), qt.IsNil)
	c.Assert([]int64{lft, rgt, lvl}, qt.DeepEquals, []int64{4, 5, 1})

	out, err = f.run("verify", "tree")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "category: ok\n")
}

func TestRepairSortable(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)
	f.exec(c, `UPDATE item SET position = 5 WHERE id = 'y'`)

	_, err := f.run("verify", "sortable", "--entity", "item")
	c.Assert(err, qt.ErrorMatches, `sortable item group \{team=red\}: expected position 1, found 5`)

	out, err := f.run("repair", "sortable", "--entity", "item")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "item group {team=red}: 1 renumbered\nitem group {team=blue}: 0 renumbered\n")

	out, err = f.run("verify", "sortable")
	c.Assert(err, qt.IsNil)
	c.Assert(out, qt.Equals, "item group {team=red}: ok\nitem group {team=blue}: ok\n")
}

func TestUnknownEntity(t *testing.T) {
	c := qt.New(t)
	f := newFixture(c)

	_, err := f.run("verify", "tree", "--entity", "missing")
	c.Assert(err, qt.ErrorMatches, "unknown entity: missing")
}

func TestMissingDSN(t *testing.T) {
	c := qt.New(t)
	settings := &connection.Settings{}
	root := &cobra.Command{Use: "behave", SilenceUsage: true, SilenceErrors: true}
	settings.Register(root)
	root.AddCommand(maintain.NewVerifyCommand(settings))
	root.SetArgs([]string{"verify", "tree"})
	root.SetOut(&bytes.Buffer{})

	err := root.ExecuteContext(context.Background())
	c.Assert(err, qt.ErrorMatches, "no database configured: .*")
}
