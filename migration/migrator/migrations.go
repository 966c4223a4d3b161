package migrator

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/stokaro/behave/core/platform"
)

//go:embed base/schema.sql
var migrationsSchemaSQL string

//go:embed base/get_version.sql
var getVersionSQL string

//go:embed base/record_migration.sql
var recordMigrationSQL string

//go:embed base/delete_migration.sql
var deleteMigrationSQL string

//go:embed base/applied_migrations.sql
var appliedMigrationsSQL string

// Execer runs statements. Migrations receive the transaction they run in.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// MigrationFunc represents a migration function that operates on a transaction
type MigrationFunc func(context.Context, Execer) error

// MigrationFile describes a migration file name.
type MigrationFile struct {
	Version   int
	Name      string
	Direction string
}

var migrationFileRe = regexp.MustCompile(`^(\d+)_([A-Za-z0-9_]+)\.(up|down)\.sql$`)

// ParseMigrationFileName parses names like 0000000001_create_users.up.sql.
// The description words are title cased.
func ParseMigrationFileName(filename string) (*MigrationFile, error) {
	m := migrationFileRe.FindStringSubmatch(filename)
	if m == nil {
		return nil, fmt.Errorf("invalid migration file name: %s", filename)
	}
	version, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("invalid migration version in %s: %w", filename, err)
	}
	name := cases.Title(language.English).String(strings.ReplaceAll(m[2], "_", " "))
	return &MigrationFile{Version: version, Name: name, Direction: m[3]}, nil
}

// GenerateMigrationFileName builds the file name of one direction of a
// migration.
func GenerateMigrationFileName(version int, description, direction string) string {
	name := strings.ToLower(strings.Join(strings.Fields(description), "_"))
	return fmt.Sprintf("%010d_%s.%s.sql", version, name, direction)
}

// SplitSQLStatements splits a SQL script into statements. Comments are
// dropped; semicolons inside quotes and PostgreSQL dollar quotes do not
// split. MySQL needs this since it runs a single statement per call.
func SplitSQLStatements(sql string) []string {
	statements := []string{}
	var cur strings.Builder
	flush := func() {
		if stmt := strings.TrimSpace(cur.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		cur.Reset()
	}

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case ch == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				i = len(sql)
			} else {
				i += end + 3
			}
			cur.WriteByte(' ')
		case ch == '\'' || ch == '"' || ch == '`':
			j := i + 1
			for j < len(sql) {
				if sql[j] == ch {
					// Doubled quotes are escapes.
					if j+1 < len(sql) && sql[j+1] == ch {
						j += 2
						continue
					}
					break
				}
				if sql[j] == '\\' && ch == '\'' {
					j++
				}
				j++
			}
			end := min(j+1, len(sql))
			cur.WriteString(sql[i:end])
			i = end - 1
		case ch == '$':
			tag := dollarTag(sql[i:])
			if tag == "" {
				cur.WriteByte(ch)
				continue
			}
			end := strings.Index(sql[i+len(tag):], tag)
			if end < 0 {
				cur.WriteString(sql[i:])
				i = len(sql)
				continue
			}
			stop := i + len(tag) + end + len(tag)
			cur.WriteString(sql[i:stop])
			i = stop - 1
		case ch == ';':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return statements
}

// dollarTag returns the opening $tag$ at the start of s, if any.
func dollarTag(s string) string {
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1]
		}
		if !(c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || i > 1 && c >= '0' && c <= '9') {
			return ""
		}
	}
	return ""
}

// rebind rewrites ? placeholders for the dialect.
func rebind(dialect, query string) string {
	if platform.NormalizeDialect(dialect) != platform.Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString(platform.Placeholder(dialect, n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// MigrationFuncFromSQLFilename returns a migration function that reads SQL from a file
// in the provided filesystem and executes it statement by statement
func MigrationFuncFromSQLFilename(filename string, fsys fs.FS) MigrationFunc {
	return func(ctx context.Context, tx Execer) error {
		sql, err := fs.ReadFile(fsys, filename)
		if err != nil {
			return fmt.Errorf("failed to read migration file: %w", err)
		}
		return executeSQLStatements(ctx, tx, string(sql))
	}
}

// NoopMigrationFunc is a no-op migration function
func NoopMigrationFunc(_ context.Context, _ Execer) error {
	return nil
}

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Up          MigrationFunc
	Down        MigrationFunc
}

// CreateMigrationFromSQL creates a migration from SQL strings
func CreateMigrationFromSQL(version int, description, upSQL, downSQL string) *Migration {
	return &Migration{
		Version:     version,
		Description: description,
		Up: func(ctx context.Context, tx Execer) error {
			return executeSQLStatements(ctx, tx, upSQL)
		},
		Down: func(ctx context.Context, tx Execer) error {
			return executeSQLStatements(ctx, tx, downSQL)
		},
	}
}

func executeSQLStatements(ctx context.Context, tx Execer, sql string) error {
	for _, stmt := range SplitSQLStatements(sql) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute SQL statement: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}
