package platform

import (
	"fmt"
	"strings"
)

const (
	Postgres = "postgres"
	MySQL    = "mysql"
	MariaDB  = "mariadb"
	SQLite   = "sqlite"
)

// NormalizeDialect maps driver names and aliases onto one of the dialect
// constants. Unknown dialects normalize to an empty string.
func NormalizeDialect(dialect string) string {
	switch strings.ToLower(dialect) {
	case "pgx", "postgresql", "postgres":
		return Postgres
	case "mysql":
		return MySQL
	case "mariadb":
		return MariaDB
	case "sqlite", "sqlite3":
		return SQLite
	default:
		return ""
	}
}

// DriverName returns the database/sql driver name registered for the dialect.
func DriverName(dialect string) string {
	switch NormalizeDialect(dialect) {
	case Postgres:
		return "pgx"
	case MySQL, MariaDB:
		return "mysql"
	case SQLite:
		return "sqlite"
	default:
		return ""
	}
}

// Placeholder returns the n-th (1-based) bind parameter for the dialect.
func Placeholder(dialect string, n int) string {
	if NormalizeDialect(dialect) == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// QuoteIdentifier quotes a table or column name for the dialect.
func QuoteIdentifier(dialect, name string) string {
	switch NormalizeDialect(dialect) {
	case MySQL, MariaDB:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}
