// Package sqldb implements store.Driver over database/sql for PostgreSQL,
// MySQL/MariaDB and SQLite.
//
// Collections are tables and record fields are columns; the schema is
// created beforehand, e.g. with the migrator. Every call made with a
// context carrying a transaction of this driver runs on that transaction.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/stokaro/behave/core/platform"
	"github.com/stokaro/behave/core/store"
)

// Driver is a SQL store.Driver.
type Driver struct {
	db      *sql.DB
	dialect string
	logger  *slog.Logger
	locks   *store.KeyedLocker
}

var (
	_ store.Driver         = (*Driver)(nil)
	_ store.AdvisoryLocker = (*Driver)(nil)
)

// New creates a driver over an open database.
func New(db *sql.DB, dialect string) (*Driver, error) {
	d := platform.NormalizeDialect(dialect)
	if d == "" {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	return &Driver{db: db, dialect: d, logger: slog.Default(), locks: store.NewKeyedLocker()}, nil
}

// WithLogger sets the logger for the driver
func (d *Driver) WithLogger(l *slog.Logger) *Driver {
	tmp := *d
	tmp.logger = l
	return &tmp
}

// DB returns the underlying database.
func (d *Driver) DB() *sql.DB { return d.db }

// Dialect returns the normalized dialect name.
func (d *Driver) Dialect() string { return d.dialect }

// transaction pins its connection so that session level locks taken inside
// it can be released on the same connection after the commit.
type transaction struct {
	driver *Driver

	mu       sync.Mutex
	conn     *sql.Conn
	tx       *sql.Tx
	releases []func(context.Context)
}

// finish ends the transaction, then releases its locks and connection.
func (t *transaction) finish(ctx context.Context, end func() error) error {
	err := end()
	ctx = context.WithoutCancel(ctx)
	t.mu.Lock()
	for i := len(t.releases) - 1; i >= 0; i-- {
		t.releases[i](ctx)
	}
	t.releases = nil
	t.mu.Unlock()
	if cerr := t.conn.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return err
}

func (t *transaction) Commit(ctx context.Context) error {
	return t.finish(ctx, t.tx.Commit)
}

func (t *transaction) Rollback(ctx context.Context) error {
	return t.finish(ctx, t.tx.Rollback)
}

// Transaction implements store.Driver.
func (d *Driver) Transaction(ctx context.Context) (store.Transaction, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &transaction{driver: d, conn: conn, tx: tx}, nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *Driver) current(ctx context.Context) *transaction {
	if tx, ok := store.TransactionFrom(ctx).(*transaction); ok && tx.driver == d {
		return tx
	}
	return nil
}

func (d *Driver) conn(ctx context.Context) querier {
	if tx := d.current(ctx); tx != nil {
		return tx.tx
	}
	return d.db
}

func (d *Driver) exec(ctx context.Context, query string, args []any) (int64, error) {
	d.logger.Debug("executing statement", "sql", query, "args", len(args))
	res, err := d.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Insert implements store.Driver.
func (d *Driver) Insert(ctx context.Context, collection string, records ...store.Record) error {
	for _, rec := range records {
		cols := sortedKeys(rec)
		b := d.builder()
		names := make([]string, len(cols))
		marks := make([]string, len(cols))
		for i, col := range cols {
			names[i] = b.quote(col)
			marks[i] = b.bind(rec[col])
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", b.quote(collection), strings.Join(names, ", "), strings.Join(marks, ", "))
		if _, err := d.exec(ctx, query, b.args); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", collection, err)
		}
	}
	return nil
}

// FindOne implements store.Driver.
func (d *Driver) FindOne(ctx context.Context, collection string, where *store.Where) (store.Record, error) {
	w := store.Where{}
	if where != nil {
		w = *where
	}
	w.Limit = 1
	list, err := d.FindMany(ctx, collection, &w)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

// FindMany implements store.Driver.
func (d *Driver) FindMany(ctx context.Context, collection string, where *store.Where) ([]store.Record, error) {
	b := d.builder()
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s", b.quote(collection))
	if where != nil {
		if clause := b.where(where.Condition); clause != "" {
			sb.WriteString(" WHERE " + clause)
		}
		if len(where.Sort) > 0 {
			order := make([]string, len(where.Sort))
			for i, s := range where.Sort {
				dir := "ASC"
				if s.Order < 0 {
					dir = "DESC"
				}
				order[i] = b.quote(s.FieldName) + " " + dir
			}
			sb.WriteString(" ORDER BY " + strings.Join(order, ", "))
		}
		sb.WriteString(b.limit(where.Limit, where.Offset))
	}

	query := sb.String()
	d.logger.Debug("executing query", "sql", query, "args", len(b.args))
	rows, err := d.conn(ctx).QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", collection, err)
	}
	var out []store.Record
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
		}
		rec := make(store.Record, len(cols))
		for i, col := range cols {
			rec[col] = normalize(values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", collection, err)
	}
	return out, nil
}

// normalize converts scanned values to the types used by records.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int32:
		return int64(t)
	case int:
		return int64(t)
	default:
		return v
	}
}

// Update implements store.Driver.
func (d *Driver) Update(ctx context.Context, collection string, condition *store.Condition, changes store.Changes) (int64, error) {
	return d.Increment(ctx, collection, condition, nil, changes)
}

// Increment implements store.Driver. Each delta only references its own
// column, so the assignments see the values from before the statement on
// every dialect.
func (d *Driver) Increment(ctx context.Context, collection string, condition *store.Condition, deltas store.Deltas, set store.Changes) (int64, error) {
	if len(deltas) == 0 && len(set) == 0 {
		return d.Count(ctx, collection, condition)
	}
	b := d.builder()
	var assignments []string
	for _, col := range sortedKeys(deltas) {
		q := b.quote(col)
		assignments = append(assignments, fmt.Sprintf("%s = %s + %s", q, q, b.bind(deltas[col])))
	}
	for _, col := range sortedKeys(set) {
		assignments = append(assignments, fmt.Sprintf("%s = %s", b.quote(col), b.bind(set[col])))
	}
	query := fmt.Sprintf("UPDATE %s SET %s", b.quote(collection), strings.Join(assignments, ", "))
	if clause := b.where(condition); clause != "" {
		query += " WHERE " + clause
	}
	n, err := d.exec(ctx, query, b.args)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", collection, err)
	}
	return n, nil
}

// Delete implements store.Driver.
func (d *Driver) Delete(ctx context.Context, collection string, condition *store.Condition) (int64, error) {
	b := d.builder()
	query := "DELETE FROM " + b.quote(collection)
	if clause := b.where(condition); clause != "" {
		query += " WHERE " + clause
	}
	n, err := d.exec(ctx, query, b.args)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", collection, err)
	}
	return n, nil
}

// Count implements store.Driver.
func (d *Driver) Count(ctx context.Context, collection string, condition *store.Condition) (int64, error) {
	b := d.builder()
	query := "SELECT COUNT(*) FROM " + b.quote(collection)
	if clause := b.where(condition); clause != "" {
		query += " WHERE " + clause
	}
	var n int64
	if err := d.conn(ctx).QueryRowContext(ctx, query, b.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

// Close implements store.Driver.
func (d *Driver) Close(_ context.Context) error {
	return d.db.Close()
}

// AdvisoryLock implements store.AdvisoryLocker. PostgreSQL takes a
// transaction-level advisory lock and MySQL a named lock released on the
// same connection once the transaction has committed or rolled back. SQLite, which has a single writer, uses a process-local
// lock.
func (d *Driver) AdvisoryLock(ctx context.Context, key string) error {
	tx := d.current(ctx)
	if tx == nil {
		return store.ErrNoTransaction
	}
	switch d.dialect {
	case platform.Postgres:
		_, err := tx.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key)
		return err
	case platform.MySQL, platform.MariaDB:
		name := lockName(key)
		var got sql.NullInt64
		if err := tx.tx.QueryRowContext(ctx, "SELECT GET_LOCK(?, -1)", name).Scan(&got); err != nil {
			return err
		}
		if !got.Valid || got.Int64 != 1 {
			return fmt.Errorf("named lock %s was not granted", name)
		}
		tx.mu.Lock()
		tx.releases = append(tx.releases, func(ctx context.Context) {
			if _, err := tx.conn.ExecContext(ctx, "DO RELEASE_LOCK(?)", name); err != nil {
				d.logger.Warn("failed to release named lock", "name", name, "error", err)
			}
		})
		tx.mu.Unlock()
		return nil
	default:
		unlock, err := d.locks.Lock(ctx, key)
		if err != nil {
			return err
		}
		tx.mu.Lock()
		tx.releases = append(tx.releases, func(context.Context) { unlock() })
		tx.mu.Unlock()
		return nil
	}
}

// lockName fits a key into the 64 characters MySQL allows for lock names.
func lockName(key string) string {
	if len(key) <= 64 {
		return key
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return fmt.Sprintf("%s:%016x", key[:47], h.Sum64())
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
