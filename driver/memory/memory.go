// Package memory provides an in-process store.Driver.
//
// Collections are slices of records guarded by a single writer token:
// a transaction holds the token until it commits or rolls back, so
// transactions are fully serialized and a rollback restores the snapshot
// taken when the transaction began. Calls made outside a transaction take the
// token for their own duration only.
package memory

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/stokaro/behave/core/store"
)

// ErrTransactionDone is returned when a finished transaction is reused.
var ErrTransactionDone = errors.New("memory: transaction already finished")

// Driver is the in-memory store.Driver.
type Driver struct {
	token chan struct{}

	mu   sync.Mutex
	data map[string][]store.Record
}

var _ store.Driver = (*Driver)(nil)

// New creates an empty in-memory driver.
func New() *Driver {
	return &Driver{
		token: make(chan struct{}, 1),
		data:  make(map[string][]store.Record),
	}
}

type transaction struct {
	driver   *Driver
	snapshot map[string][]store.Record
	done     bool
}

func (tx *transaction) Commit(_ context.Context) error {
	if tx.done {
		return ErrTransactionDone
	}
	tx.done = true
	<-tx.driver.token
	return nil
}

func (tx *transaction) Rollback(_ context.Context) error {
	if tx.done {
		return ErrTransactionDone
	}
	tx.done = true
	tx.driver.mu.Lock()
	tx.driver.data = tx.snapshot
	tx.driver.mu.Unlock()
	<-tx.driver.token
	return nil
}

// Transaction implements store.Driver.
func (d *Driver) Transaction(ctx context.Context) (store.Transaction, error) {
	select {
	case d.token <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return &transaction{driver: d, snapshot: d.copyData()}, nil
}

// enter serializes a call against running transactions. Calls made inside a
// transaction of this driver already own the token.
func (d *Driver) enter(ctx context.Context) (func(), error) {
	if tx, ok := store.TransactionFrom(ctx).(*transaction); ok && tx.driver == d && !tx.done {
		d.mu.Lock()
		return d.mu.Unlock, nil
	}
	select {
	case d.token <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	d.mu.Lock()
	return func() {
		d.mu.Unlock()
		<-d.token
	}, nil
}

func (d *Driver) copyData() map[string][]store.Record {
	out := make(map[string][]store.Record, len(d.data))
	for name, records := range d.data {
		cp := make([]store.Record, len(records))
		for i, r := range records {
			cp[i] = r.Clone()
		}
		out[name] = cp
	}
	return out
}

// Insert implements store.Driver.
func (d *Driver) Insert(ctx context.Context, collection string, records ...store.Record) error {
	leave, err := d.enter(ctx)
	if err != nil {
		return err
	}
	defer leave()
	for _, r := range records {
		d.data[collection] = append(d.data[collection], r.Clone())
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
	leave, err := d.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	var cond *store.Condition
	if where != nil {
		cond = where.Condition
	}
	var out []store.Record
	for _, r := range d.data[collection] {
		if Match(r, cond) {
			out = append(out, r.Clone())
		}
	}
	if where == nil {
		return out, nil
	}
	if len(where.Sort) > 0 {
		sortRecords(out, where.Sort)
	}
	if where.Offset > 0 {
		if where.Offset >= len(out) {
			return nil, nil
		}
		out = out[where.Offset:]
	}
	if where.Limit > 0 && len(out) > where.Limit {
		out = out[:where.Limit]
	}
	return out, nil
}

// Update implements store.Driver.
func (d *Driver) Update(ctx context.Context, collection string, condition *store.Condition, changes store.Changes) (int64, error) {
	return d.Increment(ctx, collection, condition, nil, changes)
}

// Increment implements store.Driver.
func (d *Driver) Increment(ctx context.Context, collection string, condition *store.Condition, deltas store.Deltas, set store.Changes) (int64, error) {
	leave, err := d.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer leave()

	var matched []store.Record
	for _, r := range d.data[collection] {
		if Match(r, condition) {
			matched = append(matched, r)
		}
	}
	for _, r := range matched {
		for field, delta := range deltas {
			r[field] = store.MustInt64(r[field]) + delta
		}
		for field, v := range set {
			r[field] = v
		}
	}
	return int64(len(matched)), nil
}

// Delete implements store.Driver.
func (d *Driver) Delete(ctx context.Context, collection string, condition *store.Condition) (int64, error) {
	leave, err := d.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer leave()

	kept := d.data[collection][:0:0]
	var removed int64
	for _, r := range d.data[collection] {
		if Match(r, condition) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	d.data[collection] = kept
	return removed, nil
}

// Count implements store.Driver.
func (d *Driver) Count(ctx context.Context, collection string, condition *store.Condition) (int64, error) {
	leave, err := d.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer leave()

	var n int64
	for _, r := range d.data[collection] {
		if Match(r, condition) {
			n++
		}
	}
	return n, nil
}

// Close implements store.Driver.
func (d *Driver) Close(_ context.Context) error {
	return nil
}

// Match evaluates a condition against a record.
func Match(r store.Record, c *store.Condition) bool {
	if c == nil {
		return true
	}
	switch c.Operator {
	case store.OpAnd:
		for _, child := range c.Children {
			if !Match(r, child) {
				return false
			}
		}
		return true
	case store.OpOr:
		for _, child := range c.Children {
			if Match(r, child) {
				return true
			}
		}
		return false
	case store.OpNot:
		for _, child := range c.Children {
			if !Match(r, child) {
				return true
			}
		}
		return false
	}

	v := r[c.FieldName]
	switch c.Operator {
	case store.OpNil:
		return store.IsNil(v)
	case store.OpEq:
		return store.Equal(v, c.Value)
	case store.OpGt, store.OpGte, store.OpLt, store.OpLte:
		cmp, ok := store.Compare(v, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case store.OpGt:
			return cmp > 0
		case store.OpGte:
			return cmp >= 0
		case store.OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case store.OpLike:
		if store.IsNil(v) {
			return false
		}
		return likePattern(store.AsString(c.Value)).MatchString(store.AsString(v))
	case store.OpPrefix:
		if store.IsNil(v) {
			return false
		}
		return strings.HasPrefix(store.AsString(v), store.AsString(c.Value))
	case store.OpIn:
		values, _ := c.Value.([]any)
		for _, candidate := range values {
			if store.Equal(v, candidate) {
				return true
			}
		}
		return false
	}
	return false
}

// likePattern converts a SQL LIKE pattern into an anchored regular expression.
func likePattern(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func sortRecords(records []store.Record, rules []store.Sort) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, rule := range rules {
			a, b := records[i][rule.FieldName], records[j][rule.FieldName]
			if store.IsNil(a) || store.IsNil(b) {
				if store.IsNil(a) == store.IsNil(b) {
					continue
				}
				// NULLs first in ascending order
				return store.IsNil(a) == (rule.Order >= 0)
			}
			cmp, ok := store.Compare(a, b)
			if !ok || cmp == 0 {
				continue
			}
			if rule.Order < 0 {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
