package store

import "context"

// Sort represents an ordering rule. Order is 1 for ascending and -1 for
// descending.
type Sort struct {
	FieldName string
	Order     int
}

// Asc sorts by the field in ascending order.
func Asc(field string) Sort { return Sort{FieldName: field, Order: 1} }

// Desc sorts by the field in descending order.
func Desc(field string) Sort { return Sort{FieldName: field, Order: -1} }

// Where encapsulates filtering, ordering and pagination for finds.
type Where struct {
	Condition *Condition
	Sort      []Sort
	Limit     int
	Offset    int
}

// Changes maps field names to the values to assign.
type Changes map[string]any

// Deltas maps numeric field names to the amount added to them.
type Deltas map[string]int64

// Transaction is an atomic section on the backing store.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Driver is the persistence adapter used by every strategy.
//
// All methods detect a transaction started by Transaction and stored in the
// context with WithTransaction and run inside it.
type Driver interface {
	// Transaction starts a new atomic section.
	Transaction(ctx context.Context) (Transaction, error)

	// Insert persists one or more records.
	Insert(ctx context.Context, collection string, records ...Record) error
	// FindOne returns the first matching record, or nil when none matches.
	FindOne(ctx context.Context, collection string, where *Where) (Record, error)
	// FindMany returns all matching records.
	FindMany(ctx context.Context, collection string, where *Where) ([]Record, error)
	// Update assigns changes on every matching record and returns the number
	// of matched records.
	Update(ctx context.Context, collection string, condition *Condition, changes Changes) (int64, error)
	// Increment adds deltas to numeric fields and assigns set on every
	// matching record, as a single statement per record. The condition and
	// the arithmetic both observe the values from before the call.
	Increment(ctx context.Context, collection string, condition *Condition, deltas Deltas, set Changes) (int64, error)
	// Delete removes matching records.
	Delete(ctx context.Context, collection string, condition *Condition) (int64, error)
	// Count returns the number of matching records.
	Count(ctx context.Context, collection string, condition *Condition) (int64, error)

	// Close releases the underlying resources.
	Close(ctx context.Context) error
}

// AdvisoryLocker is implemented by drivers able to take a store-wide
// exclusive lock that lasts until the current transaction ends.
type AdvisoryLocker interface {
	AdvisoryLock(ctx context.Context, key string) error
}

// FindByID loads the record whose idField equals id.
func FindByID(ctx context.Context, d Driver, collection, idField string, id any) (Record, error) {
	rec, err := d.FindOne(ctx, collection, &Where{Condition: Field(idField).Eq(id)})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}
