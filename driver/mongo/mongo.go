// Package mongo implements store.Driver over MongoDB.
//
// Collections map to MongoDB collections of one database and records to
// documents. The document _id is left to MongoDB; records keep their own
// identifier field. Transactions use client sessions and therefore need a
// replica set or sharded cluster.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mdb "go.mongodb.org/mongo-driver/mongo"
	mopt "go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stokaro/behave/core/store"
)

type transaction struct {
	session mdb.Session
}

func (t *transaction) Commit(ctx context.Context) error {
	defer t.session.EndSession(ctx)
	return t.session.CommitTransaction(ctx)
}

func (t *transaction) Rollback(ctx context.Context) error {
	defer t.session.EndSession(ctx)
	return t.session.AbortTransaction(ctx)
}

// Driver is a MongoDB store.Driver.
type Driver struct {
	client   *mdb.Client
	database *mdb.Database
	logger   *slog.Logger
}

var _ store.Driver = (*Driver)(nil)

// Connect opens a client for uri and returns a driver over the database.
func Connect(ctx context.Context, uri, database string) (*Driver, error) {
	opts := mopt.Client().ApplyURI(uri)
	opts.SetConnectTimeout(10 * time.Second).SetServerSelectionTimeout(10 * time.Second)
	client, err := mdb.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return New(client, database)
}

// New creates a driver over a connected client.
func New(client *mdb.Client, database string) (*Driver, error) {
	if database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	return &Driver{client: client, database: client.Database(database), logger: slog.Default()}, nil
}

// WithLogger sets the logger for the driver
func (d *Driver) WithLogger(l *slog.Logger) *Driver {
	tmp := *d
	tmp.logger = l
	return &tmp
}

func (d *Driver) coll(name string) *mdb.Collection {
	return d.database.Collection(name)
}

// withSession binds the context to the session of the current transaction.
func (d *Driver) withSession(ctx context.Context) context.Context {
	if tx, ok := store.TransactionFrom(ctx).(*transaction); ok {
		return mdb.NewSessionContext(ctx, tx.session)
	}
	return ctx
}

// Transaction implements store.Driver.
func (d *Driver) Transaction(_ context.Context) (store.Transaction, error) {
	session, err := d.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	if err := session.StartTransaction(); err != nil {
		session.EndSession(context.Background())
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return &transaction{session: session}, nil
}

// Insert implements store.Driver.
func (d *Driver) Insert(ctx context.Context, collection string, records ...store.Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]any, len(records))
	for i, rec := range records {
		docs[i] = document(rec)
	}
	if _, err := d.coll(collection).InsertMany(d.withSession(ctx), docs); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", collection, err)
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
	ctx = d.withSession(ctx)
	opts := mopt.Find()
	var cond *store.Condition
	if where != nil {
		cond = where.Condition
		if len(where.Sort) > 0 {
			sort := bson.D{}
			for _, s := range where.Sort {
				dir := 1
				if s.Order < 0 {
					dir = -1
				}
				sort = append(sort, bson.E{Key: s.FieldName, Value: dir})
			}
			opts.SetSort(sort)
		}
		if where.Limit > 0 {
			opts.SetLimit(int64(where.Limit))
		}
		if where.Offset > 0 {
			opts.SetSkip(int64(where.Offset))
		}
	}

	cursor, err := d.coll(collection).Find(ctx, filter(cond), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var out []store.Record
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", collection, err)
		}
		out = append(out, record(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s documents: %w", collection, err)
	}
	return out, nil
}

// Update implements store.Driver.
func (d *Driver) Update(ctx context.Context, collection string, condition *store.Condition, changes store.Changes) (int64, error) {
	return d.Increment(ctx, collection, condition, nil, changes)
}

// Increment implements store.Driver with $inc and $set in one update.
func (d *Driver) Increment(ctx context.Context, collection string, condition *store.Condition, deltas store.Deltas, set store.Changes) (int64, error) {
	update := bson.M{}
	if len(deltas) > 0 {
		inc := bson.M{}
		for k, v := range deltas {
			inc[k] = v
		}
		update["$inc"] = inc
	}
	if len(set) > 0 {
		update["$set"] = document(store.Record(set))
	}
	if len(update) == 0 {
		return d.Count(ctx, collection, condition)
	}
	res, err := d.coll(collection).UpdateMany(d.withSession(ctx), filter(condition), update)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s: %w", collection, err)
	}
	return res.MatchedCount, nil
}

// Delete implements store.Driver.
func (d *Driver) Delete(ctx context.Context, collection string, condition *store.Condition) (int64, error) {
	res, err := d.coll(collection).DeleteMany(d.withSession(ctx), filter(condition))
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// Count implements store.Driver.
func (d *Driver) Count(ctx context.Context, collection string, condition *store.Condition) (int64, error) {
	n, err := d.coll(collection).CountDocuments(d.withSession(ctx), filter(condition))
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

// Close implements store.Driver.
func (d *Driver) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// filter renders a condition as a query document.
func filter(c *store.Condition) bson.M {
	if c == nil {
		return bson.M{}
	}
	if c.IsLogical() {
		children := make([]bson.M, 0, len(c.Children))
		for _, child := range c.Children {
			children = append(children, filter(child))
		}
		switch c.Operator {
		case store.OpAnd:
			return bson.M{"$and": children}
		case store.OpOr:
			return bson.M{"$or": children}
		default:
			return bson.M{"$nor": []bson.M{{"$and": children}}}
		}
	}

	field := c.FieldName
	switch c.Operator {
	case store.OpNil:
		return bson.M{field: bson.M{"$eq": nil}}
	case store.OpEq:
		return bson.M{field: value(c.Value)}
	case store.OpGt:
		return bson.M{field: bson.M{"$gt": value(c.Value)}}
	case store.OpGte:
		return bson.M{field: bson.M{"$gte": value(c.Value)}}
	case store.OpLt:
		return bson.M{field: bson.M{"$lt": value(c.Value)}}
	case store.OpLte:
		return bson.M{field: bson.M{"$lte": value(c.Value)}}
	case store.OpLike:
		return bson.M{field: primitive.Regex{Pattern: likePattern(store.AsString(c.Value))}}
	case store.OpPrefix:
		return bson.M{field: primitive.Regex{Pattern: "^" + regexp.QuoteMeta(store.AsString(c.Value))}}
	case store.OpIn:
		values, _ := c.Value.([]any)
		in := make(bson.A, len(values))
		for i, v := range values {
			in[i] = value(v)
		}
		return bson.M{field: bson.M{"$in": in}}
	default:
		return bson.M{"$expr": false}
	}
}

// likePattern converts a SQL LIKE pattern into an anchored regular expression.
func likePattern(input string) string {
	const percent = "__PERCENT__"
	const underscore = "__UNDERSCORE__"
	safe := strings.ReplaceAll(input, "%", percent)
	safe = strings.ReplaceAll(safe, "_", underscore)
	safe = regexp.QuoteMeta(safe)
	safe = strings.ReplaceAll(safe, percent, ".*")
	safe = strings.ReplaceAll(safe, underscore, ".")
	return "^" + safe + "$"
}

// value prepares a field value for BSON. Integers are widened so that
// comparisons do not depend on the Go integer type.
func value(v any) any {
	v = store.Identify(v, "")
	if n, ok := v.(int); ok {
		return int64(n)
	}
	if n, ok := v.(int32); ok {
		return int64(n)
	}
	return v
}

func document(rec store.Record) bson.M {
	doc := make(bson.M, len(rec))
	for k, v := range rec {
		doc[k] = value(v)
	}
	return doc
}

// record converts a decoded document back into a record.
func record(doc bson.M) store.Record {
	rec := make(store.Record, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		rec[k] = fromBSON(v)
	}
	return rec
}

func fromBSON(v any) any {
	switch t := v.(type) {
	case int32:
		return int64(t)
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSON(e)
		}
		return out
	case bson.M:
		return map[string]any(record(t))
	default:
		return v
	}
}
