package memory_test

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/driver/memory"
)

func seed(c *qt.C, d *memory.Driver) {
	c.Helper()
	err := d.Insert(context.Background(), "nodes",
		store.Record{"id": "r", "lft": 1, "rgt": 6, "title": "root"},
		store.Record{"id": "a", "lft": 2, "rgt": 3, "title": "apple"},
		store.Record{"id": "b", "lft": 4, "rgt": 5, "title": "apple_1", "parent": "r"},
	)
	c.Assert(err, qt.IsNil)
}

func TestFindMany_FilterSortPaginate(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d := memory.New()
	seed(c, d)

	list, err := d.FindMany(ctx, "nodes", &store.Where{
		Condition: store.Field("lft").Gt(1),
		Sort:      []store.Sort{store.Desc("lft")},
	})
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 2)
	c.Assert(list[0]["id"], qt.Equals, "b")

	page, err := d.FindMany(ctx, "nodes", &store.Where{Sort: []store.Sort{store.Asc("lft")}, Offset: 1, Limit: 1})
	c.Assert(err, qt.IsNil)
	c.Assert(page, qt.HasLen, 1)
	c.Assert(page[0]["id"], qt.Equals, "a")
}

func TestFindOne_ReturnsNilWhenMissing(t *testing.T) {
	c := qt.New(t)
	d := memory.New()
	seed(c, d)

	rec, err := d.FindOne(context.Background(), "nodes", &store.Where{Condition: store.Field("id").Eq("zzz")})
	c.Assert(err, qt.IsNil)
	c.Assert(rec, qt.IsNil)

	_, err = store.FindByID(context.Background(), d, "nodes", "id", "zzz")
	c.Assert(err, qt.ErrorIs, store.ErrNotFound)
}

func TestFindMany_ReturnsCopies(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d := memory.New()
	seed(c, d)

	rec, err := store.FindByID(ctx, d, "nodes", "id", "a")
	c.Assert(err, qt.IsNil)
	rec["title"] = "changed"

	again, err := store.FindByID(ctx, d, "nodes", "id", "a")
	c.Assert(err, qt.IsNil)
	c.Assert(again["title"], qt.Equals, "apple")
}

func TestIncrement_UsesPreUpdateValues(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d := memory.New()
	seed(c, d)

	// Shifting lft >= 2 by 2 must not cascade into rows that reach 2 only
	// after the shift.
	n, err := d.Increment(ctx, "nodes", store.Field("lft").Gte(2), store.Deltas{"lft": 2, "rgt": 2}, store.Changes{"moved": true})
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(2))

	rec, err := store.FindByID(ctx, d, "nodes", "id", "b")
	c.Assert(err, qt.IsNil)
	c.Assert(rec["lft"], qt.Equals, int64(6))
	c.Assert(rec["rgt"], qt.Equals, int64(7))
	c.Assert(rec["moved"], qt.Equals, true)
}

func TestMatch_Operators(t *testing.T) {
	rec := store.Record{"title": "apple_1", "n": 3, "parent": nil}
	tests := []struct {
		name string
		cond *store.Condition
		want bool
	}{
		{name: "eq", cond: store.Field("n").Eq(int64(3)), want: true},
		{name: "nil", cond: store.Field("parent").Nil(), want: true},
		{name: "missing is nil", cond: store.Field("absent").Nil(), want: true},
		{name: "like wildcard", cond: store.Field("title").Like("apple%"), want: true},
		{name: "like underscore", cond: store.Field("title").Like("apple_"), want: false},
		{name: "prefix literal underscore", cond: store.Field("title").Prefix("apple_"), want: true},
		{name: "prefix mismatch", cond: store.Field("title").Prefix("pear"), want: false},
		{name: "in", cond: store.Field("n").In(1, 2, 3), want: true},
		{name: "not in", cond: store.Field("n").In(1, 2).Not(), want: true},
		{name: "or", cond: store.Field("n").Eq(9).Or(store.Field("n").Lte(3)), want: true},
		{name: "between", cond: store.Field("n").Between(4, 9), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(memory.Match(rec, tt.cond), qt.Equals, tt.want)
		})
	}
}

func TestDeleteAndCount(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d := memory.New()
	seed(c, d)

	n, err := d.Delete(ctx, "nodes", store.Field("parent").Eq("r"))
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(1))

	total, err := d.Count(ctx, "nodes", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(total, qt.Equals, int64(2))
}

func TestTransaction_SerializesWriters(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d := memory.New()

	tx, err := d.Transaction(ctx)
	c.Assert(err, qt.IsNil)
	txCtx := store.WithTransaction(ctx, tx)
	c.Assert(d.Insert(txCtx, "nodes", store.Record{"id": "x"}), qt.IsNil)

	done := make(chan int64)
	go func() {
		n, _ := d.Count(ctx, "nodes", nil)
		done <- n
	}()

	c.Assert(tx.Rollback(ctx), qt.IsNil)
	c.Assert(<-done, qt.Equals, int64(0))
	c.Assert(tx.Commit(ctx), qt.ErrorIs, memory.ErrTransactionDone)
}
