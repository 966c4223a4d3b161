package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/driver/memory"
)

func TestRunTransaction_CommitsOnSuccess(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d := memory.New()

	err := store.RunTransaction(ctx, d, func(txCtx context.Context) error {
		c.Assert(store.TransactionFrom(txCtx), qt.IsNotNil)
		return d.Insert(txCtx, "items", store.Record{"id": "a"})
	})
	c.Assert(err, qt.IsNil)

	n, err := d.Count(ctx, "items", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(1))
}

func TestRunTransaction_RollsBackOnError(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d := memory.New()
	c.Assert(d.Insert(ctx, "items", store.Record{"id": "a"}), qt.IsNil)

	boom := errors.New("boom")
	err := store.RunTransaction(ctx, d, func(txCtx context.Context) error {
		if err := d.Insert(txCtx, "items", store.Record{"id": "b"}); err != nil {
			return err
		}
		return boom
	})
	c.Assert(err, qt.ErrorIs, boom)

	n, err := d.Count(ctx, "items", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(1))
}

func TestRunTransaction_RollsBackOnPanic(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d := memory.New()

	c.Assert(func() {
		_ = store.RunTransaction(ctx, d, func(txCtx context.Context) error {
			_ = d.Insert(txCtx, "items", store.Record{"id": "a"})
			panic("boom")
		})
	}, qt.PanicMatches, "boom")

	n, err := d.Count(ctx, "items", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(0))
}

func TestRunTransaction_JoinsEnclosingTransaction(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d := memory.New()

	boom := errors.New("outer failure")
	err := store.RunTransaction(ctx, d, func(outer context.Context) error {
		err := store.RunTransaction(outer, d, func(inner context.Context) error {
			c.Assert(store.TransactionFrom(inner), qt.Equals, store.TransactionFrom(outer))
			return d.Insert(inner, "items", store.Record{"id": "a"})
		})
		c.Assert(err, qt.IsNil)
		return boom
	})
	c.Assert(err, qt.ErrorIs, boom)

	n, err := d.Count(ctx, "items", nil)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(0), qt.Commentf("inner work must roll back with the outer transaction"))
}

func TestLock_RequiresTransaction(t *testing.T) {
	c := qt.New(t)
	err := store.Lock(context.Background(), memory.New(), store.NewKeyedLocker(), "tree:1")
	c.Assert(err, qt.ErrorIs, store.ErrNoTransaction)
}

func TestLock_ReentrantWithinTransaction(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	d := memory.New()
	locker := store.NewKeyedLocker()

	err := store.RunTransaction(ctx, d, func(txCtx context.Context) error {
		if err := store.Lock(txCtx, d, locker, "tree:1", "tree:2"); err != nil {
			return err
		}
		// A second acquisition of the same key must not block.
		return store.Lock(txCtx, d, locker, "tree:1")
	})
	c.Assert(err, qt.IsNil)

	// Released after the transaction ended.
	unlock, err := locker.Lock(ctx, "tree:1")
	c.Assert(err, qt.IsNil)
	unlock()
}

func TestKeyedLocker_ExcludesSameKey(t *testing.T) {
	c := qt.New(t)
	locker := store.NewKeyedLocker()

	unlock, err := locker.Lock(context.Background(), "group:red")
	c.Assert(err, qt.IsNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "group:red")
	c.Assert(err, qt.ErrorIs, context.DeadlineExceeded)

	other, err := locker.Lock(context.Background(), "group:blue")
	c.Assert(err, qt.IsNil)
	other()

	unlock()
	again, err := locker.Lock(context.Background(), "group:red")
	c.Assert(err, qt.IsNil)
	again()
}

func TestLockKey(t *testing.T) {
	c := qt.New(t)
	c.Assert(store.LockKey("tree", "categories", 3), qt.Equals, "tree:categories:3")
}
