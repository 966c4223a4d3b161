package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// transactionKey is the context key of the active transaction scope.
type transactionKey struct{}

// scope tracks one outermost transaction together with the logical locks
// acquired while it runs.
type scope struct {
	tx Transaction

	mu       sync.Mutex
	held     map[string]struct{}
	releases []func()
}

func (s *scope) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.releases) - 1; i >= 0; i-- {
		s.releases[i]()
	}
	s.releases = nil
	s.held = nil
}

func scopeFrom(ctx context.Context) *scope {
	if s, ok := ctx.Value(transactionKey{}).(*scope); ok {
		return s
	}
	return nil
}

// WithTransaction injects a transaction into the context so that driver
// calls made with the returned context run inside it.
func WithTransaction(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, transactionKey{}, &scope{tx: tx})
}

// TransactionFrom extracts the active transaction, or nil.
func TransactionFrom(ctx context.Context) Transaction {
	if s := scopeFrom(ctx); s != nil {
		return s.tx
	}
	return nil
}

// TransactionFunc is the body of an atomic section.
type TransactionFunc func(txCtx context.Context) error

// RunTransaction executes fn inside a transaction. When ctx already carries a
// transaction, fn joins it and the outermost caller decides commit or
// rollback. Otherwise a new transaction is started, committed when fn
// returns nil and rolled back when fn fails or panics.
//
// Locks taken with Lock are released after the outermost transaction ends.
func RunTransaction(ctx context.Context, d Driver, fn TransactionFunc) (err error) {
	if scopeFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := d.Transaction(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s := &scope{tx: tx}
	txCtx := context.WithValue(ctx, transactionKey{}, s)
	defer s.release()

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed to roll back transaction: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
