// Package blame records which user created, updated or changed an entity.
//
// The acting user travels in the context:
//
//	ctx = blame.WithUser(ctx, "alice")
//	err := session.Flush(ctx)
package blame

import (
	"context"

	"github.com/stokaro/behave/behavior/trigger"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/lifecycle"
)

type userKey struct{}

// WithUser returns a context carrying the acting user. Entities are reduced
// to their identifiers when written.
func WithUser(ctx context.Context, user any) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the acting user of the context, or nil.
func UserFrom(ctx context.Context) any {
	return ctx.Value(userKey{})
}

// Listener writes the acting user into the configured blame fields. Without
// a user in the context nothing is written.
type Listener struct {
	fallback any
}

var (
	_ lifecycle.PreInsertListener = (*Listener)(nil)
	_ lifecycle.PreUpdateListener = (*Listener)(nil)
)

// NewListener creates a blame listener.
func NewListener() *Listener {
	return &Listener{}
}

// WithDefaultUser sets the user blamed when the context carries none, such
// as a system account for background jobs.
func (l *Listener) WithDefaultUser(user any) *Listener {
	tmp := *l
	tmp.fallback = user
	return &tmp
}

// Applies implements lifecycle.Listener.
func (l *Listener) Applies(entry *metadata.Entry) bool {
	return len(entry.Blames) > 0
}

// PreInsert implements lifecycle.PreInsertListener.
func (l *Listener) PreInsert(ctx context.Context, ev *lifecycle.Event) error {
	return l.apply(ctx, ev)
}

// PreUpdate implements lifecycle.PreUpdateListener.
func (l *Listener) PreUpdate(ctx context.Context, ev *lifecycle.Event) error {
	return l.apply(ctx, ev)
}

func (l *Listener) apply(ctx context.Context, ev *lifecycle.Event) error {
	user := UserFrom(ctx)
	if user == nil {
		user = l.fallback
	}
	if user == nil {
		return nil
	}
	return trigger.Apply(ev, ev.Entry.Blames, func() any { return store.Identify(user, "") })
}
