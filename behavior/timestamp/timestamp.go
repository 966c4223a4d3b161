// Package timestamp records creation, update and change times on entities.
package timestamp

import (
	"context"
	"time"

	"github.com/stokaro/behave/behavior/trigger"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/lifecycle"
)

// Listener writes the current time into the configured timestamp fields.
type Listener struct {
	now metadata.Clock
}

var (
	_ lifecycle.PreInsertListener = (*Listener)(nil)
	_ lifecycle.PreUpdateListener = (*Listener)(nil)
)

// NewListener creates a timestamp listener. A nil clock uses the current
// UTC time.
func NewListener(now metadata.Clock) *Listener {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Listener{now: now}
}

// Applies implements lifecycle.Listener.
func (l *Listener) Applies(entry *metadata.Entry) bool {
	return len(entry.Timestamps) > 0
}

// PreInsert implements lifecycle.PreInsertListener.
func (l *Listener) PreInsert(_ context.Context, ev *lifecycle.Event) error {
	return trigger.Apply(ev, ev.Entry.Timestamps, l.value)
}

// PreUpdate implements lifecycle.PreUpdateListener.
func (l *Listener) PreUpdate(_ context.Context, ev *lifecycle.Event) error {
	return trigger.Apply(ev, ev.Entry.Timestamps, l.value)
}

func (l *Listener) value() any { return l.now() }
