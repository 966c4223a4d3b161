// Package trigger decides when tracking fields such as timestamps and blames
// are written.
//
// A field fires on create when the entity is inserted and the field is still
// empty. It fires on update for every insert and for every update that
// changes another field. It fires on change when one of its tracked fields
// changed, optionally to a given value.
package trigger

import (
	"fmt"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/lifecycle"
)

// Fires reports whether the field configured by cfg must be written for the
// event.
func Fires(cfg *metadata.TriggerConfig, ev *lifecycle.Event) bool {
	switch cfg.On {
	case metadata.OnCreate:
		return ev.IsInsert() && store.IsNil(ev.Entity.FieldValue(cfg.Field))
	case metadata.OnUpdate:
		if ev.IsInsert() {
			return true
		}
		// A value written by the caller in this update wins.
		return !ev.Changed(cfg.Field) && dirty(ev, cfg.Field)
	case metadata.OnChange:
		for _, f := range cfg.Track {
			if !ev.Changed(f) {
				continue
			}
			if cfg.Value == nil || store.Equal(ev.Value(f), cfg.Value) {
				return true
			}
		}
	}
	return false
}

// dirty reports whether any field other than skip changed.
func dirty(ev *lifecycle.Event, skip string) bool {
	for _, f := range ev.Entity.Fields() {
		if f != skip && ev.Changed(f) {
			return true
		}
	}
	return false
}

// Apply assigns value() to every configured field that fires. value is only
// called when at least one field fires.
func Apply(ev *lifecycle.Event, cfgs []metadata.TriggerConfig, value func() any) error {
	var v any
	resolved := false
	for i := range cfgs {
		cfg := &cfgs[i]
		if !Fires(cfg, ev) {
			continue
		}
		if !resolved {
			v, resolved = value(), true
		}
		if err := ev.Entity.SetFieldValue(cfg.Field, v); err != nil {
			return fmt.Errorf("failed to set %s.%s: %w", ev.Entry.Name, cfg.Field, err)
		}
	}
	return nil
}
