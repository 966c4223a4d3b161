// Package config provides configuration options for the behavior engine.
//
// Options are programmatic and immutable once handed to the strategies; the
// With* methods return modified copies. Load reads the same settings, plus
// the per-entity behavior metadata, from a config file and BEHAVE_*
// environment variables.
package config

import (
	"time"
)

// DefaultMaxSlugSuffix bounds the numeric suffix search of unique slugs.
const DefaultMaxSlugSuffix = 10000

// DefaultLocale is the locale of the values stored on translatable entities.
const DefaultLocale = "en"

// Options contains engine-wide settings shared by every strategy.
type Options struct {
	// MaxSlugSuffix is the largest numeric suffix tried when resolving slug
	// collisions. Exceeding it yields a UniquenessExhaustedError instead of
	// looping forever.
	MaxSlugSuffix int

	// DefaultLocale is used when neither the context nor the entity
	// configuration names a locale.
	DefaultLocale string

	// Now returns the current time for timestamps, soft deletes and log
	// entries.
	Now func() time.Time
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() *Options {
	return &Options{
		MaxSlugSuffix: DefaultMaxSlugSuffix,
		DefaultLocale: DefaultLocale,
		Now:           time.Now,
	}
}

// WithMaxSlugSuffix returns a copy with a different suffix bound.
//
// Example:
//
//	opts := config.DefaultOptions().WithMaxSlugSuffix(100)
func (o *Options) WithMaxSlugSuffix(n int) *Options {
	tmp := *o
	tmp.MaxSlugSuffix = n
	return &tmp
}

// WithDefaultLocale returns a copy with a different default locale.
func (o *Options) WithDefaultLocale(locale string) *Options {
	tmp := *o
	tmp.DefaultLocale = locale
	return &tmp
}

// WithClock returns a copy reading the time from now. Tests use it to pin
// timestamps.
func (o *Options) WithClock(now func() time.Time) *Options {
	tmp := *o
	tmp.Now = now
	return &tmp
}

// OrDefault returns o, or the default options when o is nil. Missing values
// are filled from the defaults.
func (o *Options) OrDefault() *Options {
	def := DefaultOptions()
	if o == nil {
		return def
	}
	tmp := *o
	if tmp.MaxSlugSuffix <= 0 {
		tmp.MaxSlugSuffix = def.MaxSlugSuffix
	}
	if tmp.DefaultLocale == "" {
		tmp.DefaultLocale = def.DefaultLocale
	}
	if tmp.Now == nil {
		tmp.Now = def.Now
	}
	return &tmp
}

// Time returns the current time in UTC according to the configured clock.
func (o *Options) Time() time.Time {
	return o.OrDefault().Now().UTC()
}
