// Package engine assembles the behavior listeners into a ready dispatcher.
//
// Example:
//
//	registry := metadata.NewRegistry(nil)
//	_ = registry.Register(&Category{}, &metadata.Entry{Tree: &metadata.TreeConfig{...}})
//	e := engine.New(driver, registry, config.DefaultOptions())
//	session := e.Session()
//	_ = session.Persist(category)
//	_ = session.Flush(ctx)
package engine

import (
	"log/slog"

	"github.com/stokaro/behave/behavior/blame"
	"github.com/stokaro/behave/behavior/loggable"
	"github.com/stokaro/behave/behavior/slug"
	"github.com/stokaro/behave/behavior/softdelete"
	"github.com/stokaro/behave/behavior/sortable"
	"github.com/stokaro/behave/behavior/timestamp"
	"github.com/stokaro/behave/behavior/translatable"
	"github.com/stokaro/behave/behavior/tree"
	"github.com/stokaro/behave/config"
	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
	"github.com/stokaro/behave/lifecycle"
)

// Engine holds one listener of every behavior, sharing a driver, a locker
// and the engine options.
type Engine struct {
	driver   store.Driver
	registry *metadata.Registry
	opts     *config.Options
	logger   *slog.Logger
	locker   store.Locker
	user     any

	softDelete   *softdelete.Listener
	tree         *tree.Listener
	sortable     *sortable.Listener
	slug         *slug.Listener
	timestamp    *timestamp.Listener
	blame        *blame.Listener
	translatable *translatable.Listener
	loggable     *loggable.Listener

	dispatcher *lifecycle.Dispatcher
}

// New creates an engine. Nil options use config.DefaultOptions.
func New(d store.Driver, registry *metadata.Registry, opts *config.Options) *Engine {
	e := &Engine{
		driver:   d,
		registry: registry,
		opts:     opts.OrDefault(),
		logger:   slog.Default(),
		locker:   store.NewKeyedLocker(),
	}
	e.build()
	return e
}

// WithLogger sets the logger for the engine
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	tmp := *e
	tmp.logger = l
	tmp.build()
	return &tmp
}

// WithDefaultUser sets the user blamed when the context carries none.
func (e *Engine) WithDefaultUser(user any) *Engine {
	tmp := *e
	tmp.user = user
	tmp.build()
	return &tmp
}

// build creates the listeners. Soft delete runs first so the tree and
// sortable listeners see the skipped delete.
func (e *Engine) build() {
	clock := metadata.Clock(e.opts.Time)

	e.softDelete = softdelete.NewListener(clock).WithLogger(e.logger)
	e.tree = tree.NewListener(e.driver).WithLogger(e.logger).WithLocker(e.locker)
	e.sortable = sortable.NewListener(e.driver).WithLogger(e.logger).WithLocker(e.locker)
	e.slug = slug.NewListener(e.driver).WithLogger(e.logger).WithLocker(e.locker).WithLimit(e.opts.MaxSlugSuffix)
	e.timestamp = timestamp.NewListener(clock)
	e.blame = blame.NewListener()
	if e.user != nil {
		e.blame = e.blame.WithDefaultUser(e.user)
	}
	e.translatable = translatable.NewListener(e.driver, e.opts.DefaultLocale).WithLogger(e.logger)
	e.loggable = loggable.NewListener(e.driver, clock).WithLogger(e.logger).WithLocker(e.locker)

	e.dispatcher = lifecycle.NewDispatcher(e.registry,
		e.softDelete,
		e.tree,
		e.sortable,
		e.slug,
		e.timestamp,
		e.blame,
		e.translatable,
		e.loggable,
	).WithLogger(e.logger)
}

// Session starts a new unit of work.
func (e *Engine) Session() *lifecycle.Session {
	return lifecycle.NewSession(e.driver, e.dispatcher).WithLogger(e.logger)
}

// Driver returns the driver of the engine.
func (e *Engine) Driver() store.Driver { return e.driver }

// Registry returns the metadata registry of the engine.
func (e *Engine) Registry() *metadata.Registry { return e.registry }

// Options returns the engine options.
func (e *Engine) Options() *config.Options { return e.opts }

// Dispatcher returns the dispatcher shared by the engine's sessions.
func (e *Engine) Dispatcher() *lifecycle.Dispatcher { return e.dispatcher }

// Tree returns the tree listener, e.g. to request a placement with Place.
func (e *Engine) Tree() *tree.Listener { return e.tree }

// Sortable returns the sortable listener.
func (e *Engine) Sortable() *sortable.Listener { return e.sortable }

// Slug returns the slug listener.
func (e *Engine) Slug() *slug.Listener { return e.slug }

// Translator returns the translator for explicit translation access.
func (e *Engine) Translator() *translatable.Translator { return e.translatable.Translator() }
