// Package sortable keeps a contiguous, zero-based position per group.
//
// A group is the tuple of values of the configured group fields; items of
// different groups are numbered independently. Like the tree strategies,
// Sortable shifts stored records directly and leaves writing the item's own
// row to the caller.
package sortable

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/stokaro/behave/core/metadata"
	"github.com/stokaro/behave/core/store"
)

// Group maps group field names to their values.
type Group map[string]any

// String renders the group as field=value pairs sorted by field.
func (g Group) String() string {
	if len(g) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, g[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Equal reports whether both groups hold equal values for every field.
func (g Group) Equal(other Group) bool {
	if len(g) != len(other) {
		return false
	}
	for k, v := range g {
		o, ok := other[k]
		if !ok || !store.Equal(v, o) {
			return false
		}
	}
	return true
}

// Option configures a single relocation.
type Option func(*options)

type options struct {
	exclude []any
}

// Exclude leaves the items with the given identifiers out of the shift, e.g.
// items inserted or deleted by the same batch.
func Exclude(ids ...any) Option {
	return func(o *options) { o.exclude = append(o.exclude, ids...) }
}

// Sortable relocates items of one entity type.
type Sortable struct {
	driver store.Driver
	locker store.Locker
	entry  *metadata.Entry
	cfg    *metadata.SortableConfig
	logger *slog.Logger
}

// New creates a Sortable for the entry, which must have a sortable
// configuration.
func New(d store.Driver, entry *metadata.Entry) *Sortable {
	return &Sortable{
		driver: d,
		locker: store.NewKeyedLocker(),
		entry:  entry,
		cfg:    entry.Sortable,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the strategy
func (s *Sortable) WithLogger(l *slog.Logger) *Sortable {
	tmp := *s
	tmp.logger = l
	return &tmp
}

// WithLocker sets the in-process locker.
func (s *Sortable) WithLocker(l store.Locker) *Sortable {
	tmp := *s
	tmp.locker = l
	return &tmp
}

// GroupOf returns the group of an entity with associations reduced to their
// identifiers.
func (s *Sortable) GroupOf(entity store.Entity) Group {
	g := make(Group, len(s.cfg.Groups))
	for _, f := range s.cfg.Groups {
		g[f] = store.Identify(entity.FieldValue(f), "")
	}
	return g
}

func (s *Sortable) groupOfRecord(rec store.Record) Group {
	g := make(Group, len(s.cfg.Groups))
	for _, f := range s.cfg.Groups {
		g[f] = rec[f]
	}
	return g
}

// CheckAssociations returns a PendingAssociationError when a group field
// holds an entity without an identifier, or one that pending reports as not
// written yet. pending may be nil.
func (s *Sortable) CheckAssociations(entity store.Entity, pending func(store.Entity) bool) error {
	for _, f := range s.cfg.Groups {
		ref, ok := entity.FieldValue(f).(store.Entity)
		if !ok || store.IsNil(ref) {
			continue
		}
		if store.IsNil(store.Identify(ref, "")) || (pending != nil && pending(ref)) {
			return &PendingAssociationError{Entity: s.entry.Name, Field: f}
		}
	}
	return nil
}

func (s *Sortable) lockKey(g Group) string {
	parts := []any{"sortable", s.entry.Collection}
	for _, f := range s.cfg.Groups {
		parts = append(parts, g[f])
	}
	return store.LockKey(parts...)
}

func (s *Sortable) lock(ctx context.Context, groups ...Group) error {
	keys := make([]string, len(groups))
	for i, g := range groups {
		keys[i] = s.lockKey(g)
	}
	return store.Lock(ctx, s.driver, s.locker, keys...)
}

// in builds the condition selecting the group, minus the excluded items.
func (s *Sortable) in(g Group, exclude []any, extra ...*store.Condition) *store.Condition {
	conds := make([]*store.Condition, 0, len(s.cfg.Groups)+len(extra)+1)
	for _, f := range s.cfg.Groups {
		conds = append(conds, store.Field(f).Eq(g[f]))
	}
	if len(exclude) > 0 {
		conds = append(conds, store.Field(s.entry.IDField).In(exclude...).Not())
	}
	conds = append(conds, extra...)
	return store.All(conds...)
}

func (s *Sortable) count(ctx context.Context, g Group, exclude []any) (int64, error) {
	n, err := s.driver.Count(ctx, s.entry.Collection, s.in(g, exclude))
	if err != nil {
		return 0, fmt.Errorf("failed to count %s in group %s: %w", s.entry.Name, g, err)
	}
	return n, nil
}

func (s *Sortable) shift(ctx context.Context, g Group, exclude []any, delta int64, bounds ...*store.Condition) error {
	n, err := s.driver.Increment(ctx, s.entry.Collection, s.in(g, exclude, bounds...), store.Deltas{s.cfg.Position: delta}, nil)
	if err != nil {
		return fmt.Errorf("failed to shift %s positions in group %s: %w", s.entry.Name, g, err)
	}
	s.logger.Debug("shifted positions", "entity", s.entry.Name, "group", g.String(), "delta", delta, "rows", n)
	return nil
}

func (s *Sortable) exclusions(entity store.Entity, opts []Option) []any {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if id := entity.FieldValue(s.entry.IDField); !store.IsNil(id) && !slices.ContainsFunc(o.exclude, func(v any) bool { return store.Equal(v, id) }) {
		o.exclude = append(o.exclude, id)
	}
	return o.exclude
}

// requested returns the position asked for on the entity, or -1 for none.
func (s *Sortable) requested(entity store.Entity) int64 {
	p, ok := store.AsInt64(entity.FieldValue(s.cfg.Position))
	if !ok || p < 0 {
		return -1
	}
	return p
}

// Insert opens a gap for a new item and assigns its position. A missing or
// negative position appends; positions past the end are clamped.
func (s *Sortable) Insert(ctx context.Context, entity store.Entity, opts ...Option) error {
	if err := s.CheckAssociations(entity, nil); err != nil {
		return err
	}
	g := s.GroupOf(entity)
	if err := s.lock(ctx, g); err != nil {
		return err
	}
	exclude := s.exclusions(entity, opts)
	pos, err := s.open(ctx, g, exclude, s.requested(entity))
	if err != nil {
		return err
	}
	s.logger.Debug("inserted sortable item", "entity", s.entry.Name, "group", g.String(), "position", pos)
	return s.set(entity, pos)
}

// open makes room at want in the group and returns the position used.
func (s *Sortable) open(ctx context.Context, g Group, exclude []any, want int64) (int64, error) {
	n, err := s.count(ctx, g, exclude)
	if err != nil {
		return 0, err
	}
	if want < 0 || want > n {
		want = n
	}
	if want < n {
		if err := s.shift(ctx, g, exclude, 1, store.Field(s.cfg.Position).Gte(want)); err != nil {
			return 0, err
		}
	}
	return want, nil
}

func (s *Sortable) set(entity store.Entity, pos int64) error {
	if err := entity.SetFieldValue(s.cfg.Position, pos); err != nil {
		return fmt.Errorf("failed to set %s.%s: %w", s.entry.Name, s.cfg.Position, err)
	}
	return nil
}

func (s *Sortable) stored(ctx context.Context, entity store.Entity) (store.Record, error) {
	id := entity.FieldValue(s.entry.IDField)
	rec, err := store.FindByID(ctx, s.driver, s.entry.Collection, s.entry.IDField, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %v: %w", s.entry.Name, id, err)
	}
	return rec, nil
}

// Move relocates a stored item to the group and position currently set on
// the entity. The stored record provides where the item comes from. Within
// a group a missing or negative position moves the item to the end.
func (s *Sortable) Move(ctx context.Context, entity store.Entity, opts ...Option) error {
	if err := s.CheckAssociations(entity, nil); err != nil {
		return err
	}
	rec, err := s.stored(ctx, entity)
	if err != nil {
		return err
	}
	from, to := s.groupOfRecord(rec), s.GroupOf(entity)
	if err := s.lock(ctx, from, to); err != nil {
		return err
	}
	exclude := s.exclusions(entity, opts)
	old, hadPosition := store.AsInt64(rec[s.cfg.Position])

	if !from.Equal(to) || !hadPosition {
		if hadPosition {
			if err := s.shift(ctx, from, exclude, -1, store.Field(s.cfg.Position).Gt(old)); err != nil {
				return err
			}
		}
		pos, err := s.open(ctx, to, exclude, s.requested(entity))
		if err != nil {
			return err
		}
		s.logger.Debug("moved sortable item", "entity", s.entry.Name, "from", from.String(), "to", to.String(), "position", pos)
		return s.set(entity, pos)
	}

	n, err := s.count(ctx, to, exclude)
	if err != nil {
		return err
	}
	pos := s.requested(entity)
	if pos < 0 || pos > n {
		pos = n
	}
	switch {
	case pos == old:
		return s.set(entity, pos)
	case pos > old:
		err = s.shift(ctx, to, exclude, -1, store.Field(s.cfg.Position).Gt(old), store.Field(s.cfg.Position).Lte(pos))
	default:
		err = s.shift(ctx, to, exclude, 1, store.Field(s.cfg.Position).Gte(pos), store.Field(s.cfg.Position).Lt(old))
	}
	if err != nil {
		return err
	}
	s.logger.Debug("moved sortable item", "entity", s.entry.Name, "group", to.String(), "from", old, "to", pos)
	return s.set(entity, pos)
}

// Delete closes the gap left by a stored item. The item's own row is
// removed by the caller.
func (s *Sortable) Delete(ctx context.Context, entity store.Entity, opts ...Option) error {
	rec, err := s.stored(ctx, entity)
	if err != nil {
		return err
	}
	g := s.groupOfRecord(rec)
	if err := s.lock(ctx, g); err != nil {
		return err
	}
	old, ok := store.AsInt64(rec[s.cfg.Position])
	if !ok {
		return nil
	}
	return s.shift(ctx, g, s.exclusions(entity, opts), -1, store.Field(s.cfg.Position).Gt(old))
}

func (s *Sortable) items(ctx context.Context, g Group) ([]store.Record, error) {
	list, err := s.driver.FindMany(ctx, s.entry.Collection, &store.Where{
		Condition: s.in(g, nil),
		Sort:      []store.Sort{store.Asc(s.cfg.Position), store.Asc(s.entry.IDField)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s in group %s: %w", s.entry.Name, g, err)
	}
	return list, nil
}

// Verify checks that the positions of the group are exactly 0..n-1.
func (s *Sortable) Verify(ctx context.Context, g Group) error {
	list, err := s.items(ctx, g)
	if err != nil {
		return err
	}
	for i, rec := range list {
		p, ok := store.AsInt64(rec[s.cfg.Position])
		if !ok {
			p = -1
		}
		if p != int64(i) {
			return &DensityError{Entity: s.entry.Name, Group: g, Position: int64(i), Found: p}
		}
	}
	return nil
}

// Compact renumbers the group to 0..n-1 keeping the current order, and
// returns the number of items whose position changed.
func (s *Sortable) Compact(ctx context.Context, g Group) (int, error) {
	if err := s.lock(ctx, g); err != nil {
		return 0, err
	}
	list, err := s.items(ctx, g)
	if err != nil {
		return 0, err
	}
	changed := 0
	for i, rec := range list {
		if p, ok := store.AsInt64(rec[s.cfg.Position]); ok && p == int64(i) {
			continue
		}
		id := rec[s.entry.IDField]
		if _, err := s.driver.Update(ctx, s.entry.Collection, store.Field(s.entry.IDField).Eq(id), store.Changes{s.cfg.Position: int64(i)}); err != nil {
			return changed, fmt.Errorf("failed to renumber %s %v: %w", s.entry.Name, id, err)
		}
		changed++
	}
	if changed > 0 {
		s.logger.Info("compacted sortable group", "entity", s.entry.Name, "group", g.String(), "changed", changed)
	}
	return changed, nil
}

// Groups lists the distinct groups present in the store.
func (s *Sortable) Groups(ctx context.Context) ([]Group, error) {
	list, err := s.driver.FindMany(ctx, s.entry.Collection, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", s.entry.Name, err)
	}
	var out []Group
	for _, rec := range list {
		g := s.groupOfRecord(rec)
		if !slices.ContainsFunc(out, g.Equal) {
			out = append(out, g)
		}
	}
	return out, nil
}
