// Package metadata holds the per-entity behavior configuration.
//
// An Entry describes, for one entity type, which fields each behavior reads
// and writes. Entries are registered once at startup in a Registry and are
// read-only afterwards; reloading happens only through explicit invalidation.
package metadata

import "time"

// Tree strategies.
const (
	StrategyNested  = "nested"
	StrategyPath    = "path"
	StrategyClosure = "closure"
)

// Tree delete policies.
const (
	OnDeleteCascade  = "cascade"
	OnDeleteReparent = "reparent"
)

// Slug styles.
const (
	StyleDefault = "default"
	StyleLower   = "lower"
	StyleUpper   = "upper"
	StyleCamel   = "camel"
)

// Trigger moments for timestamps and blames.
const (
	OnCreate = "create"
	OnUpdate = "update"
	OnChange = "change"
)

// Default collection names for behaviors that keep their own records.
const (
	DefaultLogCollection         = "ext_log_entries"
	DefaultTranslationCollection = "ext_translations"
)

// Entry is the complete behavior configuration of one entity type.
type Entry struct {
	// Name is the entity name returned by store.Entity.EntityName.
	Name string `mapstructure:"name"`
	// Collection is the table or collection holding the entity. Defaults to Name.
	Collection string `mapstructure:"collection"`
	// IDField names the identifier field. Defaults to "id".
	IDField string `mapstructure:"id_field"`

	Tree         *TreeConfig         `mapstructure:"tree"`
	Sortable     *SortableConfig     `mapstructure:"sortable"`
	Slugs        []SlugConfig        `mapstructure:"slugs"`
	Timestamps   []TriggerConfig     `mapstructure:"timestamps"`
	Blames       []TriggerConfig     `mapstructure:"blames"`
	SoftDelete   *SoftDeleteConfig   `mapstructure:"soft_delete"`
	Loggable     *LoggableConfig     `mapstructure:"loggable"`
	Translatable *TranslatableConfig `mapstructure:"translatable"`
}

// TreeConfig configures tree maintenance.
type TreeConfig struct {
	// Strategy is one of nested, path or closure.
	Strategy string `mapstructure:"strategy"`
	// Parent names the field referencing the parent node.
	Parent string `mapstructure:"parent"`
	// Level names the depth field. Required for nested sets, optional otherwise.
	Level string `mapstructure:"level"`

	// Nested set fields. Root is optional: without it all top-level nodes
	// share one interval space.
	Left  string `mapstructure:"left"`
	Right string `mapstructure:"right"`
	Root  string `mapstructure:"root"`

	// Materialized path fields. PathSource names the field whose value is the
	// node's own path segment (the identifier by default).
	Path       string `mapstructure:"path"`
	PathSource string `mapstructure:"path_source"`
	Separator  string `mapstructure:"separator"`
	// AppendID suffixes segments taken from a field other than the
	// identifier with "-<id>", so that siblings sharing a source value keep
	// distinct paths. On by default. When off, such siblings are rejected.
	AppendID *bool `mapstructure:"append_id"`

	// ClosureCollection holds ancestor/descendant/depth rows.
	ClosureCollection string `mapstructure:"closure_collection"`

	// OnDelete is cascade or reparent.
	OnDelete string `mapstructure:"on_delete"`
	// AllowCrossRootMove permits nested set moves into another root.
	AllowCrossRootMove *bool `mapstructure:"allow_cross_root_move"`
	// Verify checks the whole tree after every nested set mutation.
	Verify *bool `mapstructure:"verify"`
}

// CrossRootMoves reports whether moves into another tree are allowed.
func (c *TreeConfig) CrossRootMoves() bool {
	return c.AllowCrossRootMove == nil || *c.AllowCrossRootMove
}

// AppendsID reports whether path segments carry the node identifier.
func (c *TreeConfig) AppendsID(idField string) bool {
	if c.PathSource == idField {
		return false
	}
	return c.AppendID == nil || *c.AppendID
}

// Verifies reports whether trees are verified after mutations.
func (c *TreeConfig) Verifies() bool {
	return c.Verify == nil || *c.Verify
}

// ManagedFields lists the fields written only by the tree strategy.
func (c *TreeConfig) ManagedFields() []string {
	var out []string
	for _, f := range []string{c.Left, c.Right, c.Level, c.Root, c.Path} {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// SortableConfig configures position maintenance.
type SortableConfig struct {
	// Position names the zero-based position field.
	Position string `mapstructure:"position"`
	// Groups names the fields whose values partition the positions.
	Groups []string `mapstructure:"groups"`
}

// SlugConfig configures one slug field.
type SlugConfig struct {
	Field     string   `mapstructure:"field"`
	Sources   []string `mapstructure:"sources"`
	Separator string   `mapstructure:"separator"`
	Style     string   `mapstructure:"style"`
	// Unique defaults to true.
	Unique *bool `mapstructure:"unique"`
	// UniqueBase names a field scoping uniqueness to records sharing its value.
	UniqueBase string `mapstructure:"unique_base"`
	// Updatable defaults to true.
	Updatable *bool  `mapstructure:"updatable"`
	Prefix    string `mapstructure:"prefix"`
	Suffix    string `mapstructure:"suffix"`
	MaxLength int    `mapstructure:"max_length"`
}

// IsUnique reports whether collisions must be resolved.
func (c *SlugConfig) IsUnique() bool { return c.Unique == nil || *c.Unique }

// IsUpdatable reports whether the slug follows later source changes.
func (c *SlugConfig) IsUpdatable() bool { return c.Updatable == nil || *c.Updatable }

// TriggerConfig configures a timestamp or blame field.
type TriggerConfig struct {
	Field string `mapstructure:"field"`
	// On is create, update or change.
	On string `mapstructure:"on"`
	// Track lists the fields watched by a change trigger.
	Track []string `mapstructure:"track"`
	// Value, when set, restricts a change trigger to tracked fields changing
	// to this value.
	Value any `mapstructure:"value"`
}

// SoftDeleteConfig configures soft deletion.
type SoftDeleteConfig struct {
	Field string `mapstructure:"field"`
	// TimeAware treats rows deleted in the future as still visible.
	TimeAware bool `mapstructure:"time_aware"`
	// HardDelete removes rows that are already soft deleted.
	HardDelete bool `mapstructure:"hard_delete"`
}

// LoggableConfig configures change logging.
type LoggableConfig struct {
	Collection string `mapstructure:"collection"`
	// Versioned lists the logged fields. Empty means every field.
	Versioned []string `mapstructure:"versioned"`
}

// TranslatableConfig configures per-locale field values.
type TranslatableConfig struct {
	Collection    string   `mapstructure:"collection"`
	Fields        []string `mapstructure:"fields"`
	// DefaultLocale is the locale of the values kept on the entity's own
	// record. Empty means the engine default.
	DefaultLocale string `mapstructure:"default_locale"`
}

// Normalize fills defaults in place and returns the entry.
func (e *Entry) Normalize() *Entry {
	if e.Collection == "" {
		e.Collection = e.Name
	}
	if e.IDField == "" {
		e.IDField = "id"
	}
	if t := e.Tree; t != nil {
		if t.Strategy == "" {
			t.Strategy = StrategyNested
		}
		if t.OnDelete == "" {
			t.OnDelete = OnDeleteCascade
		}
		if t.Strategy == StrategyPath {
			if t.Separator == "" {
				t.Separator = ","
			}
			if t.PathSource == "" {
				t.PathSource = e.IDField
			}
		}
		if t.Strategy == StrategyClosure && t.ClosureCollection == "" {
			t.ClosureCollection = e.Collection + "_closure"
		}
	}
	for i := range e.Slugs {
		s := &e.Slugs[i]
		if s.Separator == "" {
			s.Separator = "-"
		}
		if s.Style == "" {
			s.Style = StyleLower
		}
	}
	for _, list := range [][]TriggerConfig{e.Timestamps, e.Blames} {
		for i := range list {
			if list[i].On == "" {
				list[i].On = OnUpdate
			}
		}
	}
	if e.Loggable != nil && e.Loggable.Collection == "" {
		e.Loggable.Collection = DefaultLogCollection
	}
	if t := e.Translatable; t != nil {
		if t.Collection == "" {
			t.Collection = DefaultTranslationCollection
		}
	}
	return e
}

// ManagedFields lists fields owned by strategies that callers never write.
func (e *Entry) ManagedFields() []string {
	if e.Tree == nil {
		return nil
	}
	return e.Tree.ManagedFields()
}

// Clock returns the current time. Strategies take a Clock so tests can pin time.
type Clock func() time.Time
