package metadata

import (
	"fmt"
	"slices"
)

// ConfigurationError reports an invalid behavior configuration. It is raised
// at registration time, before any entity is processed.
type ConfigurationError struct {
	Entity   string
	Behavior string
	Field    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s configuration for %s: field %q %s", e.Behavior, e.Entity, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s configuration for %s: %s", e.Behavior, e.Entity, e.Reason)
}

type validator struct {
	entity string
	fields []string
}

func (v *validator) fail(behavior, field, reason string) error {
	return &ConfigurationError{Entity: v.entity, Behavior: behavior, Field: field, Reason: reason}
}

// field checks that name is configured and known to the entity.
func (v *validator) field(behavior, role, name string) error {
	if name == "" {
		return v.fail(behavior, "", role+" field is required")
	}
	if v.fields != nil && !slices.Contains(v.fields, name) {
		return v.fail(behavior, name, "is not a field of the entity")
	}
	return nil
}

// optional checks a field name only when it is set.
func (v *validator) optional(behavior, name string) error {
	if name == "" {
		return nil
	}
	return v.field(behavior, "", name)
}

// Validate checks the entry against the fields of the entity. A nil fields
// list skips the existence checks. The entry must be normalized.
func (e *Entry) Validate(fields []string) error {
	if e.Name == "" {
		return &ConfigurationError{Behavior: "entity", Reason: "name is required"}
	}
	v := &validator{entity: e.Name, fields: fields}
	if err := v.field("entity", "id", e.IDField); err != nil {
		return err
	}

	if t := e.Tree; t != nil {
		if err := v.validateTree(t); err != nil {
			return err
		}
	}
	if s := e.Sortable; s != nil {
		if err := v.field("sortable", "position", s.Position); err != nil {
			return err
		}
		for _, g := range s.Groups {
			if err := v.field("sortable", "group", g); err != nil {
				return err
			}
		}
	}
	for _, s := range e.Slugs {
		if err := v.validateSlug(s); err != nil {
			return err
		}
	}
	for _, list := range []struct {
		behavior string
		triggers []TriggerConfig
	}{{"timestamp", e.Timestamps}, {"blame", e.Blames}} {
		for _, tc := range list.triggers {
			if err := v.validateTrigger(list.behavior, tc); err != nil {
				return err
			}
		}
	}
	if sd := e.SoftDelete; sd != nil {
		if err := v.field("softdelete", "deleted-at", sd.Field); err != nil {
			return err
		}
	}
	if l := e.Loggable; l != nil {
		for _, f := range l.Versioned {
			if err := v.field("loggable", "versioned", f); err != nil {
				return err
			}
		}
	}
	if tr := e.Translatable; tr != nil {
		if len(tr.Fields) == 0 {
			return v.fail("translatable", "", "at least one translatable field is required")
		}
		for _, f := range tr.Fields {
			if err := v.field("translatable", "translatable", f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *validator) validateTree(t *TreeConfig) error {
	const behavior = "tree"
	if err := v.field(behavior, "parent", t.Parent); err != nil {
		return err
	}
	switch t.Strategy {
	case StrategyNested:
		for _, f := range []struct{ role, name string }{{"left", t.Left}, {"right", t.Right}, {"level", t.Level}} {
			if err := v.field(behavior, f.role, f.name); err != nil {
				return err
			}
		}
		if err := v.optional(behavior, t.Root); err != nil {
			return err
		}
	case StrategyPath:
		if err := v.field(behavior, "path", t.Path); err != nil {
			return err
		}
		if err := v.field(behavior, "path source", t.PathSource); err != nil {
			return err
		}
		if err := v.optional(behavior, t.Level); err != nil {
			return err
		}
	case StrategyClosure:
		if err := v.optional(behavior, t.Level); err != nil {
			return err
		}
	default:
		return v.fail(behavior, "", fmt.Sprintf("unknown strategy %q", t.Strategy))
	}
	if t.OnDelete != OnDeleteCascade && t.OnDelete != OnDeleteReparent {
		return v.fail(behavior, "", fmt.Sprintf("unknown delete policy %q", t.OnDelete))
	}
	return nil
}

func (v *validator) validateSlug(s SlugConfig) error {
	const behavior = "slug"
	if err := v.field(behavior, "slug", s.Field); err != nil {
		return err
	}
	if len(s.Sources) == 0 {
		return v.fail(behavior, s.Field, "has no source fields")
	}
	for _, src := range s.Sources {
		if err := v.field(behavior, "source", src); err != nil {
			return err
		}
	}
	if err := v.optional(behavior, s.UniqueBase); err != nil {
		return err
	}
	switch s.Style {
	case StyleDefault, StyleLower, StyleUpper, StyleCamel:
	default:
		return v.fail(behavior, s.Field, fmt.Sprintf("has unknown style %q", s.Style))
	}
	if s.MaxLength < 0 {
		return v.fail(behavior, s.Field, "has a negative max length")
	}
	return nil
}

func (v *validator) validateTrigger(behavior string, tc TriggerConfig) error {
	if err := v.field(behavior, "target", tc.Field); err != nil {
		return err
	}
	switch tc.On {
	case OnCreate, OnUpdate:
	case OnChange:
		if len(tc.Track) == 0 {
			return v.fail(behavior, tc.Field, "uses a change trigger without tracked fields")
		}
		for _, f := range tc.Track {
			if err := v.field(behavior, "tracked", f); err != nil {
				return err
			}
		}
	default:
		return v.fail(behavior, tc.Field, fmt.Sprintf("has unknown trigger %q", tc.On))
	}
	return nil
}
