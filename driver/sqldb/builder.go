package sqldb

import (
	"fmt"
	"strings"

	"github.com/stokaro/behave/core/platform"
	"github.com/stokaro/behave/core/store"
)

// likeEscape escapes wildcards in Prefix patterns. It avoids the backslash,
// which MySQL also treats as a string escape.
const likeEscape = "!"

// builder renders conditions and collects their bind arguments.
type builder struct {
	dialect string
	args    []any
}

func (d *Driver) builder() *builder {
	return &builder{dialect: d.dialect}
}

func (b *builder) quote(name string) string {
	return platform.QuoteIdentifier(b.dialect, name)
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, store.Identify(v, ""))
	return platform.Placeholder(b.dialect, len(b.args))
}

func (b *builder) limit(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		// MySQL has no OFFSET without LIMIT.
		if b.dialect == platform.MySQL || b.dialect == platform.MariaDB {
			return fmt.Sprintf(" LIMIT 18446744073709551615 OFFSET %d", offset)
		}
		if b.dialect == platform.SQLite {
			return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
		}
		return fmt.Sprintf(" OFFSET %d", offset)
	default:
		return ""
	}
}

// where renders a condition, or "" for nil.
func (b *builder) where(c *store.Condition) string {
	if c == nil {
		return ""
	}
	switch c.Operator {
	case store.OpAnd, store.OpOr:
		parts := make([]string, 0, len(c.Children))
		for _, child := range c.Children {
			if s := b.where(child); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return ""
		}
		return "(" + strings.Join(parts, " "+string(c.Operator)+" ") + ")"
	case store.OpNot:
		parts := make([]string, 0, len(c.Children))
		for _, child := range c.Children {
			if s := b.where(child); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return ""
		}
		return "NOT (" + strings.Join(parts, " AND ") + ")"
	}

	col := b.quote(c.FieldName)
	switch c.Operator {
	case store.OpNil:
		return col + " IS NULL"
	case store.OpEq:
		return col + " = " + b.bind(c.Value)
	case store.OpGt:
		return col + " > " + b.bind(c.Value)
	case store.OpGte:
		return col + " >= " + b.bind(c.Value)
	case store.OpLt:
		return col + " < " + b.bind(c.Value)
	case store.OpLte:
		return col + " <= " + b.bind(c.Value)
	case store.OpLike:
		return col + " LIKE " + b.bind(store.AsString(c.Value))
	case store.OpPrefix:
		return fmt.Sprintf("%s LIKE %s ESCAPE '%s'", col, b.bind(escapeLike(store.AsString(c.Value))+"%"), likeEscape)
	case store.OpIn:
		values, _ := c.Value.([]any)
		if len(values) == 0 {
			return "1 = 0"
		}
		marks := make([]string, len(values))
		for i, v := range values {
			marks[i] = b.bind(v)
		}
		return col + " IN (" + strings.Join(marks, ", ") + ")"
	default:
		// Unknown operators match nothing rather than everything.
		return "1 = 0"
	}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_")
	return r.Replace(s)
}
