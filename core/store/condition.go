package store

// Operator represents a comparison or logical operator used in a condition.
type Operator string

const (
	// Logical operators
	OpAnd Operator = "AND"
	OpOr  Operator = "OR"
	OpNot Operator = "NOT"

	// Value-based operators
	OpNil    Operator = "NIL"    // field IS NULL
	OpEq     Operator = "EQ"     // field = value
	OpGt     Operator = "GT"     // field > value
	OpGte    Operator = "GTE"    // field >= value
	OpLt     Operator = "LT"     // field < value
	OpLte    Operator = "LTE"    // field <= value
	OpLike   Operator = "LIKE"   // field LIKE pattern, % and _ wildcards
	OpPrefix Operator = "PREFIX" // field starts with value, no wildcards
	OpIn     Operator = "IN"     // field IN (value list)
)

// Condition represents a single clause in a filter. Conditions targeting a
// field carry an operator and a value; logical conditions carry children.
//
// Example:
//
//	cond := store.Field("lft").Gte(5).And(store.Field("root").Eq(1))
type Condition struct {
	FieldName string
	Operator  Operator
	Value     any
	Children  []*Condition
}

// Field starts a condition on the named field.
func Field(name string) *Condition {
	return &Condition{FieldName: name}
}

// And combines this condition with additional conditions using AND.
func (c *Condition) And(conditions ...*Condition) *Condition {
	return All(append([]*Condition{c}, conditions...)...)
}

// Or combines this condition with additional conditions using OR.
func (c *Condition) Or(conditions ...*Condition) *Condition {
	return &Condition{
		Operator: OpOr,
		Children: append([]*Condition{c}, conditions...),
	}
}

// Not negates this condition.
func (c *Condition) Not() *Condition {
	return &Condition{
		Operator: OpNot,
		Children: []*Condition{c},
	}
}

// Nil matches missing or NULL values.
func (c *Condition) Nil() *Condition {
	c.Operator = OpNil
	c.Value = nil
	return c
}

// Eq matches equal values. A nil value is turned into Nil.
func (c *Condition) Eq(v any) *Condition {
	if v == nil {
		return c.Nil()
	}
	c.Operator = OpEq
	c.Value = v
	return c
}

// Gt matches values greater than v.
func (c *Condition) Gt(v any) *Condition {
	c.Operator = OpGt
	c.Value = v
	return c
}

// Gte matches values greater than or equal to v.
func (c *Condition) Gte(v any) *Condition {
	c.Operator = OpGte
	c.Value = v
	return c
}

// Lt matches values less than v.
func (c *Condition) Lt(v any) *Condition {
	c.Operator = OpLt
	c.Value = v
	return c
}

// Lte matches values less than or equal to v.
func (c *Condition) Lte(v any) *Condition {
	c.Operator = OpLte
	c.Value = v
	return c
}

// Between matches lo <= value <= hi.
func (c *Condition) Between(lo, hi any) *Condition {
	return All(Field(c.FieldName).Gte(lo), Field(c.FieldName).Lte(hi))
}

// Like performs a pattern match with SQL wildcards.
func (c *Condition) Like(v string) *Condition {
	c.Operator = OpLike
	c.Value = v
	return c
}

// Prefix matches values starting with v. Wildcard characters in v are literal.
func (c *Condition) Prefix(v string) *Condition {
	c.Operator = OpPrefix
	c.Value = v
	return c
}

// In matches values contained in the list.
func (c *Condition) In(values ...any) *Condition {
	c.Operator = OpIn
	c.Value = values
	return c
}

// All folds conditions with AND, dropping nil entries. It returns nil for no
// conditions and the condition itself for exactly one.
func All(conds ...*Condition) *Condition {
	kept := make([]*Condition, 0, len(conds))
	for _, c := range conds {
		if c != nil {
			kept = append(kept, c)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &Condition{Operator: OpAnd, Children: kept}
	}
}

// IsLogical reports whether the condition combines children.
func (c *Condition) IsLogical() bool {
	return c.Operator == OpAnd || c.Operator == OpOr || c.Operator == OpNot
}
