package tabula

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/lychee-technology/tabula/internal/sqlformat"
)

// LogicalOperator joins the members of a condition group.
type LogicalOperator string

const (
	LogicAnd LogicalOperator = "AND"
	LogicOr  LogicalOperator = "OR"
)

// Operator is a comparison applied by a condition leaf.
type Operator string

const (
	OpEq    Operator = "="
	OpGt    Operator = ">"
	OpGtEq  Operator = ">="
	OpLt    Operator = "<"
	OpLtEq  Operator = "<="
	OpLike  Operator = "LIKE"
	OpIn    Operator = "IN"
	OpNotIn Operator = "NOT IN"
)

// Condition is a parameterized SQL predicate. Clause holds ? placeholders that are
// filled, in order, by Inserts.
type Condition struct {
	Clause  string
	Inserts []any
}

// RawCondition wraps a hand written predicate.
func RawCondition(clause string, inserts ...any) Condition {
	return Condition{Clause: clause, Inserts: inserts}
}

// IsEmpty reports whether the clause carries no predicate at all.
func (c Condition) IsEmpty() bool {
	return strings.Trim(c.Clause, "() \t\n") == ""
}

// SQL renders the clause with every placeholder replaced by its escaped literal.
func (c Condition) SQL() (string, error) {
	return sqlformat.Format(c.Clause, c.Inserts)
}

type likePattern int

const (
	likeAsIs likePattern = iota
	likeContains
	likePrefix
	likeSuffix
)

type conditionLeaf struct {
	field   string
	op      Operator
	value   any
	pattern likePattern
}

type conditionGroup struct {
	// connector joins this group to the sibling before it.
	connector LogicalOperator
	members   []any
}

// ConditionBuilder assembles a nested AND/OR predicate. Comparisons are only
// recorded while building; fields and values are validated by Build.
type ConditionBuilder struct {
	registry SchemaRegistry
	target   Target
	joinOp   LogicalOperator
	root     *conditionGroup
	stack    []*conditionGroup
	err      error
}

// NewConditionBuilder starts a predicate on entity. A nil entity defers binding
// until SetEntity is called, usually by the query that consumes the builder.
// Members of every group are joined with joinOp, AND when empty.
func NewConditionBuilder(registry SchemaRegistry, entity Target, joinOp LogicalOperator) *ConditionBuilder {
	if joinOp == "" {
		joinOp = LogicAnd
	}
	root := &conditionGroup{connector: joinOp}
	return &ConditionBuilder{
		registry: registry,
		target:   entity,
		joinOp:   joinOp,
		root:     root,
		stack:    []*conditionGroup{root},
	}
}

// SetEntity binds a deferred builder. Rebinding to a different target is an error.
func (b *ConditionBuilder) SetEntity(target Target) error {
	if b.target != nil {
		if sameTarget(b.target, target) {
			return nil
		}
		return NewError(ErrorTypeValidation, ErrCodeInvalidQuery,
			fmt.Sprintf("condition is already bound to %s", b.target))
	}
	b.target = target
	return nil
}

func sameTarget(a, b Target) bool {
	ea, okA := a.(Entity)
	eb, okB := b.(Entity)
	if okA && okB {
		return StorageName(string(ea)) == StorageName(string(eb))
	}
	return a == b
}

// Bound reports whether the builder has a target.
func (b *ConditionBuilder) Bound() bool {
	return b.target != nil
}

func (b *ConditionBuilder) Eq(field string, value any) *ConditionBuilder {
	return b.leaf(field, OpEq, value, likeAsIs)
}

func (b *ConditionBuilder) Gt(field string, value any) *ConditionBuilder {
	return b.leaf(field, OpGt, value, likeAsIs)
}

func (b *ConditionBuilder) GtEq(field string, value any) *ConditionBuilder {
	return b.leaf(field, OpGtEq, value, likeAsIs)
}

func (b *ConditionBuilder) Lt(field string, value any) *ConditionBuilder {
	return b.leaf(field, OpLt, value, likeAsIs)
}

func (b *ConditionBuilder) LtEq(field string, value any) *ConditionBuilder {
	return b.leaf(field, OpLtEq, value, likeAsIs)
}

// Like matches value as a raw LIKE pattern.
func (b *ConditionBuilder) Like(field string, value any) *ConditionBuilder {
	return b.leaf(field, OpLike, value, likeAsIs)
}

func (b *ConditionBuilder) Contains(field string, value any) *ConditionBuilder {
	return b.leaf(field, OpLike, value, likeContains)
}

func (b *ConditionBuilder) StartsWith(field string, value any) *ConditionBuilder {
	return b.leaf(field, OpLike, value, likePrefix)
}

func (b *ConditionBuilder) EndsWith(field string, value any) *ConditionBuilder {
	return b.leaf(field, OpLike, value, likeSuffix)
}

// In matches any element of values, which must be a slice or array.
func (b *ConditionBuilder) In(field string, values any) *ConditionBuilder {
	return b.leaf(field, OpIn, values, likeAsIs)
}

func (b *ConditionBuilder) NotIn(field string, values any) *ConditionBuilder {
	return b.leaf(field, OpNotIn, values, likeAsIs)
}

// Or opens a group that is OR-ed onto the preceding members.
func (b *ConditionBuilder) Or() *ConditionBuilder {
	return b.open(LogicOr)
}

// And opens a group that is AND-ed onto the preceding members.
func (b *ConditionBuilder) And() *ConditionBuilder {
	return b.open(LogicAnd)
}

func (b *ConditionBuilder) EndOr() *ConditionBuilder {
	return b.close(LogicOr)
}

func (b *ConditionBuilder) EndAnd() *ConditionBuilder {
	return b.close(LogicAnd)
}

func (b *ConditionBuilder) current() *conditionGroup {
	return b.stack[len(b.stack)-1]
}

func (b *ConditionBuilder) leaf(field string, op Operator, value any, pattern likePattern) *ConditionBuilder {
	cur := b.current()
	cur.members = append(cur.members, &conditionLeaf{field: field, op: op, value: value, pattern: pattern})
	return b
}

func (b *ConditionBuilder) open(op LogicalOperator) *ConditionBuilder {
	g := &conditionGroup{connector: op}
	cur := b.current()
	cur.members = append(cur.members, g)
	b.stack = append(b.stack, g)
	return b
}

func (b *ConditionBuilder) close(op LogicalOperator) *ConditionBuilder {
	if b.err != nil {
		return b
	}
	if len(b.stack) < 2 {
		b.err = NewUnbalancedGroupError(fmt.Sprintf("no open group to close with %s", op))
		return b
	}
	top := b.current()
	if top.connector != op {
		b.err = NewUnbalancedGroupError(fmt.Sprintf("closing %s group does not match the open %s group", op, top.connector))
		return b
	}
	b.stack = b.stack[:len(b.stack)-1]
	return b
}

// Build validates every leaf against the bound target and serializes the tree.
func (b *ConditionBuilder) Build() (Condition, error) {
	if b.err != nil {
		return Condition{}, b.err
	}
	if open := len(b.stack) - 1; open > 0 {
		return Condition{}, NewUnclosedGroupError(open)
	}
	if len(b.root.members) == 0 {
		return Condition{}, nil
	}
	if b.target == nil {
		return Condition{}, NewError(ErrorTypeValidation, ErrCodeInvalidQuery, "condition is not bound to an entity")
	}
	r := &fieldResolver{registry: b.registry, target: b.target}
	var sb strings.Builder
	var inserts []any
	if err := b.render(r, b.root, &sb, &inserts); err != nil {
		return Condition{}, err
	}
	return Condition{Clause: sb.String(), Inserts: inserts}, nil
}

func (b *ConditionBuilder) render(r *fieldResolver, g *conditionGroup, sb *strings.Builder, inserts *[]any) error {
	written := 0
	for _, m := range g.members {
		var part strings.Builder
		connector := b.joinOp
		switch node := m.(type) {
		case *conditionLeaf:
			if err := b.renderLeaf(r, node, &part, inserts); err != nil {
				return err
			}
		case *conditionGroup:
			connector = node.connector
			if err := b.render(r, node, &part, inserts); err != nil {
				return err
			}
		}
		if part.Len() == 0 {
			continue
		}
		if written == 0 {
			sb.WriteByte('(')
		} else {
			sb.WriteString(" " + string(connector) + " ")
		}
		sb.WriteString(part.String())
		written++
	}
	if written > 0 {
		sb.WriteByte(')')
	}
	return nil
}

func (b *ConditionBuilder) renderLeaf(r *fieldResolver, leaf *conditionLeaf, sb *strings.Builder, inserts *[]any) error {
	column, field, err := r.resolve(leaf.field)
	if err != nil {
		return err
	}
	switch leaf.op {
	case OpIn, OpNotIn:
		values, err := convertList(r.entityName(leaf.field), field, leaf.value)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			// IN () is not valid SQL.
			if leaf.op == OpIn {
				sb.WriteString("1 = 0")
			} else {
				sb.WriteString("1 = 1")
			}
			return nil
		}
		sb.WriteString(column + " " + string(leaf.op) + " (?)")
		*inserts = append(*inserts, values)
		return nil
	}

	value, err := Convert(leaf.value, field.Type, true)
	if err != nil {
		return NewTypeMismatchError(r.entityName(leaf.field), field.Name, err)
	}
	if value == nil && leaf.op == OpEq {
		sb.WriteString(column + " IS NULL")
		return nil
	}
	if leaf.op == OpLike {
		value = applyPattern(leaf.pattern, value)
	}
	sb.WriteString(column + " " + string(leaf.op) + " ?")
	*inserts = append(*inserts, value)
	return nil
}

func applyPattern(p likePattern, value any) any {
	var s string
	if value != nil {
		s = fmt.Sprint(value)
	}
	switch p {
	case likeContains:
		return "%" + s + "%"
	case likePrefix:
		return s + "%"
	case likeSuffix:
		return "%" + s
	}
	return s
}

func convertList(entity string, field FieldDefinition, raw any) ([]any, error) {
	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, NewTypeMismatchError(entity, field.Name, NewConversionError(raw, "list"))
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, err := Convert(rv.Index(i).Interface(), field.Type, false)
		if err != nil {
			return nil, NewTypeMismatchError(entity, field.Name, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// fieldResolver maps field references to columns of a target.
type fieldResolver struct {
	registry SchemaRegistry
	target   Target
}

func (r *fieldResolver) entityName(ref string) string {
	if de, ok := r.target.(*DynamicEntity); ok {
		alias, _ := splitQualified(ref)
		if j, ok := de.join(alias); ok {
			return j.Entity
		}
	}
	return r.target.String()
}

// resolve returns the column expression for ref along with its field definition.
// ref is "field" or "alias.field", in public or storage form.
func (r *fieldResolver) resolve(ref string) (string, FieldDefinition, error) {
	alias, name := splitQualified(ref)
	switch t := r.target.(type) {
	case *DynamicEntity:
		j, ok := t.join(alias)
		if !ok {
			return "", FieldDefinition{}, NewError(ErrorTypeValidation, ErrCodeInvalidQuery,
				fmt.Sprintf("unknown alias %q in %q", alias, ref))
		}
		def, err := r.registry.Lookup(j.Entity)
		if err != nil {
			return "", FieldDefinition{}, err
		}
		f, err := def.ResolveField(name)
		if err != nil {
			return "", FieldDefinition{}, err
		}
		return j.Alias + "." + f.Name, f, nil
	default:
		def, err := r.registry.Lookup(t.String())
		if err != nil {
			return "", FieldDefinition{}, err
		}
		f, err := def.ResolveField(name)
		if err != nil {
			return "", FieldDefinition{}, err
		}
		if alias == "" {
			return f.Name, f, nil
		}
		if StorageName(alias) != def.Name {
			return "", FieldDefinition{}, NewError(ErrorTypeValidation, ErrCodeInvalidQuery,
				fmt.Sprintf("qualifier %q in %q does not name entity %s", alias, ref, def.Name))
		}
		return def.Name + "." + f.Name, f, nil
	}
}
