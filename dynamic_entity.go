package tabula

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/tabula/internal/sqlformat"
)

// JoinType says how an entity takes part in a join graph.
type JoinType string

const (
	JoinBase  JoinType = "BASE"
	JoinInner JoinType = "INNER"
	JoinOuter JoinType = "OUTER"
)

// JoinCondition equates a field of the joined entity with a field of another alias
// (RelatedField, "alias.field") or with a literal Value.
type JoinCondition struct {
	Field        string
	RelatedField string
	Value        any
}

// On is the common single-pair join condition.
func On(field, relatedField string) []JoinCondition {
	return []JoinCondition{{Field: field, RelatedField: relatedField}}
}

// EntityJoin is one node of a join graph.
type EntityJoin struct {
	Type       JoinType
	Alias      string
	Entity     string
	Conditions []JoinCondition
}

// SelectedField is a field chosen for output, tagged with its owning alias.
type SelectedField struct {
	Alias string
	Field string
}

// DynamicEntity is an ad hoc join graph of registered entities under aliases.
// It is frozen once a query built from it has executed.
type DynamicEntity struct {
	joins  []EntityJoin
	byName map[string]int
	fields []SelectedField
	frozen bool
}

func NewDynamicEntity() *DynamicEntity {
	return &DynamicEntity{byName: make(map[string]int)}
}

func (*DynamicEntity) SupportsMutation() bool { return false }

func (d *DynamicEntity) String() string {
	names := make([]string, len(d.joins))
	for i, j := range d.joins {
		names[i] = j.Entity + " " + j.Alias
	}
	return "dynamic(" + strings.Join(names, ", ") + ")"
}

// Joins returns the join nodes in insertion order.
func (d *DynamicEntity) Joins() []EntityJoin {
	return append([]EntityJoin(nil), d.joins...)
}

// Fields returns the selected fields in selection order.
func (d *DynamicEntity) Fields() []SelectedField {
	return append([]SelectedField(nil), d.fields...)
}

// BaseAlias returns the alias of the base entity, or "" if none is set.
func (d *DynamicEntity) BaseAlias() string {
	for _, j := range d.joins {
		if j.Type == JoinBase {
			return j.Alias
		}
	}
	return ""
}

// join looks up an alias. The empty alias resolves to the base entity.
func (d *DynamicEntity) join(alias string) (EntityJoin, bool) {
	if alias == "" {
		alias = d.BaseAlias()
	}
	i, ok := d.byName[alias]
	if !ok {
		return EntityJoin{}, false
	}
	return d.joins[i], true
}

func (d *DynamicEntity) add(j EntityJoin) error {
	if d.frozen {
		return NewError(ErrorTypeValidation, ErrCodeInvalidQuery, "dynamic entity is frozen after execution")
	}
	if j.Alias == "" {
		return NewError(ErrorTypeValidation, ErrCodeInvalidQuery, "join alias is required")
	}
	if !sqlformat.IsIdentifier(j.Alias) {
		return NewError(ErrorTypeValidation, ErrCodeInvalidQuery, fmt.Sprintf("alias %q is not a valid identifier", j.Alias))
	}
	if _, dup := d.byName[j.Alias]; dup {
		return NewError(ErrorTypeValidation, ErrCodeInvalidQuery, fmt.Sprintf("alias %q is already used", j.Alias))
	}
	if j.Type == JoinBase && d.BaseAlias() != "" {
		return NewError(ErrorTypeValidation, ErrCodeInvalidQuery, "base entity is already set")
	}
	if j.Type != JoinBase && d.BaseAlias() == "" {
		return NewError(ErrorTypeValidation, ErrCodeInvalidQuery, "join requires a base entity")
	}
	d.byName[j.Alias] = len(d.joins)
	d.joins = append(d.joins, j)
	return nil
}

func (d *DynamicEntity) selectField(f SelectedField) error {
	if d.frozen {
		return NewError(ErrorTypeValidation, ErrCodeInvalidQuery, "dynamic entity is frozen after execution")
	}
	d.fields = append(d.fields, f)
	return nil
}

func (d *DynamicEntity) freeze() {
	d.frozen = true
}
