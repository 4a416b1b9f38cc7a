package tabula

import (
	"context"
	"fmt"
	"strings"
)

// DynamicQuery selects rows from a join graph of several entities.
// Joins and fields are recorded as declared and validated when the query is built.
type DynamicQuery struct {
	engine   *Engine
	entity   *DynamicEntity
	where    Predicate
	orderBy  []string
	useCache bool
	err      error
}

func newDynamicQuery(engine *Engine) *DynamicQuery {
	return &DynamicQuery{engine: engine, entity: NewDynamicEntity()}
}

// Entity returns the join graph the query runs over.
func (q *DynamicQuery) Entity() *DynamicEntity {
	return q.entity
}

// From sets the base entity.
func (q *DynamicQuery) From(alias, entity string) *DynamicQuery {
	return q.addJoin(EntityJoin{Type: JoinBase, Alias: alias, Entity: entity})
}

// InnerJoin joins entity under alias. Build the conditions with On or list them explicitly.
func (q *DynamicQuery) InnerJoin(alias, entity string, conditions []JoinCondition) *DynamicQuery {
	return q.addJoin(EntityJoin{Type: JoinInner, Alias: alias, Entity: entity, Conditions: conditions})
}

// OuterJoin left-joins entity under alias.
func (q *DynamicQuery) OuterJoin(alias, entity string, conditions []JoinCondition) *DynamicQuery {
	return q.addJoin(EntityJoin{Type: JoinOuter, Alias: alias, Entity: entity, Conditions: conditions})
}

func (q *DynamicQuery) addJoin(j EntityJoin) *DynamicQuery {
	if q.err != nil {
		return q
	}
	q.err = q.entity.add(j)
	return q
}

// Select adds fields as "alias.field", "field" for the base alias, or "alias.*".
func (q *DynamicQuery) Select(fields ...string) *DynamicQuery {
	for _, f := range fields {
		if q.err != nil {
			return q
		}
		alias, name := splitQualified(f)
		q.err = q.entity.selectField(SelectedField{Alias: alias, Field: name})
	}
	return q
}

func (q *DynamicQuery) Where(p Predicate) *DynamicQuery {
	q.where = p
	return q
}

// WherePairs adds an equality condition per field/value pair.
func (q *DynamicQuery) WherePairs(pairs ...any) *DynamicQuery {
	if len(pairs)%2 != 0 {
		q.err = NewError(ErrorTypeValidation, ErrCodeInvalidQuery, "where pairs need an even number of arguments")
		return q
	}
	b := NewConditionBuilder(q.engine.registry, q.entity, LogicAnd)
	for i := 0; i < len(pairs); i += 2 {
		field, ok := pairs[i].(string)
		if !ok {
			q.err = NewError(ErrorTypeValidation, ErrCodeInvalidQuery, fmt.Sprintf("where pair key %v is not a string", pairs[i]))
			return q
		}
		b.Eq(field, pairs[i+1])
	}
	q.where = b
	return q
}

// WhereMap adds an equality condition per entry.
func (q *DynamicQuery) WhereMap(m map[string]any) *DynamicQuery {
	b := NewConditionBuilder(q.engine.registry, q.entity, LogicAnd)
	for _, field := range sortedKeys(m) {
		b.Eq(field, m[field])
	}
	q.where = b
	return q
}

func (q *DynamicQuery) OrderBy(fields ...string) *DynamicQuery {
	q.orderBy = append(q.orderBy, fields...)
	return q
}

func (q *DynamicQuery) Cache(enabled bool) *DynamicQuery {
	q.useCache = enabled
	return q
}

// Build validates the join graph and renders the statement and its parameters.
func (q *DynamicQuery) Build() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	d := q.entity
	if d.BaseAlias() == "" {
		return "", nil, NewError(ErrorTypeValidation, ErrCodeInvalidQuery, "dynamic query has no base entity")
	}
	r := &fieldResolver{registry: q.engine.registry, target: d}

	columns, err := q.columns(r)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	var params []any
	sb.WriteString("SELECT " + strings.Join(columns, ", "))
	for _, j := range d.joins {
		def, err := q.engine.registry.Lookup(j.Entity)
		if err != nil {
			return "", nil, err
		}
		switch j.Type {
		case JoinBase:
			sb.WriteString(" FROM " + def.Name + " AS " + j.Alias)
			continue
		case JoinInner:
			sb.WriteString(" INNER JOIN ")
		case JoinOuter:
			sb.WriteString(" LEFT OUTER JOIN ")
		}
		on, onParams, err := q.joinPredicate(r, j)
		if err != nil {
			return "", nil, err
		}
		sb.WriteString(def.Name + " AS " + j.Alias + " ON " + on)
		params = append(params, onParams...)
	}

	if q.where != nil {
		cond, err := q.where.condition(d)
		if err != nil {
			return "", nil, err
		}
		if !cond.IsEmpty() {
			sb.WriteString(" WHERE " + cond.Clause)
			params = append(params, cond.Inserts...)
		}
	}
	order, err := renderOrderBy(r, q.orderBy)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(order)
	return sb.String(), params, nil
}

// columns expands the selection. With nothing selected every field of every alias is returned.
func (q *DynamicQuery) columns(r *fieldResolver) ([]string, error) {
	selected := q.entity.fields
	if len(selected) == 0 {
		for _, j := range q.entity.joins {
			selected = append(selected, SelectedField{Alias: j.Alias, Field: "*"})
		}
	}
	var cols []string
	for _, sf := range selected {
		alias := sf.Alias
		if alias == "" {
			alias = q.entity.BaseAlias()
		}
		if sf.Field != "*" {
			col, _, err := r.resolve(alias + "." + sf.Field)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col+" AS `"+col+"`")
			continue
		}
		j, ok := q.entity.join(alias)
		if !ok {
			return nil, NewError(ErrorTypeValidation, ErrCodeInvalidQuery, fmt.Sprintf("unknown alias %q", alias))
		}
		public, err := q.engine.registry.PublicDefinition(j.Entity)
		if err != nil {
			return nil, err
		}
		for _, f := range public.Fields {
			col, _, err := r.resolve(alias + "." + f.Name)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col+" AS `"+col+"`")
		}
	}
	return cols, nil
}

func (q *DynamicQuery) joinPredicate(r *fieldResolver, j EntityJoin) (string, []any, error) {
	if len(j.Conditions) == 0 {
		return "", nil, NewError(ErrorTypeValidation, ErrCodeInvalidQuery, fmt.Sprintf("join %s has no conditions", j.Alias))
	}
	parts := make([]string, 0, len(j.Conditions))
	var params []any
	for _, c := range j.Conditions {
		ref := c.Field
		if alias, _ := splitQualified(ref); alias == "" {
			ref = j.Alias + "." + ref
		}
		left, field, err := r.resolve(ref)
		if err != nil {
			return "", nil, err
		}
		if c.RelatedField == "" {
			v, err := Convert(c.Value, field.Type, false)
			if err != nil {
				return "", nil, NewTypeMismatchError(j.Entity, field.Name, err)
			}
			parts = append(parts, left+" = ?")
			params = append(params, v)
			continue
		}
		right, _, err := r.resolve(c.RelatedField)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, left+" = "+right)
	}
	return "(" + strings.Join(parts, " AND ") + ")", params, nil
}

func (q *DynamicQuery) QueryList(ctx context.Context) ([]*GenericRecord, error) {
	stmt, params, err := q.Build()
	if err != nil {
		return nil, err
	}
	return q.run(ctx, stmt, params)
}

// QueryFirst returns the first row, or nil when there is none.
func (q *DynamicQuery) QueryFirst(ctx context.Context) (*GenericRecord, error) {
	stmt, params, err := q.Build()
	if err != nil {
		return nil, err
	}
	records, err := q.run(ctx, stmt+" LIMIT 1", params)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

func (q *DynamicQuery) QueryCount(ctx context.Context) (int64, error) {
	stmt, params, err := q.Build()
	if err != nil {
		return 0, err
	}
	q.entity.freeze()
	return runCount(ctx, q.engine.executor, stmt, params, q.useCache)
}

func (q *DynamicQuery) run(ctx context.Context, stmt string, params []any) ([]*GenericRecord, error) {
	q.entity.freeze()
	res, err := q.engine.executor.Execute(ctx, stmt, params, q.useCache)
	if err != nil {
		return nil, err
	}
	records := make([]*GenericRecord, 0, len(res.Rows))
	for _, row := range res.Rows {
		records = append(records, recordFromRow(q.engine, q.entity, nil, row))
	}
	return records, nil
}
