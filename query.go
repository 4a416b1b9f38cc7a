package tabula

import (
	"context"
	"strings"
)

// Predicate is anything a query accepts as its WHERE clause: a finished
// Condition or a ConditionBuilder, which is bound to the query's target and
// built when the query runs.
type Predicate interface {
	condition(target Target) (Condition, error)
}

func (c Condition) condition(Target) (Condition, error) {
	return c, nil
}

func (b *ConditionBuilder) condition(target Target) (Condition, error) {
	if err := b.SetEntity(target); err != nil {
		return Condition{}, err
	}
	return b.Build()
}

// EntityQuery selects rows of a single entity.
type EntityQuery struct {
	engine   *Engine
	entity   string
	fields   []string
	where    Predicate
	orderBy  []string
	useCache bool
}

func newEntityQuery(engine *Engine, entity string) *EntityQuery {
	return &EntityQuery{engine: engine, entity: entity}
}

// Select limits the output to fields. No fields selects every column.
func (q *EntityQuery) Select(fields ...string) *EntityQuery {
	q.fields = append(q.fields, fields...)
	return q
}

func (q *EntityQuery) Where(p Predicate) *EntityQuery {
	q.where = p
	return q
}

// OrderBy sorts by fields. "-name" and "name desc" sort descending.
func (q *EntityQuery) OrderBy(fields ...string) *EntityQuery {
	q.orderBy = append(q.orderBy, fields...)
	return q
}

// Cache routes the query through the result cache.
func (q *EntityQuery) Cache(enabled bool) *EntityQuery {
	q.useCache = enabled
	return q
}

// Build validates the query and renders the statement and its parameters.
func (q *EntityQuery) Build() (string, []any, error) {
	def, err := q.engine.registry.Lookup(q.entity)
	if err != nil {
		return "", nil, err
	}
	target := Entity(def.Name)
	r := &fieldResolver{registry: q.engine.registry, target: target}

	columns := "*"
	if len(q.fields) > 0 {
		cols := make([]string, 0, len(q.fields))
		for _, f := range q.fields {
			col, _, err := r.resolve(f)
			if err != nil {
				return "", nil, err
			}
			cols = append(cols, col)
		}
		columns = strings.Join(cols, ", ")
	}

	var sb strings.Builder
	var params []any
	sb.WriteString("SELECT " + columns + " FROM " + def.Name)
	if q.where != nil {
		cond, err := q.where.condition(target)
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

// QueryList runs the query and wraps every row as a record.
func (q *EntityQuery) QueryList(ctx context.Context) ([]*GenericRecord, error) {
	stmt, params, err := q.Build()
	if err != nil {
		return nil, err
	}
	return q.run(ctx, stmt, params)
}

// QueryFirst returns the first row, or nil when there is none.
func (q *EntityQuery) QueryFirst(ctx context.Context) (*GenericRecord, error) {
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

// QueryCount counts the rows the query would return.
func (q *EntityQuery) QueryCount(ctx context.Context) (int64, error) {
	stmt, params, err := q.Build()
	if err != nil {
		return 0, err
	}
	return runCount(ctx, q.engine.executor, stmt, params, q.useCache)
}

func (q *EntityQuery) run(ctx context.Context, stmt string, params []any) ([]*GenericRecord, error) {
	def, err := q.engine.registry.Lookup(q.entity)
	if err != nil {
		return nil, err
	}
	res, err := q.engine.executor.Execute(ctx, stmt, params, q.useCache)
	if err != nil {
		return nil, err
	}
	records := make([]*GenericRecord, 0, len(res.Rows))
	for _, row := range res.Rows {
		records = append(records, recordFromRow(q.engine, Entity(def.Name), def, row))
	}
	return records, nil
}

func runCount(ctx context.Context, exec Executor, stmt string, params []any, useCache bool) (int64, error) {
	res, err := exec.Execute(ctx, "SELECT COUNT(1) AS c FROM ("+stmt+") e", params, useCache)
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	n, err := Convert(res.Rows[0]["c"], TypeBigNumber, false)
	if err != nil {
		return 0, err
	}
	return int64(n.(float64)), nil
}

func parseOrder(term string) (field string, desc bool) {
	s := strings.TrimSpace(term)
	switch {
	case strings.HasPrefix(s, "-"):
		return strings.TrimSpace(s[1:]), true
	case strings.HasPrefix(s, "+"):
		return strings.TrimSpace(s[1:]), false
	}
	parts := strings.Fields(s)
	if len(parts) == 2 {
		switch strings.ToLower(parts[1]) {
		case "desc":
			return parts[0], true
		case "asc":
			return parts[0], false
		}
	}
	return s, false
}

func renderOrderBy(r *fieldResolver, terms []string) (string, error) {
	if len(terms) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(terms))
	for _, term := range terms {
		name, desc := parseOrder(term)
		col, _, err := r.resolve(name)
		if err != nil {
			return "", err
		}
		if desc {
			col += " DESC"
		}
		parts = append(parts, col)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}
