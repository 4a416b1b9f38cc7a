package tabula

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// GenericRecord is a validated row of an entity or of a join graph.
// Values are kept under storage column names; "alias.column" for join graphs.
type GenericRecord struct {
	engine *Engine
	target Target
	def    *EntityDefinition
	data   map[string]any
}

func newGenericRecord(engine *Engine, target Target, data map[string]any) (*GenericRecord, error) {
	r := &GenericRecord{engine: engine, target: target, data: make(map[string]any, len(data))}
	if e, ok := target.(Entity); ok {
		def, err := engine.registry.Lookup(string(e))
		if err != nil {
			return nil, err
		}
		r.def = def
		r.target = Entity(def.Name)
	}
	for _, k := range sortedKeys(data) {
		if err := r.Set(k, data[k]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// recordFromRow wraps a row returned by the database. Values are kept as returned.
func recordFromRow(engine *Engine, target Target, def *EntityDefinition, row Row) *GenericRecord {
	r := &GenericRecord{engine: engine, target: target, def: def, data: make(map[string]any, len(row))}
	res := r.resolver()
	for k, v := range row {
		key, _, err := r.key(res, k)
		if err != nil {
			key = k
		}
		r.data[key] = v
	}
	return r
}

func (r *GenericRecord) resolver() *fieldResolver {
	return &fieldResolver{registry: r.engine.registry, target: r.target}
}

// key maps a field reference to the storage key used in data.
func (r *GenericRecord) key(res *fieldResolver, field string) (string, FieldDefinition, error) {
	col, f, err := res.resolve(field)
	if err != nil {
		return "", FieldDefinition{}, err
	}
	if r.def != nil {
		return f.Name, f, nil
	}
	return col, f, nil
}

// Target returns the entity or join graph the record belongs to.
func (r *GenericRecord) Target() Target {
	return r.target
}

// Set validates and assigns a field value.
func (r *GenericRecord) Set(field string, value any) error {
	res := r.resolver()
	key, f, err := r.key(res, field)
	if err != nil {
		return err
	}
	converted, err := Convert(value, f.Type, true)
	if err != nil {
		return NewTypeMismatchError(res.entityName(field), f.Name, err)
	}
	r.data[key] = converted
	return nil
}

// Get returns the value of a field. Unset fields return nil.
func (r *GenericRecord) Get(field string) (any, error) {
	key, _, err := r.key(r.resolver(), field)
	if err != nil {
		return nil, err
	}
	return r.data[key], nil
}

// Data returns a copy of the values keyed by public field names.
func (r *GenericRecord) Data() map[string]any {
	out := make(map[string]any, len(r.data))
	for k, v := range r.data {
		out[PublicColumnName(k)] = v
	}
	return out
}

// Validate checks the record against the entity's JSON Schema.
func (r *GenericRecord) Validate() error {
	if r.def == nil {
		return NewUnsupportedOnDynamicEntityError("validate")
	}
	schema := BuildJSONSchema(r.def)
	data := make(map[string]any, len(r.data))
	for k, v := range r.data {
		if IsTimestampField(k) {
			continue
		}
		data[PublicFieldName(k)] = v
	}
	if err := ValidateJSON(schema, data); err != nil {
		return NewError(ErrorTypeValidation, ErrCodeTypeMismatch, "record does not match entity schema").
			WithEntity(r.def.Name).WithCause(err)
	}
	return nil
}

func (r *GenericRecord) mutable(op string) error {
	if !r.target.SupportsMutation() || r.def == nil {
		return NewUnsupportedOnDynamicEntityError(op)
	}
	if r.def.IsView() {
		return NewError(ErrorTypeValidation, ErrCodeInvalidQuery, op+" is not supported on a view").WithEntity(r.def.Name)
	}
	return nil
}

// Insert writes the record as a new row. A single auto increment key left unset
// is filled from the generated id.
func (r *GenericRecord) Insert(ctx context.Context) (*Result, error) {
	if err := r.mutable("insert"); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	var cols []string
	var params []any
	for _, f := range r.def.Fields {
		v, ok := r.data[f.Name]
		if !ok || IsTimestampField(f.Name) {
			continue
		}
		cols = append(cols, f.Name)
		params = append(params, v)
	}
	if len(cols) == 0 {
		return nil, NewError(ErrorTypeValidation, ErrCodeInvalidQuery, "nothing to insert").WithEntity(r.def.Name)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		r.def.Name, strings.Join(cols, ", "), placeholders(len(cols)))
	res, err := r.engine.executor.Execute(ctx, stmt, params, false)
	if err != nil {
		return nil, err
	}
	if pks := r.def.PrimaryKeys(); len(pks) == 1 && pks[0].AutoIncrement && res.LastInsertID > 0 {
		if _, set := r.data[pks[0].Name]; !set {
			r.data[pks[0].Name] = float64(res.LastInsertID)
		}
	}
	return res, nil
}

// Update writes every non-key field, matching the row by primary key.
func (r *GenericRecord) Update(ctx context.Context) (*Result, error) {
	if err := r.mutable("update"); err != nil {
		return nil, err
	}
	where, whereParams, err := r.keyPredicate()
	if err != nil {
		return nil, err
	}
	var sets []string
	var params []any
	for _, f := range r.def.Fields {
		v, ok := r.data[f.Name]
		if !ok || f.PrimaryKey || IsTimestampField(f.Name) {
			continue
		}
		sets = append(sets, f.Name+" = ?")
		params = append(params, v)
	}
	if len(sets) == 0 {
		return nil, NewError(ErrorTypeValidation, ErrCodeInvalidQuery, "nothing to update").WithEntity(r.def.Name)
	}
	stmt := "UPDATE " + r.def.Name + " SET " + strings.Join(sets, ", ") + " WHERE " + where
	return r.engine.executor.Execute(ctx, stmt, append(params, whereParams...), false)
}

// Delete removes the row matching the record's primary key.
func (r *GenericRecord) Delete(ctx context.Context) (*Result, error) {
	if err := r.mutable("delete"); err != nil {
		return nil, err
	}
	where, params, err := r.keyPredicate()
	if err != nil {
		return nil, err
	}
	return r.engine.executor.Execute(ctx, "DELETE FROM "+r.def.Name+" WHERE "+where, params, false)
}

// Store inserts the record and falls back to an update when the insert fails.
func (r *GenericRecord) Store(ctx context.Context) (*Result, error) {
	res, err := r.Insert(ctx)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, ErrUnsupportedOnDynamicEntity) || errors.Is(err, ErrNotInitialized) {
		return nil, err
	}
	zap.S().Warnw("insert failed, falling back to update", "entity", r.def.Name, "error", err)
	return r.Update(ctx)
}

func (r *GenericRecord) keyPredicate() (string, []any, error) {
	pks := r.def.PrimaryKeys()
	if len(pks) == 0 {
		return "", nil, NewError(ErrorTypeValidation, ErrCodeInvalidQuery, "entity has no primary key").WithEntity(r.def.Name)
	}
	parts := make([]string, 0, len(pks))
	params := make([]any, 0, len(pks))
	for _, pk := range pks {
		v, ok := r.data[pk.Name]
		if !ok || v == nil {
			return "", nil, NewError(ErrorTypeValidation, ErrCodeInvalidQuery, "primary key value is missing").
				WithEntity(r.def.Name).WithField(pk.Name)
		}
		parts = append(parts, pk.Name+" = ?")
		params = append(params, v)
	}
	return strings.Join(parts, " AND "), params, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// PublicColumnName converts "column" or "alias.column" to public case, segment by segment.
func PublicColumnName(column string) string {
	alias, name := splitQualified(column)
	if alias == "" {
		return PublicFieldName(name)
	}
	return alias + "." + PublicFieldName(name)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
