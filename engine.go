package tabula

import (
	"context"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Engine is the process-wide context object tying the schema registry to the
// statement executor. Queries, conditions and records are created through it.
type Engine struct {
	registry SchemaRegistry
	executor Executor
}

func NewEngine(registry SchemaRegistry, executor Executor) *Engine {
	return &Engine{registry: registry, executor: executor}
}

func (e *Engine) Registry() SchemaRegistry { return e.registry }

func (e *Engine) Executor() Executor { return e.executor }

// From starts a single-entity query.
func (e *Engine) From(entity string) *EntityQuery {
	return newEntityQuery(e, entity)
}

// Dynamic starts a join query with entity as the base under alias.
func (e *Engine) Dynamic(alias, entity string) *DynamicQuery {
	return newDynamicQuery(e).From(alias, entity)
}

// Conditions starts a condition on entity. An empty entity defers binding to the
// query the condition is later handed to.
func (e *Engine) Conditions(entity string, joinOp LogicalOperator) *ConditionBuilder {
	var target Target
	if entity != "" {
		target = Entity(entity)
	}
	return NewConditionBuilder(e.registry, target, joinOp)
}

// ConditionsOn starts a condition on a join graph.
func (e *Engine) ConditionsOn(target Target, joinOp LogicalOperator) *ConditionBuilder {
	return NewConditionBuilder(e.registry, target, joinOp)
}

// NewRecord wraps data as a record of target, validating every field and value.
func (e *Engine) NewRecord(target Target, data map[string]any) (*GenericRecord, error) {
	return newGenericRecord(e, target, data)
}

// Find loads a record by its primary key values, given in key declaration order.
// It returns nil without error when no row matches.
func (e *Engine) Find(ctx context.Context, entity string, keys ...any) (*GenericRecord, error) {
	def, err := e.registry.Lookup(entity)
	if err != nil {
		return nil, err
	}
	pks := def.PrimaryKeys()
	if len(pks) == 0 || len(pks) != len(keys) {
		return nil, NewError(ErrorTypeValidation, ErrCodeInvalidQuery,
			fmt.Sprintf("entity %s has %d primary key fields, %d values given", def.Name, len(pks), len(keys))).WithEntity(def.Name)
	}
	cond := e.Conditions(def.Name, LogicAnd)
	for i, pk := range pks {
		cond.Eq(pk.Name, keys[i])
	}
	return e.From(def.Name).Where(cond).QueryFirst(ctx)
}

// EntityNames lists the public names of every registered entity.
func (e *Engine) EntityNames() []string {
	return e.registry.EntityNames()
}

// PublicDefinitions returns every definition with public names, in declaration order.
func (e *Engine) PublicDefinitions() []EntityDefinition {
	defs := e.registry.Definitions()
	out := make([]EntityDefinition, len(defs))
	for i, d := range defs {
		out[i] = d.Public()
	}
	return out
}

func (e *Engine) PublicDefinition(name string) (*EntityDefinition, error) {
	return e.registry.PublicDefinition(name)
}

func (e *Engine) JSONSchema(name string) (*jsonschema.Schema, error) {
	return e.registry.JSONSchema(name)
}
