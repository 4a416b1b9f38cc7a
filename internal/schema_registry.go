package internal

import (
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/tabula"
	"go.uber.org/zap"
)

// schemaRegistry is the in-memory catalog of entity definitions.
type schemaRegistry struct {
	mu          sync.RWMutex
	registered  bool
	order       []string
	definitions map[string]tabula.EntityDefinition
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() tabula.SchemaRegistry {
	return &schemaRegistry{
		definitions: make(map[string]tabula.EntityDefinition),
	}
}

// Register validates and stores the catalog. Table definitions get the
// created and last-updated stamps appended.
func (r *schemaRegistry) Register(definitions []tabula.EntityDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registered {
		return tabula.NewError(tabula.ErrorTypeSchema, tabula.ErrCodeAlreadyRegistered, "entity definitions are already registered")
	}

	defs := make(map[string]tabula.EntityDefinition, len(definitions))
	order := make([]string, 0, len(definitions))
	for _, d := range definitions {
		d = d.Clone()
		d.Name = tabula.StorageName(d.Name)
		for i := range d.Fields {
			d.Fields[i].Name = tabula.StorageName(d.Fields[i].Name)
		}
		for i := range d.ForeignKeys {
			d.ForeignKeys[i].Field = tabula.StorageName(d.ForeignKeys[i].Field)
			d.ForeignKeys[i].Reference.Table = tabula.StorageName(d.ForeignKeys[i].Reference.Table)
			d.ForeignKeys[i].Reference.Field = tabula.StorageName(d.ForeignKeys[i].Reference.Field)
		}
		if err := d.Validate(); err != nil {
			return err
		}
		if !isSafeIdentifier(d.Name) {
			return tabula.NewError(tabula.ErrorTypeValidation, tabula.ErrCodeInvalidDefinition, "entity name is not a valid identifier").WithEntity(d.Name)
		}
		for _, f := range d.Fields {
			if !isSafeIdentifier(f.Name) {
				return tabula.NewError(tabula.ErrorTypeValidation, tabula.ErrCodeInvalidDefinition, "field name is not a valid identifier").
					WithEntity(d.Name).WithField(f.Name)
			}
		}
		for _, fk := range d.ForeignKeys {
			if !isSafeIdentifier(fk.Name) || !isSafeIdentifier(fk.Reference.Table) || !isSafeIdentifier(fk.Reference.Field) {
				return tabula.NewError(tabula.ErrorTypeValidation, tabula.ErrCodeInvalidDefinition, "foreign key is not made of valid identifiers").
					WithEntity(d.Name).WithField(fk.Field)
			}
		}
		if _, dup := defs[d.Name]; dup {
			return tabula.NewError(tabula.ErrorTypeValidation, tabula.ErrCodeInvalidDefinition, "entity is defined twice").WithEntity(d.Name)
		}
		if d.Kind == "" {
			d.Kind = tabula.EntityKindTable
		}
		d = d.WithTimestamps()
		defs[d.Name] = d
		order = append(order, d.Name)
	}

	r.definitions = defs
	r.order = order
	r.registered = true

	zap.S().Infow("registered entity definitions", "count", len(order))
	return nil
}

func (r *schemaRegistry) get(name string) (tabula.EntityDefinition, bool) {
	if d, ok := r.definitions[name]; ok {
		return d, true
	}
	d, ok := r.definitions[tabula.StorageName(name)]
	return d, ok
}

// Lookup returns a copy of the definition.
func (r *schemaRegistry) Lookup(name string) (*tabula.EntityDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.get(name)
	if !ok {
		return nil, tabula.NewUndefinedEntityError(name)
	}
	clone := d.Clone()
	return &clone, nil
}

// Definitions returns copies of every definition in declaration order.
func (r *schemaRegistry) Definitions() []tabula.EntityDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]tabula.EntityDefinition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.definitions[name].Clone())
	}
	return out
}

// EntityNames returns the sorted public entity names.
func (r *schemaRegistry) EntityNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := NewSet[string]()
	for _, name := range r.order {
		names.Add(tabula.PublicEntityName(name))
	}
	return Sorted(names)
}

func (r *schemaRegistry) PublicDefinition(name string) (*tabula.EntityDefinition, error) {
	def, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	public := def.Public()
	return &public, nil
}

func (r *schemaRegistry) JSONSchema(name string) (*jsonschema.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.get(name)
	if !ok {
		return nil, tabula.NewUndefinedEntityError(name)
	}
	return tabula.BuildJSONSchema(&d), nil
}
