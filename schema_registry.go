package tabula

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaRegistry holds the catalog of entity definitions.
// Lookups accept the storage name (user_login) or the public name (UserLogin).
type SchemaRegistry interface {
	// Register stores the catalog. It may only be called once.
	Register(definitions []EntityDefinition) error
	// Lookup returns a copy of the definition or an UNDEFINED_ENTITY error.
	Lookup(name string) (*EntityDefinition, error)
	// Definitions returns every definition in declaration order.
	Definitions() []EntityDefinition
	// EntityNames returns the public names of every registered entity.
	EntityNames() []string
	// PublicDefinition returns the definition with public entity and field names.
	PublicDefinition(name string) (*EntityDefinition, error)
	// JSONSchema returns the JSON Schema describing the entity's public record shape.
	JSONSchema(name string) (*jsonschema.Schema, error)
}

// ResolveField finds a field by storage or public name.
func (d *EntityDefinition) ResolveField(name string) (FieldDefinition, error) {
	if f, ok := d.Field(name); ok {
		return f, nil
	}
	if f, ok := d.Field(StorageName(name)); ok {
		return f, nil
	}
	return FieldDefinition{}, NewUnknownFieldError(d.Name, name)
}

// Public returns a copy with public entity and field names.
func (d EntityDefinition) Public() EntityDefinition {
	out := d.Clone()
	out.Name = PublicEntityName(d.Name)
	for i := range out.Fields {
		out.Fields[i].Name = PublicFieldName(out.Fields[i].Name)
	}
	for i := range out.ForeignKeys {
		out.ForeignKeys[i].Field = PublicFieldName(out.ForeignKeys[i].Field)
		out.ForeignKeys[i].Reference.Table = PublicEntityName(out.ForeignKeys[i].Reference.Table)
		out.ForeignKeys[i].Reference.Field = PublicFieldName(out.ForeignKeys[i].Reference.Field)
	}
	return out
}

// WithTimestamps returns a copy with the created and last-updated stamps appended.
// Views and definitions that already carry the stamps are returned unchanged.
func (d EntityDefinition) WithTimestamps() EntityDefinition {
	out := d.Clone()
	if out.IsView() {
		return out
	}
	if _, ok := out.Field(FieldCreatedStamp); !ok {
		out.Fields = append(out.Fields, FieldDefinition{
			Name:    FieldCreatedStamp,
			Type:    TypeTimestamp,
			NotNull: true,
			Default: "CURRENT_TIMESTAMP",
		})
	}
	if _, ok := out.Field(FieldLastUpdatedStamp); !ok {
		out.Fields = append(out.Fields, FieldDefinition{
			Name:    FieldLastUpdatedStamp,
			Type:    TypeTimestamp,
			NotNull: true,
			Default: "CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP",
		})
	}
	return out
}

// IsTimestampField reports whether name is one of the managed stamp columns.
func IsTimestampField(name string) bool {
	return name == FieldCreatedStamp || name == FieldLastUpdatedStamp
}
