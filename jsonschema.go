package tabula

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// BuildJSONSchema describes the public record shape of an entity.
// Fields that are NOT NULL without a default or auto increment are required.
func BuildJSONSchema(def *EntityDefinition) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Title:      PublicEntityName(def.Name),
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(def.Fields)),
	}
	for _, f := range def.Fields {
		name := PublicFieldName(f.Name)
		prop := &jsonschema.Schema{Description: f.Type}
		kind := string(f.Kind())
		if f.NotNull {
			prop.Type = kind
		} else {
			prop.Types = []string{kind, "null"}
		}
		schema.Properties[name] = prop
		if f.NotNull && f.Default == "" && !f.AutoIncrement {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}

// ValidateJSON validates data against schema. data is normalized through a JSON
// round trip first so that typed maps and numbers compare as JSON values.
func ValidateJSON(schema *jsonschema.Schema, data any) error {
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return fmt.Errorf("resolve JSON schema: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	if err := resolved.Validate(normalized); err != nil {
		return fmt.Errorf("JSON validation failed: %w", err)
	}
	return nil
}
