package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/lychee-technology/tabula/internal"
)

func runJSONSchema(args []string, out io.Writer) error {
	var opts commonOptions
	var entities []string
	flags := newFlagSet("jsonschema", "Print the JSON Schema of registered entities. No database connection is made.", out, &opts)
	flags.StringSliceVarP(&entities, "entity", "e", nil, "entities to print (default all)")
	if done, err := parse(flags, args); done || err != nil {
		return err
	}

	dir := opts.definitions
	if dir == "" {
		dir = os.Getenv("TABULA_DEFINITIONS_DIR")
	}
	if dir == "" {
		return fmt.Errorf("--definitions is required")
	}
	registry, err := internal.NewFileSchemaRegistry(dir)
	if err != nil {
		return err
	}
	if len(entities) == 0 {
		entities = registry.EntityNames()
	}

	schemas := make(map[string]*jsonschema.Schema, len(entities))
	for _, name := range entities {
		schema, err := registry.JSONSchema(name)
		if err != nil {
			return err
		}
		schemas[schema.Title] = schema
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(schemas)
}
