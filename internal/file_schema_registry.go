package internal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lychee-technology/tabula"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// definitionFile is the on-disk layout: a list of entities under "entities".
// JSON files use the same keys.
type definitionFile struct {
	Entities []tabula.EntityDefinition `yaml:"entities"`
}

// LoadDefinitions reads every *.yaml, *.yml and *.json file of dir in file name
// order. Declaration order inside the files is kept, so prefix file names when
// one file's entities reference another's.
func LoadDefinitions(dir string) ([]tabula.EntityDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read definitions directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isDefinitionFile(entry.Name()) {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	var defs []tabula.EntityDefinition
	for _, name := range files {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read definitions file %s: %w", path, err)
		}
		parsed, err := ParseDefinitions(data)
		if err != nil {
			return nil, fmt.Errorf("parse definitions file %s: %w", path, err)
		}
		zap.S().Debugw("loaded entity definitions", "file", path, "count", len(parsed))
		defs = append(defs, parsed...)
	}

	if len(defs) == 0 {
		return nil, fmt.Errorf("no entity definitions found in directory: %s", dir)
	}
	return defs, nil
}

// ParseDefinitions decodes every document of a YAML or JSON stream.
func ParseDefinitions(data []byte) ([]tabula.EntityDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var defs []tabula.EntityDefinition
	for {
		var f definitionFile
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		defs = append(defs, f.Entities...)
	}
	return defs, nil
}

// NewFileSchemaRegistry creates a registry holding the definitions found in dir.
func NewFileSchemaRegistry(dir string) (tabula.SchemaRegistry, error) {
	defs, err := LoadDefinitions(dir)
	if err != nil {
		return nil, err
	}
	registry := NewSchemaRegistry()
	if err := registry.Register(defs); err != nil {
		return nil, err
	}
	return registry, nil
}

func isDefinitionFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
