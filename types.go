package tabula

import (
	"fmt"
	"strings"
)

// EntityKind distinguishes tables from views.
type EntityKind string

const (
	EntityKindTable EntityKind = "TABLE"
	EntityKindView  EntityKind = "VIEW"
)

// Physical type tags commonly used in entity definitions.
const (
	TypeNumber        = "INT"
	TypeBigNumber     = "BIGINT"
	TypeDecimal       = "DECIMAL(18,4)"
	TypeIDShort       = "VARCHAR(25)"
	TypeIDLong        = "VARCHAR(45)"
	TypeIDVeryLong    = "VARCHAR(255)"
	TypeDescription   = "VARCHAR(500)"
	TypeBoolean       = "BOOLEAN"
	TypeUnixTimestamp = "INT(13)"
	TypeTimestamp     = "TIMESTAMP"
	TypeDateTime      = "DATETIME"
	TypeText          = "TEXT"
	TypeJSON          = "JSON"
)

// Timestamp columns appended to every table at registration.
const (
	FieldCreatedStamp     = "created_stamp"
	FieldLastUpdatedStamp = "last_updated_stamp"
)

// ReferentialAction is the ON DELETE / ON UPDATE behavior of a foreign key.
type ReferentialAction string

const (
	ActionNoAction ReferentialAction = "no action"
	ActionRestrict ReferentialAction = "restrict"
	ActionCascade  ReferentialAction = "cascade"
	ActionSetNull  ReferentialAction = "set null"
)

// Valid reports whether a is one of the supported actions. Empty is valid and means the default.
func (a ReferentialAction) Valid() bool {
	switch ReferentialAction(strings.ToLower(string(a))) {
	case "", ActionNoAction, ActionRestrict, ActionCascade, ActionSetNull:
		return true
	}
	return false
}

type FieldDefinition struct {
	Name          string `json:"name" yaml:"name"`
	Type          string `json:"type" yaml:"type"`
	PrimaryKey    bool   `json:"primaryKey,omitempty" yaml:"primaryKey,omitempty"`
	NotNull       bool   `json:"notNull,omitempty" yaml:"notNull,omitempty"`
	Unique        bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty" yaml:"autoIncrement,omitempty"`
	Default       string `json:"default,omitempty" yaml:"default,omitempty"`
}

// Kind returns the logical value kind of the field's physical type.
func (f FieldDefinition) Kind() ValueKind {
	return KindOf(f.Type)
}

type ForeignKeyReference struct {
	Table string `json:"table" yaml:"table"`
	Field string `json:"field" yaml:"field"`
}

type ForeignKeyDefinition struct {
	Name      string              `json:"name" yaml:"name"`
	Field     string              `json:"field" yaml:"field"`
	Reference ForeignKeyReference `json:"reference" yaml:"reference"`
	OnDelete  ReferentialAction   `json:"onDelete,omitempty" yaml:"onDelete,omitempty"`
	OnUpdate  ReferentialAction   `json:"onUpdate,omitempty" yaml:"onUpdate,omitempty"`
}

// EntityDefinition describes a table or a view. Names are storage names (snake_case).
type EntityDefinition struct {
	Name           string                 `json:"name" yaml:"name"`
	Kind           EntityKind             `json:"kind,omitempty" yaml:"kind,omitempty"`
	Fields         []FieldDefinition      `json:"fields" yaml:"fields"`
	ForeignKeys    []ForeignKeyDefinition `json:"foreignKeys,omitempty" yaml:"foreignKeys,omitempty"`
	Ignore         bool                   `json:"ignore,omitempty" yaml:"ignore,omitempty"`
	ViewDefinition string                 `json:"viewDefinition,omitempty" yaml:"viewDefinition,omitempty"`
}

// IsView reports whether the entity is a view.
func (d *EntityDefinition) IsView() bool {
	return strings.EqualFold(string(d.Kind), string(EntityKindView))
}

// Field returns the field with the given storage name.
func (d *EntityDefinition) Field(name string) (FieldDefinition, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// PrimaryKeys returns the fields flagged as primary key, in declaration order.
func (d *EntityDefinition) PrimaryKeys() []FieldDefinition {
	var keys []FieldDefinition
	for _, f := range d.Fields {
		if f.PrimaryKey {
			keys = append(keys, f)
		}
	}
	return keys
}

// Clone returns a deep copy.
func (d EntityDefinition) Clone() EntityDefinition {
	out := d
	out.Fields = append([]FieldDefinition(nil), d.Fields...)
	out.ForeignKeys = append([]ForeignKeyDefinition(nil), d.ForeignKeys...)
	return out
}

// Validate checks the structural consistency of the definition.
func (d *EntityDefinition) Validate() error {
	if d.Name == "" {
		return NewError(ErrorTypeValidation, ErrCodeInvalidDefinition, "entity name is required")
	}
	if d.IsView() {
		if strings.TrimSpace(d.ViewDefinition) == "" {
			return NewError(ErrorTypeValidation, ErrCodeInvalidDefinition, "view definition is required").WithEntity(d.Name)
		}
	} else if d.Kind != "" && !strings.EqualFold(string(d.Kind), string(EntityKindTable)) {
		return NewError(ErrorTypeValidation, ErrCodeInvalidDefinition, fmt.Sprintf("unknown entity kind %q", d.Kind)).WithEntity(d.Name)
	}
	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name == "" || f.Type == "" {
			return NewError(ErrorTypeValidation, ErrCodeInvalidDefinition, "field name and type are required").WithEntity(d.Name)
		}
		if seen[f.Name] {
			return NewError(ErrorTypeValidation, ErrCodeInvalidDefinition, "duplicate field").WithEntity(d.Name).WithField(f.Name)
		}
		seen[f.Name] = true
	}
	for _, fk := range d.ForeignKeys {
		if !seen[fk.Field] {
			return NewUnknownFieldError(d.Name, fk.Field)
		}
		if !fk.OnDelete.Valid() || !fk.OnUpdate.Valid() {
			return NewError(ErrorTypeValidation, ErrCodeInvalidDefinition, "unsupported referential action").WithEntity(d.Name).WithField(fk.Field)
		}
	}
	return nil
}

// ReconcileMode is the policy used to bring the live schema in line with the definitions.
type ReconcileMode int

const (
	ReconcileIgnore ReconcileMode = iota
	ReconcileCreate
	ReconcileExtend
	ReconcileRebuild
)

func (m ReconcileMode) String() string {
	switch m {
	case ReconcileIgnore:
		return "IGNORE"
	case ReconcileCreate:
		return "CREATE"
	case ReconcileExtend:
		return "EXTEND"
	case ReconcileRebuild:
		return "REBUILD"
	}
	return fmt.Sprintf("ReconcileMode(%d)", int(m))
}

// ParseReconcileMode parses a mode name, case-insensitively.
func ParseReconcileMode(s string) (ReconcileMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "IGNORE":
		return ReconcileIgnore, nil
	case "CREATE":
		return ReconcileCreate, nil
	case "EXTEND":
		return ReconcileExtend, nil
	case "REBUILD":
		return ReconcileRebuild, nil
	}
	return ReconcileIgnore, fmt.Errorf("unknown reconcile mode %q", s)
}

func (m ReconcileMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ReconcileMode) UnmarshalText(text []byte) error {
	parsed, err := ParseReconcileMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Row is a single result row keyed by column name.
type Row map[string]any

// Result is the outcome of one executed statement.
type Result struct {
	Rows         []Row
	RowsAffected int64
	LastInsertID int64
	// Cached is set when the rows were served from the result cache.
	Cached bool
}

// Target is what a query or record operates on: a registered entity or a join graph.
type Target interface {
	// SupportsMutation reports whether insert, update and delete may be compiled against the target.
	SupportsMutation() bool
	String() string
}

// Entity names a registered entity. Either the storage or the public name may be used.
type Entity string

func (Entity) SupportsMutation() bool { return true }

func (e Entity) String() string { return string(e) }

// ReconcileReport lists what a reconciliation run did, or would do for a plan.
type ReconcileReport struct {
	Mode       ReconcileMode
	Statements []string
	Dropped    []string
	Extended   []string
	Created    []string
	Skipped    []string
	Failures   []error
}

// OK reports whether every step succeeded.
func (r *ReconcileReport) OK() bool {
	return len(r.Failures) == 0
}
