package e2e_harness

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lychee-technology/tabula"
)

// PartyDefinitions is a small catalog with a composite key, a foreign key,
// an auto increment key and a view.
func PartyDefinitions() []tabula.EntityDefinition {
	return []tabula.EntityDefinition{
		{
			Name: "party",
			Fields: []tabula.FieldDefinition{
				{Name: "party_id", Type: tabula.TypeIDShort, PrimaryKey: true, NotNull: true},
				{Name: "name", Type: tabula.TypeIDLong, NotNull: true, Unique: true},
				{Name: "age", Type: tabula.TypeNumber},
				{Name: "active", Type: tabula.TypeBoolean, Default: "TRUE"},
			},
		},
		{
			Name: "party_role",
			Fields: []tabula.FieldDefinition{
				{Name: "party_id", Type: tabula.TypeIDShort, PrimaryKey: true, NotNull: true},
				{Name: "role_type_id", Type: tabula.TypeIDShort, PrimaryKey: true, NotNull: true},
			},
			ForeignKeys: []tabula.ForeignKeyDefinition{{
				Name:      "fk_party_role_party",
				Field:     "party_id",
				Reference: tabula.ForeignKeyReference{Table: "party", Field: "party_id"},
				OnDelete:  tabula.ActionCascade,
			}},
		},
		{
			Name: "note",
			Fields: []tabula.FieldDefinition{
				{Name: "note_id", Type: tabula.TypeNumber, PrimaryKey: true, NotNull: true, AutoIncrement: true},
				{Name: "party_id", Type: tabula.TypeIDShort},
				{Name: "body", Type: tabula.TypeText},
			},
		},
		{
			Name:           "active_party",
			Kind:           tabula.EntityKindView,
			Fields:         []tabula.FieldDefinition{{Name: "party_id", Type: tabula.TypeIDShort}, {Name: "name", Type: tabula.TypeIDLong}},
			ViewDefinition: "SELECT party_id, name FROM party WHERE active = TRUE",
		},
	}
}

// SeedParties inserts parties p1..p5 with ages 20, 30, ... and a role for p1.
func SeedParties(ctx context.Context, db *sql.DB) error {
	for i := 1; i <= 5; i++ {
		if _, err := db.ExecContext(ctx, "INSERT INTO party (party_id, name, age) VALUES (?, ?, ?)",
			fmt.Sprintf("p%d", i), fmt.Sprintf("party %d", i), i*10+10); err != nil {
			return fmt.Errorf("seed party %d: %w", i, err)
		}
	}
	if _, err := db.ExecContext(ctx, "INSERT INTO party_role (party_id, role_type_id) VALUES ('p1', 'CUSTOMER')"); err != nil {
		return fmt.Errorf("seed party role: %w", err)
	}
	return nil
}
