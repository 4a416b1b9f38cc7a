package internal

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/tabula"
)

// CreateStatement renders the CREATE statement of a table or view.
func CreateStatement(def *tabula.EntityDefinition) string {
	if def.IsView() {
		return fmt.Sprintf("CREATE VIEW %s AS %s", def.Name, strings.TrimSpace(def.ViewDefinition))
	}

	parts := make([]string, 0, len(def.Fields)+len(def.ForeignKeys)+1)
	var primaryKeys, uniques []string
	for _, f := range def.Fields {
		parts = append(parts, columnDefinition(f, false))
		if f.PrimaryKey {
			primaryKeys = append(primaryKeys, f.Name)
		}
		if f.Unique {
			uniques = append(uniques, fmt.Sprintf("UNIQUE INDEX %s_unique (%s ASC)", f.Name, f.Name))
		}
	}
	if len(primaryKeys) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(primaryKeys, ", ")))
	}
	parts = append(parts, uniques...)
	for _, fk := range def.ForeignKeys {
		parts = append(parts, foreignKeyClause(fk))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", def.Name, strings.Join(parts, ", "))
}

// ExtendStatement renders one ALTER TABLE adding the columns and foreign keys
// missing from the live table. ok is false when nothing is missing.
func ExtendStatement(def *tabula.EntityDefinition, columns, constraints NameSet) (stmt string, ok bool) {
	var parts []string
	for _, f := range def.Fields {
		if columns.Contains(f.Name) {
			continue
		}
		parts = append(parts, "ADD COLUMN "+columnDefinition(f, true))
	}
	for _, fk := range def.ForeignKeys {
		if constraints.Contains(fk.Name) {
			continue
		}
		parts = append(parts, "ADD "+foreignKeyClause(fk))
	}
	if len(parts) == 0 {
		return "", false
	}
	return fmt.Sprintf("ALTER TABLE %s %s", def.Name, strings.Join(parts, ", ")), true
}

// DropStatement renders DROP TABLE or DROP VIEW for def.
func DropStatement(def *tabula.EntityDefinition) string {
	kind := "TABLE"
	if def.IsView() {
		kind = "VIEW"
	}
	return fmt.Sprintf("DROP %s IF EXISTS %s", kind, def.Name)
}

// columnDefinition renders "name TYPE [NOT NULL] [DEFAULT x | AUTO_INCREMENT]".
// Added columns spell out NULL.
func columnDefinition(f tabula.FieldDefinition, adding bool) string {
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteByte(' ')
	b.WriteString(f.Type)
	switch {
	case f.NotNull:
		b.WriteString(" NOT NULL")
	case adding:
		b.WriteString(" NULL")
	}
	switch {
	case f.Default != "":
		b.WriteString(" DEFAULT ")
		b.WriteString(f.Default)
	case f.AutoIncrement:
		b.WriteString(" AUTO_INCREMENT")
	}
	return b.String()
}

func foreignKeyClause(fk tabula.ForeignKeyDefinition) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE %s ON UPDATE %s",
		fk.Name, fk.Field, fk.Reference.Table, fk.Reference.Field,
		referentialAction(fk.OnDelete), referentialAction(fk.OnUpdate))
}

func referentialAction(a tabula.ReferentialAction) string {
	if a == "" {
		a = tabula.ActionNoAction
	}
	return strings.ToUpper(string(a))
}
