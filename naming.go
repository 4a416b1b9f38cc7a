package tabula

import (
	"strings"

	"github.com/go-openapi/inflect"
)

// Storage names are snake_case. Public names are PascalCase for entities and
// camelCase for fields.

// PublicEntityName converts a storage entity name to its public form: user_login -> UserLogin.
func PublicEntityName(storage string) string {
	return inflect.Camelize(storage)
}

// PublicFieldName converts a storage field name to its public form: user_login_id -> userLoginId.
func PublicFieldName(storage string) string {
	return inflect.CamelizeDownFirst(storage)
}

// StorageName converts either public form back to snake_case. Storage names pass through.
func StorageName(name string) string {
	if name == strings.ToLower(name) {
		return name
	}
	return inflect.Underscore(name)
}

// splitQualified splits "alias.field" into its parts. Unqualified names return an empty alias.
func splitQualified(name string) (alias, field string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
