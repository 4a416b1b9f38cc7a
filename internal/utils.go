package internal

import "github.com/lychee-technology/tabula/internal/sqlformat"

func isSafeIdentifier(name string) bool {
	return sqlformat.IsIdentifier(name)
}
