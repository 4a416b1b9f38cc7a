package tabula

import (
	"context"
)

// Executor runs statements against the database. Every call is one transaction.
// params fill the ? placeholders of statement and are escaped by the executor.
type Executor interface {
	Execute(ctx context.Context, statement string, params []any, useCache bool) (*Result, error)
}
