package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context bundles a request context with an optional GORM transaction.
// Repos use Tx when set so services can compose multiple repo calls atomically.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}
