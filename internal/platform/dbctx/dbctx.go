// Package dbctx carries an optional transaction alongside a
// context.Context so repository methods can participate in a caller's
// transaction without every signature growing a *gorm.DB parameter.
package dbctx

import (
	"context"

	"gorm.io/gorm"
)

type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}
