package postgres

import (
	"context"

	"gorm.io/gorm"
)

type txKey struct{}

// Transactor implements domain.Transactor on gorm: fn runs inside one
// database transaction, and every repository call made with fn's ctx joins
// it via the tx handle stashed in the context.
type Transactor struct {
	db *gorm.DB
}

func NewTransactor(db *gorm.DB) *Transactor {
	return &Transactor{db: db}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// dbFrom returns the transaction handle from ctx when inside WithinTx,
// otherwise the base connection.
func dbFrom(ctx context.Context, base *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx
	}
	return base.WithContext(ctx)
}
