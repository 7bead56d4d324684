package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type txKey struct{}

// TxManager runs a function inside one store transaction. Repository calls
// made with the context it passes to fn join that transaction.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type GormTxManager struct {
	db *gorm.DB
}

func NewGormTxManager(db *gorm.DB) (*GormTxManager, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is required")
	}
	return &GormTxManager{db: db}, nil
}

func (m *GormTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// dbFor resolves the handle repositories should use: the ambient transaction
// if the context carries one, the repository's own connection otherwise.
func dbFor(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if ctx == nil {
		return fallback
	}
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return fallback.WithContext(ctx)
}
