package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository writes rows of T keyed by a natural key.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Upsert(ctx context.Context, resource *T) error
	FindOne(ctx context.Context, query *T) (*T, error)
}

type store[T any] struct {
	db       *gorm.DB
	conflict clause.OnConflict
}

// ProvideStore returns a store whose Upsert overwrites mutable columns when a row with
// the same key columns already exists.
func ProvideStore[T any](db *gorm.DB, keys []string, mutable []string) Repository[T] {
	columns := make([]clause.Column, 0, len(keys))
	for _, key := range keys {
		columns = append(columns, clause.Column{Name: key})
	}
	return &store[T]{
		db: db,
		conflict: clause.OnConflict{
			Columns:   columns,
			DoUpdates: clause.AssignmentColumns(mutable),
		},
	}
}

func (r *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	return &store[T]{db: tx, conflict: r.conflict}
}

func (r *store[T]) Upsert(ctx context.Context, resource *T) error {
	return r.db.WithContext(ctx).Clauses(r.conflict).Create(resource).Error
}

func (r *store[T]) FindOne(ctx context.Context, query *T) (*T, error) {
	var result T
	err := r.db.WithContext(ctx).Where(query).Take(&result).Error
	if err != nil {
		return nil, err
	}
	return &result, nil
}
