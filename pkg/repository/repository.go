package repository

import (
	"context"

	"github.com/smallbiznis/tiergate/pkg/db/option"
	"gorm.io/gorm"
)

// Repository is a thin generic gorm store for filter-style lookups.
// Feature repositories with real invariants use raw SQL instead.
type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID string, resource any) error
	Count(ctx context.Context, query *T) (int64, error)
}
