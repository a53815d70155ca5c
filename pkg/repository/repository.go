package repository

import (
	"context"

	"github.com/smallbiznis/meterbill/pkg/db/option"
)

// Repository is a generic gorm-backed store. FindOne returns (nil, nil) when
// nothing matches.
type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, resourceID string, resource any) error
	BatchCreate(ctx context.Context, resources []*T) error
}
