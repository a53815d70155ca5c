package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	InsertMeteredFeature(ctx context.Context, db *gorm.DB, feature *MeteredFeature) error
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindMeteredFeatureByProductCode(ctx context.Context, db *gorm.DB, code string) (*MeteredFeature, error)
	UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *Subscription) error
}
