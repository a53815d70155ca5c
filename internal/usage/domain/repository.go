package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// LogGroup identifies the logs that must not overlap.
type LogGroup struct {
	SubscriptionID   snowflake.ID
	MeteredFeatureID snowflake.ID
	Annotation       *string
}

type Repository interface {
	// FindWithin returns the group's logs overlapping [from, to], ordered by
	// start.
	FindWithin(ctx context.Context, db *gorm.DB, group LogGroup, from, to time.Time) ([]UsageLog, error)
	FindAll(ctx context.Context, db *gorm.DB, subscriptionID, featureID snowflake.ID) ([]UsageLog, error)
	// FindFeatureLogsWithin is FindWithin across every annotation.
	FindFeatureLogsWithin(ctx context.Context, db *gorm.DB, subscriptionID, featureID snowflake.ID, from, to time.Time) ([]UsageLog, error)
	Insert(ctx context.Context, db *gorm.DB, log *UsageLog) error
	Update(ctx context.Context, db *gorm.DB, log *UsageLog) error
}
