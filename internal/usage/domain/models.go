// Package domain contains the usage log model and the reconciler contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// UsageLog records units of one metered feature consumed by one
// subscription over [StartDatetime, EndDatetime], both inclusive. Logs of
// the same subscription, feature and annotation never overlap.
type UsageLog struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	SubscriptionID   snowflake.ID    `gorm:"not null;index:idx_usage_logs_group,priority:1"`
	MeteredFeatureID snowflake.ID    `gorm:"not null;index:idx_usage_logs_group,priority:2"`
	Annotation       *string         `gorm:"type:text"`
	StartDatetime    time.Time       `gorm:"not null;index:idx_usage_logs_group,priority:3"`
	EndDatetime      time.Time       `gorm:"not null"`
	ConsumedUnits    decimal.Decimal `gorm:"type:numeric(19,4);not null"`
	CreatedAt        time.Time       `gorm:"not null"`
	UpdatedAt        time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (UsageLog) TableName() string { return "usage_logs" }

// Covers reports whether ts lies within the log range.
func (l UsageLog) Covers(ts time.Time) bool {
	return !ts.Before(l.StartDatetime) && !ts.After(l.EndDatetime)
}

// SameAnnotation compares annotations, treating nil as its own value.
func SameAnnotation(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
