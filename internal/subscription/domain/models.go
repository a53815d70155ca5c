// Package domain contains persistence models for plans, metered features and
// subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SubscriptionState represents lifecycle states for a subscription.
type SubscriptionState string

const (
	SubscriptionStateInactive SubscriptionState = "inactive"
	SubscriptionStateActive   SubscriptionState = "active"
	SubscriptionStateCanceled SubscriptionState = "canceled"
	SubscriptionStateEnded    SubscriptionState = "ended"
)

// BillingInterval is the unit a plan cycle is measured in.
type BillingInterval string

const (
	IntervalDay   BillingInterval = "day"
	IntervalWeek  BillingInterval = "week"
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Alignment selects where cycle boundaries fall.
type Alignment string

const (
	// AlignmentCalendar cuts cycles at calendar day, ISO week, month or year
	// boundaries.
	AlignmentCalendar Alignment = "calendar"
	// AlignmentAnniversary cuts cycles every IntervalCount intervals from the
	// cycle anchor.
	AlignmentAnniversary Alignment = "anniversary"
)

// MeteredFeature is a billable unit of consumption. Rows are never updated
// once usage has been recorded against them.
type MeteredFeature struct {
	ID                       snowflake.ID    `gorm:"primaryKey"`
	Name                     string          `gorm:"type:text;not null"`
	Unit                     string          `gorm:"type:text;not null"`
	ProductCode              string          `gorm:"type:text;not null;uniqueIndex"`
	PricePerUnit             decimal.Decimal `gorm:"type:numeric(19,4);not null"`
	IncludedUnits            decimal.Decimal `gorm:"type:numeric(19,4);not null"`
	IncludedUnitsDuringTrial decimal.Decimal `gorm:"type:numeric(19,4);not null"`
	CreatedAt                time.Time       `gorm:"not null"`
}

// TableName sets the database table name.
func (MeteredFeature) TableName() string { return "metered_features" }

type Plan struct {
	ID              snowflake.ID     `gorm:"primaryKey"`
	Name            string           `gorm:"type:text;not null"`
	Interval        BillingInterval  `gorm:"type:text;not null"`
	IntervalCount   int              `gorm:"not null;default:1"`
	Alignment       Alignment        `gorm:"type:text;not null"`
	Amount          decimal.Decimal  `gorm:"type:numeric(19,4);not null"`
	Currency        string           `gorm:"type:text;not null"`
	ProductCode     string           `gorm:"type:text;not null"`
	TrialPeriodDays int              `gorm:"not null;default:0"`
	GenerateAfter   int              `gorm:"not null;default:0"`
	MeteredFeatures []MeteredFeature `gorm:"many2many:plan_metered_features"`
	CreatedAt       time.Time        `gorm:"not null"`
	UpdatedAt       time.Time        `gorm:"not null"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// GenerateAfterDuration is the grace period after a cycle end before the
// cycle is billed.
func (p Plan) GenerateAfterDuration() time.Duration {
	return time.Duration(p.GenerateAfter) * time.Second
}

// Subscription binds a customer to a plan. Dates are UTC calendar days at
// midnight.
type Subscription struct {
	ID                snowflake.ID      `gorm:"primaryKey"`
	PlanID            snowflake.ID      `gorm:"not null;index"`
	Plan              Plan              `gorm:"foreignKey:PlanID"`
	CustomerID        snowflake.ID      `gorm:"not null;index"`
	State             SubscriptionState `gorm:"type:text;not null"`
	StartDate         *time.Time        `gorm:""`
	TrialEnd          *time.Time        `gorm:""`
	CancelDate        *time.Time        `gorm:""`
	EndedAt           *time.Time        `gorm:""`
	LastBilledThrough *time.Time        `gorm:""`
	Reference         *string           `gorm:"type:text"`
	Meta              datatypes.JSONMap `gorm:""`
	CreatedAt         time.Time         `gorm:"not null"`
	UpdatedAt         time.Time         `gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// AcceptsUsage reports whether usage may be recorded in the current state.
func (s Subscription) AcceptsUsage() bool {
	return s.State == SubscriptionStateActive || s.State == SubscriptionStateCanceled
}

// OnTrialAt reports whether date falls within the trial period.
func (s Subscription) OnTrialAt(date time.Time) bool {
	if s.TrialEnd == nil || s.StartDate == nil {
		return false
	}
	return !date.Before(*s.StartDate) && !date.After(*s.TrialEnd)
}

// FeatureByProductCode finds a metered feature offered by the plan.
func (p Plan) FeatureByProductCode(code string) (MeteredFeature, bool) {
	for _, f := range p.MeteredFeatures {
		if f.ProductCode == code {
			return f, true
		}
	}
	return MeteredFeature{}, false
}
