package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
	"gorm.io/gorm"
)

const (
	CancelNow               = "now"
	CancelEndOfBillingCycle = "end_of_billing_cycle"
)

type ActivateRequest struct {
	SubscriptionID snowflake.ID
	StartDate      *time.Time
	TrialEndDate   *time.Time
}

// CancelRequest cancels a subscription. When is "now", "end_of_billing_cycle"
// or a YYYY-MM-DD date.
type CancelRequest struct {
	SubscriptionID snowflake.ID
	When           *string `json:"when" validate:"required,notblank"`
}

type CreatePlanRequest struct {
	Name            string
	Interval        BillingInterval
	IntervalCount   int
	Alignment       Alignment
	Amount          string
	Currency        string
	ProductCode     string
	TrialPeriodDays int
	GenerateAfter   int
	FeatureIDs      []snowflake.ID
}

type CreateSubscriptionRequest struct {
	PlanID     snowflake.ID
	CustomerID snowflake.ID
	Reference  *string
	Meta       map[string]any
}

type Service interface {
	CreatePlan(ctx context.Context, req CreatePlanRequest) (Plan, error)
	CreateMeteredFeature(ctx context.Context, feature MeteredFeature) (MeteredFeature, error)
	Create(ctx context.Context, req CreateSubscriptionRequest) (Subscription, error)
	GetByID(ctx context.Context, id snowflake.ID) (Subscription, error)
	ResolveMeteredFeature(ctx context.Context, subscription Subscription, productCode string) (MeteredFeature, error)
	Activate(ctx context.Context, req ActivateRequest) (Subscription, error)
	Cancel(ctx context.Context, req CancelRequest) (Subscription, error)
	Reactivate(ctx context.Context, id snowflake.ID) (Subscription, error)
	End(ctx context.Context, id snowflake.ID, at *time.Time) (Subscription, error)
	MarkBilledThrough(ctx context.Context, id snowflake.ID, date time.Time) error
	// MarkBilledThroughTx is MarkBilledThrough within the caller's transaction.
	MarkBilledThroughTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, date time.Time) error
}

var (
	ErrSubscriptionNotFound   = ierr.Kind(ierr.ErrNotFound, "subscription_not_found")
	ErrPlanNotFound           = ierr.Kind(ierr.ErrNotFound, "plan_not_found")
	ErrMeteredFeatureNotFound = ierr.Kind(ierr.ErrNotFound, "metered_feature_not_found")
	ErrFeatureNotInPlan       = ierr.Kind(ierr.ErrValidation, "The metered feature does not belong to the subscription's plan.")
	ErrInvalidTransition      = ierr.Kind(ierr.ErrStateConflict, "invalid_transition")
	ErrInvalidPlan            = ierr.Kind(ierr.ErrValidation, "invalid_plan")
	ErrInvalidTrialEnd        = ierr.Kind(ierr.ErrValidation, "Trial end date must not precede the start date.")
)
