package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingcycledomain "github.com/smallbiznis/meterbill/internal/billingcycle/domain"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
)

type UpdateType string

const (
	UpdateTypeAbsolute UpdateType = "absolute"
	UpdateTypeRelative UpdateType = "relative"
)

// RecordUsageRequest is a usage report. Pointer fields distinguish a
// missing value from a blank one.
type RecordUsageRequest struct {
	SubscriptionID snowflake.ID `json:"-"`
	MeteredFeature *string      `json:"metered_feature" validate:"required,notblank"`
	ConsumedUnits  *string      `json:"consumed_units" validate:"required,notblank,decimal,nonnegative"`
	Date           *string      `json:"date" validate:"required,notblank,isodatetime"`
	UpdateType     *string      `json:"update_type" validate:"required,notblank,oneof=absolute relative"`
	Annotation     *string      `json:"annotation"`
	EndLog         bool         `json:"end_log"`
}

// UsageReport is a validated RecordUsageRequest.
type UsageReport struct {
	SubscriptionID snowflake.ID
	ProductCode    string
	Timestamp      time.Time
	ConsumedUnits  decimal.Decimal
	UpdateType     UpdateType
	Annotation     *string
	EndLog         bool
}

type ListLogsRequest struct {
	SubscriptionID snowflake.ID
	ProductCode    string
}

type Service interface {
	// RecordUsage merges a usage report into the logs of its bucket.
	RecordUsage(ctx context.Context, req RecordUsageRequest) (UsageLog, error)
	// ListLogs returns the logs of one feature of a subscription ordered by
	// start.
	ListLogs(ctx context.Context, req ListLogsRequest) ([]UsageLog, error)
	// ConsumedInBucket sums the units logged within bucket for a feature
	// across every annotation.
	ConsumedInBucket(ctx context.Context, subscriptionID, featureID snowflake.ID, bucket billingcycledomain.Bucket) (decimal.Decimal, error)
}

var (
	ErrSubscriptionState = ierr.Kind(ierr.ErrStateConflict, "Usage cannot be recorded for the subscription in its current state.")
)
