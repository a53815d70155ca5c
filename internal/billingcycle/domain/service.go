package domain

import (
	"time"

	ierr "github.com/smallbiznis/meterbill/internal/errors"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
)

// Service resolves billing buckets of a subscription. It never touches
// storage; callers pass a loaded subscription with its plan.
type Service interface {
	// BucketFor returns the bucket containing ts.
	BucketFor(subscription subscriptiondomain.Subscription, ts time.Time) (Bucket, error)
	// UpdateableBuckets returns, in ascending order, the buckets that may
	// still receive usage at now.
	UpdateableBuckets(subscription subscriptiondomain.Subscription, now time.Time) []Bucket
	// FullCycle returns the plan cycle containing date, ignoring trial,
	// start and cancel clipping. Entries use it to prorate partial buckets.
	FullCycle(subscription subscriptiondomain.Subscription, date time.Time) (Bucket, error)
}

var (
	ErrOutOfBounds  = ierr.Kind(ierr.ErrValidation, "Date is out of bounds")
	ErrNoBoundaries = ierr.Kind(ierr.ErrInternalComputation, "billing bucket resolution produced no boundaries")
)
