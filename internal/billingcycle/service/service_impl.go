package service

import (
	"time"

	billingcycledomain "github.com/smallbiznis/meterbill/internal/billingcycle/domain"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log *zap.Logger
}

type Service struct {
	log *zap.Logger
}

func NewService(p ServiceParam) billingcycledomain.Service {
	return &Service{
		log: p.Log.Named("billingcycle.service"),
	}
}

func (s *Service) BucketFor(sub subscriptiondomain.Subscription, ts time.Time) (billingcycledomain.Bucket, error) {
	if sub.State == subscriptiondomain.SubscriptionStateInactive {
		return billingcycledomain.Bucket{}, billingcycledomain.ErrOutOfBounds
	}
	e, ok := newEnumerator(sub)
	if !ok {
		return billingcycledomain.Bucket{}, billingcycledomain.ErrOutOfBounds
	}

	day := dateOf(ts)
	if day.Before(e.start) || (e.last != nil && day.After(*e.last)) {
		return billingcycledomain.Bucket{}, billingcycledomain.ErrOutOfBounds
	}

	var (
		found billingcycledomain.Bucket
		hit   bool
	)
	err := e.walk(day, func(b billingcycledomain.Bucket) bool {
		if b.Contains(day) {
			found, hit = b, true
			return false
		}
		return true
	})
	if err != nil {
		s.log.Error("bucket resolution failed",
			zap.String("subscription_id", sub.ID.String()),
			zap.Time("date", day),
			zap.Error(err),
		)
		return billingcycledomain.Bucket{}, err
	}
	if !hit {
		return billingcycledomain.Bucket{}, billingcycledomain.ErrNoBoundaries
	}
	return found, nil
}

func (s *Service) UpdateableBuckets(sub subscriptiondomain.Subscription, now time.Time) []billingcycledomain.Bucket {
	if !sub.AcceptsUsage() {
		return nil
	}
	e, ok := newEnumerator(sub)
	if !ok {
		return nil
	}

	horizon := dateOf(now)
	if e.last != nil && e.last.Before(horizon) {
		horizon = *e.last
	}

	var billedThrough *time.Time
	if sub.LastBilledThrough != nil {
		day := dateOf(*sub.LastBilledThrough)
		billedThrough = &day
	}

	var buckets []billingcycledomain.Bucket
	err := e.walk(horizon, func(b billingcycledomain.Bucket) bool {
		if billedThrough == nil || b.EndDate.After(*billedThrough) {
			buckets = append(buckets, b)
		}
		return true
	})
	if err != nil {
		s.log.Warn("cannot enumerate updateable buckets",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err),
		)
		return nil
	}
	return buckets
}

func (s *Service) FullCycle(sub subscriptiondomain.Subscription, date time.Time) (billingcycledomain.Bucket, error) {
	e, ok := newEnumerator(sub)
	if !ok {
		return billingcycledomain.Bucket{}, billingcycledomain.ErrOutOfBounds
	}
	start, next, ok := e.cycle(dateOf(date))
	if !ok {
		return billingcycledomain.Bucket{}, billingcycledomain.ErrNoBoundaries
	}
	return billingcycledomain.Bucket{StartDate: start, EndDate: addDays(next, -1)}, nil
}
