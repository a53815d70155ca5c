package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	billingcycledomain "github.com/smallbiznis/meterbill/internal/billingcycle/domain"
	"github.com/smallbiznis/meterbill/internal/clock"
	"github.com/smallbiznis/meterbill/internal/config"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	"github.com/smallbiznis/meterbill/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	repo         subscriptiondomain.Repository
	billingcycle billingcycledomain.Service
	validator    *validator.Validator
	metrics      *obsmetrics.Metrics

	features     *cache.Cache
	featureGroup singleflight.Group
}

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         subscriptiondomain.Repository
	BillingCycle billingcycledomain.Service
	Validator    *validator.Validator
	Config       *config.BillingConfigHolder
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	ttl := p.Config.Get().Catalog.FeatureCacheTTL
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		billingcycle: p.BillingCycle,
		validator:    p.Validator,
		metrics:      p.Metrics,

		features: cache.New(ttl, 2*ttl),
	}
}

func (s *Service) CreateMeteredFeature(ctx context.Context, feature subscriptiondomain.MeteredFeature) (subscriptiondomain.MeteredFeature, error) {
	feature.ProductCode = strings.TrimSpace(feature.ProductCode)
	if feature.ProductCode == "" || strings.TrimSpace(feature.Name) == "" {
		return subscriptiondomain.MeteredFeature{}, ierr.NewError("metered feature requires a name and a product code").
			Mark(ierr.ErrValidation)
	}
	if feature.PricePerUnit.IsNegative() || feature.IncludedUnits.IsNegative() || feature.IncludedUnitsDuringTrial.IsNegative() {
		return subscriptiondomain.MeteredFeature{}, ierr.NewError("metered feature amounts must not be negative").
			Mark(ierr.ErrValidation)
	}

	feature.ID = s.genID.Generate()
	feature.CreatedAt = s.clock.Now()
	if err := s.repo.InsertMeteredFeature(ctx, s.db, &feature); err != nil {
		return subscriptiondomain.MeteredFeature{}, err
	}
	return feature, nil
}

func (s *Service) CreatePlan(ctx context.Context, req subscriptiondomain.CreatePlanRequest) (subscriptiondomain.Plan, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || amount.IsNegative() {
		return subscriptiondomain.Plan{}, ierr.WithError(subscriptiondomain.ErrInvalidPlan).
			WithHint("amount must be a non-negative decimal").
			Mark(ierr.ErrValidation)
	}
	if !isValidInterval(req.Interval) || req.IntervalCount < 1 {
		return subscriptiondomain.Plan{}, ierr.WithError(subscriptiondomain.ErrInvalidPlan).
			WithHintf("unsupported interval %q x%d", req.Interval, req.IntervalCount).
			Mark(ierr.ErrValidation)
	}
	if req.Alignment != subscriptiondomain.AlignmentCalendar && req.Alignment != subscriptiondomain.AlignmentAnniversary {
		return subscriptiondomain.Plan{}, ierr.WithError(subscriptiondomain.ErrInvalidPlan).
			WithHintf("unsupported alignment %q", req.Alignment).
			Mark(ierr.ErrValidation)
	}
	if req.TrialPeriodDays < 0 || req.GenerateAfter < 0 || strings.TrimSpace(req.Currency) == "" {
		return subscriptiondomain.Plan{}, subscriptiondomain.ErrInvalidPlan
	}

	now := s.clock.Now()
	plan := subscriptiondomain.Plan{
		ID:              s.genID.Generate(),
		Name:            req.Name,
		Interval:        req.Interval,
		IntervalCount:   req.IntervalCount,
		Alignment:       req.Alignment,
		Amount:          amount,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		ProductCode:     req.ProductCode,
		TrialPeriodDays: req.TrialPeriodDays,
		GenerateAfter:   req.GenerateAfter,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, id := range req.FeatureIDs {
		plan.MeteredFeatures = append(plan.MeteredFeatures, subscriptiondomain.MeteredFeature{ID: id})
	}

	if err := s.repo.InsertPlan(ctx, s.db, &plan); err != nil {
		return subscriptiondomain.Plan{}, err
	}

	stored, err := s.repo.FindPlanByID(ctx, s.db, plan.ID)
	if err != nil {
		return subscriptiondomain.Plan{}, err
	}
	if stored == nil {
		return subscriptiondomain.Plan{}, subscriptiondomain.ErrPlanNotFound
	}
	return *stored, nil
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	plan, err := s.repo.FindPlanByID(ctx, s.db, req.PlanID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if plan == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrPlanNotFound
	}

	now := s.clock.Now()
	subscription := subscriptiondomain.Subscription{
		ID:         s.genID.Generate(),
		PlanID:     plan.ID,
		CustomerID: req.CustomerID,
		State:      subscriptiondomain.SubscriptionStateInactive,
		Reference:  req.Reference,
		Meta:       datatypes.JSONMap(req.Meta),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, &subscription); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	subscription.Plan = *plan
	return subscription, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return *subscription, nil
}

// ResolveMeteredFeature looks the feature up by product code and checks it
// is offered by the subscription's plan.
func (s *Service) ResolveMeteredFeature(ctx context.Context, subscription subscriptiondomain.Subscription, productCode string) (subscriptiondomain.MeteredFeature, error) {
	feature, err := s.meteredFeature(ctx, strings.TrimSpace(productCode))
	if err != nil {
		return subscriptiondomain.MeteredFeature{}, err
	}

	for _, offered := range subscription.Plan.MeteredFeatures {
		if offered.ID == feature.ID {
			return feature, nil
		}
	}
	return subscriptiondomain.MeteredFeature{}, subscriptiondomain.ErrFeatureNotInPlan
}

func (s *Service) meteredFeature(ctx context.Context, productCode string) (subscriptiondomain.MeteredFeature, error) {
	if cached, ok := s.features.Get(productCode); ok {
		return cached.(subscriptiondomain.MeteredFeature), nil
	}

	v, err, _ := s.featureGroup.Do(productCode, func() (any, error) {
		feature, err := s.repo.FindMeteredFeatureByProductCode(ctx, s.db, productCode)
		if err != nil {
			return nil, err
		}
		if feature == nil {
			return nil, subscriptiondomain.ErrMeteredFeatureNotFound
		}
		s.features.SetDefault(productCode, *feature)
		return *feature, nil
	})
	if err != nil {
		return subscriptiondomain.MeteredFeature{}, err
	}
	return v.(subscriptiondomain.MeteredFeature), nil
}

func (s *Service) Activate(ctx context.Context, req subscriptiondomain.ActivateRequest) (subscriptiondomain.Subscription, error) {
	return s.transition(ctx, req.SubscriptionID, "activate", func(sub *subscriptiondomain.Subscription, today time.Time) error {
		if sub.State != subscriptiondomain.SubscriptionStateInactive {
			return transitionError("activate", sub.State)
		}

		start := today
		if req.StartDate != nil {
			start = clock.Date(*req.StartDate)
		}

		var trialEnd *time.Time
		switch {
		case req.TrialEndDate != nil:
			end := clock.Date(*req.TrialEndDate)
			trialEnd = &end
		case sub.Plan.TrialPeriodDays > 0:
			end := start.AddDate(0, 0, sub.Plan.TrialPeriodDays-1)
			trialEnd = &end
		}
		if trialEnd != nil && trialEnd.Before(start) {
			return subscriptiondomain.ErrInvalidTrialEnd
		}

		sub.State = subscriptiondomain.SubscriptionStateActive
		sub.StartDate = &start
		sub.TrialEnd = trialEnd
		return nil
	})
}

func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelRequest) (subscriptiondomain.Subscription, error) {
	if err := s.validator.Struct(req); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	return s.transition(ctx, req.SubscriptionID, "cancel", func(sub *subscriptiondomain.Subscription, today time.Time) error {
		if sub.State != subscriptiondomain.SubscriptionStateActive {
			return transitionError("cancel", sub.State)
		}

		cancelDate, err := s.resolveCancelDate(*sub, strings.TrimSpace(*req.When), today)
		if err != nil {
			return err
		}

		sub.State = subscriptiondomain.SubscriptionStateCanceled
		sub.CancelDate = &cancelDate
		return nil
	})
}

func (s *Service) resolveCancelDate(sub subscriptiondomain.Subscription, when string, today time.Time) (time.Time, error) {
	switch when {
	case subscriptiondomain.CancelNow:
		return today, nil
	case subscriptiondomain.CancelEndOfBillingCycle:
		bucket, err := s.billingcycle.BucketFor(sub, today)
		if err != nil {
			return time.Time{}, err
		}
		return bucket.EndDate, nil
	}

	date, err := clock.ParseDate(when)
	if err != nil {
		fields := ierr.NewFieldErrors()
		fields.Add("when", fmt.Sprintf("\"%s\" is not a valid choice.", when))
		return time.Time{}, fields
	}
	if sub.StartDate != nil && date.Before(*sub.StartDate) {
		fields := ierr.NewFieldErrors()
		fields.Add("when", "Cancel date must not precede the start date.")
		return time.Time{}, fields
	}
	return date, nil
}

func (s *Service) Reactivate(ctx context.Context, id snowflake.ID) (subscriptiondomain.Subscription, error) {
	return s.transition(ctx, id, "reactivate", func(sub *subscriptiondomain.Subscription, _ time.Time) error {
		if sub.State != subscriptiondomain.SubscriptionStateCanceled {
			return transitionError("reactivate", sub.State)
		}
		sub.State = subscriptiondomain.SubscriptionStateActive
		sub.CancelDate = nil
		return nil
	})
}

func (s *Service) End(ctx context.Context, id snowflake.ID, at *time.Time) (subscriptiondomain.Subscription, error) {
	return s.transition(ctx, id, "end", func(sub *subscriptiondomain.Subscription, today time.Time) error {
		if sub.State != subscriptiondomain.SubscriptionStateCanceled {
			return transitionError("end", sub.State)
		}
		endedAt := today
		if at != nil {
			endedAt = clock.Date(*at)
		}
		sub.State = subscriptiondomain.SubscriptionStateEnded
		sub.EndedAt = &endedAt
		return nil
	})
}

// MarkBilledThrough records that every bucket ending on or before date has
// been invoiced. It never moves the marker backwards.
func (s *Service) MarkBilledThrough(ctx context.Context, id snowflake.ID, date time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.MarkBilledThroughTx(ctx, tx, id, date)
	})
}

func (s *Service) MarkBilledThroughTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, date time.Time) error {
	date = clock.Date(date)
	sub, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if sub == nil {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.LastBilledThrough != nil && !date.After(*sub.LastBilledThrough) {
		return nil
	}
	sub.LastBilledThrough = &date
	sub.UpdatedAt = s.clock.Now()
	return s.repo.UpdateLifecycle(ctx, tx, sub)
}

func (s *Service) transition(
	ctx context.Context,
	id snowflake.ID,
	action string,
	apply func(sub *subscriptiondomain.Subscription, today time.Time) error,
) (subscriptiondomain.Subscription, error) {
	var result subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}

		now := s.clock.Now()
		from := sub.State
		if err := apply(sub, clock.Date(now)); err != nil {
			return err
		}
		sub.UpdatedAt = now
		if err := s.repo.UpdateLifecycle(ctx, tx, sub); err != nil {
			return err
		}

		s.log.Info("subscription transitioned",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("action", action),
			zap.String("from", string(from)),
			zap.String("to", string(sub.State)),
		)
		result = *sub
		return nil
	})
	if err == nil {
		s.metrics.RecordTransition(action)
	}
	return result, err
}

func transitionError(action string, from subscriptiondomain.SubscriptionState) error {
	return ierr.NewError(fmt.Sprintf("Cannot %s subscription from %s state.", action, from)).
		WithMark(subscriptiondomain.ErrInvalidTransition).
		Mark(ierr.ErrStateConflict)
}

func isValidInterval(interval subscriptiondomain.BillingInterval) bool {
	switch interval {
	case subscriptiondomain.IntervalDay,
		subscriptiondomain.IntervalWeek,
		subscriptiondomain.IntervalMonth,
		subscriptiondomain.IntervalYear:
		return true
	default:
		return false
	}
}
