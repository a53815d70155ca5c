package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterbill/internal/clock"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	"github.com/smallbiznis/meterbill/pkg/db/option"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) InsertPlan(ctx context.Context, db *gorm.DB, plan *subscriptiondomain.Plan) error {
	// Features must already exist; only the join rows are written.
	return db.WithContext(ctx).
		Omit("MeteredFeatures.*").
		Create(plan).Error
}

func (r *repo) InsertMeteredFeature(ctx context.Context, db *gorm.DB, feature *subscriptiondomain.MeteredFeature) error {
	return db.WithContext(ctx).Create(feature).Error
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).
		Omit(clause.Associations).
		Create(subscription).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findByID(ctx, db, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findByID(ctx, db, id, option.ForUpdate())
}

func (r *repo) findByID(ctx context.Context, db *gorm.DB, id snowflake.ID, opts ...option.QueryOption) (*subscriptiondomain.Subscription, error) {
	stmt := db.WithContext(ctx).
		Preload("Plan").
		Preload("Plan.MeteredFeatures").
		Where("id = ?", id)
	for _, opt := range opts {
		stmt = opt.Apply(stmt)
	}

	var subscription subscriptiondomain.Subscription
	if err := stmt.First(&subscription).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	for _, d := range []**time.Time{
		&subscription.StartDate,
		&subscription.TrialEnd,
		&subscription.CancelDate,
		&subscription.EndedAt,
		&subscription.LastBilledThrough,
	} {
		if *d != nil {
			utc := clock.Date(**d)
			*d = &utc
		}
	}
	return &subscription, nil
}

func (r *repo) FindPlanByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Plan, error) {
	var plan subscriptiondomain.Plan
	err := db.WithContext(ctx).
		Preload("MeteredFeatures").
		Where("id = ?", id).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repo) FindMeteredFeatureByProductCode(ctx context.Context, db *gorm.DB, code string) (*subscriptiondomain.MeteredFeature, error) {
	var feature subscriptiondomain.MeteredFeature
	err := db.WithContext(ctx).
		Where("product_code = ?", code).
		First(&feature).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &feature, nil
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", subscription.ID).
		Updates(map[string]any{
			"state":               subscription.State,
			"start_date":          subscription.StartDate,
			"trial_end":           subscription.TrialEnd,
			"cancel_date":         subscription.CancelDate,
			"ended_at":            subscription.EndedAt,
			"last_billed_through": subscription.LastBilledThrough,
			"updated_at":          subscription.UpdatedAt,
		}).Error
}
