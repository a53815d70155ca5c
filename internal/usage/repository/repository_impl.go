package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/meterbill/internal/usage/domain"
	"github.com/smallbiznis/meterbill/pkg/db/option"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) FindWithin(ctx context.Context, db *gorm.DB, group usagedomain.LogGroup, from, to time.Time) ([]usagedomain.UsageLog, error) {
	stmt := db.WithContext(ctx).
		Where("subscription_id = ? AND metered_feature_id = ?", group.SubscriptionID, group.MeteredFeatureID).
		Where("start_datetime <= ? AND end_datetime >= ?", to.UTC(), from.UTC())
	if group.Annotation == nil {
		stmt = stmt.Where("annotation IS NULL")
	} else {
		stmt = stmt.Where("annotation = ?", *group.Annotation)
	}
	stmt = option.ForUpdate().Apply(stmt)
	return r.find(stmt)
}

func (r *repo) FindAll(ctx context.Context, db *gorm.DB, subscriptionID, featureID snowflake.ID) ([]usagedomain.UsageLog, error) {
	stmt := db.WithContext(ctx).
		Where("subscription_id = ? AND metered_feature_id = ?", subscriptionID, featureID)
	return r.find(stmt)
}

func (r *repo) FindFeatureLogsWithin(ctx context.Context, db *gorm.DB, subscriptionID, featureID snowflake.ID, from, to time.Time) ([]usagedomain.UsageLog, error) {
	stmt := db.WithContext(ctx).
		Where("subscription_id = ? AND metered_feature_id = ?", subscriptionID, featureID).
		Where("start_datetime <= ? AND end_datetime >= ?", to.UTC(), from.UTC())
	return r.find(stmt)
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, log *usagedomain.UsageLog) error {
	return db.WithContext(ctx).Create(log).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, log *usagedomain.UsageLog) error {
	return db.WithContext(ctx).
		Model(&usagedomain.UsageLog{}).
		Where("id = ?", log.ID).
		Updates(map[string]any{
			"start_datetime": log.StartDatetime.UTC(),
			"end_datetime":   log.EndDatetime.UTC(),
			"consumed_units": log.ConsumedUnits,
			"updated_at":     log.UpdatedAt,
		}).Error
}

func (r *repo) find(stmt *gorm.DB) ([]usagedomain.UsageLog, error) {
	var logs []usagedomain.UsageLog
	if err := option.OrderBy("start_datetime", false).Apply(stmt).Find(&logs).Error; err != nil {
		return nil, err
	}
	for i := range logs {
		logs[i].StartDatetime = logs[i].StartDatetime.UTC()
		logs[i].EndDatetime = logs[i].EndDatetime.UTC()
	}
	return logs, nil
}
