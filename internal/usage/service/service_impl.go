package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	billingcycledomain "github.com/smallbiznis/meterbill/internal/billingcycle/domain"
	"github.com/smallbiznis/meterbill/internal/clock"
	"github.com/smallbiznis/meterbill/internal/config"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
	"github.com/smallbiznis/meterbill/internal/logger"
	"github.com/smallbiznis/meterbill/internal/money"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterbill/internal/usage/domain"
	"github.com/smallbiznis/meterbill/internal/usage/lock"
	"github.com/smallbiznis/meterbill/internal/validator"
	"github.com/smallbiznis/meterbill/pkg/db"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         usagedomain.Repository
	SubSvc       subscriptiondomain.Service
	BillingCycle billingcycledomain.Service
	Locker       lock.KeyedLocker
	Validator    *validator.Validator
	Config       *config.BillingConfigHolder
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	repo         usagedomain.Repository
	subSvc       subscriptiondomain.Service
	billingcycle billingcycledomain.Service
	locker       lock.KeyedLocker
	validator    *validator.Validator
	config       *config.BillingConfigHolder
	metrics      *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		subSvc:       p.SubSvc,
		billingcycle: p.BillingCycle,
		locker:       p.Locker,
		validator:    p.Validator,
		config:       p.Config,
		metrics:      p.Metrics,
	}
}

var tracer = otel.Tracer("meterbill/usage")

func (s *Service) RecordUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (usagedomain.UsageLog, error) {
	started := time.Now()
	ctx, span := tracer.Start(ctx, "usage.RecordUsage")
	defer span.End()
	span.SetAttributes(attribute.String("subscription_id", req.SubscriptionID.String()))

	result, created, err := s.recordUsage(ctx, req)

	updateType := ""
	if req.UpdateType != nil {
		updateType = strings.TrimSpace(*req.UpdateType)
	}
	outcome := "updated"
	if created {
		outcome = "created"
	}
	if err != nil {
		outcome = ierr.KindOf(err).Code
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.metrics.RecordUsageReport(updateType, outcome, time.Since(started))

	return result, err
}

func (s *Service) recordUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (usagedomain.UsageLog, bool, error) {
	sub, err := s.subSvc.GetByID(ctx, req.SubscriptionID)
	if err != nil {
		return usagedomain.UsageLog{}, false, err
	}

	var feature subscriptiondomain.MeteredFeature
	if req.MeteredFeature != nil && strings.TrimSpace(*req.MeteredFeature) != "" {
		feature, err = s.subSvc.ResolveMeteredFeature(ctx, sub, *req.MeteredFeature)
		if err != nil {
			return usagedomain.UsageLog{}, false, err
		}
	}

	if !sub.AcceptsUsage() {
		return usagedomain.UsageLog{}, false, ierr.WithError(usagedomain.ErrSubscriptionState).
			WithHintf("Subscription is %s.", sub.State).
			Mark(ierr.ErrStateConflict)
	}

	report, err := s.parseReport(req)
	if err != nil {
		return usagedomain.UsageLog{}, false, err
	}

	bucket, err := s.updateableBucket(sub, report.Timestamp)
	if err != nil {
		return usagedomain.UsageLog{}, false, err
	}

	group := usagedomain.LogGroup{
		SubscriptionID:   sub.ID,
		MeteredFeatureID: feature.ID,
		Annotation:       report.Annotation,
	}

	unlock, err := s.locker.Lock(ctx, lockKey(group, bucket))
	if err != nil {
		return usagedomain.UsageLog{}, false, err
	}
	defer unlock()

	result, created, err := s.reconcileWithRetry(ctx, group, bucket, report)
	if err != nil {
		return usagedomain.UsageLog{}, false, err
	}

	logger.WithContext(ctx, s.log).Info("usage recorded",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("metered_feature", feature.ProductCode),
		zap.String("update_type", string(report.UpdateType)),
		zap.String("consumed_units", result.ConsumedUnits.String()),
		zap.Time("start_datetime", result.StartDatetime),
		zap.Time("end_datetime", result.EndDatetime),
		zap.Bool("created", created),
	)
	return result, created, nil
}

// parseReport validates every field at once and converts the raw values.
func (s *Service) parseReport(req usagedomain.RecordUsageRequest) (usagedomain.UsageReport, error) {
	if err := s.validator.Struct(req); err != nil {
		return usagedomain.UsageReport{}, err
	}

	units, err := money.Parse(*req.ConsumedUnits)
	if err != nil {
		return usagedomain.UsageReport{}, err
	}
	ts, err := clock.ParseTimestamp(*req.Date)
	if err != nil {
		return usagedomain.UsageReport{}, err
	}

	return usagedomain.UsageReport{
		SubscriptionID: req.SubscriptionID,
		ProductCode:    strings.TrimSpace(*req.MeteredFeature),
		Timestamp:      ts,
		ConsumedUnits:  money.Quantity(units),
		UpdateType:     usagedomain.UpdateType(strings.TrimSpace(*req.UpdateType)),
		Annotation:     req.Annotation,
		EndLog:         req.EndLog,
	}, nil
}

// updateableBucket resolves the bucket of ts and requires it to be
// updateable. Dates past the last updateable bucket are rejected before the
// bucket walk.
func (s *Service) updateableBucket(sub subscriptiondomain.Subscription, ts time.Time) (billingcycledomain.Bucket, error) {
	updateable := s.billingcycle.UpdateableBuckets(sub, s.clock.Now())
	if len(updateable) == 0 || clock.Date(ts).After(updateable[len(updateable)-1].EndDate) {
		return billingcycledomain.Bucket{}, billingcycledomain.ErrOutOfBounds
	}

	bucket, err := s.billingcycle.BucketFor(sub, ts)
	if err != nil {
		return billingcycledomain.Bucket{}, err
	}
	for _, candidate := range updateable {
		if candidate.Equal(bucket) {
			return bucket, nil
		}
	}
	return billingcycledomain.Bucket{}, billingcycledomain.ErrOutOfBounds
}

func (s *Service) reconcileWithRetry(
	ctx context.Context,
	group usagedomain.LogGroup,
	bucket billingcycledomain.Bucket,
	report usagedomain.UsageReport,
) (usagedomain.UsageLog, bool, error) {
	maxAttempts := s.config.Get().Usage.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond

	var txOpts []*sql.TxOptions
	if db.IsDialect(s.db, db.DialectPostgres) {
		txOpts = append(txOpts, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}

	var (
		result  usagedomain.UsageLog
		created bool
		attempt int
	)
	err := backoff.Retry(func() error {
		attempt++
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			result, created, err = s.reconcile(ctx, tx, group, bucket, report)
			return err
		}, txOpts...)
		if err == nil {
			return nil
		}
		if db.IsRetryableConflict(err) {
			s.metrics.RecordUsageRetry()
			s.log.Warn("usage write conflict",
				zap.Int("attempt", attempt),
				zap.String("subscription_id", group.SubscriptionID.String()),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(maxAttempts-1)), ctx))
	if err != nil {
		if db.IsRetryableConflict(err) {
			return usagedomain.UsageLog{}, false, ierr.WithError(err).
				WithHintf("usage update conflicted %d times, retry later", attempt).
				Mark(ierr.ErrConflict)
		}
		return usagedomain.UsageLog{}, false, err
	}
	return result, created, nil
}

// reconcile applies the report to the logs of its group within bucket.
func (s *Service) reconcile(
	ctx context.Context,
	tx *gorm.DB,
	group usagedomain.LogGroup,
	bucket billingcycledomain.Bucket,
	report usagedomain.UsageReport,
) (usagedomain.UsageLog, bool, error) {
	bsdt, bedt := bucket.StartDatetime(), bucket.EndDatetime()
	logs, err := s.repo.FindWithin(ctx, tx, group, bsdt, bedt)
	if err != nil {
		return usagedomain.UsageLog{}, false, err
	}
	// Collations may fold annotations that differ only in case.
	logs = lo.Filter(logs, func(l usagedomain.UsageLog, _ int) bool {
		return usagedomain.SameAnnotation(l.Annotation, group.Annotation)
	})

	now := s.clock.Now()
	ts := report.Timestamp

	for _, existing := range logs {
		if !existing.Covers(ts) {
			continue
		}
		if report.EndLog {
			existing.EndDatetime = ts
		}
		switch report.UpdateType {
		case usagedomain.UpdateTypeAbsolute:
			existing.ConsumedUnits = report.ConsumedUnits
		case usagedomain.UpdateTypeRelative:
			existing.ConsumedUnits = money.Quantity(existing.ConsumedUnits.Add(report.ConsumedUnits))
		}
		existing.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, &existing); err != nil {
			return usagedomain.UsageLog{}, false, err
		}
		return existing, false, nil
	}

	start, end := gapAround(logs, ts, bsdt, bedt)
	created := usagedomain.UsageLog{
		ID:               s.genID.Generate(),
		SubscriptionID:   group.SubscriptionID,
		MeteredFeatureID: group.MeteredFeatureID,
		Annotation:       group.Annotation,
		StartDatetime:    start,
		EndDatetime:      end,
		ConsumedUnits:    report.ConsumedUnits,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Insert(ctx, tx, &created); err != nil {
		return usagedomain.UsageLog{}, false, err
	}
	return created, true, nil
}

// gapAround returns the uncovered range of the bucket that contains ts: it
// starts one second after the latest log ending before ts and ends one
// second before the earliest log starting after ts.
func gapAround(logs []usagedomain.UsageLog, ts, bsdt, bedt time.Time) (time.Time, time.Time) {
	start, end := bsdt, bedt
	for _, l := range logs {
		if l.EndDatetime.Before(ts) {
			if next := l.EndDatetime.Add(time.Second); next.After(start) {
				start = next
			}
		}
		if l.StartDatetime.After(ts) {
			if prev := l.StartDatetime.Add(-time.Second); prev.Before(end) {
				end = prev
			}
		}
	}
	return start, end
}

func (s *Service) ListLogs(ctx context.Context, req usagedomain.ListLogsRequest) ([]usagedomain.UsageLog, error) {
	sub, err := s.subSvc.GetByID(ctx, req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	feature, err := s.subSvc.ResolveMeteredFeature(ctx, sub, req.ProductCode)
	if err != nil {
		return nil, err
	}
	return s.repo.FindAll(ctx, s.db, sub.ID, feature.ID)
}

func (s *Service) ConsumedInBucket(ctx context.Context, subscriptionID, featureID snowflake.ID, bucket billingcycledomain.Bucket) (decimal.Decimal, error) {
	logs, err := s.repo.FindFeatureLogsWithin(ctx, s.db, subscriptionID, featureID, bucket.StartDatetime(), bucket.EndDatetime())
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, l := range logs {
		total = total.Add(l.ConsumedUnits)
	}
	return money.Quantity(total), nil
}

func lockKey(group usagedomain.LogGroup, bucket billingcycledomain.Bucket) string {
	annotation := "-"
	if group.Annotation != nil {
		annotation = "=" + *group.Annotation
	}
	return fmt.Sprintf("%s:%s:%s:%s",
		group.SubscriptionID,
		group.MeteredFeatureID,
		bucket.StartDate.Format(clock.DateLayout),
		annotation,
	)
}
