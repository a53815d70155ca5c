package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	billingcycledomain "github.com/smallbiznis/meterbill/internal/billingcycle/domain"
	"github.com/smallbiznis/meterbill/internal/clock"
	"github.com/smallbiznis/meterbill/internal/config"
	documentdomain "github.com/smallbiznis/meterbill/internal/document/domain"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
	"github.com/smallbiznis/meterbill/internal/money"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/meterbill/internal/usage/domain"
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
	Repo         documentdomain.Repository
	SubSvc       subscriptiondomain.Service
	UsageSvc     usagedomain.Service
	BillingCycle billingcycledomain.Service
	Config       *config.BillingConfigHolder
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	repo         documentdomain.Repository
	subSvc       subscriptiondomain.Service
	usageSvc     usagedomain.Service
	billingcycle billingcycledomain.Service
	config       *config.BillingConfigHolder
	metrics      *obsmetrics.Metrics
}

func NewService(p ServiceParam) documentdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("document.service"),

		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		subSvc:       p.SubSvc,
		usageSvc:     p.UsageSvc,
		billingcycle: p.BillingCycle,
		config:       p.Config,
		metrics:      p.Metrics,
	}
}

// valuator is rebuilt per call so unit price precision follows config
// reloads.
func (s *Service) valuator() Valuator {
	return NewValuator(s.config.Get().UnitPriceDecimals)
}

func (s *Service) Create(ctx context.Context, req documentdomain.CreateDocumentRequest) (documentdomain.BillingDocument, error) {
	if req.Kind != documentdomain.KindInvoice && req.Kind != documentdomain.KindProforma {
		return documentdomain.BillingDocument{}, ierr.WithError(documentdomain.ErrInvalidDocument).
			WithHintf("unsupported document kind %q", req.Kind).
			Mark(ierr.ErrValidation)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return documentdomain.BillingDocument{}, ierr.WithError(documentdomain.ErrInvalidDocument).
			WithHint("currency is required").
			Mark(ierr.ErrValidation)
	}
	if req.SalesTaxPercent != nil && req.SalesTaxPercent.IsNegative() {
		return documentdomain.BillingDocument{}, ierr.WithError(documentdomain.ErrInvalidDocument).
			WithHint("sales tax percent must not be negative").
			Mark(ierr.ErrValidation)
	}

	var transactionCurrency *string
	if req.TransactionCurrency != nil {
		tc := strings.ToUpper(strings.TrimSpace(*req.TransactionCurrency))
		transactionCurrency = &tc
	}

	now := s.clock.Now()
	doc := documentdomain.BillingDocument{
		ID:                  s.genID.Generate(),
		Kind:                req.Kind,
		State:               documentdomain.StateDraft,
		CustomerID:          req.CustomerID,
		Currency:            currency,
		TransactionCurrency: transactionCurrency,
		TransactionXERate:   req.TransactionXERate,
		SalesTaxPercent:     req.SalesTaxPercent,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.InsertDocument(ctx, s.db, &doc); err != nil {
		return documentdomain.BillingDocument{}, err
	}
	return doc, nil
}

func (s *Service) AddEntry(ctx context.Context, documentID snowflake.ID, entry documentdomain.DocumentEntry) (documentdomain.DocumentEntry, error) {
	var result documentdomain.DocumentEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.draftDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		persisted, err := s.persistEntries(ctx, tx, doc, []documentdomain.DocumentEntry{entry})
		if err != nil {
			return err
		}
		result = persisted[0]
		return nil
	})
	return result, err
}

func (s *Service) GenerateEntries(
	ctx context.Context,
	documentID, subscriptionID snowflake.ID,
	bucket billingcycledomain.Bucket,
) ([]documentdomain.GeneratedEntry, error) {
	sub, err := s.subSvc.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	resolved, err := s.billingcycle.BucketFor(sub, bucket.StartDate)
	if err != nil {
		return nil, err
	}
	if !resolved.Equal(bucket) {
		return nil, ierr.WithError(billingcycledomain.ErrOutOfBounds).
			WithHintf("bucket %s - %s is not a billing bucket of the subscription",
				bucket.StartDate.Format(clock.DateLayout), bucket.EndDate.Format(clock.DateLayout)).
			Mark(ierr.ErrValidation)
	}
	billableAt := bucket.EndDatetime().Add(time.Second).Add(sub.Plan.GenerateAfterDuration())
	if s.clock.Now().Before(billableAt) {
		return nil, documentdomain.ErrBucketNotBillable
	}

	full, err := s.billingcycle.FullCycle(sub, bucket.StartDate)
	if err != nil {
		return nil, err
	}
	fraction := decimal.NewFromInt(int64(bucket.Days())).Div(decimal.NewFromInt(int64(full.Days())))
	prorated := bucket.Days() < full.Days()
	onTrial := sub.OnTrialAt(bucket.StartDate)

	drafts := []documentdomain.DocumentEntry{s.planEntry(sub, bucket, fraction, prorated, onTrial)}
	for _, feature := range sub.Plan.MeteredFeatures {
		consumed, err := s.usageSvc.ConsumedInBucket(ctx, sub.ID, feature.ID, bucket)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, s.meteredEntry(sub, feature, bucket, consumed, fraction, prorated, onTrial))
	}

	var persisted []documentdomain.DocumentEntry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := s.draftDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		billed, err := s.repo.FindBilledPlanEntry(ctx, tx, sub.ID, bucket.StartDate)
		if err != nil {
			return err
		}
		if billed != nil {
			return ierr.WithError(documentdomain.ErrBucketAlreadyBilled).
				WithHintf("Bucket %s is already on %s %s.",
					period(bucket), lo.FromPtr(billed.DocumentKind), lo.FromPtr(billed.DocumentID)).
				Mark(ierr.ErrConflict)
		}
		persisted, err = s.persistEntries(ctx, tx, doc, drafts)
		return err
	})
	if err != nil {
		return nil, err
	}

	valuator := s.valuator()
	generated := lo.Map(persisted, func(entry documentdomain.DocumentEntry, _ int) documentdomain.GeneratedEntry {
		return documentdomain.GeneratedEntry{
			Entry: entry,
			Info: documentdomain.EntryInfo{
				StartDate:      bucket.StartDate,
				EndDate:        bucket.EndDate,
				OriginType:     *entry.OriginType,
				SubscriptionID: sub.ID,
				ProductCode:    lo.FromPtr(entry.ProductCode),
				Amount:         valuator.TotalBeforeTax(entry),
			},
		}
	})

	s.log.Info("document entries generated",
		zap.String("document_id", documentID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("bucket_start", bucket.StartDate.Format(clock.DateLayout)),
		zap.String("bucket_end", bucket.EndDate.Format(clock.DateLayout)),
		zap.Int("entries", len(generated)),
	)
	return generated, nil
}

func (s *Service) planEntry(
	sub subscriptiondomain.Subscription,
	bucket billingcycledomain.Bucket,
	fraction decimal.Decimal,
	prorated, onTrial bool,
) documentdomain.DocumentEntry {
	plan := sub.Plan
	unitPrice := plan.Amount
	if prorated {
		unitPrice = money.UnitPrice(plan.Amount.Mul(fraction), s.valuator().UnitPriceDecimals())
	}
	description := fmt.Sprintf("%s plan subscription (%s)", plan.Name, period(bucket))
	if onTrial {
		unitPrice = decimal.Zero
		description = fmt.Sprintf("%s plan subscription trial (%s)", plan.Name, period(bucket))
	}

	return documentdomain.DocumentEntry{
		Description:    description,
		Quantity:       decimal.NewFromInt(1),
		UnitPrice:      unitPrice,
		ProductCode:    lo.EmptyableToPtr(plan.ProductCode),
		StartDate:      lo.ToPtr(bucket.StartDate),
		EndDate:        lo.ToPtr(bucket.EndDate),
		Prorated:       prorated,
		SubscriptionID: lo.ToPtr(sub.ID),
		OriginType:     lo.ToPtr(documentdomain.OriginPlan),
	}
}

// meteredEntry bills the units consumed beyond the included units. Included
// units shrink with the bucket when it is prorated.
func (s *Service) meteredEntry(
	sub subscriptiondomain.Subscription,
	feature subscriptiondomain.MeteredFeature,
	bucket billingcycledomain.Bucket,
	consumed, fraction decimal.Decimal,
	prorated, onTrial bool,
) documentdomain.DocumentEntry {
	included := feature.IncludedUnits
	if onTrial {
		included = feature.IncludedUnitsDuringTrial
	}
	if prorated {
		included = money.Quantity(included.Mul(fraction))
	}
	billable := decimal.Max(consumed.Sub(included), decimal.Zero)

	description := fmt.Sprintf("%s (%s)", feature.Name, period(bucket))
	if onTrial {
		description = fmt.Sprintf("%s trial (%s)", feature.Name, period(bucket))
	}

	return documentdomain.DocumentEntry{
		Description:    description,
		Unit:           lo.EmptyableToPtr(feature.Unit),
		Quantity:       billable,
		UnitPrice:      feature.PricePerUnit,
		ProductCode:    lo.ToPtr(feature.ProductCode),
		StartDate:      lo.ToPtr(bucket.StartDate),
		EndDate:        lo.ToPtr(bucket.EndDate),
		Prorated:       prorated,
		SubscriptionID: lo.ToPtr(sub.ID),
		OriginType:     lo.ToPtr(documentdomain.OriginMeteredFeature),
	}
}

func (s *Service) IssueProforma(ctx context.Context, proformaID snowflake.ID, issueDate *time.Time) (documentdomain.BillingDocument, error) {
	now := s.clock.Now()
	issued := clock.Date(now)
	if issueDate != nil {
		issued = clock.Date(*issueDate)
	}

	var (
		invoice     documentdomain.BillingDocument
		billedUntil = map[snowflake.ID]time.Time{}
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		proforma, err := s.repo.FindDocumentByIDForUpdate(ctx, tx, proformaID)
		if err != nil {
			return err
		}
		if proforma == nil {
			return documentdomain.ErrDocumentNotFound
		}
		if proforma.Kind != documentdomain.KindProforma {
			return documentdomain.ErrNotProforma
		}
		if proforma.State != documentdomain.StateDraft {
			return ierr.WithError(documentdomain.ErrDocumentNotDraft).
				WithHintf("Cannot issue proforma from %s state.", proforma.State).
				Mark(ierr.ErrStateConflict)
		}

		invoice = documentdomain.BillingDocument{
			ID:                  s.genID.Generate(),
			Kind:                documentdomain.KindInvoice,
			State:               documentdomain.StateIssued,
			CustomerID:          proforma.CustomerID,
			Currency:            proforma.Currency,
			TransactionCurrency: proforma.TransactionCurrency,
			TransactionXERate:   proforma.TransactionXERate,
			SalesTaxPercent:     proforma.SalesTaxPercent,
			RelatedDocumentID:   lo.ToPtr(proforma.ID),
			IssueDate:           &issued,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := s.repo.InsertDocument(ctx, tx, &invoice); err != nil {
			return err
		}

		entries, err := s.repo.FindEntries(ctx, tx, proforma.Ref())
		if err != nil {
			return err
		}
		clones := make([]*documentdomain.DocumentEntry, 0, len(entries))
		for _, entry := range entries {
			clone := entry.Clone()
			clone.ID = s.genID.Generate()
			clone.SubscriptionID = entry.SubscriptionID
			clone.OriginType = entry.OriginType
			clone.CreatedAt = now
			clone.Attach(invoice.Ref())
			clones = append(clones, &clone)

			if entry.SubscriptionID != nil && entry.EndDate != nil {
				end := clock.Date(*entry.EndDate)
				if end.After(billedUntil[*entry.SubscriptionID]) {
					billedUntil[*entry.SubscriptionID] = end
				}
			}
		}
		if err := s.repo.InsertEntries(ctx, tx, clones); err != nil {
			return err
		}

		proforma.State = documentdomain.StateIssued
		proforma.IssueDate = &issued
		proforma.RelatedDocumentID = lo.ToPtr(invoice.ID)
		proforma.UpdatedAt = now
		if err := s.repo.UpdateDocumentState(ctx, tx, proforma); err != nil {
			return err
		}

		subscriptionIDs := lo.Keys(billedUntil)
		slices.Sort(subscriptionIDs)
		for _, subscriptionID := range subscriptionIDs {
			if err := s.subSvc.MarkBilledThroughTx(ctx, tx, subscriptionID, billedUntil[subscriptionID]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return documentdomain.BillingDocument{}, err
	}

	s.log.Info("proforma issued",
		zap.String("proforma_id", proformaID.String()),
		zap.String("invoice_id", invoice.ID.String()),
	)
	return invoice, nil
}

func (s *Service) Totals(ctx context.Context, documentID snowflake.ID) (documentdomain.DocumentTotals, error) {
	doc, err := s.repo.FindDocumentByID(ctx, s.db, documentID)
	if err != nil {
		return documentdomain.DocumentTotals{}, err
	}
	if doc == nil {
		return documentdomain.DocumentTotals{}, documentdomain.ErrDocumentNotFound
	}

	entries, err := s.repo.FindEntries(ctx, s.db, doc.Ref())
	if err != nil {
		return documentdomain.DocumentTotals{}, err
	}

	valuator := s.valuator()
	totals := documentdomain.DocumentTotals{
		Document:       *doc,
		TotalBeforeTax: money.Amount(decimal.Zero),
		TaxValue:       money.Amount(decimal.Zero),
		Total:          money.Amount(decimal.Zero),
	}
	totals.Entries = lo.Map(entries, func(entry *documentdomain.DocumentEntry, _ int) documentdomain.ValuedEntry {
		normalizeDates(entry)
		valued := valuator.Value(*entry, doc)
		s.metrics.RecordEntryValued(string(doc.Kind), string(lo.FromPtr(entry.OriginType)))
		return valued
	})
	for _, valued := range totals.Entries {
		totals.TotalBeforeTax = totals.TotalBeforeTax.Add(valued.TotalBeforeTax)
		totals.TaxValue = totals.TaxValue.Add(valued.TaxValue)
		totals.Total = totals.Total.Add(valued.Total)
	}
	return totals, nil
}

func (s *Service) draftDocument(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*documentdomain.BillingDocument, error) {
	doc, err := s.repo.FindDocumentByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, documentdomain.ErrDocumentNotFound
	}
	if doc.State != documentdomain.StateDraft {
		return nil, ierr.WithError(documentdomain.ErrDocumentNotDraft).
			WithHintf("Cannot add entries to a %s %s.", doc.State, doc.Kind).
			Mark(ierr.ErrStateConflict)
	}
	return doc, nil
}

func (s *Service) persistEntries(
	ctx context.Context,
	tx *gorm.DB,
	doc *documentdomain.BillingDocument,
	drafts []documentdomain.DocumentEntry,
) ([]documentdomain.DocumentEntry, error) {
	valuator := s.valuator()
	now := s.clock.Now()

	rows := make([]*documentdomain.DocumentEntry, 0, len(drafts))
	for _, draft := range drafts {
		entry, err := valuator.Normalize(draft)
		if err != nil {
			return nil, err
		}
		entry.ID = s.genID.Generate()
		entry.CreatedAt = now
		entry.Attach(doc.Ref())
		rows = append(rows, &entry)
	}
	if err := s.repo.InsertEntries(ctx, tx, rows); err != nil {
		return nil, err
	}
	return lo.FromSlicePtr(rows), nil
}

func normalizeDates(entry *documentdomain.DocumentEntry) {
	if entry.StartDate != nil {
		entry.StartDate = lo.ToPtr(clock.Date(*entry.StartDate))
	}
	if entry.EndDate != nil {
		entry.EndDate = lo.ToPtr(clock.Date(*entry.EndDate))
	}
}

func period(bucket billingcycledomain.Bucket) string {
	return bucket.StartDate.Format(clock.DateLayout) + " - " + bucket.EndDate.Format(clock.DateLayout)
}
